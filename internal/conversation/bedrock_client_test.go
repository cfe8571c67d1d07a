package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type stubConverseAPI struct {
	lastInput *bedrockruntime.ConverseInput
	output    *bedrockruntime.ConverseOutput
	err       error
}

func (s *stubConverseAPI) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.lastInput = params
	return s.output, s.err
}

func converseTextOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
			},
		},
		StopReason: brtypes.StopReasonEndTurn,
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(12),
			OutputTokens: aws.Int32(3),
			TotalTokens:  aws.Int32(15),
		},
	}
}

func TestBedrockClientComplete(t *testing.T) {
	stub := &stubConverseAPI{output: converseTextOutput("  bedrock reply  ")}
	client := NewBedrockLLMClient(stub)

	resp, err := client.Complete(context.Background(), LLMRequest{
		Model:       "anthropic.claude-3-haiku-20240307-v1:0",
		System:      []string{"sys block"},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: "hi"}},
		MaxTokens:   128,
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if resp.Text != "bedrock reply" {
		t.Fatalf("expected trimmed text, got %q", resp.Text)
	}
	if resp.StopReason != string(brtypes.StopReasonEndTurn) {
		t.Fatalf("unexpected stop reason %q", resp.StopReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}

	if len(stub.lastInput.System) != 1 {
		t.Fatalf("expected one system block, got %d", len(stub.lastInput.System))
	}
	if stub.lastInput.InferenceConfig == nil || *stub.lastInput.InferenceConfig.MaxTokens != 128 {
		t.Fatalf("inference config not mapped: %+v", stub.lastInput.InferenceConfig)
	}
}

func TestBedrockClientSystemRoleInMessages(t *testing.T) {
	stub := &stubConverseAPI{output: converseTextOutput("ok")}
	client := NewBedrockLLMClient(stub)

	_, err := client.Complete(context.Background(), LLMRequest{
		Model: "model-id",
		Messages: []ChatMessage{
			{Role: ChatRoleSystem, Content: "inline system"},
			{Role: ChatRoleUser, Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if len(stub.lastInput.System) != 1 {
		t.Fatalf("inline system message must move to system blocks, got %d", len(stub.lastInput.System))
	}
	if len(stub.lastInput.Messages) != 1 {
		t.Fatalf("expected one chat message, got %d", len(stub.lastInput.Messages))
	}
}

func TestBedrockClientRequiresModel(t *testing.T) {
	client := NewBedrockLLMClient(&stubConverseAPI{})
	if _, err := client.Complete(context.Background(), LLMRequest{}); err == nil {
		t.Fatal("expected error for missing model id")
	}
}

func TestBedrockClientEmptyResponse(t *testing.T) {
	stub := &stubConverseAPI{output: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{}},
	}}
	client := NewBedrockLLMClient(stub)

	if _, err := client.Complete(context.Background(), LLMRequest{
		Model:    "model-id",
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}},
	}); err == nil {
		t.Fatal("expected error on empty message content")
	}
}

func TestBedrockClientAPIError(t *testing.T) {
	stub := &stubConverseAPI{err: errors.New("throttled")}
	client := NewBedrockLLMClient(stub)

	if _, err := client.Complete(context.Background(), LLMRequest{
		Model:    "model-id",
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}},
	}); err == nil {
		t.Fatal("expected API error to surface")
	}
}
