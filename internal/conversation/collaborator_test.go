package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const jsonCollabModel = "meta-llama/Llama-3.3-70B-Instruct"

func TestJSONCapableModelSelection(t *testing.T) {
	if !jsonCapableModel(jsonCollabModel) {
		t.Fatal("llama 3.3 70B should run in JSON mode")
	}
	if jsonCapableModel("gpt-oss-120b") {
		t.Fatal("gpt-oss should run free text")
	}
}

func TestCollaboratorFreeTextTurn(t *testing.T) {
	stub := scriptedTexts("Let me walk you through it step by step.")
	client := newTestStructuredClient(stub, "Qwen2.5-72B-Instruct", WithTransientRetries(0))
	collab := NewCollaboratorSimulator(client)

	if collab.JSONMode() {
		t.Fatal("expected free-text mode")
	}
	payload, err := collab.GenerateTurn(context.Background(), Transcript{
		{Role: ChatRoleAssistant, Content: "How can I help you?"},
		{Role: ChatRoleUser, Content: "help me factor this"},
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if payload.Response() != "Let me walk you through it step by step." {
		t.Fatalf("unexpected response %q", payload.Response())
	}
}

func TestCollaboratorJSONTurnRetries(t *testing.T) {
	stub := scriptedTexts(
		`{"reasoning": "no response key"}`,
		`{"reasoning": "r", "response": "here is the factorization"}`,
	)
	client := newTestStructuredClient(stub, jsonCollabModel, WithTransientRetries(0))
	collab := NewCollaboratorSimulator(client, WithCollaboratorRetries(3))

	payload, err := collab.GenerateTurn(context.Background(), Transcript{})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if payload.Response() != "here is the factorization" {
		t.Fatalf("unexpected response %q", payload.Response())
	}
	if stub.callCount() != 2 {
		t.Fatalf("expected 2 attempts, got %d", stub.callCount())
	}
}

func TestCollaboratorExhaustsRetries(t *testing.T) {
	stub := scriptedTexts(`{"reasoning": "never valid"}`)
	client := newTestStructuredClient(stub, jsonCollabModel, WithTransientRetries(0))
	collab := NewCollaboratorSimulator(client, WithCollaboratorRetries(2))

	_, err := collab.GenerateTurn(context.Background(), Transcript{})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
}

func TestCollaboratorReflectiveWithoutScaffolding(t *testing.T) {
	stub := scriptedTexts("reply")
	client := newTestStructuredClient(stub, "Qwen2.5-72B-Instruct", WithTransientRetries(0))
	collab := NewCollaboratorSimulator(client, WithAgentNotes("user wants bullet points"))

	if _, err := collab.GenerateTurn(context.Background(), Transcript{}); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	req := stub.request(0)
	if !strings.Contains(req.System[0], "user wants bullet points") {
		t.Fatal("system prompt should carry the raw notes blob")
	}
}

func TestCollaboratorScaffoldingEnrichesPrompt(t *testing.T) {
	stub := scriptedTexts(
		`{"reasoning": "r", "relevant_notes": "bullet points only"}`,
		"the scaffolded reply",
	)
	client := newTestStructuredClient(stub, "Qwen2.5-72B-Instruct", WithTransientRetries(0))
	collab := NewCollaboratorSimulator(client,
		WithAgentNotes("bullet points only; keep it short"),
		WithProperScaffolding(true),
	)

	payload, err := collab.GenerateTurn(context.Background(), Transcript{
		{Role: ChatRoleUser, Content: "help"},
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if payload.Response() != "the scaffolded reply" {
		t.Fatalf("unexpected response %q", payload.Response())
	}

	// First call is the extraction side channel, second the actual turn.
	if stub.callCount() != 2 {
		t.Fatalf("expected 2 calls, got %d", stub.callCount())
	}
	extraction := stub.request(0)
	if !strings.Contains(extraction.Messages[0].Content, "bullet points only; keep it short") {
		t.Fatal("extraction prompt missing full notes")
	}
	turn := stub.request(1)
	if !strings.Contains(turn.System[0], "bullet points only") {
		t.Fatal("turn system prompt missing extracted notes")
	}
}

func TestCollaboratorScaffoldingFailureSkipsEnrichment(t *testing.T) {
	stub := scriptedTexts(
		"never valid scaffolding",
		"never valid scaffolding",
		"plain reply",
	)
	client := newTestStructuredClient(stub, "Qwen2.5-72B-Instruct", WithTransientRetries(0))
	collab := NewCollaboratorSimulator(client,
		WithAgentNotes("some notes"),
		WithProperScaffolding(true),
		WithCollaboratorRetries(2),
	)

	payload, err := collab.GenerateTurn(context.Background(), Transcript{})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if payload.Response() != "plain reply" {
		t.Fatalf("unexpected response %q", payload.Response())
	}
	turn := stub.request(2)
	if strings.Contains(turn.System[0], "Use these notes to guide your response") {
		t.Fatal("failed extraction must not add the scaffolded preamble")
	}
}

func TestUpdateAgentNotesFreeText(t *testing.T) {
	stub := scriptedTexts("prefers numbered lists and short answers")
	client := newTestStructuredClient(stub, "Qwen2.5-72B-Instruct", WithTransientRetries(0))
	collab := NewCollaboratorSimulator(client)

	payload, err := collab.UpdateAgentNotes(context.Background(), "", Transcript{
		{Role: ChatRoleUser, Content: "use numbered lists please"},
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if payload.AgentNotes() != "prefers numbered lists and short answers" {
		t.Fatalf("unexpected notes %q", payload.AgentNotes())
	}
}

func TestUpdateAgentNotesJSON(t *testing.T) {
	stub := scriptedTexts(`{"user_preferences_reasoning": "r", "agent_notes": "keep answers short"}`)
	client := newTestStructuredClient(stub, jsonCollabModel, WithTransientRetries(0))
	collab := NewCollaboratorSimulator(client)

	payload, err := collab.UpdateAgentNotes(context.Background(), "old notes", Transcript{})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if payload.AgentNotes() != "keep answers short" {
		t.Fatalf("unexpected notes %q", payload.AgentNotes())
	}
	req := stub.request(0)
	if !strings.Contains(req.Messages[0].Content, "old notes") {
		t.Fatal("reflection prompt missing current notes")
	}
}

func TestUpdateAgentNotesExhaustsRetries(t *testing.T) {
	stub := scriptedTexts(`{"wrong": "shape"}`)
	client := newTestStructuredClient(stub, jsonCollabModel, WithTransientRetries(0))
	collab := NewCollaboratorSimulator(client, WithCollaboratorRetries(2))

	_, err := collab.UpdateAgentNotes(context.Background(), "", Transcript{})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
}
