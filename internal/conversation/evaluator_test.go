package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func finishedConversation(log ...Payload) *Conversation {
	return &Conversation{
		ID:      "conv-1",
		Sample:  testSample,
		Turns:   Transcript{openingTurn, {Role: ChatRoleUser, Content: "Thanks, TERMINATE"}},
		FullLog: log,
	}
}

func newTestEvaluator(stub LLMClient, retries int) *Evaluator {
	client := newTestStructuredClient(stub, "judge-model", WithTransientRetries(0), WithTemperature(0))
	return NewEvaluator(client, retries, nil)
}

func TestExtractDraftAnswer(t *testing.T) {
	answer, err := extractDraftAnswer([]Payload{
		{"draft_answer": "old"},
		{"draft_answer": "final"},
	})
	if err != nil || answer != "final" {
		t.Fatalf("expected final, got %q err=%v", answer, err)
	}

	// Terminating turns may omit the draft; fall back one entry.
	answer, err = extractDraftAnswer([]Payload{
		{"draft_answer": "kept"},
		{"response": "TERMINATE"},
	})
	if err != nil || answer != "kept" {
		t.Fatalf("expected fallback draft, got %q err=%v", answer, err)
	}

	if _, err = extractDraftAnswer([]Payload{{"response": "a"}, {"response": "b"}}); !errors.Is(err, ErrNoDraftAnswer) {
		t.Fatalf("expected ErrNoDraftAnswer, got %v", err)
	}

	// Only the last two entries count.
	if _, err = extractDraftAnswer([]Payload{{"draft_answer": "too old"}, {}, {}}); !errors.Is(err, ErrNoDraftAnswer) {
		t.Fatalf("expected ErrNoDraftAnswer, got %v", err)
	}
}

func TestEvaluateCorrectAnswer(t *testing.T) {
	stub := scriptedTexts(`{"reasoning": "matches exactly", "accuracy": 1}`)
	e := newTestEvaluator(stub, 3)

	result, err := e.Evaluate(context.Background(), finishedConversation(Payload{"draft_answer": "4"}))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if result.Accuracy.Accuracy != 1 || result.Accuracy.Reasoning != "matches exactly" {
		t.Fatalf("unexpected accuracy %+v", result.Accuracy)
	}
	if result.FinalAnswer != "4" {
		t.Fatalf("unexpected final answer %q", result.FinalAnswer)
	}
	if result.ConversationLength != 2 {
		t.Fatalf("unexpected conversation length %d", result.ConversationLength)
	}

	req := stub.request(0)
	prompt := req.Messages[0].Content
	for _, want := range []string{testSample.Problem, testSample.Solution, "4"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("judge prompt missing %q", want)
		}
	}
}

func TestEvaluateCoercesStringAccuracy(t *testing.T) {
	stub := scriptedTexts(`{"reasoning": "wrong", "accuracy": "0"}`)
	e := newTestEvaluator(stub, 3)

	result, err := e.Evaluate(context.Background(), finishedConversation(Payload{"draft_answer": "5"}))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if result.Accuracy.Accuracy != 0 {
		t.Fatalf("expected 0, got %d", result.Accuracy.Accuracy)
	}
}

func TestEvaluateRetriesInvalidJudgePayload(t *testing.T) {
	stub := scriptedTexts("not json", `{"reasoning": "r", "accuracy": 1}`)
	e := newTestEvaluator(stub, 3)

	result, err := e.Evaluate(context.Background(), finishedConversation(Payload{"draft_answer": "4"}))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if result.Accuracy.Accuracy != 1 {
		t.Fatalf("expected 1, got %d", result.Accuracy.Accuracy)
	}
	if stub.callCount() != 2 {
		t.Fatalf("expected 2 attempts, got %d", stub.callCount())
	}
}

func TestEvaluateNoDraftAnswer(t *testing.T) {
	e := newTestEvaluator(scriptedTexts("unused"), 3)

	_, err := e.Evaluate(context.Background(), finishedConversation(Payload{"response": "bye"}))
	if !errors.Is(err, ErrNoDraftAnswer) {
		t.Fatalf("expected ErrNoDraftAnswer, got %v", err)
	}
}

func TestEvaluateJudgeExhaustsRetries(t *testing.T) {
	stub := scriptedTexts("never valid")
	e := newTestEvaluator(stub, 2)

	if _, err := e.Evaluate(context.Background(), finishedConversation(Payload{"draft_answer": "4"})); err == nil {
		t.Fatal("expected error after exhausted judge retries")
	}
}

func TestEvaluateAllAggregates(t *testing.T) {
	stub := scriptedTexts(`{"reasoning": "r", "accuracy": 1}`)
	e := newTestEvaluator(stub, 3)

	convs := []*Conversation{
		finishedConversation(Payload{"draft_answer": "4"}),
		finishedConversation(Payload{"draft_answer": "4"}),
		finishedConversation(Payload{"response": "no draft here"}),
	}
	summary := e.EvaluateAll(context.Background(), convs)
	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.AverageAccuracy != 1.0 {
		t.Fatalf("unexpected average accuracy %f", summary.AverageAccuracy)
	}
	if summary.AverageConversationLength != 2.0 {
		t.Fatalf("unexpected average length %f", summary.AverageConversationLength)
	}
}

func TestEvaluateAllEmptyInput(t *testing.T) {
	e := newTestEvaluator(scriptedTexts("unused"), 3)

	summary := e.EvaluateAll(context.Background(), nil)
	if summary.Succeeded != 0 || summary.Failed != 0 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.Evaluated == nil || len(summary.Evaluated) != 0 {
		t.Fatalf("expected empty evaluated slice, got %v", summary.Evaluated)
	}
	if summary.AverageAccuracy != 0 || summary.AverageConversationLength != 0 {
		t.Fatalf("expected zeroed averages: %+v", summary)
	}
}
