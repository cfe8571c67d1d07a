package runner

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adaptiveagents/collabsim/internal/config"
	"github.com/adaptiveagents/collabsim/internal/conversation"
	"github.com/adaptiveagents/collabsim/internal/dataset"
	"github.com/adaptiveagents/collabsim/internal/persona"
)

const runnerUserTurn = `{"reasoning": "satisfied", "enforce_preferences": true, "draft_answer": "4", "should_terminate": true, "response": "Thanks, TERMINATE"}`
const runnerJudgeVerdict = `{"reasoning": "matches", "accuracy": 1}`

// fixedLLM answers every completion with the same text.
type fixedLLM struct {
	text string
}

func (f *fixedLLM) Complete(context.Context, conversation.LLMRequest) (conversation.LLMResponse, error) {
	return conversation.LLMResponse{Text: f.text}, nil
}

type fixedSource struct {
	samples []dataset.Sample
}

func (s *fixedSource) Name() string            { return "fixed" }
func (s *fixedSource) TaskDescription() string { return "Solve this test problem:" }
func (s *fixedSource) Fetch(context.Context) ([]dataset.Sample, error) {
	return s.samples, nil
}

func newTestRunner(t *testing.T, outputFile string, experiment string) *Runner {
	t.Helper()
	cfg := &config.Config{
		ExperimentType:      experiment,
		Dataset:             "fixed",
		EvalSize:            2,
		Seed:                42,
		MaxTurns:            3,
		BatchSize:           2,
		OutputFile:          outputFile,
		CacheDir:            t.TempDir(),
		ConversationRetries: 2,
		TurnRetries:         2,
		TransientRetries:    0,
		MaxContextTokens:    16384,
		MaxNewTokens:        2048,
	}

	src := &fixedSource{samples: []dataset.Sample{
		{Problem: "What is 2+2?", Solution: "4"},
		{Problem: "What is 3+3?", Solution: "6"},
		{Problem: "What is 4+4?", Solution: "8"},
	}}
	store := dataset.NewStore(cfg.CacheDir, dataset.WithSource(src))

	userClient := conversation.NewStructuredClient(&fixedLLM{text: runnerUserTurn}, "user-model",
		conversation.WithRetryDelay(0), conversation.WithTransientRetries(0))
	collabClient := conversation.NewStructuredClient(&fixedLLM{text: "the answer is 4"}, "collab-model",
		conversation.WithRetryDelay(0), conversation.WithTransientRetries(0))
	judgeClient := conversation.NewStructuredClient(&fixedLLM{text: runnerJudgeVerdict}, "judge-model",
		conversation.WithRetryDelay(0), conversation.WithTransientRetries(0), conversation.WithTemperature(0))

	return New(cfg, store, userClient, collabClient, judgeClient, nil)
}

func resultLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open results: %v", err)
	}
	defer f.Close()
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}
	return count
}

func testPersonas(indices ...int) []persona.Persona {
	personas := make([]persona.Persona, len(indices))
	for i, idx := range indices {
		personas[i] = persona.Persona{
			Index:       idx,
			Persona:     "a tester",
			Preferences: []string{"be brief"},
		}
	}
	return personas
}

func TestRunPersistsEachPersona(t *testing.T) {
	output := filepath.Join(t.TempDir(), "results.jsonl")
	r := newTestRunner(t, output, "agent_without_memory")

	agg, err := r.Run(context.Background(), testPersonas(0, 1))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if agg.PersonasProcessed != 2 {
		t.Fatalf("expected 2 personas, got %d", agg.PersonasProcessed)
	}
	if agg.TotalConversations != 4 {
		t.Fatalf("expected 4 conversations, got %d", agg.TotalConversations)
	}
	if agg.AverageAccuracy != 1.0 {
		t.Fatalf("expected accuracy 1.0, got %f", agg.AverageAccuracy)
	}
	// Every user turn flags enforce_preferences in this script.
	if agg.AverageEnforcedPreferences != 1.0 {
		t.Fatalf("expected 1.0 enforced preferences, got %f", agg.AverageEnforcedPreferences)
	}
	if got := resultLines(t, output); got != 2 {
		t.Fatalf("expected 2 result lines, got %d", got)
	}
}

func TestRunResumesFromExistingResults(t *testing.T) {
	output := filepath.Join(t.TempDir(), "results.jsonl")

	store, _, err := OpenResultsStore(output)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := store.Append(personaResult(0, 0.5)); err != nil {
		t.Fatalf("seed append failed: %v", err)
	}
	if err := store.Append(personaResult(2, 0.5)); err != nil {
		t.Fatalf("seed append failed: %v", err)
	}
	store.Close()

	r := newTestRunner(t, output, "agent_without_memory")
	agg, err := r.Run(context.Background(), testPersonas(0, 1, 2))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	// Two resumed plus one newly processed.
	if agg.PersonasProcessed != 3 {
		t.Fatalf("expected 3 personas in aggregate, got %d", agg.PersonasProcessed)
	}
	if got := resultLines(t, output); got != 3 {
		t.Fatalf("expected 3 result lines after resume, got %d", got)
	}
}

func TestRunReflectiveExperiment(t *testing.T) {
	output := filepath.Join(t.TempDir(), "results.jsonl")
	r := newTestRunner(t, output, "agent_with_memory")

	agg, err := r.Run(context.Background(), testPersonas(0))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if agg.PersonasProcessed != 1 {
		t.Fatalf("expected 1 persona, got %d", agg.PersonasProcessed)
	}
	if agg.TotalConversations != 2 {
		t.Fatalf("expected 2 conversations, got %d", agg.TotalConversations)
	}
}

func TestRunUnknownDataset(t *testing.T) {
	output := filepath.Join(t.TempDir(), "results.jsonl")
	r := newTestRunner(t, output, "agent_without_memory")
	r.cfg.Dataset = "missing"

	if _, err := r.Run(context.Background(), testPersonas(0)); err == nil {
		t.Fatal("expected error for unknown dataset")
	}
}

func TestAggregateCountsEnforcedPreferences(t *testing.T) {
	conv := &conversation.Conversation{
		FullLog: []conversation.Payload{
			{"enforce_preferences": true},
			{"enforce_preferences": "True"},
			{"enforce_preferences": false},
			{"response": "no flag"},
		},
	}
	result := personaResult(0, 1.0)
	result.GeneratedConversations = []*conversation.Conversation{conv}

	agg := aggregate([]PersonaResult{result})
	if agg.AverageEnforcedPreferences != 2.0 {
		t.Fatalf("expected 2 enforced preferences, got %f", agg.AverageEnforcedPreferences)
	}
}

func TestAggregateEmptyResults(t *testing.T) {
	agg := aggregate(nil)
	if agg.PersonasProcessed != 0 || agg.AverageAccuracy != 0 {
		t.Fatalf("expected zeroed aggregate, got %+v", agg)
	}
}

func TestDescribeFormat(t *testing.T) {
	agg := Aggregate{PersonasProcessed: 2, TotalConversations: 4, AverageAccuracy: 0.75}
	out := agg.Describe()
	if !strings.Contains(out, "personas: 2") || !strings.Contains(out, "0.7500") {
		t.Fatalf("unexpected description %q", out)
	}
}
