package runner

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/adaptiveagents/collabsim/internal/config"
	"github.com/adaptiveagents/collabsim/internal/conversation"
	"github.com/adaptiveagents/collabsim/internal/dataset"
	"github.com/adaptiveagents/collabsim/internal/persona"
	"github.com/adaptiveagents/collabsim/pkg/logging"
)

// Runner drives a full experiment: load samples, generate and evaluate
// conversations per persona, and persist each persona's bundle as it
// completes.
type Runner struct {
	cfg      *config.Config
	datasets *dataset.Store

	userClient   *conversation.StructuredClient
	collabClient *conversation.StructuredClient
	judgeClient  *conversation.StructuredClient

	logger *logging.Logger
}

func New(cfg *config.Config, datasets *dataset.Store, userClient, collabClient, judgeClient *conversation.StructuredClient, logger *logging.Logger) *Runner {
	if cfg == nil || datasets == nil {
		panic("runner: config and dataset store are required")
	}
	if userClient == nil || collabClient == nil || judgeClient == nil {
		panic("runner: all three role clients are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{
		cfg:          cfg,
		datasets:     datasets,
		userClient:   userClient,
		collabClient: collabClient,
		judgeClient:  judgeClient,
		logger:       logger,
	}
}

// Aggregate summarizes a whole run across persona sessions.
type Aggregate struct {
	PersonasProcessed          int
	TotalConversations         int
	AverageAccuracy            float64
	AverageConversationLength  float64
	AverageEnforcedPreferences float64
}

// Run executes the experiment over the given personas. Personas already
// present in the output file are skipped; completed personas are appended
// one line at a time. The returned aggregate covers previous and new
// results together.
func (r *Runner) Run(ctx context.Context, personas []persona.Persona) (Aggregate, error) {
	reflective := r.cfg.ExperimentType == "agent_with_memory"

	taskDescription, err := r.datasets.TaskDescription(r.cfg.Dataset)
	if err != nil {
		return Aggregate{}, err
	}
	samples, err := r.datasets.Get(ctx, r.cfg.Dataset, r.cfg.EvalSize, r.cfg.Seed, r.cfg.Training)
	if err != nil {
		return Aggregate{}, err
	}
	r.logger.Info("dataset loaded", "dataset", r.cfg.Dataset, "samples", len(samples))

	store, existing, err := OpenResultsStore(r.cfg.OutputFile)
	if err != nil {
		return Aggregate{}, err
	}
	defer store.Close()

	seen := SeenIndices(existing)
	pending := personas[:0:0]
	for _, p := range personas {
		if _, done := seen[p.Index]; done {
			continue
		}
		pending = append(pending, p)
	}
	r.logger.Info("run starting",
		"experiment", r.cfg.ExperimentType,
		"personas_pending", len(pending),
		"personas_resumed", len(existing),
	)

	results := existing
	for start := 0; start < len(pending); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(pending))
		batch := pending[start:end]

		p := pool.NewWithResults[*PersonaResult]().WithMaxGoroutines(min(r.cfg.BatchSize, len(batch)))
		for _, profile := range batch {
			p.Go(func() *PersonaResult {
				result := r.runPersona(ctx, profile, taskDescription, samples, reflective)
				if err := store.Append(*result); err != nil {
					r.logger.Error("failed to persist persona result", "persona", profile.Index, "error", err)
				}
				return result
			})
		}
		for _, result := range p.Wait() {
			results = append(results, *result)
		}
	}

	agg := aggregate(results)
	r.logger.Info("run complete",
		"personas", agg.PersonasProcessed,
		"conversations", agg.TotalConversations,
		"average_accuracy", agg.AverageAccuracy,
		"average_conversation_length", agg.AverageConversationLength,
		"average_enforced_preferences", agg.AverageEnforcedPreferences,
	)
	return agg, nil
}

// runPersona generates and evaluates one persona's conversation sessions.
func (r *Runner) runPersona(ctx context.Context, profile persona.Persona, taskDescription string, samples []dataset.Sample, reflective bool) *PersonaResult {
	r.logger.Info("persona starting", "persona", profile.Index)

	generator := conversation.NewGenerator(
		r.userClient, r.collabClient,
		taskDescription, profile.Persona, profile.Preferences,
		conversation.WithMaxTurns(r.cfg.MaxTurns),
		conversation.WithConversationRetries(r.cfg.ConversationRetries),
		conversation.WithTurnRetries(r.cfg.TurnRetries),
		conversation.WithBatchSize(r.cfg.BatchSize),
		conversation.WithScaffolding(r.cfg.Scaffolding),
		conversation.WithGeneratorLogger(r.logger),
	)

	var conversations []*conversation.Conversation
	if reflective {
		conversations = generator.GenerateReflective(ctx, samples, r.cfg.TrainingReset)
	} else {
		conversations = generator.GenerateBatch(ctx, samples)
	}
	r.logger.Info("persona generation finished",
		"persona", profile.Index,
		"succeeded", len(conversations),
		"failed", len(samples)-len(conversations),
	)

	evaluator := conversation.NewEvaluator(r.judgeClient, r.cfg.TurnRetries, r.logger)
	evaluation := evaluator.EvaluateAll(ctx, conversations)

	return &PersonaResult{
		Persona:                profile,
		GeneratedConversations: conversations,
		Evaluation:             evaluation,
	}
}

func aggregate(results []PersonaResult) Aggregate {
	agg := Aggregate{PersonasProcessed: len(results)}
	if len(results) == 0 {
		return agg
	}

	var accSum, lenSum float64
	var enforcedCounts []int
	for _, result := range results {
		accSum += result.Evaluation.AverageAccuracy
		lenSum += result.Evaluation.AverageConversationLength
		agg.TotalConversations += len(result.GeneratedConversations)
		for _, conv := range result.GeneratedConversations {
			enforcedCounts = append(enforcedCounts, countEnforcedPreferences(conv))
		}
	}
	agg.AverageAccuracy = accSum / float64(len(results))
	agg.AverageConversationLength = lenSum / float64(len(results))
	if len(enforcedCounts) > 0 {
		total := 0
		for _, n := range enforcedCounts {
			total += n
		}
		agg.AverageEnforcedPreferences = float64(total) / float64(len(enforcedCounts))
	}
	return agg
}

// countEnforcedPreferences counts log entries where the user simulator
// flagged that it had to enforce a preference.
func countEnforcedPreferences(conv *conversation.Conversation) int {
	count := 0
	for _, payload := range conv.FullLog {
		switch v := payload["enforce_preferences"].(type) {
		case bool:
			if v {
				count++
			}
		case string:
			if v == "True" || v == "true" {
				count++
			}
		}
	}
	return count
}

// Describe renders the aggregate for end-of-run console output.
func (a Aggregate) Describe() string {
	return fmt.Sprintf(
		"personas: %d, conversations: %d, avg accuracy: %.4f, avg length: %.2f, avg enforced preferences: %.2f",
		a.PersonasProcessed, a.TotalConversations, a.AverageAccuracy, a.AverageConversationLength, a.AverageEnforcedPreferences,
	)
}
