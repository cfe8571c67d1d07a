package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/adaptiveagents/collabsim/pkg/logging"
)

var evaluatorTracer = otel.Tracer("collabsim.internal.conversation.evaluator")

// evaluationPoolSize bounds the judge-call pool per batch.
const evaluationPoolSize = 50

// ErrNoDraftAnswer is returned when neither of the last two log entries of
// a conversation carries a draft answer to judge.
var ErrNoDraftAnswer = errors.New("conversation: no draft answer in final log entries")

// Accuracy is the judge's verdict on one conversation's final answer.
type Accuracy struct {
	Reasoning string `json:"reasoning"`
	Accuracy  int    `json:"accuracy"`
}

// EvaluationResult scores one finished conversation. Never mutated after
// creation.
type EvaluationResult struct {
	FinalAnswer        string   `json:"final_answer"`
	Accuracy           Accuracy `json:"accuracy"`
	ConversationLength int      `json:"conversation_length"`
}

// EvaluationSummary aggregates evaluations over one persona's
// conversations.
type EvaluationSummary struct {
	Evaluated                 []EvaluationResult `json:"evaluated_conversations"`
	Succeeded                 int                `json:"succeeded"`
	Failed                    int                `json:"failed"`
	AverageAccuracy           float64            `json:"average_accuracy"`
	AverageConversationLength float64            `json:"average_conversation_length"`
}

// Evaluator judges finished conversations against ground-truth solutions.
type Evaluator struct {
	client  *StructuredClient
	retries int
	logger  *logging.Logger
}

func NewEvaluator(client *StructuredClient, retries int, logger *logging.Logger) *Evaluator {
	if client == nil {
		panic("conversation: evaluator requires a structured client")
	}
	if retries <= 0 {
		retries = 10
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Evaluator{client: client, retries: retries, logger: logger}
}

// extractDraftAnswer prefers the last log entry's draft answer and falls
// back to the second-to-last, since a terminating user turn may carry no
// draft. Neither having one is a typed error.
func extractDraftAnswer(log []Payload) (string, error) {
	for i := len(log) - 1; i >= len(log)-2 && i >= 0; i-- {
		if answer, ok := log[i].DraftAnswer(); ok {
			return answer, nil
		}
	}
	return "", ErrNoDraftAnswer
}

// Evaluate judges one conversation. Errors cover missing draft answers,
// judge payloads without required keys, and accuracy values that do not
// coerce to 0/1.
func (e *Evaluator) Evaluate(ctx context.Context, conv *Conversation) (EvaluationResult, error) {
	ctx, span := evaluatorTracer.Start(ctx, "conversation.evaluate")
	defer span.End()

	draft, err := extractDraftAnswer(conv.FullLog)
	if err != nil {
		span.RecordError(err)
		evaluationsTotal.WithLabelValues("error").Inc()
		return EvaluationResult{}, err
	}

	prompt := JudgePrompt(conv.Sample.Problem, conv.Sample.Solution, draft)
	messages := []ChatMessage{{Role: ChatRoleUser, Content: prompt}}

	var payload Payload
	for attempt := 0; ; attempt++ {
		raw, completeErr := e.client.Complete(ctx, messages)
		if completeErr != nil {
			if attempt+1 >= e.retries || ctx.Err() != nil {
				span.RecordError(completeErr)
				evaluationsTotal.WithLabelValues("error").Inc()
				return EvaluationResult{}, fmt.Errorf("conversation: judge completion: %w", completeErr)
			}
			continue
		}
		payload, err = ParsePayload(raw, ModeJudge)
		if err == nil {
			break
		}
		if attempt+1 >= e.retries {
			span.RecordError(err)
			evaluationsTotal.WithLabelValues("error").Inc()
			return EvaluationResult{}, fmt.Errorf("conversation: judge payload: %w", err)
		}
		e.logger.Warn("judge payload rejected", "attempt", attempt+1, "error", err)
	}

	accuracy, err := payload.Accuracy()
	if err != nil {
		span.RecordError(err)
		evaluationsTotal.WithLabelValues("error").Inc()
		return EvaluationResult{}, err
	}

	outcome := "incorrect"
	if accuracy == 1 {
		outcome = "correct"
	}
	evaluationsTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.Int("collabsim.evaluation.accuracy", accuracy))

	return EvaluationResult{
		FinalAnswer: draft,
		Accuracy: Accuracy{
			Reasoning: payload.stringValue("reasoning"),
			Accuracy:  accuracy,
		},
		ConversationLength: len(conv.Turns),
	}, nil
}

// EvaluateAll judges conversations concurrently in bounded pools and
// aggregates over the successes only. Failed evaluations are counted and
// dropped. Empty input yields a zeroed summary without dividing by zero.
func (e *Evaluator) EvaluateAll(ctx context.Context, conversations []*Conversation) EvaluationSummary {
	summary := EvaluationSummary{Evaluated: []EvaluationResult{}}

	for start := 0; start < len(conversations); start += evaluationPoolSize {
		end := min(start+evaluationPoolSize, len(conversations))
		batch := conversations[start:end]

		type outcome struct {
			result EvaluationResult
			err    error
		}
		p := pool.NewWithResults[outcome]().WithMaxGoroutines(min(evaluationPoolSize, len(batch)))
		for _, conv := range batch {
			p.Go(func() outcome {
				result, err := e.Evaluate(ctx, conv)
				return outcome{result: result, err: err}
			})
		}
		for _, o := range p.Wait() {
			if o.err != nil {
				summary.Failed++
				e.logger.Warn("evaluation failed", "error", o.err)
				continue
			}
			summary.Evaluated = append(summary.Evaluated, o.result)
			summary.Succeeded++
		}
	}

	if len(summary.Evaluated) > 0 {
		var accSum, lenSum float64
		for _, r := range summary.Evaluated {
			accSum += float64(r.Accuracy.Accuracy)
			lenSum += float64(r.ConversationLength)
		}
		summary.AverageAccuracy = accSum / float64(len(summary.Evaluated))
		summary.AverageConversationLength = lenSum / float64(len(summary.Evaluated))
	}

	e.logger.Info("evaluation complete", "succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary
}
