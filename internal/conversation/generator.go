package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/adaptiveagents/collabsim/internal/dataset"
	"github.com/adaptiveagents/collabsim/pkg/logging"
)

var generatorTracer = otel.Tracer("collabsim.internal.conversation.generator")

// openingTurn seeds every transcript so the user simulator speaks first in
// response to something.
var openingTurn = ChatMessage{Role: ChatRoleAssistant, Content: "How can I help you?"}

// Conversation is one finished (persona, sample) dialogue. Immutable once
// returned; a failed attempt is replaced wholesale by a fresh object, never
// patched.
type Conversation struct {
	ID         string         `json:"id"`
	Sample     dataset.Sample `json:"sample"`
	Turns      Transcript     `json:"conversation"`
	FullLog    []Payload      `json:"full_conversation_log"`
	AgentNotes string         `json:"agent_notes,omitempty"`
}

// Generator runs the turn-taking loop between a user simulator and a
// collaborator simulator across many samples for one persona.
type Generator struct {
	userClient   *StructuredClient
	collabClient *StructuredClient

	taskDescription string
	persona         string
	preferences     []string

	maxTurns    int
	retries     int
	turnRetries int
	batchSize   int
	scaffolding bool

	logger *logging.Logger
}

type GeneratorOption func(*Generator)

func WithMaxTurns(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.maxTurns = n
		}
	}
}

// WithConversationRetries bounds the whole-conversation retry loop that
// replaces a failed attempt with a fresh one.
func WithConversationRetries(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.retries = n
		}
	}
}

// WithTurnRetries bounds each simulator's structured-output retry loop.
func WithTurnRetries(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.turnRetries = n
		}
	}
}

func WithBatchSize(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

func WithScaffolding(enabled bool) GeneratorOption {
	return func(g *Generator) { g.scaffolding = enabled }
}

func WithGeneratorLogger(logger *logging.Logger) GeneratorOption {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func NewGenerator(userClient, collabClient *StructuredClient, taskDescription, persona string, preferences []string, opts ...GeneratorOption) *Generator {
	if userClient == nil || collabClient == nil {
		panic("conversation: generator requires both structured clients")
	}
	g := &Generator{
		userClient:      userClient,
		collabClient:    collabClient,
		taskDescription: taskDescription,
		persona:         persona,
		preferences:     preferences,
		maxTurns:        10,
		retries:         3,
		turnRetries:     10,
		batchSize:       20,
		logger:          logging.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs one conversation for the sample, retrying the whole
// conversation with fresh simulator state on any fatal turn failure. After
// the retry budget it returns nil; the caller counts the failure and moves
// on.
func (g *Generator) Generate(ctx context.Context, sample dataset.Sample) *Conversation {
	for retry := 0; retry < g.retries; retry++ {
		collab := NewCollaboratorSimulator(g.collabClient,
			WithCollaboratorRetries(g.turnRetries),
			WithCollaboratorLogger(g.logger),
		)
		conv, err := g.attempt(ctx, sample, collab)
		if err == nil {
			return conv
		}
		if ctx.Err() != nil {
			g.logger.Warn("conversation canceled", "error", err)
			break
		}
		g.logger.Warn("conversation attempt failed", "attempt", retry+1, "error", err)
	}
	conversationsTotal.WithLabelValues("standard", "failed").Inc()
	return nil
}

// attempt runs a single turn-taking loop to completion. Any nil payload
// from a simulator is fatal for the attempt.
func (g *Generator) attempt(ctx context.Context, sample dataset.Sample, collab *CollaboratorSimulator) (*Conversation, error) {
	ctx, span := generatorTracer.Start(ctx, "conversation.generate")
	defer span.End()

	id := uuid.NewString()
	span.SetAttributes(attribute.String("collabsim.conversation.id", id))

	user := NewUserSimulator(g.userClient, g.taskDescription, sample.Problem, g.persona, g.preferences, g.turnRetries, g.logger)

	mode := "standard"
	if collab.reflective {
		mode = "reflective"
	}

	conv := &Conversation{
		ID:     id,
		Sample: sample,
		Turns:  Transcript{openingTurn},
	}

	status := "budget_exhausted"
	for turn := 0; turn < g.maxTurns; turn++ {
		userPayload, err := user.GenerateTurn(ctx, conv.Turns)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: user turn %d: %w", turn+1, err)
		}
		conv.Turns = append(conv.Turns, ChatMessage{Role: ChatRoleUser, Content: userPayload.Response()})
		conv.FullLog = append(conv.FullLog, userPayload)

		if strings.Contains(userPayload.Response(), TerminationSentinel) {
			status = "terminated"
			break
		}

		collabPayload, err := collab.GenerateTurn(ctx, conv.Turns)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: collaborator turn %d: %w", turn+1, err)
		}
		conv.Turns = append(conv.Turns, ChatMessage{Role: ChatRoleAssistant, Content: collabPayload.Response()})
		conv.FullLog = append(conv.FullLog, collabPayload)
	}

	conversationsTotal.WithLabelValues(mode, status).Inc()
	span.SetAttributes(
		attribute.String("collabsim.conversation.status", status),
		attribute.Int("collabsim.conversation.turns", len(conv.Turns)),
	)
	return conv, nil
}

// GenerateBatch runs conversations for independent samples concurrently,
// one bounded pool per batch, sized to the lesser of the batch size and the
// remaining work. Failed conversations are dropped from the result and
// counted.
func (g *Generator) GenerateBatch(ctx context.Context, samples []dataset.Sample) []*Conversation {
	var generated []*Conversation
	failures := 0

	for start := 0; start < len(samples); start += g.batchSize {
		end := min(start+g.batchSize, len(samples))
		batch := samples[start:end]

		p := pool.NewWithResults[*Conversation]().WithMaxGoroutines(min(g.batchSize, len(batch)))
		for _, sample := range batch {
			p.Go(func() *Conversation {
				return g.Generate(ctx, sample)
			})
		}
		for _, conv := range p.Wait() {
			if conv == nil {
				failures++
				continue
			}
			generated = append(generated, conv)
		}
	}

	g.logger.Info("generation complete", "succeeded", len(generated), "failed", failures)
	return generated
}

// GenerateReflective runs one persona's samples sequentially, threading the
// agent notes from each conversation into the next collaborator. In
// training mode the notes reset before every sample. A notes update that
// exhausts its retries keeps the previous notes instead of failing the
// conversation.
func (g *Generator) GenerateReflective(ctx context.Context, samples []dataset.Sample, training bool) []*Conversation {
	var generated []*Conversation
	agentNotes := ""

	for _, sample := range samples {
		if training {
			agentNotes = ""
		}

		var conv *Conversation
		for retry := 0; retry < g.retries; retry++ {
			collab := NewCollaboratorSimulator(g.collabClient,
				WithAgentNotes(agentNotes),
				WithProperScaffolding(g.scaffolding),
				WithCollaboratorRetries(g.turnRetries),
				WithCollaboratorLogger(g.logger),
			)
			attempted, err := g.attempt(ctx, sample, collab)
			if err != nil {
				if ctx.Err() != nil {
					return generated
				}
				g.logger.Warn("reflective conversation attempt failed", "attempt", retry+1, "error", err)
				continue
			}

			notesPayload, err := collab.UpdateAgentNotes(ctx, agentNotes, attempted.Turns)
			if err != nil {
				g.logger.Warn("notes update failed, carrying previous notes forward", "error", err)
			} else {
				agentNotes = notesPayload.AgentNotes()
			}
			attempted.AgentNotes = agentNotes
			conv = attempted
			break
		}

		if conv == nil {
			conversationsTotal.WithLabelValues("reflective", "failed").Inc()
			continue
		}
		generated = append(generated, conv)
	}

	g.logger.Info("reflective generation complete", "succeeded", len(generated), "failed", len(samples)-len(generated))
	return generated
}
