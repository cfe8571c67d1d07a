package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/adaptiveagents/collabsim/pkg/logging"
)

// ErrRetriesExhausted is returned when a simulator cannot obtain a valid
// structured payload within its retry budget. The orchestrator treats it as
// fatal for the current conversation attempt.
var ErrRetriesExhausted = errors.New("conversation: structured output retries exhausted")

// UserSimulator drives the user side of a conversation. Its system prompt
// is fixed at construction from the persona, task description, problem,
// and preferences, and never changes during the conversation.
type UserSimulator struct {
	client       *StructuredClient
	systemPrompt string
	retries      int
	logger       *logging.Logger
}

// NewUserSimulator binds a user persona to one problem. One instance per
// conversation attempt; fresh attempts get fresh instances.
func NewUserSimulator(client *StructuredClient, taskDescription, problem, persona string, preferences []string, retries int, logger *logging.Logger) *UserSimulator {
	if client == nil {
		panic("conversation: user simulator requires a structured client")
	}
	if retries <= 0 {
		retries = 10
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &UserSimulator{
		client:       client,
		systemPrompt: UserSystemPrompt(taskDescription, problem, persona, preferences),
		retries:      retries,
		logger:       logger,
	}
}

// SystemPrompt exposes the fixed prompt for inspection and tests.
func (s *UserSimulator) SystemPrompt() string { return s.systemPrompt }

// GenerateTurn produces the user's next structured turn. The transcript is
// viewed with roles reversed so the model continues the dialogue from the
// user's seat. Returns ErrRetriesExhausted after the retry budget is spent
// without a payload carrying all required keys.
func (s *UserSimulator) GenerateTurn(ctx context.Context, transcript Transcript) (Payload, error) {
	messages := append([]ChatMessage{{Role: ChatRoleSystem, Content: s.systemPrompt}}, transcript.Reversed()...)

	for attempt := 0; attempt < s.retries; attempt++ {
		raw, err := s.client.Complete(ctx, messages)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("conversation: user turn canceled: %w", ctx.Err())
			}
			s.logger.Warn("user completion failed", "attempt", attempt+1, "error", err)
			continue
		}
		payload, err := ParsePayload(raw, ModeUserTurn)
		if err != nil {
			s.logger.Warn("user payload rejected", "attempt", attempt+1, "error", err, "raw", raw)
			continue
		}
		return payload, nil
	}

	s.logger.Error("user simulator exhausted retries", "retries", s.retries)
	return nil, fmt.Errorf("conversation: user simulator: %w", ErrRetriesExhausted)
}

// GenerateTurnBatch completes N independent transcripts concurrently and
// returns a same-length slice of payloads. Failed slots are nil; total
// failure still returns the all-nil slice so the caller's bookkeeping stays
// positional.
func (s *UserSimulator) GenerateTurnBatch(ctx context.Context, transcripts []Transcript) []Payload {
	batches := make([][]ChatMessage, len(transcripts))
	for i, t := range transcripts {
		batches[i] = append([]ChatMessage{{Role: ChatRoleSystem, Content: s.systemPrompt}}, t.Reversed()...)
	}
	raws, err := s.client.CompleteBatch(ctx, batches)
	if err != nil {
		s.logger.Warn("user batch completion failed", "size", len(transcripts), "error", err)
		return make([]Payload, len(transcripts))
	}

	payloads := make([]Payload, len(transcripts))
	for i, raw := range raws {
		if raw == "" {
			continue
		}
		payload, err := ParsePayload(raw, ModeUserTurn)
		if err != nil {
			s.logger.Warn("user batch payload rejected", "slot", i, "error", err)
			continue
		}
		payloads[i] = payload
	}
	return payloads
}
