package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/adaptiveagents/collabsim/pkg/logging"
)

// jsonCapableModel reports whether the model family reliably emits valid
// JSON under the collaborator prompt. Everything else runs in free-text
// mode.
func jsonCapableModel(model string) bool {
	return strings.Contains(model, "Llama-3.3-70B-Instruct")
}

// CollaboratorSimulator drives the assistant side of a conversation. Two
// orthogonal axes: reflective (agent notes embedded in the system prompt)
// and JSON versus free-text output, selected by model family.
type CollaboratorSimulator struct {
	client       *StructuredClient
	systemPrompt string
	agentNotes   string
	reflective   bool
	jsonMode     bool
	scaffolding  bool
	retries      int
	logger       *logging.Logger
}

type CollaboratorOption func(*CollaboratorSimulator)

// WithAgentNotes puts the simulator in reflective mode carrying the given
// notes blob. Empty notes leave the simulator non-reflective.
func WithAgentNotes(notes string) CollaboratorOption {
	return func(s *CollaboratorSimulator) {
		s.agentNotes = notes
		s.reflective = notes != ""
	}
}

// WithProperScaffolding enables the note-extraction side call before each
// reply. Only meaningful in reflective mode.
func WithProperScaffolding(enabled bool) CollaboratorOption {
	return func(s *CollaboratorSimulator) { s.scaffolding = enabled }
}

func WithCollaboratorRetries(n int) CollaboratorOption {
	return func(s *CollaboratorSimulator) {
		if n > 0 {
			s.retries = n
		}
	}
}

func WithCollaboratorLogger(logger *logging.Logger) CollaboratorOption {
	return func(s *CollaboratorSimulator) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewCollaboratorSimulator(client *StructuredClient, opts ...CollaboratorOption) *CollaboratorSimulator {
	if client == nil {
		panic("conversation: collaborator simulator requires a structured client")
	}
	s := &CollaboratorSimulator{
		client:   client,
		jsonMode: jsonCapableModel(client.Model()),
		retries:  10,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.systemPrompt = CollaboratorSystemPrompt(s.reflective, s.jsonMode, s.agentNotes, s.client.maxNewTokens)
	return s
}

// JSONMode reports whether replies are held to the structured contract.
func (s *CollaboratorSimulator) JSONMode() bool { return s.jsonMode }

// GenerateTurn produces the collaborator's next turn. In JSON mode the whole
// cycle, including scaffolding enrichment, is retried until a payload with
// all required keys arrives or the budget is spent. Free-text replies are
// wrapped as {response: text} with only a non-emptiness check.
func (s *CollaboratorSimulator) GenerateTurn(ctx context.Context, transcript Transcript) (Payload, error) {
	for attempt := 0; attempt < s.retries; attempt++ {
		system := s.systemPrompt
		if s.reflective {
			system = s.enrichSystemPrompt(ctx, transcript)
		}
		messages := append([]ChatMessage{{Role: ChatRoleSystem, Content: system}}, transcript...)

		raw, err := s.client.Complete(ctx, messages)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("conversation: collaborator turn canceled: %w", ctx.Err())
			}
			s.logger.Warn("collaborator completion failed", "attempt", attempt+1, "error", err)
			continue
		}

		mode := ModeCollabFreeText
		if s.jsonMode {
			mode = ModeCollabJSON
		}
		payload, err := ParsePayload(raw, mode)
		if err != nil {
			s.logger.Warn("collaborator payload rejected", "attempt", attempt+1, "error", err, "raw", raw)
			continue
		}
		return payload, nil
	}

	s.logger.Error("collaborator simulator exhausted retries", "retries", s.retries)
	return nil, fmt.Errorf("conversation: collaborator simulator: %w", ErrRetriesExhausted)
}

// enrichSystemPrompt splices the agent notes into the system prompt. With
// proper scaffolding, a side-channel extraction call filters the notes down
// to what the current conversation needs; on repeated extraction failure
// the enrichment is skipped for this turn. Without scaffolding the full
// notes blob is prepended verbatim.
func (s *CollaboratorSimulator) enrichSystemPrompt(ctx context.Context, transcript Transcript) string {
	if !s.scaffolding {
		return rawNotesPreamble(s.agentNotes) + s.systemPrompt
	}

	prompt := ScaffoldingPrompt(transcript.Render(), s.agentNotes)
	messages := []ChatMessage{{Role: ChatRoleUser, Content: prompt}}

	for attempt := 0; attempt < s.retries; attempt++ {
		raw, err := s.client.Complete(ctx, messages)
		if err != nil {
			if ctx.Err() != nil {
				return s.systemPrompt
			}
			s.logger.Warn("scaffolding completion failed", "attempt", attempt+1, "error", err)
			continue
		}
		payload, err := ParsePayload(raw, ModeScaffolding)
		if err != nil {
			s.logger.Warn("scaffolding payload rejected", "attempt", attempt+1, "error", err)
			continue
		}
		return scaffoldedNotesPreamble(payload.RelevantNotes()) + s.systemPrompt
	}

	s.logger.Warn("scaffolding extraction exhausted retries, skipping enrichment")
	return s.systemPrompt
}

// UpdateAgentNotes reflects on a finished conversation and returns the
// updated notes payload. Exhausted retries return ErrRetriesExhausted; the
// caller keeps the previous notes in that case.
func (s *CollaboratorSimulator) UpdateAgentNotes(ctx context.Context, currentNotes string, transcript Transcript) (Payload, error) {
	prompt := UpdateNotesPrompt(currentNotes, transcript.Render())
	messages := []ChatMessage{{Role: ChatRoleUser, Content: prompt}}

	mode := ModeNotesFreeText
	if s.jsonMode {
		mode = ModeNotesUpdate
	}

	for attempt := 0; attempt < s.retries; attempt++ {
		raw, err := s.client.Complete(ctx, messages)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("conversation: notes update canceled: %w", ctx.Err())
			}
			s.logger.Warn("notes update completion failed", "attempt", attempt+1, "error", err)
			continue
		}
		payload, err := ParsePayload(raw, mode)
		if err != nil {
			s.logger.Warn("notes update payload rejected", "attempt", attempt+1, "error", err)
			continue
		}
		return payload, nil
	}

	s.logger.Error("notes update exhausted retries", "retries", s.retries)
	return nil, fmt.Errorf("conversation: notes update: %w", ErrRetriesExhausted)
}
