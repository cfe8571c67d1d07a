package conversation

import (
	"context"
	"strings"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is an internal message representation that can include system prompts.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// Transcript is an ordered conversation history. The first entry may be a
// seeded assistant greeting; user and assistant turns alternate after it.
type Transcript []ChatMessage

// Clone returns an independent copy so callers can transform a view of the
// history without touching the canonical transcript.
func (t Transcript) Clone() Transcript {
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

// Reversed returns a copy with user and assistant roles swapped. The user
// simulator sees its own prior utterances as assistant turns even though the
// shared transcript records them under the user role.
func (t Transcript) Reversed() Transcript {
	out := t.Clone()
	for i, m := range out {
		switch m.Role {
		case ChatRoleUser:
			out[i].Role = ChatRoleAssistant
		case ChatRoleAssistant:
			out[i].Role = ChatRoleUser
		}
	}
	return out
}

// Render formats the transcript for inclusion in reflection and
// scaffolding prompts, one "Role: content" line per turn.
func (t Transcript) Render() string {
	var b strings.Builder
	for i, m := range t {
		if i > 0 {
			b.WriteByte('\n')
		}
		if m.Role != "" {
			b.WriteString(strings.ToUpper(m.Role[:1]))
			b.WriteString(m.Role[1:])
		}
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
