package conversation

import (
	"fmt"
	"strconv"
	"strings"
)

// Payload is one agent's parsed structured output for a turn.
type Payload map[string]any

// Response returns the payload's response text, "" when absent.
func (p Payload) Response() string {
	return p.stringValue("response")
}

// DraftAnswer returns the user simulator's current draft answer and whether
// the key is present at all.
func (p Payload) DraftAnswer() (string, bool) {
	v, ok := p["draft_answer"]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%v", v), true
}

// AgentNotes returns the updated notes blob from a reflection payload.
func (p Payload) AgentNotes() string {
	return p.stringValue("agent_notes")
}

// RelevantNotes returns the scaffolding extraction result.
func (p Payload) RelevantNotes() string {
	return p.stringValue("relevant_notes")
}

// ShouldTerminate interprets the user simulator's termination flag. Models
// emit it as a bool, a string, or occasionally a number.
func (p Payload) ShouldTerminate() bool {
	switch v := p["should_terminate"].(type) {
	case bool:
		return v
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s == "true" || s == "yes" || s == "1"
	case float64:
		return v != 0
	default:
		return false
	}
}

// Accuracy coerces the judge's accuracy field to 0 or 1. Values that are
// not 0/1 in any representation are a validation error.
func (p Payload) Accuracy() (int, error) {
	v, ok := p["accuracy"]
	if !ok {
		return 0, fmt.Errorf("conversation: payload has no accuracy key")
	}
	switch a := v.(type) {
	case float64:
		n := int(a)
		if float64(n) == a && (n == 0 || n == 1) {
			return n, nil
		}
	case bool:
		if a {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(a))
		if err == nil && (n == 0 || n == 1) {
			return n, nil
		}
	}
	return 0, fmt.Errorf("conversation: accuracy value %v is not coercible to 0/1", v)
}

func (p Payload) stringValue(key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// OutputMode tags which structured contract a completion must satisfy.
// Each mode carries its own required-key set; a payload missing any of
// them is rejected before it can reach a conversation log.
type OutputMode int

const (
	ModeUserTurn OutputMode = iota
	ModeCollabJSON
	ModeCollabFreeText
	ModeScaffolding
	ModeNotesUpdate
	ModeNotesFreeText
	ModeJudge
)

func (m OutputMode) String() string {
	switch m {
	case ModeUserTurn:
		return "user_turn"
	case ModeCollabJSON:
		return "collab_json"
	case ModeCollabFreeText:
		return "collab_free_text"
	case ModeScaffolding:
		return "scaffolding"
	case ModeNotesUpdate:
		return "notes_update"
	case ModeNotesFreeText:
		return "notes_free_text"
	case ModeJudge:
		return "judge"
	default:
		return "unknown"
	}
}

// RequiredKeys returns the keys a payload must carry in this mode.
// Free-text modes have no JSON contract; their wrap key is implicit.
func (m OutputMode) RequiredKeys() []string {
	switch m {
	case ModeUserTurn:
		return []string{"reasoning", "draft_answer", "should_terminate", "response"}
	case ModeCollabJSON:
		return []string{"reasoning", "response"}
	case ModeScaffolding:
		return []string{"reasoning", "relevant_notes"}
	case ModeNotesUpdate:
		return []string{"user_preferences_reasoning", "agent_notes"}
	case ModeJudge:
		return []string{"reasoning", "accuracy"}
	default:
		return nil
	}
}

// freeTextWrapKey names the key raw text is wrapped under in free-text
// modes, "" for JSON modes.
func (m OutputMode) freeTextWrapKey() string {
	switch m {
	case ModeCollabFreeText:
		return "response"
	case ModeNotesFreeText:
		return "agent_notes"
	default:
		return ""
	}
}

// ParsePayload turns raw completion text into a validated Payload for the
// given mode. Free-text modes wrap non-empty raw text directly. JSON modes
// run lenient repair and reject on any missing required key; rejection is
// an error for the caller's retry loop, never a panic.
func ParsePayload(raw string, mode OutputMode) (Payload, error) {
	if key := mode.freeTextWrapKey(); key != "" {
		text := strings.TrimSpace(raw)
		if text == "" {
			payloadRejectsTotal.WithLabelValues(mode.String()).Inc()
			return nil, fmt.Errorf("conversation: empty %s response", mode)
		}
		return Payload{key: text}, nil
	}

	m := RepairJSON(raw)
	var missing []string
	for _, key := range mode.RequiredKeys() {
		if _, ok := m[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		payloadRejectsTotal.WithLabelValues(mode.String()).Inc()
		return nil, fmt.Errorf("conversation: %s payload missing keys %v", mode, missing)
	}
	return Payload(m), nil
}
