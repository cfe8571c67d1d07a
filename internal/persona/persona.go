// Package persona defines simulated-user profiles and loads them from a
// profiles JSON file.
package persona

import (
	"encoding/json"
	"fmt"
	"os"
)

// Persona is one fixed simulated-user profile: an identity plus the
// preferences it enforces. Immutable for the lifetime of a run.
type Persona struct {
	Index       int      `json:"i"`
	Persona     string   `json:"persona"`
	Preferences []string `json:"preferences"`
}

// Load reads personas from a profiles JSON file (an array of persona
// objects). Index values must be unique; they key resumability.
func Load(path string) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: read profiles: %w", err)
	}
	var personas []Persona
	if err := json.Unmarshal(data, &personas); err != nil {
		return nil, fmt.Errorf("persona: parse profiles: %w", err)
	}
	if len(personas) == 0 {
		return nil, fmt.Errorf("persona: profiles file %s is empty", path)
	}

	seen := make(map[int]struct{}, len(personas))
	for _, p := range personas {
		if _, dup := seen[p.Index]; dup {
			return nil, fmt.Errorf("persona: duplicate persona index %d", p.Index)
		}
		seen[p.Index] = struct{}{}
	}
	return personas, nil
}

// Builtin returns a small default persona set for runs without a profiles
// file.
func Builtin() []Persona {
	return []Persona{
		{
			Index:   0,
			Persona: "A busy product manager who wants quick, skimmable help and has little patience for long explanations.",
			Preferences: []string{
				"Always respond in bullet points",
				"Keep every response under 100 words",
				"Always end your response with a one-line summary",
			},
		},
		{
			Index:   1,
			Persona: "A first-year undergraduate who wants to understand the reasoning, not just the answer.",
			Preferences: []string{
				"Always explain each step before showing the calculation",
				"Define any technical term the first time you use it",
				"Ask me a comprehension question at the end of each response",
			},
		},
		{
			Index:   2,
			Persona: "A skeptical engineer who double-checks everything and dislikes hedging.",
			Preferences: []string{
				"Always state your confidence level explicitly",
				"Show a verification of the result by an independent method",
				"Never use filler phrases or apologies",
			},
		},
	}
}
