package runner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/adaptiveagents/collabsim/internal/conversation"
	"github.com/adaptiveagents/collabsim/internal/persona"
)

// PersonaResult is one completed persona's full result bundle, one JSON
// line in the output file.
type PersonaResult struct {
	persona.Persona
	GeneratedConversations []*conversation.Conversation   `json:"generated_conversations"`
	Evaluation             conversation.EvaluationSummary `json:"evaluation"`
}

// ResultsStore appends persona results to a JSON-lines file, flushing after
// every line. Existing lines are read back on open; their persona indices
// are the sole crash-recovery mechanism.
type ResultsStore struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// OpenResultsStore opens (or creates) the output file and returns any
// results already present from a previous run.
func OpenResultsStore(path string) (*ResultsStore, []PersonaResult, error) {
	var existing []PersonaResult
	if data, err := os.ReadFile(path); err == nil {
		scanner := bufio.NewScanner(strings.NewReader(string(data)))
		scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var result PersonaResult
			if err := json.Unmarshal([]byte(line), &result); err != nil {
				return nil, nil, fmt.Errorf("runner: corrupt results line in %s: %w", path, err)
			}
			existing = append(existing, result)
		}
		if err := scanner.Err(); err != nil {
			return nil, nil, fmt.Errorf("runner: read results: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("runner: read results: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("runner: open results: %w", err)
	}
	return &ResultsStore{file: file, path: path}, existing, nil
}

// SeenIndices returns the persona indices present in existing results.
func SeenIndices(existing []PersonaResult) map[int]struct{} {
	seen := make(map[int]struct{}, len(existing))
	for _, result := range existing {
		seen[result.Index] = struct{}{}
	}
	return seen
}

// Append writes one result line and syncs it to disk before returning.
func (s *ResultsStore) Append(result PersonaResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("runner: marshal result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("runner: write result: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("runner: sync results: %w", err)
	}
	return nil
}

func (s *ResultsStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
