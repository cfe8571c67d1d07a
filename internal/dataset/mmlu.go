package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// MMLUSource loads the MMLU multiple-choice benchmark. The problem text
// carries the question plus numbered choices; the solution is the correct
// choice's text.
type MMLUSource struct {
	client  *http.Client
	dataset string
}

func NewMMLUSource(client *http.Client) *MMLUSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &MMLUSource{client: client, dataset: "cais/mmlu"}
}

func (s *MMLUSource) Name() string { return "mmlu" }

func (s *MMLUSource) TaskDescription() string {
	return "Work with the agent to solve this multiple choice problem:"
}

func (s *MMLUSource) Fetch(ctx context.Context) ([]Sample, error) {
	rows, err := fetchAllRows(ctx, s.client, s.dataset, "all", "test")
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(rows))
	for _, raw := range rows {
		var row struct {
			Question string   `json:"question"`
			Choices  []string `json:"choices"`
			Answer   int      `json:"answer"`
			Subject  string   `json:"subject"`
		}
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("dataset: decode mmlu row: %w", err)
		}
		if row.Answer < 0 || row.Answer >= len(row.Choices) {
			return nil, fmt.Errorf("dataset: mmlu row has answer index %d for %d choices", row.Answer, len(row.Choices))
		}
		samples = append(samples, Sample{
			Problem:  formatMMLUProblem(row.Question, row.Choices),
			Solution: row.Choices[row.Answer],
			Subject:  row.Subject,
		})
	}
	return samples, nil
}

func formatMMLUProblem(question string, choices []string) string {
	var b strings.Builder
	b.WriteString(question)
	b.WriteString("\n\nChoices:\n")
	for i, choice := range choices {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i, choice)
	}
	return b.String()
}
