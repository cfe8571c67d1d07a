package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Math500Source loads the MATH-500 competition math benchmark.
type Math500Source struct {
	client  *http.Client
	dataset string
}

func NewMath500Source(client *http.Client) *Math500Source {
	if client == nil {
		client = http.DefaultClient
	}
	return &Math500Source{client: client, dataset: "HuggingFaceH4/MATH-500"}
}

func (s *Math500Source) Name() string { return "math-500" }

func (s *Math500Source) TaskDescription() string {
	return "Work with the agent to solve this math problem:"
}

func (s *Math500Source) Fetch(ctx context.Context) ([]Sample, error) {
	rows, err := fetchAllRows(ctx, s.client, s.dataset, "default", "test")
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(rows))
	for _, raw := range rows {
		var row struct {
			Problem  string `json:"problem"`
			Solution string `json:"solution"`
			Level    any    `json:"level"`
			Subject  string `json:"subject"`
		}
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("dataset: decode math-500 row: %w", err)
		}
		samples = append(samples, Sample{
			Problem:  row.Problem,
			Solution: row.Solution,
			Level:    fmt.Sprint(row.Level),
			Subject:  row.Subject,
		})
	}
	return samples, nil
}
