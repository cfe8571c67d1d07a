package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// datasetsServerBaseURL is the Hugging Face datasets-server rows endpoint.
// Overridden in tests.
var datasetsServerBaseURL = "https://datasets-server.huggingface.co"

// rowsPageSize is the server's maximum page length.
const rowsPageSize = 100

type rowsResponse struct {
	Rows []struct {
		Row json.RawMessage `json:"row"`
	} `json:"rows"`
	NumRowsTotal int `json:"num_rows_total"`
}

// fetchAllRows pages through a dataset split and returns the raw row
// objects.
func fetchAllRows(ctx context.Context, client *http.Client, dataset, config, split string) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	for offset := 0; ; offset += rowsPageSize {
		page, total, err := fetchRowsPage(ctx, client, dataset, config, split, offset)
		if err != nil {
			return nil, err
		}
		rows = append(rows, page...)
		if len(page) == 0 || len(rows) >= total {
			break
		}
	}
	return rows, nil
}

func fetchRowsPage(ctx context.Context, client *http.Client, dataset, config, split string, offset int) ([]json.RawMessage, int, error) {
	q := url.Values{}
	q.Set("dataset", dataset)
	q.Set("config", config)
	q.Set("split", split)
	q.Set("offset", fmt.Sprint(offset))
	q.Set("length", fmt.Sprint(rowsPageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, datasetsServerBaseURL+"/rows?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("dataset: build rows request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("dataset: rows request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, 0, fmt.Errorf("dataset: rows request for %s returned %d: %s", dataset, resp.StatusCode, body)
	}

	var decoded rowsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, 0, fmt.Errorf("dataset: decode rows response: %w", err)
	}

	page := make([]json.RawMessage, 0, len(decoded.Rows))
	for _, r := range decoded.Rows {
		page = append(page, r.Row)
	}
	return page, decoded.NumRowsTotal, nil
}
