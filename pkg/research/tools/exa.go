package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ditinagrawal/deep-research/pkg/research"
)

const defaultExaBaseURL = "https://api.exa.ai"

// ExaClient calls the Exa search API with live crawling, so results carry
// fresh page content rather than stale cache snapshots.
type ExaClient struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func NewExaClient(apiKey string) *ExaClient {
	return &ExaClient{
		APIKey:  apiKey,
		BaseURL: defaultExaBaseURL,
		Client:  http.DefaultClient,
	}
}

type exaSearchRequest struct {
	Query      string          `json:"query"`
	NumResults int             `json:"numResults"`
	Contents   exaContentsSpec `json:"contents"`
}

type exaContentsSpec struct {
	Text      bool   `json:"text"`
	Livecrawl string `json:"livecrawl"`
}

type exaSearchResponse struct {
	Results []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Text  string `json:"text"`
	} `json:"results"`
}

// Search implements research.Searcher. An empty result set is not an error.
func (c *ExaClient) Search(ctx context.Context, query string, limit int) ([]research.SearchDocument, error) {
	if limit <= 0 {
		limit = 1
	}

	reqBody := exaSearchRequest{
		Query:      query,
		NumResults: limit,
		Contents: exaContentsSpec{
			Text:      true,
			Livecrawl: "always",
		},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/search", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var searchResp exaSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	docs := make([]research.SearchDocument, 0, len(searchResp.Results))
	for _, r := range searchResp.Results {
		docs = append(docs, research.SearchDocument{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Text,
		})
	}
	return docs, nil
}
