package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ditinagrawal/deep-research/pkg/research"
)

const defaultArxivBaseURL = "https://export.arxiv.org/api/query"

// ArxivClient searches the arXiv Atom API. Useful as a search provider for
// academic topics where Exa's general web index is too noisy.
type ArxivClient struct {
	BaseURL string
	Client  *http.Client
}

func NewArxivClient() *ArxivClient {
	return &ArxivClient{
		BaseURL: defaultArxivBaseURL,
		Client:  http.DefaultClient,
	}
}

type arxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	Title   string      `xml:"title"`
	Summary string      `xml:"summary"`
	Link    []arxivLink `xml:"link"`
}

type arxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
	Rel  string `xml:"rel,attr"`
}

// Search implements research.Searcher. The paper abstract stands in for
// page content; the locator is the PDF link when present, else the entry
// page.
func (c *ArxivClient) Search(ctx context.Context, query string, limit int) ([]research.SearchDocument, error) {
	if limit <= 0 {
		limit = 1
	}

	params := url.Values{}
	params.Add("search_query", query)
	params.Add("max_results", strconv.Itoa(limit))
	params.Add("start", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build arXiv request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arXiv request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("arXiv API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read arXiv response: %w", err)
	}

	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arXiv feed: %w", err)
	}

	docs := make([]research.SearchDocument, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		locator := ""
		for _, link := range entry.Link {
			if link.Type == "application/pdf" {
				locator = link.Href
				break
			}
			if link.Rel == "alternate" && locator == "" {
				locator = link.Href
			}
		}
		if locator == "" {
			continue
		}
		docs = append(docs, research.SearchDocument{
			Title:   strings.TrimSpace(entry.Title),
			URL:     locator,
			Content: strings.TrimSpace(entry.Summary),
		})
	}
	return docs, nil
}
