package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// Searcher is the external web-search capability. Implementations must
// return fresh (non-cached) content and an empty slice, not an error, when
// nothing is found.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchDocument, error)
}

// DocumentIndexer archives accepted documents for later semantic retrieval.
// Optional; indexing failures never abort a research run.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, doc SearchDocument, query string) error
}

// Engine drives the recursive deep-research expansion: generate sub-queries,
// search and evaluate evidence, extract learnings, recurse on follow-up
// questions with decayed budgets, then synthesize a report.
type Engine struct {
	Config        Config
	LLM           llms.Model
	Searcher      Searcher
	Indexer       DocumentIndexer
	Logger        *slog.Logger
	OnStateUpdate func(state ResearchState)
}

func NewEngine(cfg Config, llm llms.Model, searcher Searcher) *Engine {
	if cfg.SearchResults <= 0 {
		cfg.SearchResults = 1
	}
	return &Engine{
		Config:   cfg,
		LLM:      llm,
		Searcher: searcher,
		Logger:   slog.Default(),
	}
}

// Run performs a full research request: a fresh state, the recursive
// expansion, and the final report. The state is returned alongside the
// report so callers can persist sources and learnings.
func (e *Engine) Run(ctx context.Context, query string, depth, breadth int) (*ResearchState, string, error) {
	state := NewResearchState()
	e.Logger.Info("Starting deep research", "query", query, "depth", depth, "breadth", breadth)

	if err := e.Research(ctx, state, query, depth, breadth); err != nil {
		return nil, "", err
	}

	report, err := e.Report(ctx, state)
	if err != nil {
		return nil, "", err
	}
	return state, report, nil
}

// Research expands one query into the accumulated state. Depth is the sole
// termination guarantee: it decrements on every recursive call and the call
// with depth zero returns without touching the state. Breadth halves
// (rounded up) per level, flooring at 1. Queries within a level and
// documents within a query are processed strictly sequentially so each
// evaluation sees every document accepted before it.
func (e *Engine) Research(ctx context.Context, state *ResearchState, query string, depth, breadth int) error {
	if state.RootQuery == "" {
		state.RootQuery = query
	}
	if depth == 0 {
		return nil
	}
	if breadth < 1 {
		breadth = 1
	}

	queries, err := e.GenerateQueries(ctx, query, breadth)
	if err != nil {
		return err
	}
	state.ActiveQueries = queries

	for _, q := range queries {
		e.Logger.Info("Searching", "query", q)

		docs, err := e.searchAndEvaluate(ctx, q, state.AcceptedDocuments)
		if err != nil {
			return err
		}

		// The evaluator's duplicate check is model-mediated; keep a hard
		// dedup pass so a locator never appears twice in the state.
		var accepted []SearchDocument
		for _, doc := range docs {
			if state.HasDocument(doc.URL) {
				e.Logger.Warn("Dropping duplicate source", "url", doc.URL)
				continue
			}
			state.AcceptedDocuments = append(state.AcceptedDocuments, doc)
			accepted = append(accepted, doc)
		}

		if e.OnStateUpdate != nil {
			e.OnStateUpdate(*state)
		}

		for _, doc := range accepted {
			e.Logger.Info("Generating learning", "url", doc.URL)

			if e.Indexer != nil {
				if err := e.Indexer.IndexDocument(ctx, doc, q); err != nil {
					e.Logger.Warn("Failed to archive document", "url", doc.URL, "error", err)
				}
			}

			learning, err := e.ExtractLearning(ctx, q, doc)
			if err != nil {
				return err
			}
			state.Learnings = append(state.Learnings, learning)
			state.ExhaustedQueries = append(state.ExhaustedQueries, q)

			if e.OnStateUpdate != nil {
				e.OnStateUpdate(*state)
			}

			// Use the local slice: a completed recursion has already
			// overwritten state.ActiveQueries with a deeper level's set.
			next := followUpPrompt(state.RootQuery, queries, learning.FollowUpQuestions)
			if err := e.Research(ctx, state, next, depth-1, (breadth+1)/2); err != nil {
				return err
			}
		}
	}

	return nil
}

// followUpPrompt builds the composite query for a recursive sub-tree,
// carrying the overall goal and this level's queries so the model does not
// drift or repeat itself.
func followUpPrompt(rootQuery string, activeQueries, followUps []string) string {
	return fmt.Sprintf(`Overall research goal: %s
Previous queries: %s
Follow-up question: %s`,
		rootQuery,
		strings.Join(activeQueries, ", "),
		strings.Join(followUps, ", "))
}

// GenerateQueries turns one research question into up to count distinct
// search queries via a schema-constrained completion. The model may return
// fewer; anything beyond count is truncated.
func (e *Engine) GenerateQueries(ctx context.Context, question string, count int) ([]string, error) {
	systemPrompt := `You are a research planner.
Generate specific web search queries that together cover the given research question.`

	schema := fmt.Sprintf(`Return the JSON object directly without any formatting or additional text. Make sure to answer in valid json and include all necessary properties:{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {"type": "string"},
      "minItems": 1,
      "maxItems": %d,
      "description": "List of search queries"
    }
  },
  "required": ["queries"]
}`, count)

	input := fmt.Sprintf("Generate %d search queries for the following query: %s", count, question)

	type queryResponse struct {
		Queries []string `json:"queries"`
	}
	var queryResp queryResponse

	_, err := e.generateWithRetry(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt+"\n\n# Response Format:\n\n"+schema),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, func(content string) error {
		queryResp = queryResponse{}
		if err := json.Unmarshal([]byte(content), &queryResp); err != nil {
			return fmt.Errorf("json parse error: %w (content: %s)", err, content)
		}
		if len(queryResp.Queries) == 0 {
			return fmt.Errorf("empty queries list")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query generation: %w", ErrGeneration, err)
	}

	queries := queryResp.Queries
	if len(queries) > count {
		queries = queries[:count]
	}
	e.Logger.Info("Generated queries", "queries", queries)
	return queries, nil
}

// ExtractLearning distills one accepted document into a learning statement
// and follow-up questions.
func (e *Engine) ExtractLearning(ctx context.Context, query string, doc SearchDocument) (Learning, error) {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return Learning{}, fmt.Errorf("failed to serialize document: %w", err)
	}

	schema := `Return the JSON object directly without any formatting or additional text. Make sure to answer in valid json and include all necessary properties:{
  "type": "object",
  "properties": {
    "learning": {"type": "string", "description": "One distilled learning from the search result"},
    "followUpQuestions": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Follow-up questions worth researching next"
    }
  },
  "required": ["learning", "followUpQuestions"]
}`

	input := fmt.Sprintf(`The user is researching "%s". The following search result seemed relevant. Generate a learning and follow-up questions from it.

<search_result>
%s
</search_result>`, query, docJSON)

	var learning Learning
	_, err = e.generateWithRetry(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "You are a researcher distilling sources into concise learnings.\n\n# Response Format:\n\n"+schema),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, func(content string) error {
		learning = Learning{}
		if err := json.Unmarshal([]byte(content), &learning); err != nil {
			return fmt.Errorf("json parse error: %w (content: %s)", err, content)
		}
		if strings.TrimSpace(learning.Statement) == "" {
			return fmt.Errorf("empty learning statement")
		}
		return nil
	})
	if err != nil {
		return Learning{}, fmt.Errorf("%w: learning extraction: %w", ErrGeneration, err)
	}
	if learning.FollowUpQuestions == nil {
		learning.FollowUpQuestions = []string{}
	}
	return learning, nil
}

// Report synthesizes the accumulated state into a free-form narrative.
func (e *Engine) Report(ctx context.Context, state *ResearchState) (string, error) {
	e.Logger.Info("Compiling final report",
		"documents", len(state.AcceptedDocuments),
		"learnings", len(state.Learnings))

	prompt, err := buildReportPrompt(state)
	if err != nil {
		return "", err
	}

	resp, err := e.LLM.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return "", fmt.Errorf("%w: report synthesis: %w", ErrGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: report synthesis returned no choices", ErrGeneration)
	}

	report := resp.Choices[0].Content
	e.Logger.Info("Final report generated", "length", len(report))
	return report, nil
}

// buildReportPrompt serializes the whole state, so every accepted source
// locator is visible to the synthesizer.
func buildReportPrompt(state *ResearchState) (string, error) {
	stateJSON, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize research state: %w", err)
	}
	return fmt.Sprintf("Generate a report for the following research:\n\n%s", stateJSON), nil
}

// generateWithRetry attempts a completion and validates the content with the
// provided function, retrying up to 3 times with linear backoff.
func (e *Engine) generateWithRetry(ctx context.Context, prompts []llms.MessageContent, validator func(string) error) (string, error) {
	maxRetries := 3
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			e.Logger.Warn("Retrying LLM generation", "attempt", i+1, "last_error", lastErr)
			select {
			case <-time.After(time.Second * time.Duration(i)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		resp, err := e.LLM.GenerateContent(ctx, prompts, llms.WithJSONMode())
		if err != nil {
			lastErr = fmt.Errorf("llm generation failed: %w", err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("llm returned no choices")
			continue
		}

		content := resp.Choices[0].Content
		if err := validator(content); err != nil {
			lastErr = fmt.Errorf("validation failed: %w", err)
			continue
		}
		return content, nil
	}

	return "", fmt.Errorf("operation failed after %d retries: %w", maxRetries, lastErr)
}
