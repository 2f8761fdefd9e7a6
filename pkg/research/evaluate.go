package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// maxEvaluationSteps bounds the evaluator's tool loop so a model that keeps
// issuing tool calls cannot spin forever.
const maxEvaluationSteps = 5

const (
	verdictRelevant   = "relevant"
	verdictIrrelevant = "irrelevant"
)

const (
	toolSearchWeb = "search_web"
	toolEvaluate  = "evaluate"
)

var evaluatorTools = []llms.Tool{
	{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        toolSearchWeb,
			Description: "Search the web for the most relevant results for the given query",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query",
					},
				},
				"required": []string{"query"},
			},
		},
	},
	{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        toolEvaluate,
			Description: "Evaluate the relevance of the most recently found search result to the query",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	},
}

// searchAndEvaluate runs the bounded search-and-judge loop for one query.
// The model drives via two tools: search_web pushes retrieved documents
// onto a pending stack, evaluate pops the newest one and judges it against
// the already-accepted set. An irrelevant verdict tells the model to search
// again; a relevant verdict ends the loop. The accumulated relevant
// documents (possibly none) are returned in every termination case except
// a hard failure.
func (e *Engine) searchAndEvaluate(ctx context.Context, query string, accepted []SearchDocument) ([]SearchDocument, error) {
	var pending []SearchDocument
	var relevant []SearchDocument

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem,
			"You are a researcher. You are given a query and you need to search the web for the most relevant results and then evaluate them to determine if they are relevant to the query."),
		llms.TextParts(llms.ChatMessageTypeHuman,
			fmt.Sprintf("Search the web for the following query: %s", query)),
	}

	done := false
	for step := 0; step < maxEvaluationSteps && !done; step++ {
		resp, err := e.LLM.GenerateContent(ctx, messages, llms.WithTools(evaluatorTools))
		if err != nil {
			return nil, fmt.Errorf("%w: evaluator step %d: %w", ErrGeneration, step+1, err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("%w: evaluator returned no choices", ErrGeneration)
		}

		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 {
			// Model stopped issuing tool calls; evaluation is over.
			break
		}

		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		for _, tc := range choice.ToolCalls {
			assistant.Parts = append(assistant.Parts, tc)
		}
		messages = append(messages, assistant)

		for _, tc := range choice.ToolCalls {
			observation, err := e.dispatchEvaluatorTool(ctx, tc, query, accepted, &pending, &relevant, &done)
			if err != nil {
				return nil, err
			}
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    observation,
				}},
			})
		}
	}

	return relevant, nil
}

// dispatchEvaluatorTool executes one tool call and returns the observation
// text fed back to the model.
func (e *Engine) dispatchEvaluatorTool(ctx context.Context, tc llms.ToolCall, query string, accepted []SearchDocument, pending, relevant *[]SearchDocument, done *bool) (string, error) {
	switch tc.FunctionCall.Name {
	case toolSearchWeb:
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &args); err != nil {
			return "", fmt.Errorf("%w: invalid search_web arguments: %w", ErrEvaluation, err)
		}
		if args.Query == "" {
			args.Query = query
		}

		docs, err := e.Searcher.Search(ctx, args.Query, e.Config.SearchResults)
		if err != nil {
			return "", fmt.Errorf("%w: search %q: %w", ErrRetrieval, args.Query, err)
		}
		*pending = append(*pending, docs...)

		if len(docs) == 0 {
			return "No results found.", nil
		}
		docsJSON, err := json.Marshal(docs)
		if err != nil {
			return "", fmt.Errorf("failed to serialize search results: %w", err)
		}
		return string(docsJSON), nil

	case toolEvaluate:
		if len(*pending) == 0 {
			return "", fmt.Errorf("%w: evaluate called with no pending search results", ErrEvaluation)
		}
		doc := (*pending)[len(*pending)-1]
		*pending = (*pending)[:len(*pending)-1]

		verdict, err := e.judgeRelevance(ctx, query, doc, accepted)
		if err != nil {
			return "", err
		}
		if verdict == verdictRelevant {
			*relevant = append(*relevant, doc)
			*done = true
			return "Search results are relevant. End research.", nil
		}
		return "Search results are irrelevant. Please search again.", nil

	default:
		return "", fmt.Errorf("%w: unknown tool %q", ErrEvaluation, tc.FunctionCall.Name)
	}
}

// judgeRelevance classifies one document against the accepted set. A URL
// already present in the accepted set is irrelevant regardless of content;
// only novel documents reach the model for a content judgment.
func (e *Engine) judgeRelevance(ctx context.Context, query string, doc SearchDocument, accepted []SearchDocument) (string, error) {
	for _, existing := range accepted {
		if existing.URL == doc.URL {
			e.Logger.Info("Duplicate source suppressed", "url", doc.URL)
			return verdictIrrelevant, nil
		}
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to serialize search result: %w", err)
	}
	urls := make([]string, 0, len(accepted))
	for _, existing := range accepted {
		urls = append(urls, existing.URL)
	}
	urlsJSON, err := json.Marshal(urls)
	if err != nil {
		return "", fmt.Errorf("failed to serialize existing sources: %w", err)
	}

	input := fmt.Sprintf(`Evaluate whether the following search result is relevant to the query: %s. If the page already exists in the existing sources, then it is irrelevant.

<search_result>
%s
</search_result>

<existing_results>
%s
</existing_results>

Answer with exactly one word: "relevant" or "irrelevant".`, query, docJSON, urlsJSON)

	var verdict string
	_, err = e.generateWithRetry(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, func(content string) error {
		v := strings.ToLower(strings.Trim(strings.TrimSpace(content), `"`))
		if v != verdictRelevant && v != verdictIrrelevant {
			return fmt.Errorf("unexpected verdict %q", content)
		}
		verdict = v
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: relevance judgment: %w", ErrGeneration, err)
	}
	return verdict, nil
}
