package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"
)

// fakeModel scripts the completion capability. The handler receives the
// applied call options (so tests can tell tool-loop steps from plain
// completions) and the full message history.
type fakeModel struct {
	handler func(co llms.CallOptions, msgs []llms.MessageContent) (*llms.ContentResponse, error)
	calls   int
}

func (m *fakeModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	var co llms.CallOptions
	for _, opt := range opts {
		opt(&co)
	}
	return m.handler(co, msgs)
}

func (m *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

type fakeSearcher struct {
	searchFn func(query string, limit int) ([]SearchDocument, error)
	calls    int
	queries  []string
}

func (s *fakeSearcher) Search(ctx context.Context, query string, limit int) ([]SearchDocument, error) {
	s.calls++
	s.queries = append(s.queries, query)
	return s.searchFn(query, limit)
}

func textResponse(s string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s}}}
}

func toolCallResponse(name, args string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:           "call-1",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
		}},
	}}}
}

func lastHumanText(msgs []llms.MessageContent) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != llms.ChatMessageTypeHuman {
			continue
		}
		var sb strings.Builder
		for _, part := range msgs[i].Parts {
			if tc, ok := part.(llms.TextContent); ok {
				sb.WriteString(tc.Text)
			}
		}
		return sb.String()
	}
	return ""
}

func lastToolObservation(msgs []llms.MessageContent) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != llms.ChatMessageTypeTool {
			continue
		}
		for _, part := range msgs[i].Parts {
			if resp, ok := part.(llms.ToolCallResponse); ok {
				return resp.Content
			}
		}
	}
	return ""
}

var generateCountRe = regexp.MustCompile(`Generate (\d+) search queries`)

// newResearcherScript returns a handler that plays a cooperative
// researcher: it generates queriesPerLevel queries per expansion, searches
// once, judges the result relevant, and distills a learning with one
// follow-up question. genCounts records the requested query count of every
// generation call.
func newResearcherScript(t *testing.T, queriesPerLevel int, genCounts *[]int) func(llms.CallOptions, []llms.MessageContent) (*llms.ContentResponse, error) {
	t.Helper()
	return func(co llms.CallOptions, msgs []llms.MessageContent) (*llms.ContentResponse, error) {
		if len(co.Tools) > 0 {
			switch obs := lastToolObservation(msgs); {
			case obs == "":
				return toolCallResponse("search_web", `{"query":"scripted search"}`), nil
			case strings.HasPrefix(obs, "["):
				return toolCallResponse("evaluate", `{}`), nil
			default:
				// "No results" or an irrelevant verdict: give up on this query.
				return textResponse("Nothing more to evaluate."), nil
			}
		}

		prompt := lastHumanText(msgs)
		switch {
		case strings.Contains(prompt, "Evaluate whether the following search result"):
			return textResponse("relevant"), nil
		case strings.Contains(prompt, "seemed relevant"):
			return textResponse(`{"learning":"a distilled fact","followUpQuestions":["what next?"]}`), nil
		case strings.Contains(prompt, "Generate a report"):
			return textResponse("# Report\n\nFindings."), nil
		default:
			m := generateCountRe.FindStringSubmatch(prompt)
			if m == nil {
				t.Fatalf("unexpected prompt: %s", prompt)
			}
			var n int
			fmt.Sscanf(m[1], "%d", &n)
			if genCounts != nil {
				*genCounts = append(*genCounts, n)
			}
			queries := make([]string, 0, queriesPerLevel)
			for i := 0; i < queriesPerLevel; i++ {
				queries = append(queries, fmt.Sprintf("query %d", i+1))
			}
			quoted := make([]string, len(queries))
			for i, q := range queries {
				quoted[i] = fmt.Sprintf("%q", q)
			}
			return textResponse(fmt.Sprintf(`{"queries":[%s]}`, strings.Join(quoted, ","))), nil
		}
	}
}

// uniqueDocSearcher yields one fresh document per call.
func uniqueDocSearcher() *fakeSearcher {
	n := 0
	return &fakeSearcher{searchFn: func(query string, limit int) ([]SearchDocument, error) {
		n++
		return []SearchDocument{{
			Title:   fmt.Sprintf("Doc %d", n),
			URL:     fmt.Sprintf("https://example.com/doc-%d", n),
			Content: "some page content",
		}}, nil
	}}
}

func newTestEngine(model *fakeModel, searcher Searcher) *Engine {
	e := NewEngine(Config{SearchResults: 1}, model, searcher)
	e.Logger = slog.New(slog.DiscardHandler)
	return e
}

func TestResearchDepthZero(t *testing.T) {
	model := &fakeModel{handler: func(co llms.CallOptions, msgs []llms.MessageContent) (*llms.ContentResponse, error) {
		t.Fatal("model must not be called at depth zero")
		return nil, nil
	}}
	searcher := &fakeSearcher{searchFn: func(query string, limit int) ([]SearchDocument, error) {
		t.Fatal("searcher must not be called at depth zero")
		return nil, nil
	}}
	e := newTestEngine(model, searcher)

	state := NewResearchState()
	if err := e.Research(context.Background(), state, "any question", 0, 4); err != nil {
		t.Fatalf("Research() error = %v", err)
	}

	if state.RootQuery != "any question" {
		t.Errorf("RootQuery = %q, want %q", state.RootQuery, "any question")
	}
	if len(state.AcceptedDocuments) != 0 || len(state.Learnings) != 0 || len(state.ExhaustedQueries) != 0 {
		t.Errorf("state mutated at depth zero: %+v", state)
	}
}

func TestRootQuerySetOnce(t *testing.T) {
	model := &fakeModel{handler: newResearcherScript(t, 1, nil)}
	e := newTestEngine(model, uniqueDocSearcher())

	state := NewResearchState()
	state.RootQuery = "original question"

	if err := e.Research(context.Background(), state, "a follow-up composite", 1, 1); err != nil {
		t.Fatalf("Research() error = %v", err)
	}
	if state.RootQuery != "original question" {
		t.Errorf("RootQuery overwritten to %q", state.RootQuery)
	}
}

func TestBreadthDecay(t *testing.T) {
	var genCounts []int
	model := &fakeModel{handler: newResearcherScript(t, 1, &genCounts)}
	e := newTestEngine(model, uniqueDocSearcher())

	state := NewResearchState()
	if err := e.Research(context.Background(), state, "root", 4, 5); err != nil {
		t.Fatalf("Research() error = %v", err)
	}

	// ceil-halved per level: 5, 3, 2, 1
	want := []int{5, 3, 2, 1}
	if len(genCounts) != len(want) {
		t.Fatalf("generation calls = %d (%v), want %d", len(genCounts), genCounts, len(want))
	}
	for i, n := range want {
		if genCounts[i] != n {
			t.Errorf("breadth at level %d = %d, want %d", i, genCounts[i], n)
		}
	}
}

func TestScenarioDepthOneBreadthTwo(t *testing.T) {
	var genCounts []int
	model := &fakeModel{handler: newResearcherScript(t, 2, &genCounts)}
	searcher := uniqueDocSearcher()
	e := newTestEngine(model, searcher)

	state := NewResearchState()
	if err := e.Research(context.Background(), state, "X", 1, 2); err != nil {
		t.Fatalf("Research() error = %v", err)
	}

	if len(genCounts) != 1 || genCounts[0] != 2 {
		t.Errorf("generation calls = %v, want exactly one call for 2 queries", genCounts)
	}
	if searcher.calls != 2 {
		t.Errorf("searcher calls = %d, want 2 (one round trip per query)", searcher.calls)
	}
	if len(state.AcceptedDocuments) != 2 {
		t.Errorf("accepted documents = %d, want 2", len(state.AcceptedDocuments))
	}
	if len(state.Learnings) != 2 {
		t.Errorf("learnings = %d, want 2", len(state.Learnings))
	}
	if len(state.ExhaustedQueries) != 2 {
		t.Fatalf("exhausted queries = %d, want 2", len(state.ExhaustedQueries))
	}
	for i, q := range []string{"query 1", "query 2"} {
		if state.ExhaustedQueries[i] != q {
			t.Errorf("ExhaustedQueries[%d] = %q, want %q", i, state.ExhaustedQueries[i], q)
		}
	}
}

func TestEmptySearchYieldsNoLearnings(t *testing.T) {
	model := &fakeModel{handler: newResearcherScript(t, 1, nil)}
	searcher := &fakeSearcher{searchFn: func(query string, limit int) ([]SearchDocument, error) {
		return nil, nil
	}}
	e := newTestEngine(model, searcher)

	state := NewResearchState()
	if err := e.Research(context.Background(), state, "obscure topic", 2, 2); err != nil {
		t.Fatalf("Research() error = %v", err)
	}

	if searcher.calls == 0 {
		t.Error("searcher was never called")
	}
	if len(state.AcceptedDocuments) != 0 {
		t.Errorf("accepted documents = %d, want 0", len(state.AcceptedDocuments))
	}
	if len(state.Learnings) != 0 {
		t.Errorf("learnings = %d, want 0", len(state.Learnings))
	}
}

func TestRetrievalErrorPropagates(t *testing.T) {
	model := &fakeModel{handler: newResearcherScript(t, 1, nil)}
	searcher := &fakeSearcher{searchFn: func(query string, limit int) ([]SearchDocument, error) {
		return nil, errors.New("provider unreachable")
	}}
	e := newTestEngine(model, searcher)

	state := NewResearchState()
	err := e.Research(context.Background(), state, "root", 3, 2)
	if err == nil {
		t.Fatal("Research() error = nil, want retrieval failure")
	}
	if !errors.Is(err, ErrRetrieval) {
		t.Errorf("errors.Is(err, ErrRetrieval) = false, err = %v", err)
	}
}

func TestGenerateQueriesTruncates(t *testing.T) {
	model := &fakeModel{handler: func(co llms.CallOptions, msgs []llms.MessageContent) (*llms.ContentResponse, error) {
		return textResponse(`{"queries":["a","b","c","d","e","f","g"]}`), nil
	}}
	e := newTestEngine(model, uniqueDocSearcher())

	queries, err := e.GenerateQueries(context.Background(), "question", 5)
	if err != nil {
		t.Fatalf("GenerateQueries() error = %v", err)
	}
	if len(queries) != 5 {
		t.Errorf("len(queries) = %d, want 5", len(queries))
	}
}

func TestGenerateQueriesRetriesThenFails(t *testing.T) {
	model := &fakeModel{handler: func(co llms.CallOptions, msgs []llms.MessageContent) (*llms.ContentResponse, error) {
		return textResponse("not json at all"), nil
	}}
	e := newTestEngine(model, uniqueDocSearcher())

	_, err := e.GenerateQueries(context.Background(), "question", 3)
	if err == nil {
		t.Fatal("GenerateQueries() error = nil, want generation failure")
	}
	if !errors.Is(err, ErrGeneration) {
		t.Errorf("errors.Is(err, ErrGeneration) = false, err = %v", err)
	}
	if model.calls != 3 {
		t.Errorf("model calls = %d, want 3 retries", model.calls)
	}
}

func TestExtractLearningRejectsEmptyStatement(t *testing.T) {
	model := &fakeModel{handler: func(co llms.CallOptions, msgs []llms.MessageContent) (*llms.ContentResponse, error) {
		return textResponse(`{"learning":"   ","followUpQuestions":[]}`), nil
	}}
	e := newTestEngine(model, uniqueDocSearcher())

	_, err := e.ExtractLearning(context.Background(), "q", SearchDocument{Title: "t", URL: "u", Content: "c"})
	if !errors.Is(err, ErrGeneration) {
		t.Errorf("errors.Is(err, ErrGeneration) = false, err = %v", err)
	}
}

func TestReportPromptIncludesAllLocators(t *testing.T) {
	state := &ResearchState{
		RootQuery:     "root",
		ActiveQueries: []string{"q1"},
		AcceptedDocuments: []SearchDocument{
			{Title: "A", URL: "https://example.com/a", Content: "aaa"},
			{Title: "B", URL: "https://example.com/b", Content: "bbb"},
			{Title: "C", URL: "https://example.com/c", Content: "ccc"},
		},
		Learnings:        []Learning{{Statement: "s", FollowUpQuestions: []string{}}},
		ExhaustedQueries: []string{"q1"},
	}

	prompt, err := buildReportPrompt(state)
	if err != nil {
		t.Fatalf("buildReportPrompt() error = %v", err)
	}
	for _, doc := range state.AcceptedDocuments {
		if !strings.Contains(prompt, doc.URL) {
			t.Errorf("report prompt missing locator %s", doc.URL)
		}
	}
	if !strings.Contains(prompt, "root") {
		t.Error("report prompt missing root query")
	}
}

func TestHasDocument(t *testing.T) {
	state := NewResearchState()
	state.AcceptedDocuments = append(state.AcceptedDocuments, SearchDocument{URL: "https://example.com/a"})

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"present", "https://example.com/a", true},
		{"absent", "https://example.com/b", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := state.HasDocument(tt.url); got != tt.want {
				t.Errorf("HasDocument(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}
