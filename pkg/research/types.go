package research

// Config holds runtime configuration for the research engine
type Config struct {
	LLMApiKey     string
	SearchResults int // documents requested per search call
	Depth         int
	Breadth       int
}

// SearchDocument is a single piece of web evidence. Identity for
// deduplication purposes is the URL.
type SearchDocument struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Learning is a distilled statement extracted from one accepted document,
// plus the follow-up questions it raised.
type Learning struct {
	Statement         string   `json:"learning"`
	FollowUpQuestions []string `json:"followUpQuestions"`
}

// ResearchState accumulates everything gathered across one research tree.
// One instance is created per top-level request; independent requests must
// never share a state or their sources and learnings will interleave.
type ResearchState struct {
	RootQuery         string           `json:"rootQuery"`
	ActiveQueries     []string         `json:"activeQueries"` // current level only, overwritten each expansion
	AcceptedDocuments []SearchDocument `json:"acceptedDocuments"`
	Learnings         []Learning       `json:"learnings"`
	ExhaustedQueries  []string         `json:"exhaustedQueries"` // query that produced each learning, parallel to Learnings
}

// NewResearchState creates an empty accumulator for one research request.
func NewResearchState() *ResearchState {
	return &ResearchState{
		ActiveQueries:     []string{},
		AcceptedDocuments: []SearchDocument{},
		Learnings:         []Learning{},
		ExhaustedQueries:  []string{},
	}
}

// HasDocument reports whether a document with the given URL was already
// accepted.
func (s *ResearchState) HasDocument(url string) bool {
	for _, doc := range s.AcceptedDocuments {
		if doc.URL == url {
			return true
		}
	}
	return false
}
