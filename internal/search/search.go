package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultBoard ResultType = "board"
	ResultCard  ResultType = "card"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	BoardID   string     `json:"boardId"`
	BoardSlug string     `json:"boardSlug"`
	ListID    string     `json:"listId,omitempty"`
}

// Query describes a search request. Only public boards and boards listed in
// BoardIDs (or, for Postgres, boards ViewerID participates in) are matched.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
	ViewerID   string
	BoardIDs   []string
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// BoardRecord is the data we index for a board.
type BoardRecord struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Slug   string `json:"slug"`
	Public bool   `json:"public"`
}

// CardRecord is the data we index for a card. Public mirrors the owning
// board's visibility at index time.
type CardRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ListID      string `json:"listId"`
	BoardID     string `json:"boardId"`
	BoardSlug   string `json:"boardSlug"`
	Public      bool   `json:"public"`
}
