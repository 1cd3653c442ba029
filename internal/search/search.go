package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProject   ResultType = "project"
	ResultTreatment ResultType = "treatment"
	ResultFeedback  ResultType = "feedback"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId"`
	TeamID    string     `json:"teamId"`
}

// Query describes a search request. UserID scopes the Postgres path via
// the membership join; TeamIDs scopes the Meilisearch path. Both identify
// the same caller, so the two tiers return the same visibility set.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	UserID     string
	TeamIDs    []string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	TeamID string `json:"teamId"`
}

// TreatmentRecord is the data we index for a project treatment.
type TreatmentRecord struct {
	ID         string `json:"id"`
	ProjectID  string `json:"projectId"`
	TeamID     string `json:"teamId"`
	Tagline    string `json:"tagline"`
	Synopsis   string `json:"synopsis"`
	Backstory  string `json:"backstory"`
	Characters string `json:"characters"`
}

// FeedbackRecord is the data we index for a feedback log entry.
type FeedbackRecord struct {
	ID         string `json:"id"`
	ProjectID  string `json:"projectId"`
	TeamID     string `json:"teamId"`
	SharedItem string `json:"sharedItem"`
	Feedback   string `json:"feedback"`
	Platform   string `json:"platform"`
}
