package research

import "context"

// ReportFragment is formatted markdown produced by a research path and handed
// to the researcher agent as tool output.
type ReportFragment = string

// Params bounds a single research run.
type Params struct {
	MaxDepth         int    `json:"max_depth"`
	TimeLimitSeconds int    `json:"time_limit"`
	MaxURLs          int    `json:"max_urls"`
	Mode             string `json:"research_mode,omitempty"`
}

// Query is an immutable submission: the topic plus a snapshot of the
// parameters in effect when it was submitted.
type Query struct {
	Topic  string
	Params Params
}

// SearchResult represents a single search result
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// ProgressObserver receives progress from the hosted research service. It is
// invoked inline by the client, never from another goroutine.
type ProgressObserver interface {
	OnProgress(percent int, message string)
}

// ProgressFunc adapts a function to ProgressObserver.
type ProgressFunc func(percent int, message string)

func (f ProgressFunc) OnProgress(percent int, message string) { f(percent, message) }

// Researcher is anything that turns a query into a report fragment without
// failing. The selector and both research paths satisfy it.
type Researcher interface {
	Research(ctx context.Context, query string, params Params) ReportFragment
}

// DeepResearcher is the hosted deep-research path.
type DeepResearcher interface {
	Run(ctx context.Context, query string, params Params, observer ProgressObserver) ReportFragment
}

// Fallback is the direct scraping path.
type Fallback interface {
	Run(ctx context.Context, query string) ReportFragment
}
