package history

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/research"
)

// DefaultTemplate labels reports produced by the researcher/writer pipeline.
const DefaultTemplate = "Custom"

// Metrics captured for a completed run.
type Metrics struct {
	ResearchTimeSeconds float64 `json:"research_time"`
	MaxDepth            int     `json:"max_depth"`
	MaxURLs             int     `json:"max_urls"`
	TimeLimitSeconds    int     `json:"time_limit"`
	Template            string  `json:"template"`
}

// ResearchRecord is one completed pipeline run. Records are never mutated
// after creation.
type ResearchRecord struct {
	ID          uuid.UUID `json:"id"`
	RunID       uuid.UUID `json:"run_id"`
	Topic       string    `json:"topic"`
	Provider    string    `json:"provider,omitempty"`
	Mode        string    `json:"research_mode,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	FinalReport string    `json:"report"`
	Metrics     Metrics   `json:"metrics"`
}

// Tracker is an append-only, session-scoped history. It has no eviction.
type Tracker struct {
	mu      sync.RWMutex
	records []ResearchRecord
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Record appends a record built from a finished run and returns it. runID
// keys the run's persisted logs.
func (t *Tracker) Record(runID uuid.UUID, topic, provider, report string, start, end time.Time, params research.Params) ResearchRecord {
	rec := ResearchRecord{
		ID:          uuid.New(),
		RunID:       runID,
		Topic:       topic,
		Provider:    provider,
		Mode:        params.Mode,
		SubmittedAt: start,
		FinalReport: report,
		Metrics: Metrics{
			ResearchTimeSeconds: end.Sub(start).Seconds(),
			MaxDepth:            params.MaxDepth,
			MaxURLs:             params.MaxURLs,
			TimeLimitSeconds:    params.TimeLimitSeconds,
			Template:            DefaultTemplate,
		},
	}

	t.mu.Lock()
	t.records = append(t.records, rec)
	t.mu.Unlock()
	return rec
}

// Records returns a copy in insertion (chronological) order.
func (t *Tracker) Records() []ResearchRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.records)
}

// Display returns a copy with the most recent record first.
func (t *Tracker) Display() []ResearchRecord {
	out := t.Records()
	slices.Reverse(out)
	return out
}

// Latest returns the most recently recorded run.
func (t *Tracker) Latest() (ResearchRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.records) == 0 {
		return ResearchRecord{}, false
	}
	return t.records[len(t.records)-1], true
}

// Get looks a record up by id.
func (t *Tracker) Get(id uuid.UUID) (ResearchRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, rec := range t.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return ResearchRecord{}, false
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
