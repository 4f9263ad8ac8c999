// Package usage keeps an in-memory ledger of finished bridge operations.
package usage

import (
	"strings"
	"sync"
	"time"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

type Record struct {
	Timestamp time.Time     `json:"timestamp"`
	DayKey    string        `json:"day_key"`
	Kind      string        `json:"kind"`
	Outcome   Outcome       `json:"outcome"`
	Duration  time.Duration `json:"duration"`
	Retries   int           `json:"retries"`
	Prompt    string        `json:"prompt,omitempty"`
	JobID     string        `json:"job_id,omitempty"`
}

type Filter struct {
	Kind    string
	Outcome Outcome
	DayKey  string
	Limit   int
}

type Aggregate struct {
	Calls         int
	Completed     int
	TimedOut      int
	Failed        int
	Canceled      int
	Retries       int
	TotalDuration time.Duration
}

// AvgDuration is the mean duration of all calls, or zero.
func (a Aggregate) AvgDuration() time.Duration {
	if a.Calls == 0 {
		return 0
	}
	return a.TotalDuration / time.Duration(a.Calls)
}

const defaultMaxRecords = 1000

type Store struct {
	mu         sync.RWMutex
	records    []Record
	maxRecords int
	now        func() time.Time
}

// NewStore keeps at most maxRecords entries, dropping the oldest first.
// maxRecords <= 0 uses the default.
func NewStore(maxRecords int) *Store {
	if maxRecords <= 0 {
		maxRecords = defaultMaxRecords
	}
	return &Store{
		records:    make([]Record, 0, 64),
		maxRecords: maxRecords,
		now:        time.Now,
	}
}

func (s *Store) DayKey(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

func (s *Store) TodayKey() string {
	return s.DayKey(s.now())
}

func (s *Store) Add(r Record) {
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now().UTC()
	}
	if r.DayKey == "" {
		r.DayKey = s.DayKey(r.Timestamp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	if over := len(s.records) - s.maxRecords; over > 0 {
		s.records = append(s.records[:0], s.records[over:]...)
	}
}

func (s *Store) Last() (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return Record{}, false
	}
	return s.records[len(s.records)-1], true
}

func (s *Store) Query(f Filter) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if f.Kind != "" && !strings.EqualFold(r.Kind, f.Kind) {
			continue
		}
		if f.Outcome != "" && r.Outcome != f.Outcome {
			continue
		}
		if f.DayKey != "" && r.DayKey != f.DayKey {
			continue
		}
		out = append(out, r)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func AggregateRecords(records []Record) Aggregate {
	var agg Aggregate
	for _, r := range records {
		agg.add(r)
	}
	return agg
}

// KindBreakdown aggregates records per operation kind.
func KindBreakdown(records []Record) map[string]Aggregate {
	out := map[string]Aggregate{}
	for _, r := range records {
		k := strings.TrimSpace(r.Kind)
		if k == "" {
			k = "unknown"
		}
		agg := out[k]
		agg.add(r)
		out[k] = agg
	}
	return out
}

func (a *Aggregate) add(r Record) {
	a.Calls++
	a.Retries += r.Retries
	a.TotalDuration += r.Duration
	switch r.Outcome {
	case OutcomeCompleted:
		a.Completed++
	case OutcomeTimedOut:
		a.TimedOut++
	case OutcomeCanceled:
		a.Canceled++
	default:
		a.Failed++
	}
}
