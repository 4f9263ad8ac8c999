package usage

import (
	"testing"
	"time"
)

func TestStoreAddAndQuery(t *testing.T) {
	s := NewStore(0)
	s.Add(Record{Kind: "generate", Outcome: OutcomeCompleted, Duration: 30 * time.Second, Prompt: "a cat"})
	s.Add(Record{Kind: "upscale", Outcome: OutcomeTimedOut, Duration: 10 * time.Minute})
	s.Add(Record{Kind: "Generate", Outcome: OutcomeFailed, Retries: 3})

	recs := s.Query(Filter{Kind: "generate"})
	if len(recs) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(recs))
	}
	if recs[0].DayKey == "" || recs[0].Timestamp.IsZero() {
		t.Fatalf("timestamp/day key not filled: %+v", recs[0])
	}

	if got := s.Query(Filter{Outcome: OutcomeTimedOut}); len(got) != 1 || got[0].Kind != "upscale" {
		t.Fatalf("outcome filter = %+v", got)
	}
	if got := s.Query(Filter{Limit: 1}); len(got) != 1 || got[0].Outcome != OutcomeFailed {
		t.Fatalf("limit keeps newest, got %+v", got)
	}

	last, ok := s.Last()
	if !ok || last.Retries != 3 {
		t.Fatalf("Last = %+v, %v", last, ok)
	}
}

func TestStoreDropsOldestBeyondCapacity(t *testing.T) {
	s := NewStore(2)
	for i := 1; i <= 3; i++ {
		s.Add(Record{Kind: "generate", Retries: i})
	}
	recs := s.Query(Filter{})
	if len(recs) != 2 || recs[0].Retries != 2 || recs[1].Retries != 3 {
		t.Fatalf("records = %+v", recs)
	}
}

func TestAggregateRecordsOutcomes(t *testing.T) {
	records := []Record{
		{Outcome: OutcomeCompleted, Duration: 2 * time.Second, Retries: 1},
		{Outcome: OutcomeTimedOut, Duration: 4 * time.Second},
		{Outcome: OutcomeFailed, Retries: 2},
		{Outcome: OutcomeCanceled},
	}
	agg := AggregateRecords(records)
	if agg.Calls != 4 || agg.Completed != 1 || agg.TimedOut != 1 || agg.Failed != 1 || agg.Canceled != 1 {
		t.Fatalf("unexpected counts: %+v", agg)
	}
	if agg.Retries != 3 || agg.AvgDuration() != 1500*time.Millisecond {
		t.Fatalf("retries=%d avg=%v", agg.Retries, agg.AvgDuration())
	}
	if (Aggregate{}).AvgDuration() != 0 {
		t.Fatal("empty aggregate average should be zero")
	}
}

func TestDayKeyUsesUTC(t *testing.T) {
	s := NewStore(0)
	loc := time.FixedZone("UTC+5:30", 5*3600+1800)
	ts := time.Date(2026, 2, 18, 2, 0, 0, 0, loc) // 2026-02-17 20:30 UTC
	if got, want := s.DayKey(ts), "2026-02-17"; got != want {
		t.Fatalf("day key = %s, want %s", got, want)
	}
}
