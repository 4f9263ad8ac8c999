package usage

import (
	"strings"
	"testing"
	"time"
)

func TestHumanDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{850 * time.Millisecond, "850ms"},
		{time.Second, "1s"},
		{1500 * time.Millisecond, "1.5s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m05s"},
		{61 * time.Minute, "61m00s"},
	}

	for _, tc := range tests {
		if got := HumanDuration(tc.in); got != tc.want {
			t.Fatalf("HumanDuration(%v)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestGroupedInt(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{12, "12"},
		{999, "999"},
		{1000, "1,000"},
		{12_345, "12,345"},
		{1_000_000, "1,000,000"},
	}

	for _, tc := range tests {
		if got := GroupedInt(tc.in); got != tc.want {
			t.Fatalf("GroupedInt(%d)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestSummary(t *testing.T) {
	records := []Record{
		{Kind: "generate", Outcome: OutcomeCompleted, Duration: 40 * time.Second, Retries: 1},
		{Kind: "generate", Outcome: OutcomeTimedOut, Duration: 20 * time.Second},
		{Kind: "upscale", Outcome: OutcomeCompleted, Duration: 30 * time.Second},
	}
	out := Summary(AggregateRecords(records), KindBreakdown(records))

	for _, want := range []string{
		"jobs: 3 (completed 2, timed out 1, failed 0, canceled 0)",
		"retries: 1, avg duration: 30s",
		"generate   1/2 ok, avg 30s",
		"upscale    1/1 ok, avg 30s",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "generate") > strings.Index(out, "upscale") {
		t.Fatalf("kinds should be sorted:\n%s", out)
	}
}
