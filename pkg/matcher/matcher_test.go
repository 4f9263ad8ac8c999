package matcher

import (
	"testing"

	"github.com/sipeed/mjbridge/pkg/jobs"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name string
		text string
		key  string
		want bool
	}{
		{"bold echo with progress", "**a  prompt here** (25%)", "a prompt here", true},
		{"unrelated text", "totally unrelated text", "a prompt here", false},
		{"exact", "a cat", "a cat", true},
		{"key spaces collapsed", "**a cat on a mat** - <@1> (fast)", "a cat  on a mat", true},
		{"shortened link", "**a cat sitting on a mat https://s.mj.run/abc** - <@1> (fast)", "a cat sitting on a mat https://example.com/img.png", true},
		{"similar but different animal", "**a dog** - <@1> (fast)", "a cat", false},
		{"typo in echo", "**a prompt hre** - Image #1", "a prompt here", true},
		{"plain text with near-intact key", "a prompt hre, fast", "a prompt here", true},
		{"queue error vs prompt", "Your job queue is full. Please wait for a job to finish first.", "sunset over the ocean", false},
		{"queue error vs long prompt", "Your job queue is full. Please wait for a job to finish first.", "a lighthouse in a storm, oil painting", false},
		{"internal error vs short prompt", "Internal Error\nPlease try again later", "a cat", false},
		{"high load vs overlapping prompt", "We're currently experiencing a high load", "a high tower", false},
		{"empty key", "anything", "", false},
		{"blank key", "anything", "   ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.text, tt.key); got != tt.want {
				t.Fatalf("Match(%q, %q) = %v, want %v", tt.text, tt.key, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("a   b  c d"); got != "a b c d" {
		t.Fatalf("Normalize = %q", got)
	}
}

func TestBoldSegment(t *testing.T) {
	if got := BoldSegment("**a cat** - <@1> **second**"); got != "a cat" {
		t.Fatalf("BoldSegment = %q", got)
	}
	if got := BoldSegment("no bold"); got != "" {
		t.Fatalf("BoldSegment = %q, want empty", got)
	}
}

func TestTolerance(t *testing.T) {
	if got := Tolerance("abcdefghij", "abcd"); got != 2+6 {
		t.Fatalf("Tolerance = %d", got)
	}
	if got := Tolerance("ab", "abcdef"); got != 3+4 {
		t.Fatalf("Tolerance = %d", got)
	}
}

func TestWindowTolerance(t *testing.T) {
	if got := WindowTolerance("sunset over the ocean"); got != 5 {
		t.Fatalf("WindowTolerance = %d", got)
	}
	// Counted in runes, not bytes.
	if got := WindowTolerance("ねこねこねこねこ"); got != 2 {
		t.Fatalf("WindowTolerance = %d", got)
	}
}

func TestMatchKeyByJobID(t *testing.T) {
	const id = "3f2a9c1e-5b7d-4e8f-9a0b-1c2d3e4f5a6b"
	key := jobs.Key{Prompt: "ignored", JobID: id}

	if !MatchKey(Subject{Text: "whatever", JobID: id}, key) {
		t.Fatal("expected match on image job id")
	}
	if !MatchKey(Subject{Text: "https://cdn.example/u_" + id + ".png"}, key) {
		t.Fatal("expected match on id inside text")
	}
	if MatchKey(Subject{Text: "**ignored** - <@1>"}, key) {
		t.Fatal("job-id key must not fall back to prompt text")
	}
}

func TestMatchKeyByPrompt(t *testing.T) {
	key := jobs.Key{Prompt: "a cat"}
	if !MatchKey(Subject{Text: "**a cat** - <@1> (fast)"}, key) {
		t.Fatal("expected prompt match")
	}
}

func TestNearPhrase(t *testing.T) {
	tests := []struct {
		text   string
		phrase string
		dist   int
		want   bool
	}{
		{"Internal Error", "Internal Error", 0, true},
		{"internal error", "Internal Error", 0, true},
		{"Internal Eror", "Internal Error", 2, true},
		{"Internal Eror. Please try again later.", "Internal Error", 2, true},
		{"**a cat** - <@1> (fast)", "Internal Error", 2, false},
		{"Internal Eror", "Internal Error", 0, false},
		{"", "Internal Error", 3, false},
	}
	for _, tt := range tests {
		if got := NearPhrase(tt.text, tt.phrase, tt.dist); got != tt.want {
			t.Errorf("NearPhrase(%q, %q, %d) = %v, want %v", tt.text, tt.phrase, tt.dist, got, tt.want)
		}
	}
}
