// Package matcher decides whether a bot notification belongs to a pending
// request. The bot and the platform both rewrite prompt text (link
// shortening, whitespace collapsing, markdown decoration), so matching is a
// substring test with a bounded edit-distance fallback.
package matcher

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/sipeed/mjbridge/pkg/jobs"
)

var (
	spaceRun = regexp.MustCompile(` {2,}`)
	boldRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
)

// Subject is the part of a notification the matcher looks at.
type Subject struct {
	Text  string
	JobID string
}

// Normalize collapses runs of consecutive spaces to one.
func Normalize(s string) string {
	return spaceRun.ReplaceAllString(s, " ")
}

// BoldSegment returns the first **...** span of text, or "" if there is none.
// The bot wraps the echoed prompt in bold.
func BoldSegment(text string) string {
	m := boldRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// Tolerance is the largest edit distance accepted between an echoed bold
// prompt and key: half the key plus whatever the length difference forces.
func Tolerance(candidate, key string) int {
	diff := len(candidate) - len(key)
	if diff < 0 {
		diff = -diff
	}
	return len(key)/2 + diff
}

// Match reports whether text corresponds to key.
func Match(text, key string) bool {
	nk := Normalize(key)
	if strings.TrimSpace(nk) == "" {
		return false
	}
	nt := Normalize(text)
	if strings.Contains(nt, nk) {
		return true
	}

	if bold := BoldSegment(nt); bold != "" {
		return levenshtein.ComputeDistance(bold, nk) <= Tolerance(bold, nk)
	}
	// No echoed prompt: the key has to appear, nearly intact, somewhere in
	// the text. Length differences buy no extra edits here.
	return nearestWindow(nt, nk) <= WindowTolerance(nk)
}

// WindowTolerance is the largest edit distance accepted between key and the
// closest key-sized run of a text that carries no bold prompt.
func WindowTolerance(key string) int {
	return utf8.RuneCountInString(key) / 4
}

// nearestWindow returns the smallest edit distance between key and any run
// of text with key's length. Text no longer than key is compared whole.
func nearestWindow(text, key string) int {
	runes := []rune(text)
	n := utf8.RuneCountInString(key)
	if len(runes) <= n {
		return levenshtein.ComputeDistance(text, key)
	}
	best := n
	for i := 0; i+n <= len(runes); i++ {
		if d := levenshtein.ComputeDistance(string(runes[i:i+n]), key); d < best {
			best = d
			if best == 0 {
				break
			}
		}
	}
	return best
}

// MatchKey matches a subject against a request key. Job-id keys bypass the
// text comparison entirely.
func MatchKey(s Subject, key jobs.Key) bool {
	if key.JobID != "" {
		return s.JobID == key.JobID || strings.Contains(s.Text, key.JobID)
	}
	return Match(s.Text, key.Prompt)
}

// NearPhrase reports whether text contains phrase, or is within maxDistance
// edits of it, ignoring case and surrounding whitespace.
func NearPhrase(text, phrase string, maxDistance int) bool {
	t := strings.ToLower(strings.TrimSpace(Normalize(text)))
	p := strings.ToLower(strings.TrimSpace(Normalize(phrase)))
	if p == "" || t == "" {
		return false
	}
	if strings.Contains(t, p) {
		return true
	}
	if maxDistance <= 0 {
		return false
	}
	if levenshtein.ComputeDistance(t, p) <= maxDistance {
		return true
	}
	// Error text often arrives with a trailing sentence; compare the leading
	// window of the same length as the phrase.
	if len(t) > len(p) {
		return levenshtein.ComputeDistance(t[:len(p)], p) <= maxDistance
	}
	return false
}
