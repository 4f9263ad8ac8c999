// Package jobs holds the types shared by the correlation engine: request
// kinds, job references, results and progress updates.
package jobs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotCompleted is returned by every bridge operation that did not reach a
// terminal success: timeouts, exhausted retries and unrecoverable bot errors
// all collapse into it.
var ErrNotCompleted = errors.New("operation did not complete")

type Kind int

const (
	KindGenerate Kind = iota
	KindUpscale
	KindVariation
	KindZoomOut
	KindReroll
	KindUpscale4x
	KindInfoQuery
	KindShowQuery
	KindCancel
)

var kindNames = map[Kind]string{
	KindGenerate:  "generate",
	KindUpscale:   "upscale",
	KindVariation: "variation",
	KindZoomOut:   "zoom_out",
	KindReroll:    "reroll",
	KindUpscale4x: "upscale_4x",
	KindInfoQuery: "info",
	KindShowQuery: "show",
	KindCancel:    "cancel",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Key is what a pending request is correlated by. JobID wins over Prompt:
// a request keyed by job id only matches notifications naming that job.
type Key struct {
	Prompt string
	JobID  string
}

func (k Key) String() string {
	if k.JobID != "" {
		return "job:" + k.JobID
	}
	return k.Prompt
}

// Image is an attachment reference extracted from a bot message.
type Image struct {
	URL       string
	Filename  string
	JobID     string
	Ephemeral bool
}

// Ref identifies an already generated job for follow-up commands.
type Ref struct {
	JobID     string
	Ephemeral bool
	MessageID string
}

func (r Ref) Validate() error {
	if strings.TrimSpace(r.JobID) == "" {
		return fmt.Errorf("job reference has no job id")
	}
	if strings.TrimSpace(r.MessageID) == "" {
		return fmt.Errorf("job reference %s has no message id", r.JobID)
	}
	return nil
}

type Result struct {
	Kind      Kind
	ImageURL  string
	JobID     string
	Ephemeral bool
	MessageID string
	Prompt    string
	// Text carries the embed body for info queries.
	Text string
}

// Ref returns the reference needed to act on this result again.
func (r *Result) Ref() Ref {
	return Ref{JobID: r.JobID, Ephemeral: r.Ephemeral, MessageID: r.MessageID}
}

type Progress struct {
	Kind  Kind
	Label string
	// Percent is meaningful only when HasPercent is set.
	Percent    int
	HasPercent bool
	ImageURL   string
	Job        Ref
}

func (p Progress) String() string {
	if p.HasPercent {
		return fmt.Sprintf("%s %d%%", p.Label, p.Percent)
	}
	return p.Label
}

// Observer receives progress updates for a pending request. It is called
// synchronously from the gateway event goroutine. No call starts once the
// request is settled, though a call already running when a timeout settles
// it may still be returning. Observers may call back into the bridge.
type Observer interface {
	OnProgress(p Progress)
}

type ObserverFunc func(p Progress)

func (f ObserverFunc) OnProgress(p Progress) { f(p) }
