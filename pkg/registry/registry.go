// Package registry tracks outstanding bridge requests until a terminal bot
// notification or their deadline settles them.
//
// Lookups scan in insertion order and return the first acceptable match, not
// the best one: when two outstanding prompts are near-identical the older
// request wins, and a result may settle the wrong one of the two.
package registry

import (
	"sync"
	"time"

	"github.com/sipeed/mjbridge/pkg/jobs"
	"github.com/sipeed/mjbridge/pkg/logger"
	"github.com/sipeed/mjbridge/pkg/matcher"
)

// Handle identifies a pending request for its whole life. Handles are
// insertion indexes and never reused.
type Handle uint64

type Reason int

const (
	ReasonResolved Reason = iota
	ReasonTimedOut
	ReasonFailed
	ReasonCanceled
)

func (r Reason) String() string {
	switch r {
	case ReasonResolved:
		return "resolved"
	case ReasonTimedOut:
		return "timed_out"
	case ReasonFailed:
		return "failed"
	case ReasonCanceled:
		return "canceled"
	}
	return "unknown"
}

// Outcome is delivered exactly once per request. Result is nil unless
// Reason is ReasonResolved.
type Outcome struct {
	Handle Handle
	Result *jobs.Result
	Reason Reason
}

type Request struct {
	Kind     jobs.Kind
	Key      jobs.Key
	Timeout  time.Duration
	Observer jobs.Observer
}

// Timer is the part of *time.Timer the registry needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) Timer

type entry struct {
	handle    Handle
	req       Request
	createdAt time.Time
	deadline  time.Time
	extended  bool
	// timer and gen are guarded by Registry.mu; gen invalidates timers
	// replaced by ExtendDeadline.
	timer Timer
	gen   int
	done  chan Outcome

	mu       sync.Mutex
	resolved bool
}

func (e *entry) isResolved() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolved
}

type Registry struct {
	mu        sync.Mutex
	entries   []*entry
	next      Handle
	afterFunc AfterFunc
	now       func() time.Time
	closed    bool
}

type Option func(*Registry)

// WithClock replaces the timer source and wall clock, for tests.
func WithClock(after AfterFunc, now func() time.Time) Option {
	return func(r *Registry) {
		r.afterFunc = after
		r.now = now
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		afterFunc: func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a request at the back of the queue and arms its timer. The
// returned channel receives the single Outcome.
func (r *Registry) Register(req Request) (Handle, <-chan Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	now := r.now()
	e := &entry{
		handle:    r.next,
		req:       req,
		createdAt: now,
		deadline:  now.Add(req.Timeout),
		done:      make(chan Outcome, 1),
	}

	if r.closed {
		e.resolved = true
		e.done <- Outcome{Handle: e.handle, Reason: ReasonCanceled}
		return e.handle, e.done
	}

	h := e.handle
	e.timer = r.afterFunc(req.Timeout, func() { r.expire(h, 0) })
	r.entries = append(r.entries, e)

	logger.DebugCF("registry", "Request registered", map[string]interface{}{
		"handle":  uint64(h),
		"kind":    req.Kind.String(),
		"key":     req.Key.String(),
		"timeout": req.Timeout.String(),
	})
	return h, e.done
}

// FindMatch returns the oldest pending request whose key matches s.
func (r *Registry) FindMatch(s matcher.Subject) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if matcher.MatchKey(s, e.req.Key) {
			return e.handle, true
		}
	}
	return 0, false
}

// FindOldest returns the oldest pending request of kind.
func (r *Registry) FindOldest(kind jobs.Kind) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.req.Kind == kind {
			return e.handle, true
		}
	}
	return 0, false
}

// Oldest returns the front of the queue.
func (r *Registry) Oldest() (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return 0, false
	}
	return r.entries[0].handle, true
}

// Resolve settles h with a successful result. It reports false when h is
// unknown or already settled.
func (r *Registry) Resolve(h Handle, res *jobs.Result) bool {
	return r.settle(h, Outcome{Handle: h, Result: res, Reason: ReasonResolved})
}

// Fail settles h without a result.
func (r *Registry) Fail(h Handle, reason Reason) bool {
	if reason == ReasonResolved {
		reason = ReasonFailed
	}
	return r.settle(h, Outcome{Handle: h, Reason: reason})
}

// Remove drops h as canceled, e.g. when the waiting caller gave up.
func (r *Registry) Remove(h Handle) bool {
	return r.settle(h, Outcome{Handle: h, Reason: ReasonCanceled})
}

// Progress forwards p to the request's observer unless it is settled. It
// reports false when the request was settled before or during the call.
func (r *Registry) Progress(h Handle, p jobs.Progress) bool {
	r.mu.Lock()
	e := r.lookupLocked(h)
	r.mu.Unlock()
	if e == nil {
		return false
	}

	if e.isResolved() {
		return false
	}
	// The observer runs unlocked so it may call back into the registry,
	// including settling h itself.
	p.Kind = e.req.Kind
	if e.req.Observer != nil {
		e.req.Observer.OnProgress(p)
	}
	return !e.isResolved()
}

// ExtendDeadline doubles the request's original timeout, measured from
// registration. It applies at most once per request.
func (r *Registry) ExtendDeadline(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.lookupLocked(h)
	if e == nil || e.extended {
		return false
	}

	e.timer.Stop()
	e.extended = true
	e.gen++
	e.deadline = e.createdAt.Add(2 * e.req.Timeout)
	remaining := e.deadline.Sub(r.now())
	if remaining < 0 {
		remaining = 0
	}
	gen := e.gen
	e.timer = r.afterFunc(remaining, func() { r.expire(h, gen) })

	logger.InfoCF("registry", "Deadline extended", map[string]interface{}{
		"handle":   uint64(h),
		"deadline": e.deadline.Format(time.RFC3339),
	})
	return true
}

func (r *Registry) Kind(h Handle) (jobs.Kind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.lookupLocked(h); e != nil {
		return e.req.Kind, true
	}
	return 0, false
}

func (r *Registry) Key(h Handle) (jobs.Key, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.lookupLocked(h); e != nil {
		return e.req.Key, true
	}
	return jobs.Key{}, false
}

func (r *Registry) Deadline(h Handle) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.lookupLocked(h); e != nil {
		return e.deadline, true
	}
	return time.Time{}, false
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close cancels every pending request and rejects new ones.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	handles := make([]Handle, 0, len(r.entries))
	for _, e := range r.entries {
		handles = append(handles, e.handle)
	}
	r.mu.Unlock()

	for _, h := range handles {
		r.Remove(h)
	}
}

func (r *Registry) expire(h Handle, gen int) {
	stale := func(e *entry) bool { return e.gen != gen }
	if r.settleUnless(h, Outcome{Handle: h, Reason: ReasonTimedOut}, stale) {
		logger.WarnCF("registry", "Request timed out", map[string]interface{}{
			"handle": uint64(h),
		})
	}
}

func (r *Registry) settle(h Handle, out Outcome) bool {
	return r.settleUnless(h, out, nil)
}

// settleUnless removes h and delivers out, unless skip vetoes it. Removal
// under r.mu is what makes resolution happen at most once.
func (r *Registry) settleUnless(h Handle, out Outcome, skip func(*entry) bool) bool {
	r.mu.Lock()
	idx := -1
	for i, e := range r.entries {
		if e.handle == h {
			idx = i
			break
		}
	}
	if idx < 0 || (skip != nil && skip(r.entries[idx])) {
		r.mu.Unlock()
		return false
	}
	e := r.entries[idx]
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	timer := e.timer
	r.mu.Unlock()

	timer.Stop()

	e.mu.Lock()
	e.resolved = true
	e.mu.Unlock()

	e.done <- out
	return true
}

func (r *Registry) lookupLocked(h Handle) *entry {
	for _, e := range r.entries {
		if e.handle == h {
			return e
		}
	}
	return nil
}
