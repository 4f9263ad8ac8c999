package registry

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/sipeed/mjbridge/pkg/jobs"
	"github.com/sipeed/mjbridge/pkg/matcher"
)

type fakeTimer struct {
	clock    *fakeClock
	at       time.Time
	f        func()
	stopped  bool
	fired    bool
	stopHits int
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopHits++
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves time forward and fires due timers outside the clock lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func newTestRegistry() (*Registry, *fakeClock) {
	clk := newFakeClock()
	return New(WithClock(clk.AfterFunc, clk.Now)), clk
}

func receive(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	default:
		t.Fatal("expected an outcome")
	}
	return Outcome{}
}

func assertPending(t *testing.T, ch <-chan Outcome) {
	t.Helper()
	select {
	case out := <-ch:
		t.Fatalf("unexpected outcome: %+v", out)
	default:
	}
}

func TestResolveOnceStopsTimer(t *testing.T) {
	r, clk := newTestRegistry()
	h, ch := r.Register(Request{Kind: jobs.KindGenerate, Key: jobs.Key{Prompt: "a cat"}, Timeout: time.Minute})

	if !r.Resolve(h, &jobs.Result{ImageURL: "u"}) {
		t.Fatal("first resolve should succeed")
	}
	if r.Resolve(h, &jobs.Result{ImageURL: "other"}) {
		t.Fatal("second resolve must be rejected")
	}
	if r.Fail(h, ReasonFailed) || r.Remove(h) {
		t.Fatal("fail/remove after resolve must be rejected")
	}

	out := receive(t, ch)
	if out.Reason != ReasonResolved || out.Result.ImageURL != "u" {
		t.Fatalf("outcome = %+v", out)
	}
	assertPending(t, ch)

	if got := clk.timers[0].stopHits; got != 1 {
		t.Fatalf("timer stopped %d times, want 1", got)
	}
	clk.Advance(2 * time.Minute)
	assertPending(t, ch)
	if r.Len() != 0 {
		t.Fatalf("registry len = %d", r.Len())
	}
}

func TestTimeoutFiresAtDeadlineNotBefore(t *testing.T) {
	r, clk := newTestRegistry()
	_, ch := r.Register(Request{Kind: jobs.KindGenerate, Key: jobs.Key{Prompt: "a cat"}, Timeout: time.Second})

	clk.Advance(999 * time.Millisecond)
	assertPending(t, ch)
	if r.Len() != 1 {
		t.Fatal("request should still be pending")
	}

	clk.Advance(time.Millisecond)
	out := receive(t, ch)
	if out.Reason != ReasonTimedOut || out.Result != nil {
		t.Fatalf("outcome = %+v", out)
	}
	if r.Len() != 0 {
		t.Fatal("timed out request should be removed")
	}
}

func TestFindMatchIsFirstMatchInInsertionOrder(t *testing.T) {
	r, _ := newTestRegistry()
	first, _ := r.Register(Request{Kind: jobs.KindGenerate, Key: jobs.Key{Prompt: "a red cat"}, Timeout: time.Minute})
	_, _ = r.Register(Request{Kind: jobs.KindGenerate, Key: jobs.Key{Prompt: "a red cat!"}, Timeout: time.Minute})

	h, ok := r.FindMatch(matcher.Subject{Text: "**a red cat!** - <@1> (fast)"})
	if !ok || h != first {
		t.Fatalf("FindMatch = %d, %v; want the earlier request %d", h, ok, first)
	}

	if _, ok := r.FindMatch(matcher.Subject{Text: "**mountain lake** - <@1>"}); ok {
		t.Fatal("unrelated notification must not match")
	}
}

func TestFindMatchByJobID(t *testing.T) {
	r, _ := newTestRegistry()
	const id = "3f2a9c1e-5b7d-4e8f-9a0b-1c2d3e4f5a6b"
	_, _ = r.Register(Request{Kind: jobs.KindGenerate, Key: jobs.Key{Prompt: "a cat"}, Timeout: time.Minute})
	show, _ := r.Register(Request{Kind: jobs.KindShowQuery, Key: jobs.Key{JobID: id}, Timeout: time.Minute})

	h, ok := r.FindMatch(matcher.Subject{Text: "**a dog** - <@1>", JobID: id})
	if !ok || h != show {
		t.Fatalf("FindMatch = %d, %v; want %d", h, ok, show)
	}
}

func TestFindOldestByKind(t *testing.T) {
	r, _ := newTestRegistry()
	_, _ = r.Register(Request{Kind: jobs.KindGenerate, Key: jobs.Key{Prompt: "x"}, Timeout: time.Minute})
	info1, _ := r.Register(Request{Kind: jobs.KindInfoQuery, Key: jobs.Key{Prompt: "info"}, Timeout: time.Minute})
	_, _ = r.Register(Request{Kind: jobs.KindInfoQuery, Key: jobs.Key{Prompt: "info"}, Timeout: time.Minute})

	h, ok := r.FindOldest(jobs.KindInfoQuery)
	if !ok || h != info1 {
		t.Fatalf("FindOldest = %d, %v; want %d", h, ok, info1)
	}
	if _, ok := r.FindOldest(jobs.KindShowQuery); ok {
		t.Fatal("no show query registered")
	}
	if h, ok := r.Oldest(); !ok || h != info1-1 {
		t.Fatalf("Oldest = %d, %v", h, ok)
	}
}

func TestProgressNeverAfterResolution(t *testing.T) {
	r, _ := newTestRegistry()
	var got []jobs.Progress
	obs := jobs.ObserverFunc(func(p jobs.Progress) { got = append(got, p) })
	h, _ := r.Register(Request{Kind: jobs.KindUpscale, Key: jobs.Key{Prompt: "a cat"}, Timeout: time.Minute, Observer: obs})

	if !r.Progress(h, jobs.Progress{Label: "in progress", Percent: 10, HasPercent: true}) {
		t.Fatal("progress on pending request should be delivered")
	}
	r.Resolve(h, &jobs.Result{})
	if r.Progress(h, jobs.Progress{Label: "in progress", Percent: 90, HasPercent: true}) {
		t.Fatal("progress after resolution must be dropped")
	}
	if len(got) != 1 || got[0].Percent != 10 || got[0].Kind != jobs.KindUpscale {
		t.Fatalf("observer calls = %+v", got)
	}
}

func TestObserverMaySettleItsOwnRequest(t *testing.T) {
	r, _ := newTestRegistry()
	var calls int
	obs := jobs.ObserverFunc(func(p jobs.Progress) {
		calls++
		r.Close()
	})
	h, ch := r.Register(Request{Kind: jobs.KindGenerate, Key: jobs.Key{Prompt: "a cat"}, Timeout: time.Minute, Observer: obs})

	delivered := make(chan bool, 1)
	go func() { delivered <- r.Progress(h, jobs.Progress{Label: "in progress"}) }()
	select {
	case ok := <-delivered:
		if ok {
			t.Fatal("progress settled by its own observer must report false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observer calling Close deadlocked")
	}

	if out := receive(t, ch); out.Reason != ReasonCanceled {
		t.Fatalf("outcome = %+v", out)
	}
	if r.Progress(h, jobs.Progress{Label: "in progress"}) || calls != 1 {
		t.Fatalf("observer called %d times", calls)
	}
}

func TestExtendDeadlineDoublesOnce(t *testing.T) {
	r, clk := newTestRegistry()
	start := clk.Now()
	h, ch := r.Register(Request{Kind: jobs.KindGenerate, Key: jobs.Key{Prompt: "a cat"}, Timeout: 10 * time.Second})

	clk.Advance(4 * time.Second)
	if !r.ExtendDeadline(h) {
		t.Fatal("first extension should apply")
	}
	if r.ExtendDeadline(h) {
		t.Fatal("second extension must be ignored")
	}
	if d, _ := r.Deadline(h); !d.Equal(start.Add(20 * time.Second)) {
		t.Fatalf("deadline = %v, want %v", d, start.Add(20*time.Second))
	}

	clk.Advance(7 * time.Second) // t=11s, past the original deadline
	assertPending(t, ch)

	clk.Advance(9 * time.Second) // t=20s
	if out := receive(t, ch); out.Reason != ReasonTimedOut {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestStaleTimerAfterExtensionIsIgnored(t *testing.T) {
	r, clk := newTestRegistry()
	h, ch := r.Register(Request{Kind: jobs.KindGenerate, Key: jobs.Key{Prompt: "a cat"}, Timeout: time.Second})
	original := clk.timers[0]

	r.ExtendDeadline(h)
	// Simulate the original timer having already fired before Stop.
	original.f()
	assertPending(t, ch)
}

func TestRemoveAndClose(t *testing.T) {
	r, _ := newTestRegistry()
	h1, ch1 := r.Register(Request{Kind: jobs.KindGenerate, Key: jobs.Key{Prompt: "a"}, Timeout: time.Minute})
	_, ch2 := r.Register(Request{Kind: jobs.KindGenerate, Key: jobs.Key{Prompt: "b"}, Timeout: time.Minute})

	if !r.Remove(h1) {
		t.Fatal("remove should succeed")
	}
	if out := receive(t, ch1); out.Reason != ReasonCanceled {
		t.Fatalf("outcome = %+v", out)
	}

	r.Close()
	if out := receive(t, ch2); out.Reason != ReasonCanceled {
		t.Fatalf("outcome = %+v", out)
	}

	_, ch3 := r.Register(Request{Kind: jobs.KindGenerate, Key: jobs.Key{Prompt: "c"}, Timeout: time.Minute})
	if out := receive(t, ch3); out.Reason != ReasonCanceled {
		t.Fatalf("register after close outcome = %+v", out)
	}
	if r.Len() != 0 {
		t.Fatalf("len = %d", r.Len())
	}
}

func TestHandlesAreUnique(t *testing.T) {
	r, _ := newTestRegistry()
	seen := map[Handle]bool{}
	for i := 0; i < 50; i++ {
		h, _ := r.Register(Request{Kind: jobs.KindGenerate, Key: jobs.Key{Prompt: "p"}, Timeout: time.Minute})
		if seen[h] {
			t.Fatalf("duplicate handle %d", h)
		}
		seen[h] = true
		r.Remove(h)
	}
}

func TestRealTimersDoNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := New()
	h, ch := r.Register(Request{Kind: jobs.KindGenerate, Key: jobs.Key{Prompt: "a"}, Timeout: 20 * time.Millisecond})
	_, ch2 := r.Register(Request{Kind: jobs.KindGenerate, Key: jobs.Key{Prompt: "b"}, Timeout: time.Hour})

	select {
	case out := <-ch:
		if out.Handle != h || out.Reason != ReasonTimedOut {
			t.Fatalf("outcome = %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout did not fire")
	}

	r.Close()
	<-ch2
}
