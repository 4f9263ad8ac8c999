// Package retry resends the last outbound command of a pending request when
// the bot reports a transient failure.
package retry

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sipeed/mjbridge/pkg/config"
	"github.com/sipeed/mjbridge/pkg/dispatch"
	"github.com/sipeed/mjbridge/pkg/logger"
	"github.com/sipeed/mjbridge/pkg/registry"
)

type Decision int

const (
	// DecisionResend: a resend is scheduled; the request keeps waiting.
	DecisionResend Decision = iota
	// DecisionExhausted: MaxAttempts resends already happened.
	DecisionExhausted
	// DecisionNoCommand: nothing was tracked for the request.
	DecisionNoCommand
)

func (d Decision) String() string {
	switch d {
	case DecisionResend:
		return "resend"
	case DecisionExhausted:
		return "exhausted"
	case DecisionNoCommand:
		return "no_command"
	}
	return "unknown"
}

type Sender interface {
	Send(ctx context.Context, cmd dispatch.Command) error
}

type state struct {
	cmd      dispatch.Command
	attempts int
}

type Controller struct {
	sender      Sender
	maxAttempts int
	steps       int
	minDelay    time.Duration
	maxDelay    time.Duration

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(n int64) int64

	mu     sync.Mutex
	states map[registry.Handle]*state

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Controller)

// WithSleep replaces the wait between resend steps, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// WithJitter replaces the random source; jitter(n) must return a value in [0, n).
func WithJitter(jitter func(n int64) int64) Option {
	return func(c *Controller) { c.jitter = jitter }
}

func New(sender Sender, cfg config.RetryConfig, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		sender:      sender,
		maxAttempts: cfg.MaxAttempts,
		steps:       cfg.Steps,
		minDelay:    time.Duration(cfg.MinDelayMS) * time.Millisecond,
		maxDelay:    time.Duration(cfg.MaxDelayMS) * time.Millisecond,
		sleep:       sleepCtx,
		jitter:      rand.Int64N,
		states:      make(map[registry.Handle]*state),
		ctx:         ctx,
		cancel:      cancel,
	}
	if c.maxDelay < c.minDelay {
		c.maxDelay = c.minDelay
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Track records cmd as the last command sent for h, replacing any earlier
// one. The attempt counter is kept.
func (c *Controller) Track(h registry.Handle, cmd dispatch.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[h]; ok {
		st.cmd = cmd
		return
	}
	c.states[h] = &state{cmd: cmd}
}

func (c *Controller) LastCommand(h registry.Handle) (dispatch.Command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[h]
	if !ok {
		return dispatch.Command{}, false
	}
	return st.cmd, true
}

// Attempts returns how many resends were scheduled for h.
func (c *Controller) Attempts(h registry.Handle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[h]; ok {
		return st.attempts
	}
	return 0
}

// Forget drops the state of h. A resend still waiting for h is skipped.
func (c *Controller) Forget(h registry.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, h)
}

// HandleTransient schedules one resend of h's last command after Steps
// jittered delays. The resend runs in the background and stops when ctx is
// done or the controller is closed.
func (c *Controller) HandleTransient(ctx context.Context, h registry.Handle) Decision {
	c.mu.Lock()
	st, ok := c.states[h]
	if !ok {
		c.mu.Unlock()
		return DecisionNoCommand
	}
	if st.attempts >= c.maxAttempts {
		attempts := st.attempts
		c.mu.Unlock()
		logger.WarnCF("retry", "Retry attempts exhausted", map[string]interface{}{
			"handle":   uint64(h),
			"attempts": attempts,
		})
		return DecisionExhausted
	}
	st.attempts++
	attempt := st.attempts
	cmd := st.cmd
	c.mu.Unlock()

	delays := c.delays()
	logger.InfoCF("retry", "Scheduling resend", map[string]interface{}{
		"handle":  uint64(h),
		"attempt": attempt,
		"command": cmd.Label,
		"steps":   len(delays),
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.resend(ctx, h, cmd, delays)
	}()
	return DecisionResend
}

func (c *Controller) resend(ctx context.Context, h registry.Handle, cmd dispatch.Command, delays []time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	for _, d := range delays {
		if err := c.sleep(ctx, d); err != nil {
			return
		}
	}

	c.mu.Lock()
	_, alive := c.states[h]
	c.mu.Unlock()
	if !alive {
		logger.DebugCF("retry", "Request settled while waiting, resend skipped", map[string]interface{}{
			"handle": uint64(h),
		})
		return
	}

	if err := c.sender.Send(ctx, cmd); err != nil {
		logger.ErrorCF("retry", "Resend failed", map[string]interface{}{
			"handle":  uint64(h),
			"command": cmd.Label,
			"error":   err.Error(),
		})
	}
}

func (c *Controller) delays() []time.Duration {
	out := make([]time.Duration, 0, c.steps)
	span := int64(c.maxDelay - c.minDelay)
	for i := 0; i < c.steps; i++ {
		d := c.minDelay
		if span > 0 {
			d += time.Duration(c.jitter(span + 1))
		}
		out = append(out, d)
	}
	return out
}

// Close cancels pending resends and waits for them to return.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
	c.mu.Lock()
	c.states = make(map[registry.Handle]*state)
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
