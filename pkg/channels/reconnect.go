package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/sipeed/mjbridge/pkg/config"
	"github.com/sipeed/mjbridge/pkg/logger"
)

// closeAuthenticationFailed is the gateway close code for an invalid token.
const closeAuthenticationFailed = 4004

// IsAuthFailure reports whether err is the gateway rejecting the token.
func IsAuthFailure(err error) bool {
	if errors.Is(err, ErrAuthFailed) {
		return true
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return websocket.IsCloseError(ce, closeAuthenticationFailed)
	}
	return false
}

// Reconnector reopens the gateway after a disconnect with capped exponential
// backoff. Concurrent triggers share one reconnect loop.
type Reconnector struct {
	open       func() error
	onAuthFail func(error)
	initial    time.Duration
	max        time.Duration
	sleep      func(ctx context.Context, d time.Duration) error

	group singleflight.Group

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewReconnector(cfg config.ReconnectConfig, open func() error, onAuthFail func(error)) *Reconnector {
	initial := time.Duration(cfg.InitialIntervalMS) * time.Millisecond
	if initial <= 0 {
		initial = time.Second
	}
	maxInterval := time.Duration(cfg.MaxIntervalMS) * time.Millisecond
	if maxInterval < initial {
		maxInterval = initial
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconnector{
		open:       open,
		onAuthFail: onAuthFail,
		initial:    initial,
		max:        maxInterval,
		sleep:      sleepCtx,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Trigger starts a background reconnect unless one is already running.
func (r *Reconnector) Trigger() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		_ = r.Reconnect(r.ctx)
	}()
}

// Reconnect runs the reconnect loop, or joins the one already running, and
// returns its result.
func (r *Reconnector) Reconnect(ctx context.Context) error {
	ch := r.group.DoChan("gateway", func() (interface{}, error) {
		if !r.begin() {
			return nil, ErrClosed
		}
		defer r.wg.Done()
		return nil, r.loop(r.ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconnector) loop(ctx context.Context) error {
	backoff := r.initial
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return ErrClosed
		}

		err := r.open()
		if err == nil {
			logger.InfoCF("discord", "Gateway reconnected", map[string]interface{}{
				"attempt": attempt,
			})
			return nil
		}
		if IsAuthFailure(err) {
			logger.ErrorCF("discord", "Gateway rejected credentials, giving up", map[string]interface{}{
				"error": err.Error(),
			})
			if r.onAuthFail != nil {
				r.onAuthFail(err)
			}
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}

		logger.WarnCF("discord", "Gateway reconnect failed", map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
			"retry":   backoff.String(),
		})
		if err := r.sleep(ctx, backoff); err != nil {
			return ErrClosed
		}
		backoff *= 2
		if backoff > r.max {
			backoff = r.max
		}
	}
}

func (r *Reconnector) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.wg.Add(1)
	return true
}

// Stop cancels any running loop and waits for background triggers.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
