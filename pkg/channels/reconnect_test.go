package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"github.com/sipeed/mjbridge/pkg/config"
)

func TestIsAuthFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"close 4004", &websocket.CloseError{Code: 4004, Text: "Authentication failed."}, true},
		{"wrapped 4004", fmt.Errorf("open: %w", &websocket.CloseError{Code: 4004}), true},
		{"sentinel", fmt.Errorf("x: %w", ErrAuthFailed), true},
		{"other close", &websocket.CloseError{Code: 4000}, false},
		{"plain", errors.New("dial tcp: timeout"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthFailure(tt.err); got != tt.want {
				t.Fatalf("IsAuthFailure(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestReconnectBacksOffWithCap(t *testing.T) {
	defer goleak.VerifyNone(t)

	var opens atomic.Int32
	r := NewReconnector(config.ReconnectConfig{InitialIntervalMS: 100, MaxIntervalMS: 300}, func() error {
		if opens.Add(1) < 5 {
			return errors.New("gateway unavailable")
		}
		return nil
	}, nil)
	var mu sync.Mutex
	var waits []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		return nil
	}
	defer r.Stop()

	if err := r.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if opens.Load() != 5 {
		t.Fatalf("opens = %d, want 5", opens.Load())
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(waits) != fmt.Sprint(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
}

func TestReconnectStopsOnAuthFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	var opens atomic.Int32
	var failed error
	r := NewReconnector(config.ReconnectConfig{InitialIntervalMS: 1, MaxIntervalMS: 1}, func() error {
		opens.Add(1)
		return &websocket.CloseError{Code: 4004, Text: "Authentication failed."}
	}, func(err error) { failed = err })
	defer r.Stop()

	err := r.Reconnect(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Reconnect = %v, want ErrAuthFailed", err)
	}
	if opens.Load() != 1 || failed == nil {
		t.Fatalf("opens=%d failed=%v", opens.Load(), failed)
	}
}

func TestConcurrentTriggersShareOneLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	var opens atomic.Int32
	r := NewReconnector(config.ReconnectConfig{InitialIntervalMS: 1, MaxIntervalMS: 1}, func() error {
		opens.Add(1)
		entered <- struct{}{}
		<-release
		return nil
	}, nil)

	r.Trigger()
	<-entered
	r.Trigger()
	r.Trigger()
	// Let both triggers join the in-flight loop.
	time.Sleep(50 * time.Millisecond)
	close(release)
	r.Stop()

	if got := opens.Load(); got != 1 {
		t.Fatalf("opens = %d, want 1", got)
	}
}

func TestStopAbortsBackoff(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewReconnector(config.ReconnectConfig{InitialIntervalMS: 60000, MaxIntervalMS: 60000}, func() error {
		return errors.New("down")
	}, nil)
	r.Trigger()
	time.Sleep(10 * time.Millisecond)
	r.Stop()

	if err := r.Reconnect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Reconnect after Stop = %v, want ErrClosed", err)
	}
}
