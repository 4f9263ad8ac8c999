package bridge

import (
	"sync"
	"time"

	"github.com/sipeed/mjbridge/pkg/jobs"
	"github.com/sipeed/mjbridge/pkg/registry"
)

// ProgressLogger receives progress for every pending request. Updates are
// throttled per request; completion at 100% is always delivered.
type ProgressLogger func(p jobs.Progress)

type progressFanout struct {
	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time
	loggers  []ProgressLogger
	last     map[registry.Handle]time.Time
}

func newProgressFanout(interval time.Duration, now func() time.Time) *progressFanout {
	return &progressFanout{
		interval: interval,
		now:      now,
		last:     make(map[registry.Handle]time.Time),
	}
}

func (f *progressFanout) register(l ProgressLogger) {
	if l == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggers = append(f.loggers, l)
}

func (f *progressFanout) publish(h registry.Handle, p jobs.Progress) {
	f.mu.Lock()
	if len(f.loggers) == 0 {
		f.mu.Unlock()
		return
	}
	now := f.now()
	final := p.HasPercent && p.Percent >= 100
	if last, ok := f.last[h]; ok && !final && now.Sub(last) < f.interval {
		f.mu.Unlock()
		return
	}
	f.last[h] = now
	loggers := make([]ProgressLogger, len(f.loggers))
	copy(loggers, f.loggers)
	f.mu.Unlock()

	for _, l := range loggers {
		l(p)
	}
}

func (f *progressFanout) forget(h registry.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.last, h)
}
