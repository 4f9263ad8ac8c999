// Package bridge is the public face of mjbridge. Each operation sends one
// interaction and blocks until the bot's reply is correlated back to it, the
// request times out, or the caller gives up.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/sipeed/mjbridge/pkg/classifier"
	"github.com/sipeed/mjbridge/pkg/commands"
	"github.com/sipeed/mjbridge/pkg/config"
	"github.com/sipeed/mjbridge/pkg/dispatch"
	"github.com/sipeed/mjbridge/pkg/logger"
	"github.com/sipeed/mjbridge/pkg/registry"
	"github.com/sipeed/mjbridge/pkg/retry"
	"github.com/sipeed/mjbridge/pkg/usage"
)

// Gateway is the live session the bridge listens on.
type Gateway interface {
	WaitReady(ctx context.Context) error
	Close(ctx context.Context) error
}

type Sender interface {
	Send(ctx context.Context, cmd dispatch.Command) error
}

type Bridge struct {
	cfg        *config.Config
	gateway    Gateway
	sender     Sender
	builder    *commands.Builder
	classifier *classifier.Classifier
	registry   *registry.Registry
	retry      *retry.Controller
	usage      *usage.Store
	progress   *progressFanout

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

type options struct {
	registryOpts []registry.Option
	retryOpts    []retry.Option
	usage        *usage.Store
	now          func() time.Time
}

type Option func(*options)

// WithRegistryOptions passes options to the pending request registry.
func WithRegistryOptions(opts ...registry.Option) Option {
	return func(o *options) { o.registryOpts = append(o.registryOpts, opts...) }
}

// WithRetryOptions passes options to the retry controller.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) { o.retryOpts = append(o.retryOpts, opts...) }
}

func WithUsageStore(s *usage.Store) Option {
	return func(o *options) { o.usage = s }
}

func New(cfg *config.Config, gateway Gateway, sender Sender, opts ...Option) *Bridge {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.usage == nil {
		o.usage = usage.NewStore(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		cfg:        cfg,
		gateway:    gateway,
		sender:     sender,
		builder:    commands.NewBuilder(cfg.Discord, cfg.Commands),
		classifier: classifier.New(cfg.Discord.BotID, cfg.Classifier),
		registry:   registry.New(o.registryOpts...),
		retry:      retry.New(sender, cfg.Retry, o.retryOpts...),
		usage:      o.usage,
		progress:   newProgressFanout(time.Duration(cfg.Progress.IntervalMS)*time.Millisecond, o.now),
		ctx:        ctx,
		cancel:     cancel,
	}
	return b
}

// Pending returns the number of requests still waiting for the bot.
func (b *Bridge) Pending() int {
	return b.registry.Len()
}

type Stats struct {
	Total   usage.Aggregate
	ByKind  map[string]usage.Aggregate
	Pending int
}

func (b *Bridge) Stats() Stats {
	records := b.usage.Query(usage.Filter{})
	return Stats{
		Total:   usage.AggregateRecords(records),
		ByKind:  usage.KindBreakdown(records),
		Pending: b.registry.Len(),
	}
}

// Close cancels pending requests and resends, then closes the gateway and
// waits for it to report closed.
func (b *Bridge) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		logger.InfoCF("bridge", "Closing bridge", map[string]interface{}{
			"pending": b.registry.Len(),
		})
		b.cancel()
		b.retry.Close()
		b.registry.Close()
		b.closeErr = b.gateway.Close(ctx)
	})
	return b.closeErr
}
