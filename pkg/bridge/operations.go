package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/mjbridge/pkg/dispatch"
	"github.com/sipeed/mjbridge/pkg/jobs"
	"github.com/sipeed/mjbridge/pkg/logger"
	"github.com/sipeed/mjbridge/pkg/registry"
	"github.com/sipeed/mjbridge/pkg/usage"
)

const infoKey = "info"

type call struct {
	kind     jobs.Kind
	key      jobs.Key
	timeout  time.Duration
	cmd      dispatch.Command
	observer jobs.Observer
}

// Generate runs /imagine and returns the finished grid.
func (b *Bridge) Generate(ctx context.Context, prompt string, obs jobs.Observer) (*jobs.Result, error) {
	cmd, err := b.builder.Imagine(prompt)
	if err != nil {
		return nil, err
	}
	return b.run(ctx, call{kind: jobs.KindGenerate, key: jobs.Key{Prompt: prompt}, timeout: b.cfg.DefaultTimeout(), cmd: cmd, observer: obs})
}

// Upscale picks image index (1..4) from the grid identified by ref.
func (b *Bridge) Upscale(ctx context.Context, ref jobs.Ref, index int, prompt string, obs jobs.Observer) (*jobs.Result, error) {
	cmd, err := b.builder.Upscale(ref, index)
	if err != nil {
		return nil, err
	}
	return b.run(ctx, call{kind: jobs.KindUpscale, key: jobs.Key{Prompt: prompt}, timeout: b.cfg.DefaultTimeout(), cmd: cmd, observer: obs})
}

func (b *Bridge) Variation(ctx context.Context, ref jobs.Ref, index int, prompt string, obs jobs.Observer) (*jobs.Result, error) {
	cmd, err := b.builder.Variation(ref, index)
	if err != nil {
		return nil, err
	}
	return b.run(ctx, call{kind: jobs.KindVariation, key: jobs.Key{Prompt: prompt}, timeout: b.cfg.DefaultTimeout(), cmd: cmd, observer: obs})
}

func (b *Bridge) ZoomOut(ctx context.Context, ref jobs.Ref, prompt string, obs jobs.Observer) (*jobs.Result, error) {
	cmd, err := b.builder.ZoomOut(ref)
	if err != nil {
		return nil, err
	}
	return b.run(ctx, call{kind: jobs.KindZoomOut, key: jobs.Key{Prompt: prompt}, timeout: b.cfg.DefaultTimeout(), cmd: cmd, observer: obs})
}

func (b *Bridge) Reroll(ctx context.Context, ref jobs.Ref, prompt string, obs jobs.Observer) (*jobs.Result, error) {
	cmd, err := b.builder.Reroll(ref)
	if err != nil {
		return nil, err
	}
	return b.run(ctx, call{kind: jobs.KindReroll, key: jobs.Key{Prompt: prompt}, timeout: b.cfg.DefaultTimeout(), cmd: cmd, observer: obs})
}

// X4Upscale waits at least the configured 4x timeout; these jobs are slow.
func (b *Bridge) X4Upscale(ctx context.Context, ref jobs.Ref, prompt string, obs jobs.Observer) (*jobs.Result, error) {
	cmd, err := b.builder.Upscale4x(ref)
	if err != nil {
		return nil, err
	}
	return b.run(ctx, call{kind: jobs.KindUpscale4x, key: jobs.Key{Prompt: prompt}, timeout: b.cfg.Upscale4xTimeout(), cmd: cmd, observer: obs})
}

// Show re-posts an existing job by id. The reply is matched by job id only.
func (b *Bridge) Show(ctx context.Context, jobID string, obs jobs.Observer) (*jobs.Result, error) {
	if err := uuid.Validate(jobID); err != nil {
		return nil, fmt.Errorf("show: invalid job id %q: %w", jobID, err)
	}
	cmd, err := b.builder.Show(jobID)
	if err != nil {
		return nil, err
	}
	return b.run(ctx, call{kind: jobs.KindShowQuery, key: jobs.Key{JobID: jobID}, timeout: b.cfg.DefaultTimeout(), cmd: cmd, observer: obs})
}

// Info returns the text of the bot's /info reply.
func (b *Bridge) Info(ctx context.Context) (string, error) {
	cmd, err := b.builder.Info()
	if err != nil {
		return "", err
	}
	res, err := b.run(ctx, call{kind: jobs.KindInfoQuery, key: jobs.Key{Prompt: infoKey}, timeout: b.cfg.InfoTimeout(), cmd: cmd})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// CancelCurrentJob presses the cancel button for a running job. It only
// sends the command; whatever request waits on the job is settled by the
// bot's next message or its own timeout.
func (b *Bridge) CancelCurrentJob(ctx context.Context, ref jobs.Ref) error {
	cmd, err := b.builder.Cancel(ref)
	if err != nil {
		return err
	}
	if err := b.waitReady(ctx); err != nil {
		return err
	}
	if err := b.sender.Send(ctx, cmd); err != nil {
		return fmt.Errorf("cancel job %s: %w", ref.JobID, err)
	}
	logger.InfoCF("bridge", "Cancel sent", map[string]interface{}{
		"job_id": ref.JobID,
	})
	return nil
}

// RegisterProgressLogger adds l to the loggers that see progress of every
// request.
func (b *Bridge) RegisterProgressLogger(l ProgressLogger) {
	b.progress.register(l)
}

func (b *Bridge) waitReady(ctx context.Context) error {
	if err := b.gateway.WaitReady(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", jobs.ErrNotCompleted, err)
	}
	return nil
}

// run registers the request before dispatching so a fast reply cannot
// arrive unmatched.
func (b *Bridge) run(ctx context.Context, c call) (*jobs.Result, error) {
	if err := b.waitReady(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	h, done := b.registry.Register(registry.Request{
		Kind:     c.kind,
		Key:      c.key,
		Timeout:  c.timeout,
		Observer: c.observer,
	})
	b.retry.Track(h, c.cmd)
	defer b.retry.Forget(h)
	defer b.progress.forget(h)

	if err := b.sender.Send(ctx, c.cmd); err != nil {
		// The bot may still have received it; the timeout settles it if not.
		logger.ErrorCF("bridge", "Dispatch failed, waiting anyway", map[string]interface{}{
			"handle": uint64(h),
			"kind":   c.kind.String(),
			"error":  err.Error(),
		})
	}

	var out registry.Outcome
	var ctxErr error
	select {
	case out = <-done:
	case <-ctx.Done():
		ctxErr = ctx.Err()
		b.registry.Remove(h)
		out = <-done
	}

	b.record(c, h, out, time.Since(start), ctxErr)

	if ctxErr != nil {
		return nil, ctxErr
	}
	if out.Reason != registry.ReasonResolved || out.Result == nil {
		logger.WarnCF("bridge", "Operation did not complete", map[string]interface{}{
			"handle": uint64(h),
			"kind":   c.kind.String(),
			"key":    c.key.String(),
			"reason": out.Reason.String(),
		})
		return nil, jobs.ErrNotCompleted
	}
	return out.Result, nil
}

func (b *Bridge) record(c call, h registry.Handle, out registry.Outcome, d time.Duration, ctxErr error) {
	r := usage.Record{
		Kind:     c.kind.String(),
		Outcome:  outcomeFor(out.Reason),
		Duration: d,
		Retries:  b.retry.Attempts(h),
		Prompt:   c.key.Prompt,
		JobID:    c.key.JobID,
	}
	if errors.Is(ctxErr, context.Canceled) || errors.Is(ctxErr, context.DeadlineExceeded) {
		r.Outcome = usage.OutcomeCanceled
	}
	if out.Result != nil && out.Result.JobID != "" {
		r.JobID = out.Result.JobID
	}
	b.usage.Add(r)
}

func outcomeFor(reason registry.Reason) usage.Outcome {
	switch reason {
	case registry.ReasonResolved:
		return usage.OutcomeCompleted
	case registry.ReasonTimedOut:
		return usage.OutcomeTimedOut
	case registry.ReasonCanceled:
		return usage.OutcomeCanceled
	}
	return usage.OutcomeFailed
}
