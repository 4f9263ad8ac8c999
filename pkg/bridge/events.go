package bridge

import (
	"github.com/sipeed/mjbridge/pkg/bus"
	"github.com/sipeed/mjbridge/pkg/classifier"
	"github.com/sipeed/mjbridge/pkg/jobs"
	"github.com/sipeed/mjbridge/pkg/logger"
	"github.com/sipeed/mjbridge/pkg/registry"
	"github.com/sipeed/mjbridge/pkg/retry"
)

const labelRetrying = "retrying"

// HandleEvent routes one gateway event. Subscribe it to the gateway; it
// expects to be called from a single goroutine in gateway order.
func (b *Bridge) HandleEvent(ev bus.Event) {
	if ev.Type == bus.EventClosed {
		if pending := b.registry.Len(); pending > 0 {
			logger.WarnCF("bridge", "Gateway closed, canceling pending requests", map[string]interface{}{
				"pending": pending,
			})
		}
		b.registry.Close()
		return
	}

	n := b.classifier.Classify(ev)
	switch n.Kind {
	case classifier.KindIgnored:
		return
	case classifier.KindUnrelated:
		logger.DebugCF("bridge", "Dropping unrelated bot message", map[string]interface{}{
			"message_id": n.MessageID,
		})
	case classifier.KindInteractionEcho:
		b.onEcho(n)
	case classifier.KindTransientError:
		b.onTransientError(n)
	case classifier.KindWaiting:
		if h, ok := b.match(n); ok {
			b.deliverProgress(h, n.Progress)
		}
	case classifier.KindQueued:
		if h, ok := b.match(n); ok {
			b.registry.ExtendDeadline(h)
			b.deliverProgress(h, n.Progress)
		}
	case classifier.KindProgress:
		if h, ok := b.match(n); ok {
			b.deliverProgress(h, n.Progress)
		}
	case classifier.KindTerminal:
		b.onTerminal(n)
	}
}

func (b *Bridge) match(n classifier.Notification) (registry.Handle, bool) {
	h, ok := b.registry.FindMatch(n.Subject())
	if !ok {
		logger.DebugCF("bridge", "No pending request for notification", map[string]interface{}{
			"kind":       n.Kind.String(),
			"message_id": n.MessageID,
			"prompt":     n.Prompt,
		})
	}
	return h, ok
}

func (b *Bridge) deliverProgress(h registry.Handle, p jobs.Progress) {
	if !b.registry.Progress(h, p) {
		return
	}
	kind, _ := b.registry.Kind(h)
	p.Kind = kind
	b.progress.publish(h, p)
}

func (b *Bridge) onEcho(n classifier.Notification) {
	h, ok := b.registry.FindOldest(n.EchoKind)
	if !ok {
		logger.DebugCF("bridge", "Interaction echo with no pending request", map[string]interface{}{
			"kind": n.EchoKind.String(),
		})
		return
	}
	b.registry.Resolve(h, &jobs.Result{
		Kind:      n.EchoKind,
		MessageID: n.MessageID,
		Text:      n.EmbedText,
	})
}

// onTransientError resends the matched request's last command. Error
// messages rarely quote the prompt; when nothing matches and exactly one
// request is pending, the error is taken to be for that one.
func (b *Bridge) onTransientError(n classifier.Notification) {
	h, ok := b.registry.FindMatch(n.Subject())
	if !ok && b.registry.Len() == 1 {
		h, ok = b.registry.Oldest()
	}
	if !ok {
		logger.WarnCF("bridge", "Bot reported an error for no known request", map[string]interface{}{
			"phrase": n.ErrorPhrase,
		})
		return
	}

	decision := b.retry.HandleTransient(b.ctx, h)
	logger.WarnCF("bridge", "Bot reported a transient error", map[string]interface{}{
		"handle":   uint64(h),
		"phrase":   n.ErrorPhrase,
		"decision": decision.String(),
	})
	switch decision {
	case retry.DecisionResend:
		b.deliverProgress(h, jobs.Progress{Label: labelRetrying})
	default:
		b.registry.Fail(h, registry.ReasonFailed)
	}
}

func (b *Bridge) onTerminal(n classifier.Notification) {
	h, ok := b.match(n)
	if !ok {
		return
	}
	kind, _ := b.registry.Kind(h)
	res := &jobs.Result{
		Kind:      kind,
		ImageURL:  n.Image.URL,
		JobID:     n.Image.JobID,
		Ephemeral: n.Image.Ephemeral,
		MessageID: n.MessageID,
		Prompt:    n.Prompt,
	}
	if !b.registry.Resolve(h, res) {
		return
	}
	b.progress.publish(h, jobs.Progress{
		Kind:       kind,
		Label:      "completed",
		Percent:    100,
		HasPercent: true,
		ImageURL:   res.ImageURL,
		Job:        res.Ref(),
	})
	logger.InfoCF("bridge", "Request completed", map[string]interface{}{
		"handle": uint64(h),
		"kind":   kind.String(),
		"job_id": res.JobID,
	})
}
