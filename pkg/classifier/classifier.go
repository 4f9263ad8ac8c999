// Package classifier turns raw gateway messages from the bot into typed
// notifications: progress, terminal results, transient errors, queue states
// and interaction echoes.
package classifier

import (
	"strings"

	"github.com/sipeed/mjbridge/pkg/bus"
	"github.com/sipeed/mjbridge/pkg/config"
	"github.com/sipeed/mjbridge/pkg/jobs"
	"github.com/sipeed/mjbridge/pkg/matcher"
)

type Kind int

const (
	// KindIgnored: not from the bot, or not a message event.
	KindIgnored Kind = iota
	// KindUnrelated: from the bot, but nothing the bridge acts on.
	KindUnrelated
	KindInteractionEcho
	KindTransientError
	KindWaiting
	KindQueued
	KindProgress
	KindTerminal
)

var kindNames = [...]string{
	"ignored", "unrelated", "interaction_echo", "transient_error",
	"waiting", "queued", "progress", "terminal",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

type Notification struct {
	Kind      Kind
	MessageID string
	// Text is the content followed by embed titles and descriptions.
	Text     string
	Prompt   string
	IsUpdate bool
	Image    *jobs.Image
	Progress jobs.Progress
	// EchoKind is the request kind an interaction echo resolves.
	EchoKind jobs.Kind
	// EmbedText is the embed body alone, used as the info payload.
	EmbedText string
	// ErrorPhrase is the known error the text matched.
	ErrorPhrase string
}

// Subject is what the matcher compares against pending request keys.
func (n Notification) Subject() matcher.Subject {
	s := matcher.Subject{Text: n.Text}
	if n.Image != nil {
		s.JobID = n.Image.JobID
		s.Text = n.Text + "\n" + n.Image.URL
	}
	return s
}

type Classifier struct {
	botID          string
	errorPhrases   []string
	errorTolerance int
	waitingPhrase  string
	queuedPhrase   string
	echoKinds      map[string]jobs.Kind
}

func New(botID string, cfg config.ClassifierConfig) *Classifier {
	return &Classifier{
		botID:          botID,
		errorPhrases:   cfg.ErrorPhrases,
		errorTolerance: cfg.ErrorTolerance,
		waitingPhrase:  cfg.WaitingPhrase,
		queuedPhrase:   cfg.QueuedPhrase,
		echoKinds: map[string]jobs.Kind{
			"info": jobs.KindInfoQuery,
		},
	}
}

// Classify inspects a message event. It never fails: anything it cannot
// place is KindIgnored or KindUnrelated.
func (c *Classifier) Classify(ev bus.Event) Notification {
	if ev.Type != bus.EventMessageCreate && ev.Type != bus.EventMessageUpdate {
		return Notification{Kind: KindIgnored}
	}
	msg := ev.Message
	if msg == nil || msg.AuthorID != c.botID {
		return Notification{Kind: KindIgnored}
	}

	embedText := joinEmbeds(msg.Embeds)
	text := msg.Content
	if embedText != "" {
		text = strings.TrimSpace(text + "\n" + embedText)
	}

	n := Notification{
		Kind:      KindUnrelated,
		MessageID: msg.ID,
		Text:      text,
		Prompt:    ExtractPrompt(msg.Content),
		IsUpdate:  ev.IsUpdate(),
		Image:     ExtractImage(msg),
		EmbedText: embedText,
	}

	if kind, ok := c.echoKinds[msg.InteractionName]; ok {
		n.Kind = KindInteractionEcho
		n.EchoKind = kind
		return n
	}

	if n.Image == nil {
		decoration := Decoration(text)
		if phrase, ok := c.matchErrorPhrase(decoration); ok {
			n.Kind = KindTransientError
			n.ErrorPhrase = phrase
			return n
		}
		if c.queuedPhrase != "" && matcher.NearPhrase(decoration, c.queuedPhrase, 0) {
			n.Kind = KindQueued
			n.Progress = jobs.Progress{Label: c.queuedPhrase}
			return n
		}
		if c.waitingPhrase != "" && matcher.NearPhrase(decoration, c.waitingPhrase, 0) {
			n.Kind = KindWaiting
			n.Progress = jobs.Progress{Label: c.waitingPhrase}
			return n
		}
		return n
	}

	if n.IsUpdate {
		n.Kind = KindProgress
		n.Progress = ExtractProgress(msg.Content, c.waitingPhrase)
		n.Progress.ImageURL = n.Image.URL
		n.Progress.Job = jobs.Ref{
			JobID:     n.Image.JobID,
			Ephemeral: n.Image.Ephemeral,
			MessageID: msg.ID,
		}
		return n
	}

	n.Kind = KindTerminal
	return n
}

// matchErrorPhrase checks each line separately; bot errors are one-liners
// inside longer embeds.
func (c *Classifier) matchErrorPhrase(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	for _, phrase := range c.errorPhrases {
		for _, line := range lines {
			if matcher.NearPhrase(line, phrase, c.errorTolerance) {
				return phrase, true
			}
		}
	}
	return "", false
}

func joinEmbeds(embeds []bus.Embed) string {
	var parts []string
	for _, e := range embeds {
		if t := strings.TrimSpace(e.Title); t != "" {
			parts = append(parts, t)
		}
		if d := strings.TrimSpace(e.Description); d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, "\n")
}
