// Package channels owns the Discord gateway connection: login lifecycle,
// reconnects, and conversion of gateway payloads into bus events.
package channels

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/sipeed/mjbridge/pkg/bus"
	"github.com/sipeed/mjbridge/pkg/config"
	"github.com/sipeed/mjbridge/pkg/logger"
)

// gatewayConn is the part of *discordgo.Session the channel drives.
type gatewayConn interface {
	Open() error
	Close() error
}

type DiscordChannel struct {
	config      config.DiscordConfig
	conn        gatewayConn
	session     *Session
	reconnector *Reconnector
	closing     atomic.Bool

	mu       sync.RWMutex
	handlers []bus.EventHandler
}

func NewDiscordChannel(cfg config.DiscordConfig, rc config.ReconnectConfig) (*DiscordChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token not configured")
	}
	dg, err := discordgo.New(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	// Handlers run in gateway order on the read goroutine.
	dg.SyncEvents = true
	dg.ShouldReconnectOnError = false
	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	c := &DiscordChannel{
		config:  cfg,
		conn:    dg,
		session: NewSession(),
	}
	c.reconnector = NewReconnector(rc, c.open, func(err error) {
		c.session.MarkClosed(fmt.Errorf("%w: %v", ErrAuthFailed, err))
		c.publish(bus.Event{Type: bus.EventClosed, Err: err})
	})

	dg.AddHandler(c.onReady)
	dg.AddHandler(c.onDisconnect)
	dg.AddHandler(c.onMessageCreate)
	dg.AddHandler(c.onMessageUpdate)
	return c, nil
}

// Subscribe registers h for every event. Handlers run in registration order.
func (c *DiscordChannel) Subscribe(h bus.EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Connecting to Discord gateway")
	if err := c.open(); err != nil {
		if IsAuthFailure(err) {
			c.session.MarkClosed(fmt.Errorf("%w: %v", ErrAuthFailed, err))
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	return c.session.WaitReady(ctx)
}

func (c *DiscordChannel) open() error {
	c.session.MarkAuthenticating()
	return c.conn.Open()
}

func (c *DiscordChannel) WaitReady(ctx context.Context) error {
	return c.session.WaitReady(ctx)
}

func (c *DiscordChannel) SessionID() string {
	return c.session.SessionID()
}

func (c *DiscordChannel) State() State {
	return c.session.State()
}

// Close stops reconnecting, closes the gateway and waits for the session to
// report closed. The session is closed by the gateway's disconnect, or once
// the connection's Close has returned when it was never open.
func (c *DiscordChannel) Close(ctx context.Context) error {
	logger.InfoC("discord", "Closing Discord gateway")
	c.closing.Store(true)
	c.reconnector.Stop()
	if err := c.conn.Close(); err != nil {
		logger.WarnCF("discord", "Gateway close error", map[string]interface{}{
			"error": err.Error(),
		})
	}
	c.session.MarkClosed(nil)
	c.publish(bus.Event{Type: bus.EventClosed})
	return c.session.WaitClosed(ctx)
}

func (c *DiscordChannel) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	c.session.MarkReady(r.SessionID)
	fields := map[string]interface{}{"session_id": r.SessionID}
	if r.User != nil {
		fields["user"] = r.User.Username
	}
	logger.InfoCF("discord", "Gateway ready", fields)
	c.publish(bus.Event{Type: bus.EventReady, SessionID: r.SessionID})
}

func (c *DiscordChannel) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	if c.closing.Load() {
		c.session.MarkClosed(nil)
		return
	}
	if c.session.State() == StateClosed {
		return
	}
	c.session.MarkDisconnected()
	logger.WarnC("discord", "Gateway disconnected")
	c.publish(bus.Event{Type: bus.EventDisconnected})
	c.reconnector.Trigger()
}

func (c *DiscordChannel) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	c.handleMessage(bus.EventMessageCreate, m.Message)
}

func (c *DiscordChannel) onMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	c.handleMessage(bus.EventMessageUpdate, m.Message)
}

func (c *DiscordChannel) handleMessage(typ bus.EventType, m *discordgo.Message) {
	msg, ok := ConvertMessage(m)
	if !ok {
		logger.DebugCF("discord", "Dropping incomplete message event", map[string]interface{}{
			"type": typ.String(),
		})
		return
	}
	if c.config.ChannelID != "" && msg.ChannelID != c.config.ChannelID {
		return
	}
	c.publish(bus.Event{Type: typ, Message: msg})
}

func (c *DiscordChannel) publish(ev bus.Event) {
	c.mu.RLock()
	handlers := make([]bus.EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// ConvertMessage validates a gateway message and copies the fields the
// bridge uses. Messages without an id, channel or author are rejected;
// partial update payloads often lack the author.
func ConvertMessage(m *discordgo.Message) (*bus.Message, bool) {
	if m == nil || m.ID == "" || m.ChannelID == "" || m.Author == nil || m.Author.ID == "" {
		return nil, false
	}

	msg := &bus.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		AuthorID:  m.Author.ID,
		Content:   m.Content,
		Flags:     int(m.Flags),
	}
	for _, a := range m.Attachments {
		if a == nil || a.URL == "" {
			continue
		}
		msg.Attachments = append(msg.Attachments, bus.Attachment{
			ID:          a.ID,
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
		})
	}
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		msg.Embeds = append(msg.Embeds, bus.Embed{Title: e.Title, Description: e.Description})
	}
	if m.Interaction != nil {
		msg.InteractionName = m.Interaction.Name
	}
	return msg, true
}
