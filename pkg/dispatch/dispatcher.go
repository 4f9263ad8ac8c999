// Package dispatch sends interaction payloads to the Discord HTTP API.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/sipeed/mjbridge/pkg/config"
	"github.com/sipeed/mjbridge/pkg/jobs"
	"github.com/sipeed/mjbridge/pkg/logger"
)

const (
	interactionsPath = "/interactions"
	// discordEpoch is 2015-01-01T00:00:00Z in unix milliseconds.
	discordEpoch = 1420070400000
)

// Command is a ready-to-send interaction. Payload is the JSON body without
// session_id and nonce; Send fills both in.
type Command struct {
	Kind    jobs.Kind
	Label   string
	Payload []byte
}

// SessionSource reports the live gateway session id, or "" when there is none.
type SessionSource interface {
	SessionID() string
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status  int
	Message string
	Body    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("interaction rejected: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("interaction rejected: status %d", e.Status)
}

type Dispatcher struct {
	client   *resty.Client
	sessions SessionSource
	now      func() time.Time
}

func New(cfg config.DiscordConfig, sessions SessionSource) *Dispatcher {
	timeout := time.Duration(cfg.HTTPTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIBase, "/")).
		SetTimeout(timeout).
		SetHeader("authorization", cfg.Token).
		SetHeader("Content-Type", "application/json")

	return &Dispatcher{
		client:   client,
		sessions: sessions,
		now:      time.Now,
	}
}

// Send posts cmd to the interactions endpoint with a fresh session id and
// nonce.
func (d *Dispatcher) Send(ctx context.Context, cmd Command) error {
	body, err := d.prepare(cmd.Payload)
	if err != nil {
		return fmt.Errorf("prepare %s payload: %w", cmd.Label, err)
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(interactionsPath)
	if err != nil {
		return fmt.Errorf("post %s interaction: %w", cmd.Label, err)
	}

	fields := map[string]interface{}{
		"command": cmd.Label,
		"kind":    cmd.Kind.String(),
		"status":  resp.StatusCode(),
		"type":    gjson.GetBytes(body, "type").Int(),
	}
	if customID := gjson.GetBytes(body, "data.custom_id"); customID.Exists() {
		fields["custom_id"] = customID.String()
	}

	if resp.IsError() {
		raw := resp.Body()
		serr := &StatusError{
			Status:  resp.StatusCode(),
			Message: gjson.GetBytes(raw, "message").String(),
			Body:    string(raw),
		}
		fields["error"] = serr.Error()
		logger.ErrorCF("dispatch", "Interaction rejected", fields)
		return serr
	}

	logger.DebugCF("dispatch", "Interaction sent", fields)
	return nil
}

func (d *Dispatcher) prepare(payload []byte) ([]byte, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	body, err := sjson.SetBytes(payload, "session_id", d.sessionID())
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(body, "nonce", d.nonce())
}

func (d *Dispatcher) sessionID() string {
	if d.sessions != nil {
		if id := d.sessions.SessionID(); id != "" {
			return id
		}
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// nonce is a snowflake for the current time, which is what the official
// client sends.
func (d *Dispatcher) nonce() string {
	ms := d.now().UnixMilli() - discordEpoch
	return strconv.FormatInt(ms<<22, 10)
}
