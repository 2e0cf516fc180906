// Package relayclient maintains the agent's WebSocket connection to
// the relay: reconnect with backoff, command dispatch through the
// registry, and the outbound telemetry/alert/preview feeds.
package relayclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/steeplecast/steeplecast/internal/agent/command"
	"github.com/steeplecast/steeplecast/internal/agent/core"
	"github.com/steeplecast/steeplecast/internal/proto"
)

const (
	// statusInterval is the periodic status_update cadence.
	statusInterval = 30 * time.Second

	// resetThreshold: a connection lasting this long resets the
	// reconnect backoff.
	resetThreshold = 30 * time.Second

	writeTimeout = 10 * time.Second
)

// newRelayBackoff creates the relay reconnect backoff: 3s doubling
// to 60s with ±20% jitter.
func newRelayBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 3 * time.Second
	b.MaxInterval = 60 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}

// Client is the agent-side relay connection.
type Client struct {
	relayBase string
	token     string
	agent     *core.Agent
	registry  *command.Registry

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a Client.
func New(relayBase, token string, agent *core.Agent, registry *command.Registry) *Client {
	return &Client{
		relayBase: relayBase,
		token:     token,
		agent:     agent,
		registry:  registry,
	}
}

// wsURL builds the attach URL: {relayBase}/church?token={bearer}.
func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.relayBase)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	u.Path = "/church"
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Send writes one envelope. The mutex serializes writes; concurrent
// command results and telemetry share the socket.
func (c *Client) Send(env *proto.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, env)
}

// SendStatus pushes a fresh telemetry snapshot.
func (c *Client) SendStatus() {
	if err := c.Send(&proto.Envelope{
		Type:   proto.TypeStatusUpdate,
		Status: c.agent.Snapshot(),
	}); err != nil {
		slog.Debug("status update send failed", "error", err)
	}
}

// SendAlert pushes an alert to the relay.
func (c *Client) SendAlert(alertType, severity, message string) {
	if err := c.Send(&proto.Envelope{
		Type:      proto.TypeAlert,
		AlertType: alertType,
		Severity:  severity,
		Message:   message,
	}); err != nil {
		slog.Warn("alert send failed", "alert_type", alertType, "error", err)
	}
}

// SendPreviewFrame pushes one preview frame. Oversized frames are
// dropped by the caller before reaching here.
func (c *Client) SendPreviewFrame(width, height int, data string) error {
	return c.Send(&proto.Envelope{
		Type:      proto.TypePreviewFrame,
		Timestamp: time.Now().UnixMilli(),
		Width:     width,
		Height:    height,
		Format:    "jpeg",
		Data:      data,
	})
}

// connect runs one session to completion: dial, immediate status
// update, status ticker, read loop.
func (c *Client) connect(ctx context.Context) error {
	wsURL, err := c.wsURL()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, resp, err := websocket.Dial(dialCtx, wsURL, nil)
	cancel()
	if err != nil {
		if resp != nil && resp.StatusCode == 401 {
			return fmt.Errorf("relay rejected token: %w", err)
		}
		return fmt.Errorf("dial relay: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.CloseNow()
	}()

	slog.Info("connected to relay", "url", c.relayBase)

	// Fresh telemetry straight after attach.
	c.SendStatus()

	tickCtx, tickCancel := context.WithCancel(ctx)
	defer tickCancel()
	go c.statusLoop(tickCtx)

	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		c.handleMessage(ctx, &env)
	}
}

func (c *Client) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SendStatus()
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, env *proto.Envelope) {
	switch env.Type {
	case proto.TypeConnected:
		slog.Info("relay acknowledged session", "venue_id", env.VenueID, "name", env.Name)

	case proto.TypeCommand:
		// Each command runs in its own goroutine so a slow device
		// never blocks the read loop.
		go c.runCommand(ctx, env)

	case proto.TypePong:
		// Keepalive answer, nothing to do.

	default:
		slog.Debug("unhandled relay message", "type", env.Type)
	}
}

func (c *Client) runCommand(ctx context.Context, env *proto.Envelope) {
	cmdCtx, cancel := context.WithTimeout(ctx, 9*time.Second)
	defer cancel()

	result := &proto.Envelope{
		Type:    proto.TypeCommandResult,
		ID:      env.ID,
		Command: env.Command,
	}

	res, err := c.registry.Dispatch(cmdCtx, c.agent, env.Command, env.Params)
	if err != nil {
		result.Error = err.Error()
	} else if res != nil {
		data, merr := json.Marshal(res)
		if merr != nil {
			result.Error = fmt.Sprintf("marshal result: %v", merr)
		} else {
			result.Result = data
		}
	}

	if err := c.Send(result); err != nil {
		slog.Warn("command result send failed", "command", env.Command, "id", env.ID, "error", err)
	}
}

// Run maintains the connection with exponential backoff until the
// context is cancelled.
func (c *Client) Run(ctx context.Context) {
	bo := newRelayBackoff()
	for {
		start := time.Now()
		err := c.connect(ctx)
		if ctx.Err() != nil {
			return
		}

		if time.Since(start) >= resetThreshold {
			bo.Reset()
		}

		interval := bo.NextBackOff()
		slog.Warn("disconnected from relay, reconnecting...", "error", err, "backoff", interval)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
