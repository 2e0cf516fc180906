// Package wsapi serves the relay's WebSocket legs: agents attach on
// /church with a signed venue token, operator dashboards attach on
// /controller with the admin API key.
package wsapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/steeplecast/steeplecast/internal/metrics"
	"github.com/steeplecast/steeplecast/internal/proto"
	"github.com/steeplecast/steeplecast/internal/relay/alert"
	"github.com/steeplecast/steeplecast/internal/relay/bus"
	"github.com/steeplecast/steeplecast/internal/relay/dispatch"
	"github.com/steeplecast/steeplecast/internal/relay/sessionmgr"
	"github.com/steeplecast/steeplecast/internal/relay/store"
	"github.com/steeplecast/steeplecast/internal/relay/token"
)

// Handler serves both WS legs.
type Handler struct {
	Store      *store.Store
	Signer     *token.Signer
	Sessions   *sessionmgr.Manager
	Pending    *sessionmgr.PendingCommands
	Dispatcher *dispatch.Dispatcher
	Alerts     *alert.Pipeline
	Bus        *bus.Bus
	APIKey     string
	ShutdownCh <-chan struct{}

	relayed    atomic.Int64
	adminConns atomic.Int64
}

// MessagesRelayed reports the number of agent messages handled.
func (h *Handler) MessagesRelayed() int64 {
	return h.relayed.Load()
}

// AdminConnections reports the number of live dashboard sockets.
func (h *Handler) AdminConnections() int64 {
	return h.adminConns.Load()
}

// AgentHandler returns the /church endpoint.
func (h *Handler) AgentHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-h.ShutdownCh:
			http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
			return
		default:
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			slog.Debug("ws/church: accept failed", "error", err)
			return
		}

		rawToken := r.URL.Query().Get("token")
		claims, err := h.Signer.Verify(rawToken, time.Now())
		if err != nil {
			_ = conn.Close(websocket.StatusPolicyViolation, "invalid token")
			return
		}

		venue, err := h.Store.GetVenue(r.Context(), claims.VenueID)
		if err != nil {
			_ = conn.Close(websocket.StatusPolicyViolation, "unknown venue")
			return
		}

		h.serveAgent(conn, venue)
	})
}

// serveAgent runs an authenticated agent session to completion.
func (h *Handler) serveAgent(conn *websocket.Conn, venue *store.Venue) {
	sess := sessionmgr.NewSession(venue.ID, venue.Name, conn)
	h.Sessions.Attach(sess)
	defer func() {
		if h.Sessions.Detach(sess) {
			h.Bus.Publish(bus.Event{Type: "disconnected", VenueID: venue.ID, VenueName: venue.Name})
		}
		sess.Close(websocket.StatusNormalClosure, "")
	}()

	slog.Info("agent connected", "venue_id", venue.ID, "name", venue.Name)
	h.Bus.Publish(bus.Event{Type: "connected", VenueID: venue.ID, VenueName: venue.Name})

	if err := sess.Send(&proto.Envelope{
		Type:    proto.TypeConnected,
		VenueID: venue.ID,
		Name:    venue.Name,
	}); err != nil {
		return
	}

	// Deliver commands captured during a brief disconnect.
	h.Dispatcher.DrainQueued(venue.ID)

	// Read until the socket drops. Messages from one agent are handled
	// in arrival order.
	ctx := context.Background()
	for {
		select {
		case <-sess.Done():
			return
		case <-h.ShutdownCh:
			return
		default:
		}

		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			slog.Info("agent disconnected", "venue_id", venue.ID, "error", err)
			return
		}
		h.handleAgentMessage(ctx, sess, venue, &env)
	}
}

func (h *Handler) handleAgentMessage(ctx context.Context, sess *sessionmgr.Session, venue *store.Venue, env *proto.Envelope) {
	metrics.MessagesRelayed.Inc()
	h.relayed.Add(1)

	switch env.Type {
	case proto.TypeStatusUpdate:
		sess.UpdateSnapshot(env.Status)
		h.Bus.Publish(bus.Event{Type: proto.TypeStatusUpdate, VenueID: venue.ID, VenueName: venue.Name, Payload: env})

	case proto.TypeAlert:
		if _, err := h.Alerts.Process(ctx, venue.ID, env); err != nil {
			slog.Error("alert pipeline", "venue_id", venue.ID, "error", err)
		}
		h.Bus.Publish(bus.Event{Type: proto.TypeAlert, VenueID: venue.ID, VenueName: venue.Name, Payload: env})

	case proto.TypeCommandResult:
		h.Pending.Complete(venue.ID, env)
		h.Bus.Publish(bus.Event{Type: proto.TypeCommandResult, VenueID: venue.ID, VenueName: venue.Name, Payload: env})

	case proto.TypePreviewFrame:
		if len(env.Data) > proto.MaxPreviewFrameChars {
			metrics.PreviewFramesDropped.Inc()
			return
		}
		h.Bus.Publish(bus.Event{Type: proto.TypePreviewFrame, VenueID: venue.ID, VenueName: venue.Name, Payload: env})

	case proto.TypePing:
		_ = sess.Send(&proto.Envelope{Type: proto.TypePong})

	default:
		// Unknown types are forwarded as broadcast.
		h.Bus.Publish(bus.Event{Type: env.Type, VenueID: venue.ID, VenueName: venue.Name, Payload: env})
	}
}
