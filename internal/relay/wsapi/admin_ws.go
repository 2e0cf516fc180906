package wsapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/steeplecast/steeplecast/internal/metrics"
)

// adminMessage is an inbound frame from an admin dashboard.
type adminMessage struct {
	Type    string         `json:"type"`
	VenueID string         `json:"venueId,omitempty"`
	Command string         `json:"command,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

// venueSummary is one row of the venue_list snapshot.
type venueSummary struct {
	VenueID   string `json:"venueId"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// adminConn serializes writes to one dashboard socket. The bus
// writer goroutine and command replies share it.
type adminConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *adminConn) write(ctx context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return wsjson.Write(wctx, c.conn, v)
}

// AdminHandler returns the /controller endpoint.
func (h *Handler) AdminHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("apikey")
		if key == "" {
			key = r.Header.Get("x-api-key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.APIKey)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		sock, err := websocket.Accept(w, r, nil)
		if err != nil {
			slog.Debug("ws/controller: accept failed", "error", err)
			return
		}
		defer func() { _ = sock.CloseNow() }()

		metrics.AdminConnections.Inc()
		h.adminConns.Add(1)
		defer func() {
			metrics.AdminConnections.Dec()
			h.adminConns.Add(-1)
		}()

		ctx := r.Context()
		conn := &adminConn{conn: sock}

		if err := h.sendVenueList(ctx, conn); err != nil {
			return
		}

		sub := h.Bus.Subscribe(128)
		defer h.Bus.Unsubscribe(sub)

		// Writer: relay broadcasts to this admin connection.
		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			for {
				select {
				case <-ctx.Done():
					return
				case <-h.ShutdownCh:
					_ = sock.Close(websocket.StatusGoingAway, "relay shutting down")
					return
				case ev := <-sub.C():
					if err := conn.write(ctx, ev); err != nil {
						return
					}
				}
			}
		}()

		// Reader: command injections from the dashboard.
		for {
			var msg adminMessage
			if err := wsjson.Read(ctx, sock, &msg); err != nil {
				break
			}
			h.handleAdminMessage(ctx, conn, &msg)
		}
		<-writeDone
	})
}

func (h *Handler) sendVenueList(ctx context.Context, conn *adminConn) error {
	venues, err := h.Store.ListVenues(ctx)
	if err != nil {
		return err
	}
	list := make([]venueSummary, 0, len(venues))
	for _, v := range venues {
		list = append(list, venueSummary{
			VenueID:   v.ID,
			Name:      v.Name,
			Connected: h.Sessions.IsOnline(v.ID),
		})
	}
	return conn.write(ctx, map[string]any{
		"type":   "venue_list",
		"venues": list,
	})
}

func (h *Handler) handleAdminMessage(ctx context.Context, conn *adminConn, msg *adminMessage) {
	switch msg.Type {
	case "command":
		res, err := h.Dispatcher.Send(msg.VenueID, msg.Command, msg.Params)
		reply := map[string]any{"type": "command_accepted", "venueId": msg.VenueID}
		if err != nil {
			reply["type"] = "command_rejected"
			reply["error"] = err.Error()
		} else {
			reply["sent"] = res.Sent
			reply["queued"] = res.Queued
			reply["id"] = res.ID
		}
		_ = conn.write(ctx, reply)

	case "venue_list":
		_ = h.sendVenueList(ctx, conn)

	default:
		slog.Debug("unknown admin message", "type", msg.Type)
	}
}
