package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/steeplecast/steeplecast/internal/metrics"
	"github.com/steeplecast/steeplecast/internal/util/timefmt"
)

// sseKeepalive is the comment interval that keeps proxies from
// closing an idle stream.
const sseKeepalive = 30 * time.Second

// sse streams relay broadcasts to a dashboard: one initial snapshot
// event, then one event per bus publish, with periodic keepalives.
func (h *Handler) sse(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	metrics.SSESubscribers.Inc()
	defer metrics.SSESubscribers.Dec()

	// Initial snapshot.
	if err := h.writeSSESnapshot(w, r); err != nil {
		return
	}
	flusher.Flush()

	sub := h.Bus.Subscribe(128)
	defer h.Bus.Unsubscribe(sub)

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-sub.C():
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) writeSSESnapshot(w http.ResponseWriter, r *http.Request) error {
	venues, err := h.Store.ListVenues(r.Context())
	if err != nil {
		return err
	}

	type row struct {
		VenueID   string `json:"venueId"`
		Name      string `json:"name"`
		Connected bool   `json:"connected"`
	}
	rows := make([]row, 0, len(venues))
	for _, v := range venues {
		rows = append(rows, row{VenueID: v.ID, Name: v.Name, Connected: h.Sessions.IsOnline(v.ID)})
	}

	snapshot := map[string]any{
		"type":   "snapshot",
		"at":     timefmt.Format(time.Now()),
		"venues": rows,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
