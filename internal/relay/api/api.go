// Package api serves the relay's admin HTTP surface.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/steeplecast/steeplecast/internal/proto"
	"github.com/steeplecast/steeplecast/internal/relay/alert"
	"github.com/steeplecast/steeplecast/internal/relay/bus"
	"github.com/steeplecast/steeplecast/internal/relay/dispatch"
	"github.com/steeplecast/steeplecast/internal/relay/id"
	"github.com/steeplecast/steeplecast/internal/relay/oncall"
	"github.com/steeplecast/steeplecast/internal/relay/schedule"
	"github.com/steeplecast/steeplecast/internal/relay/sessionmgr"
	"github.com/steeplecast/steeplecast/internal/relay/store"
	"github.com/steeplecast/steeplecast/internal/relay/token"
	"github.com/steeplecast/steeplecast/internal/util/timefmt"
)

// Handler holds the admin API's collaborators.
type Handler struct {
	Store      *store.Store
	Signer     *token.Signer
	Sessions   *sessionmgr.Manager
	Dispatcher *dispatch.Dispatcher
	Alerts     *alert.Pipeline
	OnCall     *oncall.Service
	Schedule   *schedule.Engine
	Bus        *bus.Bus
	APIKey     string
	StartedAt  time.Time

	// Relayed and Controllers feed the health report from the session
	// layer's counters.
	Relayed     func() int64
	Controllers func() int64
}

// Routes registers all /api endpoints on the mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.Handle("GET /api/health", h.auth(h.health))
	mux.Handle("POST /api/venues/register", h.auth(h.registerVenue))
	mux.Handle("GET /api/venues", h.auth(h.listVenues))
	mux.Handle("DELETE /api/venues/{id}", h.auth(h.deleteVenue))
	mux.Handle("PUT /api/venues/{id}/schedule", h.auth(h.putSchedule))
	mux.Handle("PUT /api/venues/{id}/maintenance", h.auth(h.putMaintenance))
	mux.Handle("POST /api/venues/{id}/guest", h.auth(h.issueGuest))
	mux.Handle("GET /api/venues/{id}/oncall", h.auth(h.getOnCall))
	mux.Handle("PUT /api/venues/{id}/oncall", h.auth(h.putOnCall))
	mux.Handle("POST /api/command", h.auth(h.command))
	mux.Handle("POST /api/broadcast", h.auth(h.broadcast))
	mux.Handle("POST /api/alerts/{id}/acknowledge", h.auth(h.acknowledge))
	mux.Handle("GET /api/dashboard/stream", h.auth(h.sse))
}

// auth verifies the admin API key from the x-api-key header or the
// apikey query parameter.
func (h *Handler) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("x-api-key")
		if key == "" {
			key = r.URL.Query().Get("apikey")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.APIKey)) != 1 {
			writeError(w, proto.NewError(proto.KindUnauthenticated, "missing or invalid api key"))
			return
		}
		next(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := proto.KindOf(err)
	var perr *proto.Error
	msg := "internal error"
	if errors.As(err, &perr) {
		msg = perr.Msg
	} else {
		slog.Error("api internal error", "error", err)
	}
	writeJSON(w, proto.HTTPStatus(kind), map[string]string{
		"error": msg,
		"kind":  string(kind),
	})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return proto.NewError(proto.KindInvalidParams, "malformed JSON body")
	}
	return nil
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	venues, err := h.Store.ListVenues(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var relayed int64
	if h.Relayed != nil {
		relayed = h.Relayed()
	}
	var controllers int64
	if h.Controllers != nil {
		controllers = h.Controllers()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime":               int64(time.Since(h.StartedAt).Seconds()),
		"registeredVenues":     len(venues),
		"connectedVenues":      h.Sessions.Count(),
		"controllers":          controllers,
		"totalMessagesRelayed": relayed,
	})
}

func (h *Handler) registerVenue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		// Optional event-type venue with an expiry.
		ScheduleType string `json:"scheduleType"`
		ExpiresAt    string `json:"expiresAt"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, proto.NewError(proto.KindInvalidParams, "name is required"))
		return
	}

	// Duplicate names conflict; the existing record is left untouched.
	if existing, err := h.Store.GetVenueByName(r.Context(), req.Name); err == nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "venue name already registered",
			"kind":    string(proto.KindConflict),
			"venueId": existing.ID,
		})
		return
	}

	venueID := id.Venue()
	now := time.Now()
	signed, err := h.Signer.Issue(venueID, req.Name, now)
	if err != nil {
		writeError(w, err)
		return
	}

	scheduleType := "recurring"
	var expiresAt time.Time
	if req.ScheduleType == "event" {
		scheduleType = "event"
		if req.ExpiresAt != "" {
			expiresAt, _ = timefmt.Parse(req.ExpiresAt)
		}
	}

	v := &store.Venue{
		ID:               venueID,
		Name:             req.Name,
		Email:            req.Email,
		Token:            signed,
		RegistrationCode: id.RegistrationCode(),
		RegisteredAt:     now,
		ScheduleType:     scheduleType,
		ExpiresAt:        expiresAt,
	}
	if err := h.Store.CreateVenue(r.Context(), v); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"venueId":          v.ID,
		"name":             v.Name,
		"token":            v.Token,
		"registrationCode": v.RegistrationCode,
	})
}

func (h *Handler) listVenues(w http.ResponseWriter, r *http.Request) {
	venues, err := h.Store.ListVenues(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	type row struct {
		VenueID      string          `json:"venueId"`
		Name         string          `json:"name"`
		Connected    bool            `json:"connected"`
		LastSeen     string          `json:"lastSeen,omitempty"`
		Telemetry    *proto.Snapshot `json:"telemetry,omitempty"`
		ScheduleType string          `json:"scheduleType"`
	}
	out := make([]row, 0, len(venues))
	for _, v := range venues {
		item := row{VenueID: v.ID, Name: v.Name, ScheduleType: v.ScheduleType}
		if sess := h.Sessions.Get(v.ID); sess != nil {
			item.Connected = true
			item.Telemetry = sess.Snapshot()
			if !sess.LastTelemetryAt.IsZero() {
				item.LastSeen = timefmt.Format(sess.LastTelemetryAt)
			}
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) deleteVenue(w http.ResponseWriter, r *http.Request) {
	venueID := r.PathValue("id")
	if sess := h.Sessions.Get(venueID); sess != nil {
		sess.Close(4000, "venue deleted")
	}
	if err := h.Store.DeleteVenue(r.Context(), venueID); err != nil {
		writeError(w, err)
		return
	}
	h.Schedule.Forget(venueID)
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) putSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceTimes []store.ScheduleEntry `json:"serviceTimes"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	for _, e := range req.ServiceTimes {
		if e.DayOfWeek < 0 || e.DayOfWeek > 6 || e.StartHour < 0 || e.StartHour > 23 ||
			e.StartMin < 0 || e.StartMin > 59 || e.DurationHours <= 0 {
			writeError(w, proto.NewError(proto.KindInvalidParams, "invalid schedule entry"))
			return
		}
	}
	if err := h.Store.UpdateVenueSchedule(r.Context(), r.PathValue("id"), req.ServiceTimes); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func (h *Handler) putMaintenance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Start  string `json:"start"`
		End    string `json:"end"`
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	start, err1 := timefmt.Parse(req.Start)
	end, err2 := timefmt.Parse(req.End)
	if err1 != nil || err2 != nil || !end.After(start) {
		writeError(w, proto.NewError(proto.KindInvalidParams, "start and end must be ISO-8601 with end after start"))
		return
	}
	venueID := r.PathValue("id")
	if _, err := h.Store.GetVenue(r.Context(), venueID); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Store.AddMaintenanceWindow(r.Context(), &store.MaintenanceWindow{
		VenueID: venueID, Start: start, End: end, Reason: req.Reason,
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func (h *Handler) issueGuest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"displayName"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	g, err := h.OnCall.IssueGuestToken(r.Context(), r.PathValue("id"), req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     g.Token,
		"expiresAt": timefmt.Format(g.ExpiresAt),
	})
}

func (h *Handler) getOnCall(w http.ResponseWriter, r *http.Request) {
	entry, err := h.OnCall.Current(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tdName": entry.TDName,
		"week":   entry.WeekOfISOWeek,
	})
}

func (h *Handler) putOnCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.OnCall.Set(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tdName": entry.TDName,
		"week":   entry.WeekOfISOWeek,
	})
}

func (h *Handler) command(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VenueID string         `json:"venueId"`
		Command string         `json:"command"`
		Params  map[string]any `json:"params"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.VenueID == "" || req.Command == "" {
		writeError(w, proto.NewError(proto.KindInvalidParams, "venueId and command are required"))
		return
	}
	if _, err := h.Store.GetVenue(r.Context(), req.VenueID); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.Dispatcher.Send(req.VenueID, req.Command, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) broadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string         `json:"command"`
		Params  map[string]any `json:"params"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Command == "" {
		writeError(w, proto.NewError(proto.KindInvalidParams, "command is required"))
		return
	}
	writeJSON(w, http.StatusOK, h.Dispatcher.Broadcast(req.Command, req.Params))
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Responder string `json:"responder"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Alerts.Acknowledge(r.Context(), r.PathValue("id"), req.Responder); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": true})
}
