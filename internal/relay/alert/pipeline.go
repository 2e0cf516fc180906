// Package alert classifies incoming alerts, attempts auto-recovery,
// gates notifications on the service window, and escalates
// unacknowledged critical alerts.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/steeplecast/steeplecast/internal/metrics"
	"github.com/steeplecast/steeplecast/internal/proto"
	"github.com/steeplecast/steeplecast/internal/relay/id"
	"github.com/steeplecast/steeplecast/internal/relay/store"
	"github.com/steeplecast/steeplecast/internal/util/timefmt"
)

// escalationTimeout is how long a critical alert may sit
// unacknowledged before it is copied to the admin chat.
const escalationTimeout = 90 * time.Second

// WindowChecker reports whether a venue is inside its service window.
type WindowChecker interface {
	InWindow(ctx context.Context, venueID string) bool
}

// Recoverer dispatches an auto-fix command and waits for its result.
type Recoverer interface {
	SendAndAwait(ctx context.Context, venueID, command string, params map[string]any) (*proto.Envelope, error)
}

// Notifier delivers alert text. NotifyVenue reaches the venue's TD
// chats (using the venue's own bot credential when set); NotifyAdmin
// reaches the admin chat.
type Notifier interface {
	NotifyVenue(ctx context.Context, venueID, text string)
	NotifyAdmin(ctx context.Context, text string)
}

// Pipeline is the relay-side alert processor.
type Pipeline struct {
	store    *store.Store
	windows  WindowChecker
	recover  Recoverer
	notifier Notifier

	mu          sync.Mutex
	escalations map[string]*time.Timer // alertID -> pending escalation

	now func() time.Time // test hook
}

// New creates a Pipeline.
func New(st *store.Store, windows WindowChecker, rec Recoverer, notifier Notifier) *Pipeline {
	return &Pipeline{
		store:       st,
		windows:     windows,
		recover:     rec,
		notifier:    notifier,
		escalations: make(map[string]*time.Timer),
		now:         time.Now,
	}
}

// Process handles one alert envelope from an agent. It classifies,
// persists, auto-recovers, gates on the service window, notifies and
// arms escalation. The returned alert reflects the persisted row.
func (p *Pipeline) Process(ctx context.Context, venueID string, env *proto.Envelope) (*store.Alert, error) {
	alertType := env.AlertType
	if alertType == "" {
		alertType = "unknown"
	}
	kind := Classify(alertType)
	metrics.AlertsTotal.WithLabelValues(string(kind)).Inc()

	a := &store.Alert{
		ID:        id.Alert(),
		VenueID:   venueID,
		Kind:      string(kind),
		Type:      alertType,
		Message:   env.Message,
		Context:   env.Context,
		CreatedAt: p.now(),
	}

	// Auto-recovery runs before notification and before persistence so
	// the stored row carries the outcome.
	recipe := RecipeFor(alertType)
	autoResolved := false
	if recipe.AutoFixCommand != "" && p.recover != nil {
		autoResolved = p.tryAutoFix(ctx, venueID, recipe)
		a.AutoResolved = autoResolved
		a.Resolved = autoResolved
	}

	if err := p.store.CreateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("persist alert: %w", err)
	}

	// Gating: non-emergency alerts outside the service window are
	// persisted but not notified.
	if kind != KindEmergency && !p.windows.InWindow(ctx, venueID) {
		slog.Debug("alert outside service window, logged only",
			"venue_id", venueID, "type", alertType)
		return a, nil
	}

	venue, err := p.store.GetVenue(ctx, venueID)
	if err != nil {
		return a, err
	}

	text := p.composeMessage(venue, a, recipe, autoResolved)
	p.notifier.NotifyVenue(ctx, venueID, text)
	if kind == KindEmergency {
		p.notifier.NotifyAdmin(ctx, text)
	}

	if kind == KindCritical {
		p.armEscalation(a.ID, venueID, text)
	}

	return a, nil
}

func (p *Pipeline) tryAutoFix(ctx context.Context, venueID string, recipe Recipe) bool {
	fixCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := p.recover.SendAndAwait(fixCtx, venueID, recipe.AutoFixCommand, recipe.AutoFixParams)
	if err != nil {
		slog.Warn("auto-recovery failed", "venue_id", venueID, "command", recipe.AutoFixCommand, "error", err)
		return false
	}
	return res.Error == ""
}

func (p *Pipeline) composeMessage(venue *store.Venue, a *store.Alert, recipe Recipe, autoResolved bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s — %s\n", Icon(Kind(a.Kind)), venue.Name, a.Type)
	if a.Message != "" {
		fmt.Fprintf(&b, "%s\n", a.Message)
	}
	fmt.Fprintf(&b, "Time: %s\n", timefmt.Format(a.CreatedAt))
	fmt.Fprintf(&b, "Likely cause: %s\n", recipe.LikelyCause)
	for i, step := range recipe.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	if autoResolved {
		b.WriteString("Auto-recovery was applied and reported success.\n")
	}
	fmt.Fprintf(&b, "Acknowledge: /ack_%s", a.ID[:8])
	return b.String()
}

// armEscalation starts the 90 s acknowledgement timer for a critical
// alert. The timer body holds no pipeline locks while notifying.
func (p *Pipeline) armEscalation(alertID, venueID, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.escalations[alertID]; ok {
		prev.Stop()
	}
	p.escalations[alertID] = time.AfterFunc(escalationTimeout, func() {
		p.escalate(alertID, venueID, text)
	})
}

func (p *Pipeline) escalate(alertID, venueID, text string) {
	p.mu.Lock()
	delete(p.escalations, alertID)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := p.store.MarkAlertEscalated(ctx, alertID); err != nil {
		slog.Error("mark alert escalated", "alert_id", alertID, "error", err)
	}
	slog.Warn("alert escalated, no acknowledgement", "alert_id", alertID, "venue_id", venueID)
	p.notifier.NotifyAdmin(ctx, "ESCALATED — no TD response in 90s\n"+text)
}

// Acknowledge resolves an alert and cancels any pending escalation.
func (p *Pipeline) Acknowledge(ctx context.Context, alertID, responder string) error {
	if err := p.store.AcknowledgeAlert(ctx, alertID, responder, p.now()); err != nil {
		return err
	}
	p.cancelEscalation(alertID)
	return nil
}

// AcknowledgeByPrefix resolves an /ack_XXXXXXXX token.
func (p *Pipeline) AcknowledgeByPrefix(ctx context.Context, prefix, responder string) (*store.Alert, error) {
	a, err := p.store.GetAlertByAckPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if err := p.Acknowledge(ctx, a.ID, responder); err != nil {
		return nil, err
	}
	return a, nil
}

func (p *Pipeline) cancelEscalation(alertID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if timer, ok := p.escalations[alertID]; ok {
		timer.Stop()
		delete(p.escalations, alertID)
	}
}

// ServiceEnded records the schedule falling edge as an info alert.
func (p *Pipeline) ServiceEnded(ctx context.Context, venueID string) {
	_, err := p.Process(ctx, venueID, &proto.Envelope{
		Type:      proto.TypeAlert,
		AlertType: "service_ended",
		Severity:  string(KindInfo),
		Message:   "Service window closed.",
	})
	if err != nil {
		slog.Error("record service end", "venue_id", venueID, "error", err)
	}
}

// Shutdown cancels all pending escalation timers.
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, timer := range p.escalations {
		timer.Stop()
		delete(p.escalations, id)
	}
}
