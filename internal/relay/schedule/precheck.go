package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/steeplecast/steeplecast/internal/proto"
	"github.com/steeplecast/steeplecast/internal/relay/store"
)

const (
	// precheckLead brackets how far before a service start the check
	// fires: any start 25–35 minutes out qualifies.
	precheckLeadMin = 25 * time.Minute
	precheckLeadMax = 35 * time.Minute

	// precheckCooldown suppresses repeat checks per venue.
	precheckCooldown = 2 * time.Hour

	precheckInterval = 5 * time.Minute
)

// CommandSender dispatches a command to a venue's agent and waits for
// the correlated result.
type CommandSender interface {
	SendAndAwait(ctx context.Context, venueID, command string, params map[string]any) (*proto.Envelope, error)
}

// Notify delivers a text message to a venue's TD chats.
type Notify func(ctx context.Context, venueID, text string)

// Prechecker runs pre-service checks ahead of each scheduled start.
type Prechecker struct {
	store  *store.Store
	sender CommandSender
	notify Notify

	mu      sync.Mutex
	lastRun map[string]time.Time // venueID -> last check

	now func() time.Time // test hook
}

// NewPrechecker creates a Prechecker.
func NewPrechecker(st *store.Store, sender CommandSender, notify Notify) *Prechecker {
	return &Prechecker{
		store:   st,
		sender:  sender,
		notify:  notify,
		lastRun: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Tick checks every venue once. Exposed for tests; Run calls it every
// five minutes.
func (p *Prechecker) Tick(ctx context.Context) {
	venues, err := p.store.ListVenues(ctx)
	if err != nil {
		slog.Error("precheck tick: list venues", "error", err)
		return
	}

	now := p.now()
	for _, v := range venues {
		if !p.startUpcoming(v, now) {
			continue
		}

		p.mu.Lock()
		last, ok := p.lastRun[v.ID]
		if ok && now.Sub(last) < precheckCooldown {
			p.mu.Unlock()
			continue
		}
		p.lastRun[v.ID] = now
		p.mu.Unlock()

		go p.runCheck(ctx, v)
	}
}

// startUpcoming reports whether any scheduled start lies 25–35
// minutes in the future.
func (p *Prechecker) startUpcoming(v *store.Venue, now time.Time) bool {
	if v.ScheduleType == "event" {
		return false
	}
	day := int(now.Weekday())
	secOfDay := now.Hour()*3600 + now.Minute()*60 + now.Second()
	for _, entry := range v.ServiceTimes {
		if entry.DayOfWeek != day {
			continue
		}
		lead := entry.StartHour*3600 + entry.StartMin*60 - secOfDay
		if lead >= int(precheckLeadMin.Seconds()) && lead <= int(precheckLeadMax.Seconds()) {
			return true
		}
	}
	return false
}

func (p *Prechecker) runCheck(ctx context.Context, v *store.Venue) {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := p.sender.SendAndAwait(checkCtx, v.ID, "system.preServiceCheck", nil)
	if err != nil {
		p.notify(ctx, v.ID, fmt.Sprintf("⚠️ Pre-service check for %s could not run: %s", v.Name, err))
		return
	}
	p.notify(ctx, v.ID, FormatPrecheckReport(v.Name, res))
}

// FormatPrecheckReport renders a command_result from
// system.preServiceCheck into a single human-readable message.
func FormatPrecheckReport(venueName string, res *proto.Envelope) string {
	if res.Error != "" {
		return fmt.Sprintf("⚠️ Pre-service check for %s failed: %s", venueName, res.Error)
	}

	var report struct {
		Checks []struct {
			Name   string `json:"name"`
			OK     bool   `json:"ok"`
			Detail string `json:"detail,omitempty"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(res.Result, &report); err != nil || len(report.Checks) == 0 {
		return fmt.Sprintf("✅ Pre-service check for %s completed.", venueName)
	}

	failed := 0
	body := ""
	for _, c := range report.Checks {
		icon := "✅"
		if !c.OK {
			icon = "❌"
			failed++
		}
		body += fmt.Sprintf("\n%s %s", icon, c.Name)
		if c.Detail != "" {
			body += " — " + c.Detail
		}
	}

	head := fmt.Sprintf("✅ Pre-service check for %s: all %d checks passed.", venueName, len(report.Checks))
	if failed > 0 {
		head = fmt.Sprintf("⚠️ Pre-service check for %s: %d of %d checks failed.", venueName, failed, len(report.Checks))
	}
	return head + body
}

// Run ticks until the context is cancelled.
func (p *Prechecker) Run(ctx context.Context) {
	ticker := time.NewTicker(precheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}
