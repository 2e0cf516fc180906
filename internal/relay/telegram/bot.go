// Package telegram is the operator chat surface: TD registration,
// alert notifications with acknowledgement tokens, on-call swaps and
// free-text commands via the NL parser.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/microcosm-cc/bluemonday"

	"github.com/steeplecast/steeplecast/internal/proto"
	"github.com/steeplecast/steeplecast/internal/relay/bus"
	"github.com/steeplecast/steeplecast/internal/relay/oncall"
	"github.com/steeplecast/steeplecast/internal/relay/store"
)

// Dispatcher injects a command and waits for its correlated result.
type Dispatcher interface {
	SendAndAwait(ctx context.Context, venueID, command string, params map[string]any) (*proto.Envelope, error)
}

// Acknowledger resolves alerts from /ack_ tokens.
type Acknowledger interface {
	AcknowledgeByPrefix(ctx context.Context, prefix, responder string) (*store.Alert, error)
}

// Snapshots reads last-known telemetry for /status.
type Snapshots interface {
	Snapshot(venueID string) *proto.Snapshot
	IsOnline(venueID string) bool
}

// botAPI is the narrow tgbotapi surface used, split out for tests.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot routes Telegram traffic for all venues.
type Bot struct {
	api         botAPI
	store       *store.Store
	dispatcher  Dispatcher
	acks        Acknowledger
	rotation    *oncall.Service
	snapshots   Snapshots
	adminChatID int64

	parse func(text string) (command string, params map[string]any, ok bool)

	// Per-venue alert bots, lazily constructed from the venue's own
	// credential. Falls back to the default api.
	mu        sync.Mutex
	venueBots map[string]botAPI

	sanitize *bluemonday.Policy

	newBot func(token string) (botAPI, error) // test hook
}

// Config wires a Bot.
type Config struct {
	Token       string
	AdminChatID int64
	Store       *store.Store
	Dispatcher  Dispatcher
	Acks        Acknowledger
	Rotation    *oncall.Service
	Snapshots   Snapshots
	Parse       func(text string) (string, map[string]any, bool)
}

// New connects the default bot credential.
func New(cfg Config) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	slog.Info("telegram bot connected", "username", api.Self.UserName)
	b := newWithAPI(api, cfg)
	return b, nil
}

func newWithAPI(api botAPI, cfg Config) *Bot {
	return &Bot{
		api:         api,
		store:       cfg.Store,
		dispatcher:  cfg.Dispatcher,
		acks:        cfg.Acks,
		rotation:    cfg.Rotation,
		snapshots:   cfg.Snapshots,
		adminChatID: cfg.AdminChatID,
		parse:       cfg.Parse,
		venueBots:   make(map[string]botAPI),
		sanitize:    bluemonday.StrictPolicy(),
		newBot: func(token string) (botAPI, error) {
			return tgbotapi.NewBotAPI(token)
		},
	}
}

// Run consumes updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

// WatchBus forwards connect/disconnect edges from the relay bus to
// the affected venue's TD chats. Telemetry and preview events stay on
// the dashboard surfaces.
func (b *Bot) WatchBus(ctx context.Context, eb *bus.Bus) {
	sub := eb.Subscribe(128)
	defer eb.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.C():
			switch ev.Type {
			case "connected":
				b.NotifyVenue(ctx, ev.VenueID, fmt.Sprintf("🟢 %s agent connected.", b.clean(ev.VenueName)))
			case "disconnected":
				b.NotifyVenue(ctx, ev.VenueID, fmt.Sprintf("🔴 %s agent disconnected.", b.clean(ev.VenueName)))
			}
		}
	}
}

// NotifyVenue sends text to every active TD chat of the venue, using
// the venue's own bot credential when configured.
func (b *Bot) NotifyVenue(ctx context.Context, venueID, text string) {
	roster, err := b.store.ListRoster(ctx, venueID)
	if err != nil {
		slog.Error("notify venue: list roster", "venue_id", venueID, "error", err)
		return
	}
	api := b.apiForVenue(ctx, venueID)
	for _, entry := range roster {
		b.sendTo(api, entry.TelegramChatID, text)
	}
}

// NotifyAdmin sends text to the admin chat via the default bot.
func (b *Bot) NotifyAdmin(_ context.Context, text string) {
	if b.adminChatID == 0 {
		return
	}
	b.sendTo(b.api, b.adminChatID, text)
}

func (b *Bot) apiForVenue(ctx context.Context, venueID string) botAPI {
	venue, err := b.store.GetVenue(ctx, venueID)
	if err != nil || venue.AlertBotToken == "" {
		return b.api
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if api, ok := b.venueBots[venueID]; ok {
		return api
	}
	api, err := b.newBot(venue.AlertBotToken)
	if err != nil {
		slog.Warn("venue bot credential rejected, using default",
			"venue_id", venueID, "error", err)
		return b.api
	}
	b.venueBots[venueID] = api
	return api
}

func (b *Bot) sendTo(api botAPI, chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := api.Send(msg); err != nil {
		slog.Warn("telegram send failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.sendTo(b.api, chatID, text)
}

// clean strips any markup from venue/TD-provided strings before they
// are embedded in messages.
func (b *Bot) clean(s string) string {
	return strings.TrimSpace(b.sanitize.Sanitize(s))
}
