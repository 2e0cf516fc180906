package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/steeplecast/steeplecast/internal/proto"
)

// commandTimeout bounds a dispatched command's round trip from chat.
const commandTimeout = 12 * time.Second

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID
	userID := msg.From.ID
	name := b.clean(strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName))

	switch {
	case strings.HasPrefix(text, "/register"):
		b.handleRegister(ctx, chatID, userID, name, strings.TrimSpace(strings.TrimPrefix(text, "/register")))
	case strings.HasPrefix(text, "/ack_"):
		b.handleAck(ctx, chatID, name, strings.TrimPrefix(text, "/ack_"))
	case strings.HasPrefix(text, "/swap"):
		b.handleSwap(ctx, chatID, name, strings.TrimSpace(strings.TrimPrefix(text, "/swap")))
	case text == "/confirmswap":
		b.handleConfirmSwap(ctx, chatID)
	case strings.HasPrefix(text, "/setoncall"):
		b.handleSetOnCall(ctx, chatID, strings.TrimSpace(strings.TrimPrefix(text, "/setoncall")))
	case text == "/oncall":
		b.handleOnCall(ctx, chatID)
	case text == "/status":
		b.handleStatus(ctx, chatID)
	case strings.HasPrefix(text, "/start"):
		// Deep links arrive as "/start CODE".
		if arg := strings.TrimSpace(strings.TrimPrefix(text, "/start")); arg != "" {
			b.handleRegister(ctx, chatID, userID, name, arg)
		} else {
			b.reply(chatID, helpText)
		}
	case text == "/help":
		b.reply(chatID, helpText)
	case strings.HasPrefix(text, "/"):
		b.reply(chatID, "Unknown command. Try /help.")
	default:
		b.handleFreeText(ctx, chatID, text)
	}
}

const helpText = `SteepleCast operator bot.
/register CODE — join a venue's TD roster
/register GUEST-xxxxxxxx — claim a guest pass
/status — last telemetry for your venue
/oncall — who is on call this week
/setoncall NAME — assign this week's on-call
/swap NAME — ask another TD to take your week
/confirmswap — accept a pending swap
Or just type what you need: "camera 2", "mute channel 5", "go live".`

func (b *Bot) handleRegister(ctx context.Context, chatID, userID int64, name, arg string) {
	if arg == "" {
		b.reply(chatID, "Usage: /register CODE")
		return
	}

	var venueName string
	if strings.HasPrefix(strings.ToUpper(arg), "GUEST-") {
		venue, err := b.rotation.RegisterGuest(ctx, arg, userID, chatID, name)
		if err != nil {
			b.reply(chatID, "Could not claim guest pass: "+err.Error())
			return
		}
		venueName = venue.Name
	} else {
		venue, err := b.rotation.Register(ctx, arg, userID, chatID, name)
		if err != nil {
			b.reply(chatID, "Registration failed: "+err.Error())
			return
		}
		venueName = venue.Name
	}
	b.reply(chatID, fmt.Sprintf("Welcome, %s! You are registered for %s and will receive its alerts.", name, b.clean(venueName)))
}

func (b *Bot) handleAck(ctx context.Context, chatID int64, name, prefix string) {
	a, err := b.acks.AcknowledgeByPrefix(ctx, prefix, name)
	if err != nil {
		b.reply(chatID, "No open alert matches that token.")
		return
	}
	b.reply(chatID, fmt.Sprintf("Acknowledged %s (%s). Escalation cancelled.", a.Type, a.ID[:8]))
}

// venueFor resolves which venue a chat is acting on. Chats registered
// to several venues act on the first; precise targeting stays on the
// admin API.
func (b *Bot) venueFor(ctx context.Context, chatID int64) (string, error) {
	venues, err := b.store.VenuesForChat(ctx, chatID)
	if err != nil {
		return "", err
	}
	if len(venues) == 0 {
		return "", proto.NewError(proto.KindNotFound, "this chat is not registered to a venue; use /register CODE")
	}
	return venues[0], nil
}

func (b *Bot) handleSwap(ctx context.Context, chatID int64, name, targetName string) {
	if targetName == "" {
		b.reply(chatID, "Usage: /swap NAME")
		return
	}
	venueID, err := b.venueFor(ctx, chatID)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	req, err := b.rotation.RequestSwap(ctx, venueID, chatID, name, targetName)
	if err != nil {
		b.reply(chatID, "Swap request failed: "+err.Error())
		return
	}

	b.reply(chatID, fmt.Sprintf("Asked %s to take week %s. The swap expires in 24h.", b.clean(req.Target.Name), req.WeekKey))
	b.sendTo(b.api, req.Target.ChatID, fmt.Sprintf(
		"%s asked you to take the on-call week %s. Reply /confirmswap to accept.",
		b.clean(req.Requester.Name), req.WeekKey))
}

func (b *Bot) handleConfirmSwap(ctx context.Context, chatID int64) {
	req, err := b.rotation.ConfirmSwap(ctx, chatID)
	if err != nil {
		b.reply(chatID, "No pending swap request for you.")
		return
	}
	b.reply(chatID, fmt.Sprintf("You are now on call for week %s.", req.WeekKey))
	b.sendTo(b.api, req.Requester.ChatID, fmt.Sprintf(
		"%s confirmed the swap and is on call for week %s.", b.clean(req.Target.Name), req.WeekKey))
}

func (b *Bot) handleSetOnCall(ctx context.Context, chatID int64, name string) {
	if name == "" {
		b.reply(chatID, "Usage: /setoncall NAME")
		return
	}
	venueID, err := b.venueFor(ctx, chatID)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	entry, err := b.rotation.Set(ctx, venueID, name)
	if err != nil {
		b.reply(chatID, "Could not set on-call: "+err.Error())
		return
	}
	b.reply(chatID, fmt.Sprintf("%s is on call for week %s.", b.clean(entry.TDName), entry.WeekOfISOWeek))
}

func (b *Bot) handleOnCall(ctx context.Context, chatID int64) {
	venueID, err := b.venueFor(ctx, chatID)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	entry, err := b.rotation.Current(ctx, venueID)
	if err != nil {
		b.reply(chatID, "Nobody is on call yet for this venue.")
		return
	}
	b.reply(chatID, fmt.Sprintf("On call this week: %s", b.clean(entry.TDName)))
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	venueID, err := b.venueFor(ctx, chatID)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if !b.snapshots.IsOnline(venueID) {
		b.reply(chatID, "Agent offline — no live telemetry.")
		return
	}
	snap := b.snapshots.Snapshot(venueID)
	if snap == nil {
		b.reply(chatID, "Agent connected, no telemetry received yet.")
		return
	}
	b.reply(chatID, FormatStatus(snap))
}

// FormatStatus renders a telemetry snapshot for chat.
func FormatStatus(s *proto.Snapshot) string {
	var lines []string
	check := func(connected bool) string {
		if connected {
			return "✅"
		}
		return "❌"
	}
	if s.Switcher != nil {
		lines = append(lines, fmt.Sprintf("%s Switcher — PGM %d / PVW %d",
			check(s.Switcher.Connected), s.Switcher.ProgramInput, s.Switcher.PreviewInput))
	}
	if s.Streamer != nil {
		state := "idle"
		if s.Streamer.Streaming {
			state = fmt.Sprintf("live %.0f kbps @ %.0f fps", s.Streamer.Bitrate, s.Streamer.FPS)
		}
		lines = append(lines, fmt.Sprintf("%s Streamer — %s", check(s.Streamer.Connected), state))
	}
	if s.Slides != nil {
		lines = append(lines, fmt.Sprintf("%s Slides — %d/%d",
			check(s.Slides.Connected), s.Slides.SlideIndex, s.Slides.SlideTotal))
	}
	if s.Router != nil {
		lines = append(lines, fmt.Sprintf("%s Router — %d routes", check(s.Router.Connected), s.Router.RouteCount))
	}
	if s.Mixer != nil {
		muted := ""
		if s.Mixer.MainMuted {
			muted = " (MAIN MUTED)"
		}
		lines = append(lines, fmt.Sprintf("%s Mixer %s%s", check(s.Mixer.Connected), s.Mixer.Type, muted))
	}
	if s.System != nil {
		lines = append(lines, fmt.Sprintf("🖥 %s up %s", s.System.Hostname, (time.Duration(s.System.UptimeSec)*time.Second).String()))
	}
	if len(lines) == 0 {
		return "No devices reporting."
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) handleFreeText(ctx context.Context, chatID int64, text string) {
	command, params, ok := b.parse(text)
	if !ok {
		b.reply(chatID, "I didn't understand that. Try /help for examples.")
		return
	}

	venueID, err := b.venueFor(ctx, chatID)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	res, err := b.dispatcher.SendAndAwait(cmdCtx, venueID, command, params)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("%s failed: %s", command, err))
		return
	}
	if res.Error != "" {
		b.reply(chatID, fmt.Sprintf("%s failed: %s", command, res.Error))
		return
	}

	summary := strings.Trim(string(res.Result), `"`)
	if summary == "" || summary == "null" {
		summary = command + " done."
	}
	b.reply(chatID, summary)
}
