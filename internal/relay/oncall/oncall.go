// Package oncall manages TD registration, the weekly on-call
// rotation and the swap protocol.
package oncall

import (
	"context"
	"fmt"
	"time"

	"github.com/steeplecast/steeplecast/internal/proto"
	"github.com/steeplecast/steeplecast/internal/relay/id"
	"github.com/steeplecast/steeplecast/internal/relay/store"
	"github.com/steeplecast/steeplecast/internal/util/timefmt"
)

// guestTTL is the lifetime of an issued guest token.
const guestTTL = 24 * time.Hour

// Service wraps rotation logic over the store.
type Service struct {
	store *store.Store
	swaps *SwapTable

	now func() time.Time // test hook
}

// New creates a Service.
func New(st *store.Store) *Service {
	return &Service{
		store: st,
		swaps: NewSwapTable(),
		now:   time.Now,
	}
}

// Swaps exposes the in-memory swap table.
func (s *Service) Swaps() *SwapTable { return s.swaps }

// Register handles /register CODE: resolves the venue, upserts the
// roster row and mirrors it into the on-call roster (unassigned,
// non-primary).
func (s *Service) Register(ctx context.Context, code string, userID, chatID int64, name string) (*store.Venue, error) {
	venue, err := s.store.GetVenueByRegistrationCode(ctx, code)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.store.UpsertRosterEntry(ctx, &store.RosterEntry{
		VenueID:        venue.ID,
		TelegramUserID: userID,
		TelegramChatID: chatID,
		TDName:         name,
		Active:         true,
		RegisteredAt:   now,
	}); err != nil {
		return nil, err
	}

	if err := s.store.UpsertOnCallEntry(ctx, &store.OnCallEntry{
		VenueID:        venue.ID,
		TDName:         name,
		TelegramChatID: chatID,
		TelegramUserID: userID,
		WeekOfISOWeek:  "",
		IsPrimary:      false,
	}); err != nil {
		return nil, err
	}

	return venue, nil
}

// RegisterGuest handles /register GUEST-xxxxxxxx: first claim wins,
// and the guest joins the roster like a registered TD scoped to the
// venue.
func (s *Service) RegisterGuest(ctx context.Context, tok string, userID, chatID int64, name string) (*store.Venue, error) {
	g, err := s.store.ClaimGuestToken(ctx, tok, chatID, s.now())
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, proto.NewError(proto.KindNotFound, "guest token is invalid, expired or already claimed")
	}

	display := g.DisplayName
	if display == "" {
		display = name
	}
	if err := s.store.UpsertRosterEntry(ctx, &store.RosterEntry{
		VenueID:        g.VenueID,
		TelegramUserID: userID,
		TelegramChatID: chatID,
		TDName:         display,
		Active:         true,
		RegisteredAt:   s.now(),
	}); err != nil {
		return nil, err
	}
	return s.store.GetVenue(ctx, g.VenueID)
}

// IssueGuestToken creates a 24-hour guest token for a venue.
func (s *Service) IssueGuestToken(ctx context.Context, venueID, displayName string) (*store.GuestToken, error) {
	if _, err := s.store.GetVenue(ctx, venueID); err != nil {
		return nil, err
	}
	now := s.now()
	g := &store.GuestToken{
		Token:       id.GuestToken(),
		VenueID:     venueID,
		DisplayName: displayName,
		CreatedAt:   now,
		ExpiresAt:   now.Add(guestTTL),
	}
	if err := s.store.CreateGuestToken(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// SweepGuestTokens deletes expired guest tokens. Run daily.
func (s *Service) SweepGuestTokens(ctx context.Context) (int64, error) {
	return s.store.SweepExpiredGuestTokens(ctx, s.now())
}

// Current returns the on-call entry for a venue: the current ISO
// week's assignee, falling back to the primary, then the oldest
// roster entry.
func (s *Service) Current(ctx context.Context, venueID string) (*store.OnCallEntry, error) {
	entries, err := s.store.ListOnCall(ctx, venueID)
	if err != nil {
		return nil, err
	}

	week := timefmt.ISOWeek(s.now())
	for _, e := range entries {
		if e.WeekOfISOWeek == week {
			return e, nil
		}
	}
	for _, e := range entries {
		if e.IsPrimary {
			return e, nil
		}
	}

	roster, err := s.store.ListRoster(ctx, venueID)
	if err != nil {
		return nil, err
	}
	if len(roster) > 0 {
		oldest := roster[0]
		return &store.OnCallEntry{
			VenueID:        venueID,
			TDName:         oldest.TDName,
			TelegramChatID: oldest.TelegramChatID,
			TelegramUserID: oldest.TelegramUserID,
		}, nil
	}
	return nil, proto.NewError(proto.KindNotFound, "no TD registered for venue %s", venueID)
}

// Set assigns the current ISO week to the TD matching the fuzzy name.
func (s *Service) Set(ctx context.Context, venueID, name string) (*store.OnCallEntry, error) {
	target, err := s.store.FindOnCallByName(ctx, venueID, name)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, proto.NewError(proto.KindNotFound, "no TD matching %q in venue roster", name)
	}

	week := timefmt.ISOWeek(s.now())
	if err := s.store.AssignOnCallWeek(ctx, venueID, target.TelegramUserID, week); err != nil {
		return nil, err
	}
	target.WeekOfISOWeek = week
	return target, nil
}

// RequestSwap starts the swap protocol: the requester asks the TD
// matching name to take the current week.
func (s *Service) RequestSwap(ctx context.Context, venueID string, requesterChatID int64, requesterName, targetName string) (*SwapRequest, error) {
	target, err := s.store.FindOnCallByName(ctx, venueID, targetName)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, proto.NewError(proto.KindNotFound, "no TD matching %q in venue roster", targetName)
	}
	if target.TelegramChatID == 0 {
		return nil, proto.NewError(proto.KindConflict, "%s has no chat registered and cannot confirm a swap", target.TDName)
	}

	req := &SwapRequest{
		Key:     id.SwapKey(),
		VenueID: venueID,
		WeekKey: timefmt.ISOWeek(s.now()),
		Requester: SwapParty{ChatID: requesterChatID, Name: requesterName},
		Target:    SwapParty{ChatID: target.TelegramChatID, Name: target.TDName},
		ExpiresAt: s.now().Add(swapTTL),

		targetUserID: target.TelegramUserID,
	}
	s.swaps.Add(req)
	return req, nil
}

// ConfirmSwap consumes the oldest pending swap targeting the chat and
// assigns that week to the target.
func (s *Service) ConfirmSwap(ctx context.Context, targetChatID int64) (*SwapRequest, error) {
	req := s.swaps.TakeOldestFor(targetChatID, s.now())
	if req == nil {
		return nil, proto.NewError(proto.KindNotFound, "no pending swap request for you")
	}
	if err := s.store.AssignOnCallWeek(ctx, req.VenueID, req.targetUserID, req.WeekKey); err != nil {
		return nil, fmt.Errorf("assign swapped week: %w", err)
	}
	return req, nil
}
