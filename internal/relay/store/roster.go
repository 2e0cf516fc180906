package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// UpsertRosterEntry inserts or refreshes a TD registration keyed by
// (venue, telegram user).
func (s *Store) UpsertRosterEntry(ctx context.Context, e *RosterEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roster (venue_id, telegram_user_id, telegram_chat_id, td_name, phone, active, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (venue_id, telegram_user_id) DO UPDATE SET
			telegram_chat_id = excluded.telegram_chat_id,
			td_name = excluded.td_name,
			active = 1,
			registered_at = excluded.registered_at`,
		e.VenueID, e.TelegramUserID, e.TelegramChatID, e.TDName, e.Phone,
		boolInt(e.Active), fmtTime(e.RegisteredAt))
	if err != nil {
		return fmt.Errorf("upsert roster entry: %w", err)
	}
	return nil
}

// ListRoster returns the active roster for a venue, oldest first.
func (s *Store) ListRoster(ctx context.Context, venueID string) ([]*RosterEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT venue_id, telegram_user_id, telegram_chat_id, td_name, phone, active, registered_at
		FROM roster WHERE venue_id = ? AND active = 1 ORDER BY registered_at`, venueID)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	defer rows.Close()

	var entries []*RosterEntry
	for rows.Next() {
		var e RosterEntry
		var active int
		var registeredAt string
		if err := rows.Scan(&e.VenueID, &e.TelegramUserID, &e.TelegramChatID,
			&e.TDName, &e.Phone, &active, &registeredAt); err != nil {
			return nil, fmt.Errorf("scan roster entry: %w", err)
		}
		e.Active = active != 0
		e.RegisteredAt = parseTime(registeredAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// VenuesForChat returns the venue ids whose roster contains the chat.
// Used to filter the Telegram fan-out.
func (s *Store) VenuesForChat(ctx context.Context, chatID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT venue_id FROM roster WHERE telegram_chat_id = ? AND active = 1`, chatID)
	if err != nil {
		return nil, fmt.Errorf("venues for chat: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateGuestToken inserts a guest token row.
func (s *Store) CreateGuestToken(ctx context.Context, g *GuestToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guest_tokens (token, venue_id, display_name, created_at, expires_at, claimed_by_chat_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		g.Token, g.VenueID, g.DisplayName, fmtTime(g.CreatedAt), fmtTime(g.ExpiresAt), g.ClaimedByChatID)
	if err != nil {
		return fmt.Errorf("create guest token: %w", err)
	}
	return nil
}

// ClaimGuestToken marks an unclaimed, unexpired token as claimed by the
// chat. First claim wins; returns the token row on success, nil when the
// token is unknown, already claimed, or expired.
func (s *Store) ClaimGuestToken(ctx context.Context, token string, chatID int64, now time.Time) (*GuestToken, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE guest_tokens SET claimed_by_chat_id = ?
		WHERE token = ? AND claimed_by_chat_id = 0 AND expires_at > ?`,
		chatID, token, fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("claim guest token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT token, venue_id, display_name, created_at, expires_at, claimed_by_chat_id
		FROM guest_tokens WHERE token = ?`, token)
	var g GuestToken
	var createdAt, expiresAt string
	if err := row.Scan(&g.Token, &g.VenueID, &g.DisplayName, &createdAt, &expiresAt, &g.ClaimedByChatID); err != nil {
		return nil, fmt.Errorf("read claimed guest token: %w", err)
	}
	g.CreatedAt = parseTime(createdAt)
	g.ExpiresAt = parseTime(expiresAt)
	return &g, nil
}

// SweepExpiredGuestTokens deletes rows past their expiry. Returns the
// number of rows removed.
func (s *Store) SweepExpiredGuestTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM guest_tokens WHERE expires_at < ?`, fmtTime(now))
	if err != nil {
		return 0, fmt.Errorf("sweep guest tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UpsertOnCallEntry inserts or refreshes an on-call roster row.
func (s *Store) UpsertOnCallEntry(ctx context.Context, e *OnCallEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO on_call (venue_id, td_name, telegram_chat_id, telegram_user_id, phone, week_of_iso_week, is_primary)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (venue_id, telegram_user_id) DO UPDATE SET
			td_name = excluded.td_name,
			telegram_chat_id = excluded.telegram_chat_id,
			phone = excluded.phone`,
		e.VenueID, e.TDName, e.TelegramChatID, e.TelegramUserID, e.Phone,
		e.WeekOfISOWeek, boolInt(e.IsPrimary))
	if err != nil {
		return fmt.Errorf("upsert on-call entry: %w", err)
	}
	return nil
}

// SetOnCallPrimary marks or unmarks a TD as the venue's primary.
func (s *Store) SetOnCallPrimary(ctx context.Context, venueID string, userID int64, primary bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE on_call SET is_primary = ? WHERE venue_id = ? AND telegram_user_id = ?`,
		boolInt(primary), venueID, userID)
	if err != nil {
		return fmt.Errorf("set on-call primary: %w", err)
	}
	return nil
}

// ListOnCall returns all on-call rows for a venue.
func (s *Store) ListOnCall(ctx context.Context, venueID string) ([]*OnCallEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT venue_id, td_name, telegram_chat_id, telegram_user_id, phone, week_of_iso_week, is_primary
		FROM on_call WHERE venue_id = ?`, venueID)
	if err != nil {
		return nil, fmt.Errorf("list on-call: %w", err)
	}
	defer rows.Close()

	var entries []*OnCallEntry
	for rows.Next() {
		var e OnCallEntry
		var isPrimary int
		if err := rows.Scan(&e.VenueID, &e.TDName, &e.TelegramChatID, &e.TelegramUserID,
			&e.Phone, &e.WeekOfISOWeek, &isPrimary); err != nil {
			return nil, fmt.Errorf("scan on-call entry: %w", err)
		}
		e.IsPrimary = isPrimary != 0
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// AssignOnCallWeek clears any existing assignment for the week and
// assigns it to the given user. One statement pair inside a
// transaction so at most one row holds the week.
func (s *Store) AssignOnCallWeek(ctx context.Context, venueID string, userID int64, weekKey string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign on-call: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE on_call SET week_of_iso_week = '' WHERE venue_id = ? AND week_of_iso_week = ?`,
		venueID, weekKey); err != nil {
		return fmt.Errorf("clear on-call week: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE on_call SET week_of_iso_week = ? WHERE venue_id = ? AND telegram_user_id = ?`,
		weekKey, venueID, userID); err != nil {
		return fmt.Errorf("assign on-call week: %w", err)
	}
	return tx.Commit()
}

// FindOnCallByName resolves a fuzzy name (case-insensitive prefix, then
// substring) within a venue's on-call roster.
func (s *Store) FindOnCallByName(ctx context.Context, venueID, name string) (*OnCallEntry, error) {
	entries, err := s.ListOnCall(ctx, venueID)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, e := range entries {
		if strings.HasPrefix(strings.ToLower(e.TDName), needle) {
			return e, nil
		}
	}
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.TDName), needle) {
			return e, nil
		}
	}
	return nil, nil
}
