package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/steeplecast/steeplecast/internal/proto"
)

// CreateVenue inserts a venue row. A name collision surfaces as a
// conflict error.
func (s *Store) CreateVenue(ctx context.Context, v *Venue) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO venues (id, name, email, token, registration_code, registered_at,
			service_times, schedule_type, expires_at, alert_bot_token)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Name, v.Email, v.Token, v.RegistrationCode, fmtTime(v.RegisteredAt),
		marshalSchedule(v.ServiceTimes), v.ScheduleType, fmtTime(v.ExpiresAt), v.AlertBotToken,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return proto.NewError(proto.KindConflict, "venue %q already exists", v.Name)
		}
		return fmt.Errorf("create venue: %w", err)
	}
	return nil
}

func scanVenue(row interface{ Scan(...any) error }) (*Venue, error) {
	var v Venue
	var registeredAt, serviceTimes, expiresAt string
	err := row.Scan(&v.ID, &v.Name, &v.Email, &v.Token, &v.RegistrationCode,
		&registeredAt, &serviceTimes, &v.ScheduleType, &expiresAt, &v.AlertBotToken)
	if err != nil {
		return nil, err
	}
	v.RegisteredAt = parseTime(registeredAt)
	v.ServiceTimes = unmarshalSchedule(serviceTimes)
	v.ExpiresAt = parseTime(expiresAt)
	return &v, nil
}

const venueCols = `id, name, email, token, registration_code, registered_at,
	service_times, schedule_type, expires_at, alert_bot_token`

// GetVenue looks a venue up by id.
func (s *Store) GetVenue(ctx context.Context, id string) (*Venue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+venueCols+` FROM venues WHERE id = ?`, id)
	v, err := scanVenue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, proto.NewError(proto.KindNotFound, "venue %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get venue: %w", err)
	}
	return v, nil
}

// GetVenueByName looks a venue up by its unique name.
func (s *Store) GetVenueByName(ctx context.Context, name string) (*Venue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+venueCols+` FROM venues WHERE name = ?`, name)
	v, err := scanVenue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, proto.NewError(proto.KindNotFound, "venue %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get venue by name: %w", err)
	}
	return v, nil
}

// GetVenueByRegistrationCode resolves a /register code.
func (s *Store) GetVenueByRegistrationCode(ctx context.Context, code string) (*Venue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+venueCols+` FROM venues WHERE registration_code = ?`, strings.ToUpper(code))
	v, err := scanVenue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, proto.NewError(proto.KindNotFound, "unknown registration code")
	}
	if err != nil {
		return nil, fmt.Errorf("get venue by code: %w", err)
	}
	return v, nil
}

// ListVenues returns all venues ordered by name.
func (s *Store) ListVenues(ctx context.Context) ([]*Venue, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+venueCols+` FROM venues ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list venues: %w", err)
	}
	defer rows.Close()

	var venues []*Venue
	for rows.Next() {
		v, err := scanVenue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan venue: %w", err)
		}
		venues = append(venues, v)
	}
	return venues, rows.Err()
}

// DeleteVenue removes a venue; dependent rows cascade.
func (s *Store) DeleteVenue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM venues WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete venue: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return proto.NewError(proto.KindNotFound, "venue %s not found", id)
	}
	return nil
}

// UpdateVenueSchedule replaces the venue's recurring service times.
func (s *Store) UpdateVenueSchedule(ctx context.Context, id string, entries []ScheduleEntry) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE venues SET service_times = ? WHERE id = ?`, marshalSchedule(entries), id)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return proto.NewError(proto.KindNotFound, "venue %s not found", id)
	}
	return nil
}

// UpdateVenueAlertBotToken stores a per-venue Telegram bot credential.
func (s *Store) UpdateVenueAlertBotToken(ctx context.Context, id, botToken string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE venues SET alert_bot_token = ? WHERE id = ?`, botToken, id)
	if err != nil {
		return fmt.Errorf("update alert bot token: %w", err)
	}
	return nil
}

// AddMaintenanceWindow records a maintenance window for a venue.
func (s *Store) AddMaintenanceWindow(ctx context.Context, w *MaintenanceWindow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO maintenance_windows (venue_id, start_at, end_at, reason)
		VALUES (?, ?, ?, ?)`,
		w.VenueID, fmtTime(w.Start), fmtTime(w.End), w.Reason)
	if err != nil {
		return fmt.Errorf("add maintenance window: %w", err)
	}
	return nil
}

// ListMaintenanceWindows returns windows for a venue that end after now.
func (s *Store) ListMaintenanceWindows(ctx context.Context, venueID string, now time.Time) ([]*MaintenanceWindow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, venue_id, start_at, end_at, reason
		FROM maintenance_windows WHERE venue_id = ? AND end_at > ?
		ORDER BY start_at`, venueID, fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("list maintenance windows: %w", err)
	}
	defer rows.Close()

	var windows []*MaintenanceWindow
	for rows.Next() {
		var w MaintenanceWindow
		var start, end string
		if err := rows.Scan(&w.ID, &w.VenueID, &start, &end, &w.Reason); err != nil {
			return nil, fmt.Errorf("scan maintenance window: %w", err)
		}
		w.Start = parseTime(start)
		w.End = parseTime(end)
		windows = append(windows, &w)
	}
	return windows, rows.Err()
}
