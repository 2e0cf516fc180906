package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/steeplecast/steeplecast/internal/proto"
)

// CreateAlert persists an alert row.
func (s *Store) CreateAlert(ctx context.Context, a *Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, venue_id, kind, type, message, context, created_at,
			acknowledged_at, acknowledged_by, escalated, resolved, auto_resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.VenueID, a.Kind, a.Type, a.Message, marshalContext(a.Context),
		fmtTime(a.CreatedAt), fmtTime(a.AcknowledgedAt), a.AcknowledgedBy,
		boolInt(a.Escalated), boolInt(a.Resolved), boolInt(a.AutoResolved))
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

const alertCols = `id, venue_id, kind, type, message, context, created_at,
	acknowledged_at, acknowledged_by, escalated, resolved, auto_resolved`

func scanAlert(row interface{ Scan(...any) error }) (*Alert, error) {
	var a Alert
	var ctxJSON, createdAt, ackedAt string
	var escalated, resolved, autoResolved int
	err := row.Scan(&a.ID, &a.VenueID, &a.Kind, &a.Type, &a.Message, &ctxJSON,
		&createdAt, &ackedAt, &a.AcknowledgedBy, &escalated, &resolved, &autoResolved)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(ctxJSON), &a.Context)
	a.CreatedAt = parseTime(createdAt)
	a.AcknowledgedAt = parseTime(ackedAt)
	a.Escalated = escalated != 0
	a.Resolved = resolved != 0
	a.AutoResolved = autoResolved != 0
	return &a, nil
}

// GetAlert looks an alert up by id.
func (s *Store) GetAlert(ctx context.Context, id string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertCols+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, proto.NewError(proto.KindNotFound, "alert %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

// GetAlertByAckPrefix resolves an /ack_XXXXXXXX token: the first eight
// characters of the alert id.
func (s *Store) GetAlertByAckPrefix(ctx context.Context, prefix string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertCols+` FROM alerts
		WHERE id LIKE ? || '%' AND acknowledged_at = ''
		ORDER BY created_at DESC LIMIT 1`, prefix)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, proto.NewError(proto.KindNotFound, "no open alert matches %s", prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert by prefix: %w", err)
	}
	return a, nil
}

// ListRecentAlerts returns the newest alerts for a venue.
func (s *Store) ListRecentAlerts(ctx context.Context, venueID string, limit int) ([]*Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+alertCols+` FROM alerts WHERE venue_id = ?
		ORDER BY created_at DESC LIMIT ?`, venueID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert records who acknowledged the alert and when.
func (s *Store) AcknowledgeAlert(ctx context.Context, id, responder string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET acknowledged_at = ?, acknowledged_by = ?, resolved = 1
		WHERE id = ?`, fmtTime(at), responder, id)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return proto.NewError(proto.KindNotFound, "alert %s not found", id)
	}
	return nil
}

// MarkAlertEscalated flags the alert after the escalation timer fires.
func (s *Store) MarkAlertEscalated(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE alerts SET escalated = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark escalated: %w", err)
	}
	return nil
}

// MarkAlertAutoResolved records that the auto-recovery recipe succeeded.
func (s *Store) MarkAlertAutoResolved(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE alerts SET auto_resolved = 1, resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark auto resolved: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
