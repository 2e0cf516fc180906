// Package store is the relay's persistence layer over SQLite. One
// query per method, all timestamps ISO-8601 UTC strings.
package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/steeplecast/steeplecast/internal/util/timefmt"
)

// ScheduleEntry is one recurring service slot.
type ScheduleEntry struct {
	DayOfWeek     int     `json:"dayOfWeek"` // 0 = Sunday
	StartHour     int     `json:"startHour"`
	StartMin      int     `json:"startMin"`
	DurationHours float64 `json:"durationHours"`
	Label         string  `json:"label,omitempty"`
}

// Venue is a registered venue row.
type Venue struct {
	ID               string
	Name             string
	Email            string
	Token            string
	RegistrationCode string
	RegisteredAt     time.Time
	ServiceTimes     []ScheduleEntry
	ScheduleType     string // "recurring" | "event"
	ExpiresAt        time.Time
	AlertBotToken    string
}

// Alert is a persisted alert row.
type Alert struct {
	ID             string
	VenueID        string
	Kind           string
	Type           string
	Message        string
	Context        map[string]any
	CreatedAt      time.Time
	AcknowledgedAt time.Time
	AcknowledgedBy string
	Escalated      bool
	Resolved       bool
	AutoResolved   bool
}

// RosterEntry is a registered TD for a venue.
type RosterEntry struct {
	VenueID        string
	TelegramUserID int64
	TelegramChatID int64
	TDName         string
	Phone          string
	Active         bool
	RegisteredAt   time.Time
}

// OnCallEntry mirrors the on_call table.
type OnCallEntry struct {
	VenueID        string
	TDName         string
	TelegramChatID int64
	TelegramUserID int64
	Phone          string
	WeekOfISOWeek  string
	IsPrimary      bool
}

// GuestToken is a time-limited venue access token.
type GuestToken struct {
	Token           string
	VenueID         string
	DisplayName     string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	ClaimedByChatID int64
}

// MaintenanceWindow suppresses a venue's service window while active.
type MaintenanceWindow struct {
	ID      int64
	VenueID string
	Start   time.Time
	End     time.Time
	Reason  string
}

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// New creates a Store over an opened database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return timefmt.Format(t)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := timefmt.Parse(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func marshalSchedule(entries []ScheduleEntry) string {
	if entries == nil {
		entries = []ScheduleEntry{}
	}
	b, _ := json.Marshal(entries)
	return string(b)
}

func unmarshalSchedule(s string) []ScheduleEntry {
	var entries []ScheduleEntry
	_ = json.Unmarshal([]byte(s), &entries)
	return entries
}

func marshalContext(ctx map[string]any) string {
	if ctx == nil {
		return "{}"
	}
	b, _ := json.Marshal(ctx)
	return string(b)
}
