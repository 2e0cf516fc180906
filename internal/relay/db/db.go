// Package db opens and migrates the relay's SQLite database, which
// holds the venue registry plus the alert, roster, on-call, guest
// token and maintenance-window tables.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens the relay database at path and applies the pragmas the
// relay depends on. Use ":memory:" for tests.
//
// WAL mode lets the read-mostly surfaces (venue list, SSE snapshot,
// /status telemetry joins) run while the session layer writes alerts
// and roster rows; foreign keys make venue deletion cascade through
// alerts, roster, on_call, guest_tokens and maintenance_windows.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		// Alert bursts and roster upserts can collide on the single
		// writer; wait out the lock instead of failing the command.
		dsn = path + "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open relay database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL", // durable enough for alert rows, half the fsyncs
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	// All mutation funnels through one writer; the store's read
	// methods are safe to share it.
	db.SetMaxOpenConns(1)

	return db, nil
}
