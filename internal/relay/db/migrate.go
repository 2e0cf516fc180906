package db

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Migrations ship inside the relay binary so a fresh venue deployment
// needs nothing beyond the executable: 00001 creates the venue,
// alert, roster, on-call, guest-token and maintenance tables.
//
//go:embed migrations/*.sql
var migrations embed.FS

// Migrate brings the relay schema up to date. Runs on every startup,
// before the session layer accepts its first agent.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply relay migrations: %w", err)
	}

	return nil
}
