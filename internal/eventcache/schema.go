package eventcache

import (
	"database/sql"
	"fmt"
)

// migrations is an ordered list of schema changes, applied once each and
// tracked in schema_migrations — the teacher depended on
// github.com/spearson78/migrate for exactly this (ordered, idempotent
// schema evolution against modernc.org/sqlite), but that package's
// source never ships in this pack (the bridge package that imported it
// is absent from _examples — only cmd/git-nostr-bridge's call sites
// into it survive) and it has no other usage anywhere in the corpus to
// ground a call against, so its real API surface cannot be verified
// here. This hand-rolled runner follows the teacher's own visible raw-
// SQL idiom (cmd/git-nostr-bridge/main.go's getSince/updateSince use
// db.Exec with literal SQL, no query builder) rather than guessing at
// spearson78/migrate's API. See DESIGN.md's dropped-dependency entry.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id         TEXT PRIMARY KEY,
		kind       INTEGER NOT NULL,
		pubkey     TEXT NOT NULL,
		d_tag      TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		content    TEXT NOT NULL,
		tags_json  TEXT NOT NULL,
		sig        TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_kind_author ON events(kind, pubkey)`,
	`CREATE INDEX IF NOT EXISTS idx_events_kind_d ON events(kind, d_tag)`,
	`CREATE INDEX IF NOT EXISTS idx_events_kind_author_d ON events(kind, pubkey, d_tag)`,
}

// applyMigrations runs every not-yet-applied entry of migrations in
// order, recording progress in schema_migrations so a restart doesn't
// re-run (and doesn't skip) any step.
func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		return fmt.Errorf("count applied migrations: %w", err)
	}

	for i := applied; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, i); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i, err)
		}
	}
	return nil
}
