// Package eventcache implements the on-disk event store described in
// SPEC_FULL.md §6: "an LMDB-style store keyed by event id with secondary
// indices on (kind, author, d-tag)". It is grounded on the teacher's own
// direct database/sql usage (cmd/git-nostr-bridge's getSince/updateSince
// and Repository/RepositoryPermission tables) but backs onto a schema
// shaped for replaceable-event lookups instead of the teacher's
// bespoke per-feature tables. Same driver as the teacher: modernc.org/sqlite
// (pure Go, no cgo).
package eventcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nbd-wtf/go-nostr"
	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed event cache. It implements the narrow
// eventdb.Store contract described in SPEC_FULL.md §6: Get/Put/Query.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite file at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("mkdir event cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the backing database.
func (s *Store) Close() error { return s.db.Close() }

// Put inserts an event keyed by id; if an event with that id is already
// stored it is left untouched (events are content-addressed, so a Put of
// the same id is idempotent).
func (s *Store) Put(ctx context.Context, e *nostr.Event) error {
	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, kind, pubkey, d_tag, created_at, content, tags_json, sig)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING;
	`, e.ID, e.Kind, e.PubKey, protocolIdentifier(e.Tags), e.CreatedAt.Time().Unix(), e.Content, string(tagsJSON), e.Sig)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

// Get looks up a single event by id.
func (s *Store) Get(ctx context.Context, id string) (*nostr.Event, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, kind, pubkey, created_at, content, tags_json, sig FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get event %s: %w", id, err)
	}
	return e, true, nil
}

// Filter selects events by kind, author, and/or d-tag, the three
// dimensions the on-disk store indexes (§6). A nil/empty field is not
// constrained. Since, if set, restricts to events at or after that time.
type Filter struct {
	Kinds   []int
	Authors []string
	DTag    string
	Since   *time.Time
}

// Query returns every cached event matching f, ordered by created_at then
// id ascending (SPEC_FULL.md §4.2's consumer ordering rule).
func (s *Store) Query(ctx context.Context, f Filter) ([]*nostr.Event, error) {
	query := `SELECT id, kind, pubkey, created_at, content, tags_json, sig FROM events WHERE 1=1`
	var args []any

	if len(f.Kinds) > 0 {
		query += " AND kind IN (" + placeholders(len(f.Kinds)) + ")"
		for _, k := range f.Kinds {
			args = append(args, k)
		}
	}
	if len(f.Authors) > 0 {
		query += " AND pubkey IN (" + placeholders(len(f.Authors)) + ")"
		for _, a := range f.Authors {
			args = append(args, a)
		}
	}
	if f.DTag != "" {
		query += " AND d_tag = ?"
		args = append(args, f.DTag)
	}
	if f.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, f.Since.Unix())
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*nostr.Event
	for rows.Next() {
		e, err := scanEventRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetByCoordinate is the resolver/state-engine convenience form of Query
// named in §4.2: one kind, one author, one d-tag.
func (s *Store) GetByCoordinate(ctx context.Context, kind int, author, identifier string) ([]*nostr.Event, error) {
	return s.Query(ctx, Filter{Kinds: []int{kind}, Authors: []string{author}, DTag: identifier})
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

func protocolIdentifier(tags nostr.Tags) string {
	for _, t := range tags {
		if len(t) >= 2 && t[0] == "d" {
			return t[1]
		}
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*nostr.Event, error) {
	return scanCommon(row)
}

func scanEventRows(rows *sql.Rows) (*nostr.Event, error) {
	return scanCommon(rows)
}

func scanCommon(row rowScanner) (*nostr.Event, error) {
	var (
		id, pubkey, content, tagsJSON, sig string
		kind                                int
		createdAt                           int64
	)
	if err := row.Scan(&id, &kind, &pubkey, &createdAt, &content, &tagsJSON, &sig); err != nil {
		return nil, err
	}

	var tags nostr.Tags
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}

	return &nostr.Event{
		ID:        id,
		PubKey:    pubkey,
		Kind:      kind,
		CreatedAt: nostr.Timestamp(createdAt),
		Content:   content,
		Tags:      tags,
		Sig:       sig,
	}, nil
}
