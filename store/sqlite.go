package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/joinava/cache"
)

// SQLite is a Store backed by a SQLite database. Entries are serialized to
// JSON; the vary mapping is evaluated in Go after selecting all variants
// for an id, so param values must be JSON scalars. Expired rows are skipped
// on read and purged on write.
type SQLite struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// NewSQLite opens (and if needed initializes) the database at the given
// filename. Use "file::memory:?cache=shared" for an in-memory database.
func NewSQLite(filename string) (*SQLite, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			id TEXT NOT NULL,
			vary_key TEXT NOT NULL,
			entry TEXT NOT NULL,
			birth_ms INTEGER NOT NULL,
			expires_ms INTEGER,
			PRIMARY KEY (id, vary_key)
		)`,
		`CREATE INDEX IF NOT EXISTS entries_expires_idx ON entries (expires_ms)`,
		`PRAGMA journal_mode=WAL`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing cache db: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(id string, params cache.Params) ([]*cache.Entry, error) {
	rows, err := s.db.Query("SELECT entry, expires_ms FROM entries WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	nowMs := time.Now().UnixMilli()
	entries := make([]*cache.Entry, 0)
	for rows.Next() {
		var raw []byte
		var expires sql.NullInt64
		if err := rows.Scan(&raw, &expires); err != nil {
			return nil, err
		}
		if expires.Valid && nowMs > expires.Int64 {
			continue
		}
		var e cache.Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("corrupt cache entry for id %q: %w", id, err)
		}
		if e.Vary.Matches(params) {
			entries = append(entries, &e)
		}
	}
	return entries, rows.Err()
}

// GetMany runs the lookups sequentially on one connection; the per-id query
// is already a batch over all variants.
func (s *SQLite) GetMany(reqs []cache.IDParams) ([][]*cache.Entry, error) {
	results := make([][]*cache.Entry, len(reqs))
	for i, req := range reqs {
		entries, err := s.Get(req.ID, req.Params)
		if err != nil {
			return nil, err
		}
		results[i] = entries
	}
	return results, nil
}

func (s *SQLite) Store(inputs []cache.StoreInput) error {
	inputs = cache.DedupeLatest(inputs)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, in := range inputs {
		raw, err := json.Marshal(in.Entry)
		if err != nil {
			tx.Rollback()
			return err
		}
		var expires sql.NullInt64
		if !math.IsInf(in.MaxStoreFor, 1) {
			expires = sql.NullInt64{
				Int64: now.Add(time.Duration(in.MaxStoreFor * float64(time.Second))).UnixMilli(),
				Valid: true,
			}
		}
		_, err = tx.Exec(
			`INSERT INTO entries (id, vary_key, entry, birth_ms, expires_ms) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (id, vary_key) DO UPDATE SET entry = excluded.entry, birth_ms = excluded.birth_ms, expires_ms = excluded.expires_ms`,
			in.Entry.ID, in.Entry.Vary.Key(), raw, in.Entry.BirthDate().UnixMilli(), expires,
		)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	// piggyback purging of expired rows on the write path
	if _, err := tx.Exec("DELETE FROM entries WHERE expires_ms IS NOT NULL AND expires_ms < ?", now.UnixMilli()); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Delete(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.Exec("DELETE FROM entries WHERE id = ?", id)
	return err
}

func (s *SQLite) Close(time.Duration) error {
	return s.db.Close()
}
