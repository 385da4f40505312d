// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a UserStore that lives only as long as the process.
const MemoryPath = ":memory:"

//go:embed migrations/*.sql
var migrationFS embed.FS

// User is the record kept for every account that signed in.
type User struct {
	ID          string
	Name        string
	Email       string
	Picture     string
	FirstSeen   time.Time
	LastSeen    time.Time
	SignInCount int64
}

// UserStore is a SQLite backed record of accounts that signed in.  It's
// concurrently safe.
type UserStore struct {
	db     *sql.DB
	now    func() time.Time
	logger hclog.Logger
}

// Open opens the SQLite database at path and applies the schema.  Use
// MemoryPath for an in-process database.
//
// Supported options: WithNow, WithLogger
func Open(path string, opt ...Option) (*UserStore, error) {
	const op = "store.Open"
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, ErrInvalidParameter)
	}
	opts := getUserStoreOpts(opt...)

	dsn := MemoryPath
	if path != MemoryPath {
		dsn = "file:" + filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to open sqlite db: %w", op, err)
	}
	if path == MemoryPath {
		// every connection to :memory: is a new, empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: unable to ping sqlite db: %w", op, err)
	}
	s := &UserStore{
		db:     db,
		now:    opts.withNowFunc,
		logger: opts.withLogger,
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Debug("user store opened", "path", path)
	return s, nil
}

// Close releases the database.
func (s *UserStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordSignIn upserts the user's profile, bumps their sign-in count and
// returns the stored record.
func (s *UserStore) RecordSignIn(ctx context.Context, u User) (User, error) {
	const op = "UserStore.RecordSignIn"
	if s == nil || s.db == nil {
		return User{}, fmt.Errorf("%s: %w", op, ErrClosed)
	}
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return User{}, fmt.Errorf("%s: user id is empty: %w", op, ErrInvalidParameter)
	}
	now := timeToUnixMillis(s.now())
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO users (id, name, email, picture, first_seen_at, last_seen_at, sign_in_count)
		 VALUES (?, ?, ?, ?, ?, ?, 1)
		 ON CONFLICT(id) DO UPDATE SET
		    name = excluded.name,
		    email = excluded.email,
		    picture = excluded.picture,
		    last_seen_at = excluded.last_seen_at,
		    sign_in_count = users.sign_in_count + 1`,
		u.ID, u.Name, u.Email, u.Picture, now, now,
	)
	if err != nil {
		return User{}, fmt.Errorf("%s: unable to upsert user: %w", op, err)
	}
	return s.Get(ctx, u.ID)
}

// Get returns the user with id, or ErrNotFound.
func (s *UserStore) Get(ctx context.Context, id string) (User, error) {
	const op = "UserStore.Get"
	if s == nil || s.db == nil {
		return User{}, fmt.Errorf("%s: %w", op, ErrClosed)
	}
	if strings.TrimSpace(id) == "" {
		return User{}, fmt.Errorf("%s: user id is empty: %w", op, ErrInvalidParameter)
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, email, picture, first_seen_at, last_seen_at, sign_in_count
		 FROM users
		 WHERE id = ?`,
		id,
	)
	var u User
	var firstSeen, lastSeen int64
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Picture, &firstSeen, &lastSeen, &u.SignInCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, fmt.Errorf("%s: user %s: %w", op, id, ErrNotFound)
		}
		return User{}, fmt.Errorf("%s: unable to read user: %w", op, err)
	}
	u.FirstSeen = unixMillisToTime(firstSeen)
	u.LastSeen = unixMillisToTime(lastSeen)
	return u, nil
}

// Count returns the number of users recorded.
func (s *UserStore) Count(ctx context.Context) (int64, error) {
	const op = "UserStore.Count"
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("%s: %w", op, ErrClosed)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// Ping checks the database is reachable.
func (s *UserStore) Ping(ctx context.Context) error {
	const op = "UserStore.Ping"
	if s == nil || s.db == nil {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// migrate applies the embedded migrations in filename order, at most once
// each.
func (s *UserStore) migrate() error {
	const op = "UserStore.migrate"
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("%s: unable to create migration table: %w", op, err)
	}
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("%s: unable to read migrations: %w", op, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, name).Scan(&applied); err != nil {
			return fmt.Errorf("%s: unable to check migration %s: %w", op, name, err)
		}
		if applied > 0 {
			continue
		}
		content, err := fs.ReadFile(migrationFS, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("%s: unable to read migration %s: %w", op, name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: unable to apply migration %s: %w", op, name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, name, timeToUnixMillis(s.now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: unable to record migration %s: %w", op, name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.logger.Debug("applied migration", "name", name)
	}
	return nil
}

func timeToUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func unixMillisToTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}
