// Package store persists notes in SQLite. The store is the source of truth;
// the search indexes are derived from it and can always be rebuilt from a
// store snapshot.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	noterr "github.com/davidzhangbj/smart-notes/internal/errors"
	"github.com/davidzhangbj/smart-notes/internal/note"
)

// NoteStore is the persistence interface the HTTP layer and CLI depend on.
type NoteStore interface {
	CreateNote(ctx context.Context, title, body string, tags []string) (*note.Note, error)
	GetNote(ctx context.Context, id string) (*note.Note, error)
	UpdateNote(ctx context.Context, id string, params UpdateParams) (*note.Note, error)
	DeleteNote(ctx context.Context, id string) error
	ListNotes(ctx context.Context) ([]*note.Note, error)
	ListNotesByTag(ctx context.Context, tag string) ([]*note.Note, error)
	TagCounts(ctx context.Context) ([]TagCount, error)
	CountNotes(ctx context.Context) (int, error)
	Close() error
}

// UpdateParams carries a partial note update. Nil fields are left unchanged.
type UpdateParams struct {
	Title *string
	Body  *string
	Tags  *[]string
}

// TagCount is one tag with the number of notes carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// SQLiteStore implements NoteStore on a single SQLite database.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ NoteStore = (*SQLiteStore)(nil)

// validateIntegrity checks an existing database before opening it for real.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens (or creates) the note database at path. An empty path
// creates an in-memory store for testing. The database runs in WAL mode so
// readers never block the writer.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, noterr.Wrapf(noterr.ErrCodeDatabase, err, "create data directory %s: %v", dir, err)
		}

		if err := validateIntegrity(path); err != nil {
			return nil, noterr.Wrapf(noterr.ErrCodeDatabase, err,
				"note database at %s failed validation: %v", path, err).
				WithSuggestion("restore the database from a backup or remove it to start fresh")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, noterr.Wrapf(noterr.ErrCodeDatabase, err, "open database: %v", err)
	}

	// Single writer connection prevents lock contention with modernc.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA for modernc.org/sqlite; DSN params are
	// not honored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, noterr.Wrapf(noterr.ErrCodeDatabase, err, "set pragma: %v", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, noterr.Wrapf(noterr.ErrCodeDatabase, err, "initialize schema: %v", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS notes (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		body       TEXT NOT NULL,
		tags       TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notes_updated_at ON notes(updated_at DESC);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateNote validates, normalizes, and inserts a new note.
func (s *SQLiteStore) CreateNote(ctx context.Context, title, body string, tags []string) (*note.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errStoreClosed()
	}

	tags = note.NormalizeTags(tags)
	if err := note.Validate(title, body, tags); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	n := &note.Note{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(title),
		Body:      body,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tagsJSON, err := json.Marshal(n.Tags)
	if err != nil {
		return nil, noterr.Wrapf(noterr.ErrCodeInternal, err, "encode tags: %v", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notes (id, title, body, tags, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.Title, n.Body, string(tagsJSON),
		n.CreatedAt.Format(time.RFC3339Nano), n.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, noterr.Wrapf(noterr.ErrCodeDatabase, err, "insert note: %v", err)
	}

	return n, nil
}

// GetNote fetches one note by id.
func (s *SQLiteStore) GetNote(ctx context.Context, id string) (*note.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errStoreClosed()
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, body, tags, created_at, updated_at FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, noterr.Newf(noterr.ErrCodeNoteNotFound, "note %s not found", id)
	}
	if err != nil {
		return nil, noterr.Wrapf(noterr.ErrCodeDatabase, err, "get note %s: %v", id, err)
	}
	return n, nil
}

// UpdateNote applies a partial update. The creation timestamp is preserved;
// updated_at is bumped so index sync can order write events.
func (s *SQLiteStore) UpdateNote(ctx context.Context, id string, params UpdateParams) (*note.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errStoreClosed()
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, body, tags, created_at, updated_at FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, noterr.Newf(noterr.ErrCodeNoteNotFound, "note %s not found", id)
	}
	if err != nil {
		return nil, noterr.Wrapf(noterr.ErrCodeDatabase, err, "load note %s: %v", id, err)
	}

	if params.Title != nil {
		n.Title = strings.TrimSpace(*params.Title)
	}
	if params.Body != nil {
		n.Body = *params.Body
	}
	if params.Tags != nil {
		n.Tags = note.NormalizeTags(*params.Tags)
	}
	if err := note.Validate(n.Title, n.Body, n.Tags); err != nil {
		return nil, err
	}

	n.UpdatedAt = time.Now().UTC()
	if !n.UpdatedAt.After(n.CreatedAt) {
		n.UpdatedAt = n.CreatedAt.Add(time.Nanosecond)
	}

	tagsJSON, err := json.Marshal(n.Tags)
	if err != nil {
		return nil, noterr.Wrapf(noterr.ErrCodeInternal, err, "encode tags: %v", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE notes SET title = ?, body = ?, tags = ?, updated_at = ? WHERE id = ?`,
		n.Title, n.Body, string(tagsJSON), n.UpdatedAt.Format(time.RFC3339Nano), id)
	if err != nil {
		return nil, noterr.Wrapf(noterr.ErrCodeDatabase, err, "update note %s: %v", id, err)
	}

	return n, nil
}

// DeleteNote removes a note. Deleting an unknown id is an error so the API
// layer can report 404.
func (s *SQLiteStore) DeleteNote(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed()
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return noterr.Wrapf(noterr.ErrCodeDatabase, err, "delete note %s: %v", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return noterr.Wrapf(noterr.ErrCodeDatabase, err, "delete note %s: %v", id, err)
	}
	if affected == 0 {
		return noterr.Newf(noterr.ErrCodeNoteNotFound, "note %s not found", id)
	}
	return nil
}

// ListNotes returns all notes ordered by last update, newest first.
func (s *SQLiteStore) ListNotes(ctx context.Context) ([]*note.Note, error) {
	return s.queryNotes(ctx,
		`SELECT id, title, body, tags, created_at, updated_at FROM notes ORDER BY updated_at DESC, id ASC`)
}

// ListNotesByTag returns notes carrying the tag, newest first. Matching is
// case-insensitive, same as note.HasTag.
func (s *SQLiteStore) ListNotesByTag(ctx context.Context, tag string) ([]*note.Note, error) {
	notes, err := s.ListNotes(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*note.Note, 0, len(notes))
	for _, n := range notes {
		if n.HasTag(tag) {
			filtered = append(filtered, n)
		}
	}
	return filtered, nil
}

// TagCounts returns every tag in use with its note count, sorted by count
// descending then tag ascending.
func (s *SQLiteStore) TagCounts(ctx context.Context) ([]TagCount, error) {
	notes, err := s.ListNotes(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, n := range notes {
		for _, tag := range n.Tags {
			counts[tag]++
		}
	}

	out := make([]TagCount, 0, len(counts))
	for tag, count := range counts {
		out = append(out, TagCount{Tag: tag, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out, nil
}

// CountNotes returns the number of stored notes.
func (s *SQLiteStore) CountNotes(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, errStoreClosed()
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&count); err != nil {
		return 0, noterr.Wrapf(noterr.ErrCodeDatabase, err, "count notes: %v", err)
	}
	return count, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database file path, empty for in-memory stores.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) queryNotes(ctx context.Context, query string, args ...any) ([]*note.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errStoreClosed()
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, noterr.Wrapf(noterr.ErrCodeDatabase, err, "query notes: %v", err)
	}
	defer func() { _ = rows.Close() }()

	var notes []*note.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, noterr.Wrapf(noterr.ErrCodeDatabase, err, "scan note: %v", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, noterr.Wrapf(noterr.ErrCodeDatabase, err, "iterate notes: %v", err)
	}
	if notes == nil {
		notes = []*note.Note{}
	}
	return notes, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*note.Note, error) {
	var (
		n         note.Note
		tagsJSON  string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&n.ID, &n.Title, &n.Body, &tagsJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tagsJSON), &n.Tags); err != nil {
		return nil, fmt.Errorf("decode tags for note %s: %w", n.ID, err)
	}

	var err error
	if n.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for note %s: %w", n.ID, err)
	}
	if n.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for note %s: %w", n.ID, err)
	}
	return &n, nil
}

func errStoreClosed() error {
	return noterr.Newf(noterr.ErrCodeDatabase, "note store is closed")
}
