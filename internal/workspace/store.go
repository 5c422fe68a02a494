// Package workspace is the local notes provider: free-form notes plus the
// backlog and sprint items used by workforce tools.
package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/mira/internal/storage"
)

const (
	KindNote    = "note"
	KindBacklog = "backlog"
	KindSprint  = "sprint"
)

var ErrNotFound = errors.New("workspace entry not found")

type Entry struct {
	ID          string    `json:"id"`
	OwnerUserID string    `json:"owner_user_id"`
	Kind        string    `json:"kind"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Status      string    `json:"status,omitempty"`
	Source      string    `json:"source,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Patch lists the fields to change on Update. Nil fields are kept.
type Patch struct {
	Title  *string `json:"title,omitempty"`
	Body   *string `json:"body,omitempty"`
	Status *string `json:"status,omitempty"`
}

// Store keeps workspace entries in the shared SQLite database.
type Store struct {
	db    *sql.DB
	index *Index
	now   func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithIndex enables semantic ranking for Search. Entries written through the
// store are added to the index as they change.
func (s *Store) WithIndex(idx *Index) *Store {
	s.index = idx
	return s
}

const entryColumns = `id, owner_user_id, kind, title, body, status, source, created_at, updated_at`

func (s *Store) Create(ctx context.Context, e Entry) (Entry, error) {
	if strings.TrimSpace(e.Title) == "" && strings.TrimSpace(e.Body) == "" {
		return Entry{}, fmt.Errorf("entry needs a title or body")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Kind == "" {
		e.Kind = KindNote
	}
	now := s.now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `INSERT INTO workspace_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerUserID, e.Kind, e.Title, e.Body, e.Status, e.Source,
		storage.FormatTime(e.CreatedAt), storage.FormatTime(e.UpdatedAt),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("inserting workspace entry: %w", err)
	}
	s.indexEntry(ctx, e)
	return e, nil
}

func (s *Store) Get(ctx context.Context, owner, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM workspace_entries WHERE id = ? AND owner_user_id = ?`, id, owner)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, ErrNotFound
	}
	return e, err
}

func (s *Store) Update(ctx context.Context, owner, id string, p Patch) (Entry, error) {
	e, err := s.Get(ctx, owner, id)
	if err != nil {
		return Entry{}, err
	}
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Body != nil {
		e.Body = *p.Body
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	e.UpdatedAt = s.now().UTC()

	_, err = s.db.ExecContext(ctx, `UPDATE workspace_entries SET title = ?, body = ?, status = ?, updated_at = ? WHERE id = ? AND owner_user_id = ?`,
		e.Title, e.Body, e.Status, storage.FormatTime(e.UpdatedAt), id, owner)
	if err != nil {
		return Entry{}, fmt.Errorf("updating workspace entry: %w", err)
	}
	s.indexEntry(ctx, e)
	return e, nil
}

// Changes returns entries created or updated after since, oldest first.
func (s *Store) Changes(ctx context.Context, owner string, since time.Time) ([]Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM workspace_entries
		WHERE owner_user_id = ? AND updated_at > ? ORDER BY updated_at ASC`, owner, storage.FormatTime(since))
}

func (s *Store) ListByKind(ctx context.Context, owner, kind string) ([]Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM workspace_entries
		WHERE owner_user_id = ? AND kind = ? ORDER BY created_at ASC, rowid ASC`, owner, kind)
}

// Search returns up to limit entries relevant to query. With an index the
// ranking is semantic; otherwise (or when the index fails) entries are
// ranked by how many query terms they contain.
func (s *Store) Search(ctx context.Context, owner, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 5
	}
	if s.index != nil {
		ids, err := s.index.Query(ctx, owner, query, limit)
		if err == nil && len(ids) > 0 {
			var out []Entry
			for _, id := range ids {
				e, err := s.Get(ctx, owner, id)
				if err != nil {
					continue
				}
				out = append(out, e)
			}
			return out, nil
		}
		if err != nil {
			slog.Warn("workspace index query failed, falling back to keyword search", "error", err)
		}
	}
	return s.keywordSearch(ctx, owner, query, limit)
}

func (s *Store) keywordSearch(ctx context.Context, owner, query string, limit int) ([]Entry, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(terms))
	args := []any{owner}
	for _, t := range terms {
		clauses = append(clauses, `(LOWER(title) LIKE ? OR LOWER(body) LIKE ?)`)
		pattern := "%" + t + "%"
		args = append(args, pattern, pattern)
	}
	entries, err := s.query(ctx, `SELECT `+entryColumns+` FROM workspace_entries
		WHERE owner_user_id = ? AND (`+strings.Join(clauses, " OR ")+`)`, args...)
	if err != nil {
		return nil, err
	}

	score := func(e Entry) int {
		text := strings.ToLower(e.Title + " " + e.Body)
		n := 0
		for _, t := range terms {
			n += strings.Count(text, t)
		}
		return n
	}
	sort.SliceStable(entries, func(i, j int) bool {
		si, sj := score(entries[i]), score(entries[j])
		if si != sj {
			return si > sj
		}
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) indexEntry(ctx context.Context, e Entry) {
	if s.index == nil {
		return
	}
	if err := s.index.Add(ctx, e); err != nil {
		slog.Warn("indexing workspace entry failed", "id", e.ID, "error", err)
	}
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var e Entry
	var createdAt, updatedAt string
	if err := sc.Scan(&e.ID, &e.OwnerUserID, &e.Kind, &e.Title, &e.Body, &e.Status, &e.Source, &createdAt, &updatedAt); err != nil {
		return Entry{}, err
	}
	var err error
	if e.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return Entry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = storage.ParseTime(updatedAt); err != nil {
		return Entry{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return e, nil
}
