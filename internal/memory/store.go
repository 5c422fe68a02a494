package memory

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/mira/internal/storage"
)

// Point kinds.
const (
	KindTurn = "turn"
	KindFact = "fact"
	KindTool = "tool"
)

var ErrPointNotFound = errors.New("memory point not found")

// Point is one retrievable memory item. Points are appended; Upsert with an
// existing ID is reserved for maintenance such as re-owning.
type Point struct {
	ID          string
	OwnerUserID string
	Kind        string
	Text        string
	Role        string
	Topic       string
	Tags        []string
	Importance  float64
	Scope       string
	Embedding   []float32
	CreatedAt   time.Time
}

// Scored is a Point with its cosine similarity to the query.
type Scored struct {
	Point
	Score float32
}

// Filter selects points for Scroll and ScrollByUser. Zero fields match all.
type Filter struct {
	OwnerUserID string
	Kinds       []string
	Role        string
	Since       time.Time
	Limit       int
	Offset      int
}

// Store keeps memory points in SQLite and searches them by brute-force
// cosine similarity.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const pointColumns = `id, owner_user_id, kind, text, role, topic, tags, importance, scope, embedding, created_at`

// Upsert writes points in one transaction, replacing rows with the same ID.
func (s *Store) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memory_points (`+pointColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_user_id = excluded.owner_user_id,
			kind = excluded.kind,
			text = excluded.text,
			role = excluded.role,
			topic = excluded.topic,
			tags = excluded.tags,
			importance = excluded.importance,
			scope = excluded.scope,
			embedding = excluded.embedding,
			created_at = excluded.created_at`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if p.ID == "" || p.OwnerUserID == "" {
			return fmt.Errorf("point requires id and owner")
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		tags, err := json.Marshal(nonNil(p.Tags))
		if err != nil {
			return fmt.Errorf("encoding tags for %s: %w", p.ID, err)
		}
		var blob []byte
		if len(p.Embedding) > 0 {
			blob = encodeFloat32s(p.Embedding)
		}
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.OwnerUserID, p.Kind, p.Text, p.Role, p.Topic, string(tags),
			p.Importance, p.Scope, blob, storage.FormatTime(p.CreatedAt),
		); err != nil {
			return fmt.Errorf("upserting point %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// SetEmbedding attaches vec to an existing point.
func (s *Store) SetEmbedding(ctx context.Context, id string, vec []float32) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memory_points SET embedding = ? WHERE id = ?`, encodeFloat32s(vec), id)
	if err != nil {
		return fmt.Errorf("setting embedding for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPointNotFound
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (Point, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pointColumns+` FROM memory_points WHERE id = ?`, id)
	p, err := scanPoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Point{}, ErrPointNotFound
	}
	return p, err
}

// Count returns the number of points owned by owner, or all points when
// owner is empty.
func (s *Store) Count(ctx context.Context, owner string) (int, error) {
	var n int
	var err error
	if owner == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_points`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_points WHERE owner_user_id = ?`, owner).Scan(&n)
	}
	return n, err
}

type idScore struct {
	ID    string
	Score float32
}

// Search returns the topK embedded points of owner most similar to vec.
// Only IDs and embeddings are scanned; full rows are loaded for the winners.
func (s *Store) Search(ctx context.Context, owner string, vec []float32, topK int) ([]Scored, error) {
	queryNorm := norm(vec)
	if queryNorm == 0 || topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM memory_points WHERE owner_user_id = ? AND embedding IS NOT NULL`, owner)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		score := cosine(vec, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	rows.Close()
	if h.Len() == 0 {
		return nil, nil
	}

	scores := make(map[string]float32, h.Len())
	ids := make([]any, 0, h.Len())
	for h.Len() > 0 {
		item := heap.Pop(h).(idScore)
		scores[item.ID] = item.Score
		ids = append(ids, item.ID)
	}

	full, err := s.db.QueryContext(ctx,
		`SELECT `+pointColumns+` FROM memory_points WHERE id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`, ids...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K points: %w", err)
	}
	defer full.Close()

	var results []Scored
	for full.Next() {
		p, err := scanPoint(full)
		if err != nil {
			return nil, err
		}
		results = append(results, Scored{Point: p, Score: scores[p.ID]})
	}
	if err := full.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// Keyword returns up to topK points of owner containing any of terms,
// ranked by the number of distinct terms matched, newest first on ties.
// It needs no embeddings and backs retrieval when the engine is down.
func (s *Store) Keyword(ctx context.Context, owner string, terms []string, topK int) ([]Point, error) {
	var clauses []string
	args := []any{owner}
	var lowered []string
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if len(t) < 3 {
			continue
		}
		lowered = append(lowered, t)
		clauses = append(clauses, "LOWER(text) LIKE ?")
		args = append(args, "%"+t+"%")
	}
	if len(clauses) == 0 || topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+pointColumns+` FROM memory_points
		WHERE owner_user_id = ? AND (`+strings.Join(clauses, " OR ")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	type hit struct {
		p     Point
		count int
	}
	var hits []hit
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, err
		}
		text := strings.ToLower(p.Text)
		n := 0
		for _, t := range lowered {
			if strings.Contains(text, t) {
				n++
			}
		}
		hits = append(hits, hit{p: p, count: n})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].count != hits[j].count {
			return hits[i].count > hits[j].count
		}
		return hits[i].p.CreatedAt.After(hits[j].p.CreatedAt)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]Point, len(hits))
	for i, h := range hits {
		out[i] = h.p
	}
	return out, nil
}

// ScrollByUser pages through one owner's points in creation order.
func (s *Store) ScrollByUser(ctx context.Context, f Filter) ([]Point, error) {
	if f.OwnerUserID == "" {
		return nil, fmt.Errorf("scroll by user requires an owner")
	}
	return s.Scroll(ctx, f)
}

// Scroll pages through points across all owners in creation order.
func (s *Store) Scroll(ctx context.Context, f Filter) ([]Point, error) {
	var where []string
	var args []any
	if f.OwnerUserID != "" {
		where = append(where, "owner_user_id = ?")
		args = append(args, f.OwnerUserID)
	}
	if len(f.Kinds) > 0 {
		where = append(where, "kind IN (?"+strings.Repeat(",?", len(f.Kinds)-1)+")")
		for _, k := range f.Kinds {
			args = append(args, k)
		}
	}
	if f.Role != "" {
		where = append(where, "role = ?")
		args = append(args, f.Role)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, storage.FormatTime(f.Since))
	}

	q := `SELECT ` + pointColumns + ` FROM memory_points`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at, id`
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("scrolling points: %w", err)
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPoint(r scanner) (Point, error) {
	var p Point
	var tags, createdAt string
	var blob []byte
	if err := r.Scan(&p.ID, &p.OwnerUserID, &p.Kind, &p.Text, &p.Role, &p.Topic, &tags,
		&p.Importance, &p.Scope, &blob, &createdAt); err != nil {
		return Point{}, err
	}
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return Point{}, fmt.Errorf("decoding tags for %s: %w", p.ID, err)
	}
	if len(blob) > 0 {
		vec, err := decodeFloat32sInto(nil, blob)
		if err != nil {
			return Point{}, fmt.Errorf("decoding embedding for %s: %w", p.ID, err)
		}
		p.Embedding = vec
	}
	t, err := storage.ParseTime(createdAt)
	if err != nil {
		return Point{}, fmt.Errorf("parsing created_at for %s: %w", p.ID, err)
	}
	p.CreatedAt = t
	return p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes, reusing buf when it is
// large enough.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine returns dot(a,b)/(aNorm*|b|). Mismatched dimensions score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bSq += float64(b[i]) * float64(b[i])
	}
	if bSq == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * math.Sqrt(bSq)))
}

// idScoreHeap is a min-heap by Score holding the current top-K.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
