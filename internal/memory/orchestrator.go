// Package memory keeps a user's long-term memory: the permanent
// conversation log, extracted facts, tool interactions, and the retrieval
// that feeds them back into prompts.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kalambet/mira/internal/facts"
	"github.com/kalambet/mira/internal/storage"
)

const (
	// FactImportance is pinned on every extracted personal fact.
	FactImportance = 0.9

	turnImportance = 0.5
	toolImportance = 0.4

	embedJobType = "embed_point"

	defaultRetrieveTimeout = 2 * time.Second
	defaultTopK            = 6
	defaultMinScore        = 0.35
	maxPendingWrites       = 16
)

// TurnLog is the append-only conversation log.
type TurnLog interface {
	AppendTurn(ctx context.Context, t storage.Turn) error
	RecentTurns(ctx context.Context, userID string, limit int) ([]storage.Turn, error)
}

// JobQueue accepts background embedding jobs.
type JobQueue interface {
	EnqueueJob(job storage.Job) error
}

// TextEmbedder produces embedding vectors.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Meta is optional metadata attached to turns and facts.
type Meta struct {
	Scope string
	Tags  []string
	Topic string
}

// Orchestrator is the memory facade used by the turn pipeline, tools and
// transports. Construct one per process.
type Orchestrator struct {
	points   *Store
	turns    TurnLog
	jobs     JobQueue
	embedder TextEmbedder
	writes   *semaphore.Weighted
	logger   *slog.Logger
	now      func() time.Time

	RetrieveTimeout time.Duration
	TopK            int
	MinScore        float32
}

// NewOrchestrator wires the orchestrator. embedder may be nil, in which case
// retrieval is keyword-only.
func NewOrchestrator(points *Store, turns TurnLog, jobs JobQueue, embedder TextEmbedder) *Orchestrator {
	return &Orchestrator{
		points:          points,
		turns:           turns,
		jobs:            jobs,
		embedder:        embedder,
		writes:          semaphore.NewWeighted(maxPendingWrites),
		logger:          slog.Default(),
		now:             func() time.Time { return time.Now().UTC() },
		RetrieveTimeout: defaultRetrieveTimeout,
		TopK:            defaultTopK,
		MinScore:        defaultMinScore,
	}
}

// Points exposes the underlying point store for maintenance tooling.
func (o *Orchestrator) Points() *Store { return o.points }

// NewWriteSet returns a write set bounded by the orchestrator's shared
// in-flight limit.
func (o *Orchestrator) NewWriteSet(timeout time.Duration) *WriteSet {
	return NewWriteSet(o.writes, timeout)
}

// RetrieveContext returns a memory context block for query, or ("", false)
// when nothing relevant is found or the lookup times out.
func (o *Orchestrator) RetrieveContext(ctx context.Context, userID, query string) (string, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, o.RetrieveTimeout)
	defer cancel()

	points, err := o.semantic(ctx, userID, query)
	if err != nil {
		o.logger.Warn("semantic retrieval failed, using keyword search", "user_id", userID, "error", err)
		points, err = o.points.Keyword(ctx, userID, strings.Fields(query), o.TopK)
		if err != nil {
			o.logger.Warn("keyword retrieval failed", "user_id", userID, "error", err)
			return "", false
		}
	}
	if len(points) == 0 {
		return "", false
	}
	return formatContext(points), true
}

func (o *Orchestrator) semantic(ctx context.Context, userID, query string) ([]Point, error) {
	if o.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	vec, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	scored, err := o.points.Search(ctx, userID, vec, o.TopK*2)
	if err != nil {
		return nil, err
	}

	// Importance nudges pinned facts above equally similar chatter.
	type ranked struct {
		p    Point
		rank float64
	}
	var keep []ranked
	for _, s := range scored {
		if s.Score < o.MinScore {
			continue
		}
		keep = append(keep, ranked{p: s.Point, rank: float64(s.Score) + 0.1*s.Importance})
	}
	sort.SliceStable(keep, func(i, j int) bool { return keep[i].rank > keep[j].rank })
	if len(keep) > o.TopK {
		keep = keep[:o.TopK]
	}
	out := make([]Point, len(keep))
	for i, k := range keep {
		out[i] = k.p
	}
	return out, nil
}

func formatContext(points []Point) string {
	var sb strings.Builder
	for _, p := range points {
		sb.WriteString("- ")
		switch p.Kind {
		case KindFact:
			sb.WriteString("[fact] ")
		case KindTool:
			sb.WriteString("[tool] ")
		default:
			if p.Role != "" {
				sb.WriteString("[" + p.Role + ", " + p.CreatedAt.Format("2006-01-02") + "] ")
			}
		}
		sb.WriteString(strings.TrimSpace(p.Text))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// AppendTurn writes one turn to the permanent log and queues it for
// embedding. The log write decides success; the point is best effort.
func (o *Orchestrator) AppendTurn(ctx context.Context, userID, role, content string, meta Meta) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	tags, err := json.Marshal(nonNil(meta.Tags))
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	now := o.now()
	turn := storage.Turn{
		ID:          uuid.New().String(),
		UserID:      userID,
		Role:        role,
		Content:     content,
		CreatedAt:   now,
		MemoryScope: meta.Scope,
		Tags:        string(tags),
		Topic:       meta.Topic,
	}
	if err := o.turns.AppendTurn(ctx, turn); err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}

	p := Point{
		ID:          turn.ID,
		OwnerUserID: userID,
		Kind:        KindTurn,
		Text:        content,
		Role:        role,
		Topic:       meta.Topic,
		Tags:        meta.Tags,
		Importance:  turnImportance,
		Scope:       meta.Scope,
		CreatedAt:   now,
	}
	if err := o.points.Upsert(ctx, []Point{p}); err != nil {
		o.logger.Warn("indexing turn failed", "user_id", userID, "error", err)
		return nil
	}
	o.enqueueEmbed(p.ID)
	return nil
}

// StoreFact appends f as a new point. The embedding is computed inline so
// the fact is searchable as soon as this returns; if the engine fails the
// fact is stored unembedded and queued.
func (o *Orchestrator) StoreFact(ctx context.Context, userID string, f facts.Fact, meta Meta) error {
	p := Point{
		ID:          uuid.New().String(),
		OwnerUserID: userID,
		Kind:        KindFact,
		Text:        f.Fact,
		Topic:       f.Topic,
		Tags:        append(append([]string{}, f.Tags...), meta.Tags...),
		Importance:  FactImportance,
		Scope:       meta.Scope,
		CreatedAt:   o.now(),
	}
	if meta.Topic != "" && p.Topic == "" {
		p.Topic = meta.Topic
	}

	queued := false
	if o.embedder != nil {
		vec, err := o.embedder.Embed(ctx, f.Fact)
		if err != nil {
			o.logger.Debug("fact embedding deferred", "user_id", userID, "error", err)
			queued = true
		} else {
			p.Embedding = vec
		}
	}
	if err := o.points.Upsert(ctx, []Point{p}); err != nil {
		return fmt.Errorf("storing fact: %w", err)
	}
	if queued {
		o.enqueueEmbed(p.ID)
	}
	return nil
}

// RecordTool remembers a tool interaction for later recall.
func (o *Orchestrator) RecordTool(ctx context.Context, userID, tool, input, summary string) error {
	p := Point{
		ID:          uuid.New().String(),
		OwnerUserID: userID,
		Kind:        KindTool,
		Text:        fmt.Sprintf("Used %s with %s. Result: %s", tool, input, truncate(summary, 500)),
		Role:        "system",
		Tags:        []string{"tool", tool},
		Importance:  toolImportance,
		CreatedAt:   o.now(),
	}
	if err := o.points.Upsert(ctx, []Point{p}); err != nil {
		return fmt.Errorf("recording tool call: %w", err)
	}
	o.enqueueEmbed(p.ID)
	return nil
}

// History returns the most recent limit turns in chronological order.
func (o *Orchestrator) History(ctx context.Context, userID string, limit int) ([]storage.Turn, error) {
	return o.turns.RecentTurns(ctx, userID, limit)
}

func (o *Orchestrator) enqueueEmbed(pointID string) {
	if o.jobs == nil || o.embedder == nil {
		return
	}
	payload, _ := json.Marshal(embedPayload{PointID: pointID})
	if err := o.jobs.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		Type:        embedJobType,
		PayloadJSON: string(payload),
	}); err != nil {
		o.logger.Warn("enqueueing embed job failed", "point_id", pointID, "error", err)
	}
}

// ScanOptions selects candidate feedback across all users.
type ScanOptions struct {
	Since    time.Time
	Keywords []string
	Limit    int
}

// Snippet is one candidate feedback message.
type Snippet struct {
	UserID    string    `json:"user_id"`
	PointID   string    `json:"point_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

var defaultFeedbackKeywords = []string{
	"feedback", "bug", "broken", "doesn't work", "does not work", "annoying",
	"confusing", "wish", "should", "love", "hate", "feature",
}

// ScanFeedback walks user-authored turns across every owner and returns
// those mentioning a feedback keyword. Administrative use only; callers
// enforce the permission.
func (o *Orchestrator) ScanFeedback(ctx context.Context, opts ScanOptions) ([]Snippet, error) {
	keywords := opts.Keywords
	if len(keywords) == 0 {
		keywords = defaultFeedbackKeywords
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	const page = 200
	var out []Snippet
	for offset := 0; len(out) < limit; offset += page {
		batch, err := o.points.Scroll(ctx, Filter{
			Kinds:  []string{KindTurn},
			Role:   "user",
			Since:  opts.Since,
			Limit:  page,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("scanning feedback: %w", err)
		}
		for _, p := range batch {
			if containsAny(p.Text, keywords) {
				out = append(out, Snippet{UserID: p.OwnerUserID, PointID: p.ID, Text: p.Text, CreatedAt: p.CreatedAt})
				if len(out) == limit {
					break
				}
			}
		}
		if len(batch) < page {
			break
		}
	}
	return out, nil
}

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
