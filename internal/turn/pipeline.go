// Package turn runs one conversational turn end to end: identity and
// context loading, prompt assembly, memory retrieval, streamed generation
// with tools, action blocks, emotion and persistence.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/mira/internal/actions"
	"github.com/kalambet/mira/internal/config"
	"github.com/kalambet/mira/internal/emotion"
	"github.com/kalambet/mira/internal/facts"
	"github.com/kalambet/mira/internal/identity"
	"github.com/kalambet/mira/internal/llm"
	"github.com/kalambet/mira/internal/memory"
	"github.com/kalambet/mira/internal/prompt"
	"github.com/kalambet/mira/internal/storage"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUserNotFound    = errors.New("user not found")
	ErrMasterNotFound  = errors.New("master config not found")
	ErrEmptyMessage    = errors.New("empty message")
	// ErrSuperseded and ErrInterrupted are the cancellation causes of a
	// turn replaced by a newer message or stopped explicitly.
	ErrSuperseded  = errors.New("turn superseded")
	ErrInterrupted = errors.New("turn interrupted")

	errBudgetExceeded = errors.New("generation budget exceeded")
	errEmptyResponse  = errors.New("empty response")
)

// User-facing failure messages.
const (
	MsgTimeout     = "This is taking longer than expected, please try again."
	MsgTimeoutLate = "The response timed out before it finished. Please try again."
	MsgRateLimited = "I'm receiving a lot of requests right now, please wait a moment and try again."
	MsgGeneric     = "Sorry, something went wrong on my side. Please try again."
)

type Identity interface {
	GetUser(ctx context.Context, id string) (identity.User, error)
	GetMasterConfig(ctx context.Context) (identity.MasterConfig, error)
}

type Memory interface {
	RetrieveContext(ctx context.Context, userID, query string) (string, bool)
	AppendTurn(ctx context.Context, userID, role, content string, meta memory.Meta) error
	StoreFact(ctx context.Context, userID string, f facts.Fact, meta memory.Meta) error
	History(ctx context.Context, userID string, limit int) ([]storage.Turn, error)
	NewWriteSet(timeout time.Duration) *memory.WriteSet
}

type Tools interface {
	Schemas(p identity.Permissions) []llm.ToolSchema
	Executor(p identity.Permissions, ws *memory.WriteSet) llm.ExecuteFunc
}

type Actions interface {
	Process(ctx context.Context, text, userID string, settings identity.Settings) *actions.Result
}

// Deps are the pipeline's collaborators. Tools and Actions may be nil.
type Deps struct {
	Identity Identity
	Memory   Memory
	Provider llm.Provider
	Tools    Tools
	Actions  Actions
	Facts    *facts.Extractor
}

type Config struct {
	HistoryLimit     int
	LoadTimeout      time.Duration
	MemoryTimeout    time.Duration
	GenerationBudget time.Duration
	FactWriteTimeout time.Duration
	ActionTimeout    time.Duration
	FeedbackOffsets  []time.Duration
}

func DefaultConfig() Config {
	return Config{
		HistoryLimit:     20,
		LoadTimeout:      3 * time.Second,
		MemoryTimeout:    2 * time.Second,
		GenerationBudget: 90 * time.Second,
		FactWriteTimeout: 2 * time.Second,
		ActionTimeout:    10 * time.Second,
		FeedbackOffsets:  []time.Duration{3 * time.Second, 8 * time.Second, 15 * time.Second},
	}
}

// ConfigFrom converts the turn section of the service configuration.
func ConfigFrom(tc config.TurnConfig) (Config, error) {
	offsets, err := config.ParseOffsets(tc.FeedbackOffsets)
	if err != nil {
		return Config{}, fmt.Errorf("feedback offsets: %w", err)
	}
	return Config{
		HistoryLimit:     tc.HistoryLimit,
		LoadTimeout:      tc.LoadTimeout,
		MemoryTimeout:    tc.MemoryTimeout,
		GenerationBudget: tc.GenerationBudget,
		FactWriteTimeout: tc.FactWriteTimeout,
		ActionTimeout:    tc.ToolTimeout,
		FeedbackOffsets:  offsets,
	}, nil
}

// Request starts a turn. UserID is the authenticated identity.
type Request struct {
	UserID  string
	Message string
	// Probe marks a synthetic turn: it runs the full pipeline but persists
	// nothing and does not supersede the user's real turns.
	Probe bool
}

type Pipeline struct {
	deps     Deps
	cfg      Config
	sessions *sessions
	logger   *slog.Logger
	now      func() time.Time
}

func New(deps Deps, cfg Config) *Pipeline {
	if deps.Facts == nil {
		deps.Facts = facts.NewExtractor()
	}
	return &Pipeline{
		deps:     deps,
		cfg:      cfg,
		sessions: newSessions(),
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// loaded is the context gathered before the stream starts.
type loaded struct {
	user    identity.User
	master  identity.MasterConfig
	history []storage.Turn
}

// Run executes one turn, forwarding events to emit in generation order.
//
// ErrUnauthenticated, ErrEmptyMessage, ErrUserNotFound and
// ErrMasterNotFound are returned before anything is emitted. Once the stream
// starts, exactly one complete or error event ends it, unless the turn is
// superseded or interrupted, in which case nothing further is emitted and
// the cancellation cause is returned.
func (p *Pipeline) Run(ctx context.Context, req Request, emit func(Event) error) error {
	if strings.TrimSpace(req.UserID) == "" {
		return ErrUnauthenticated
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return ErrEmptyMessage
	}

	key := req.UserID
	if req.Probe {
		key = "probe:" + req.UserID
	}
	ctx, sess, prev := p.sessions.begin(ctx, key)
	defer p.sessions.end(key, sess)

	start := p.now()
	p.awaitPrevious(ctx, req.UserID, prev)

	in, err := p.load(ctx, req.UserID)
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return err
	}
	perms := identity.Derive(in.user, in.master)
	perms.SchedulingConnected = p.deps.Actions != nil
	meta := memory.Meta{Scope: perms.DefaultScope}

	out := newEmitter(emit, func() bool { return ctx.Err() == nil }, func(err error) {
		p.logger.Debug("event sink closed", "user_id", req.UserID, "error", err)
		sess.cancel(fmt.Errorf("event sink: %w", err))
	})

	system := prompt.Build(in.master, in.user.Settings, perms)

	out.emit(Event{Type: EventThinking, Content: "Remembering", Stage: "memory"})
	memCtx := p.retrieve(ctx, req.UserID, message)

	ws := p.deps.Memory.NewWriteSet(p.cfg.FactWriteTimeout)
	p.sessions.setWrites(sess, ws)
	userLogged := make(chan struct{})
	if req.Probe {
		close(userLogged)
	} else {
		for _, f := range p.deps.Facts.Extract(message) {
			ws.Go("store_fact", func(ctx context.Context) error {
				return p.deps.Memory.StoreFact(ctx, req.UserID, f, meta)
			})
		}
		ws.Go("append_user_turn", func(ctx context.Context) error {
			defer close(userLogged)
			return p.deps.Memory.AppendTurn(ctx, req.UserID, llm.RoleUser, message, meta)
		})
	}

	msgs := prompt.Messages(system, memCtx, in.history, message, p.cfg.HistoryLimit)

	out.emit(Event{Type: EventThinking, Content: "Thinking", Stage: "generating"})
	full, started, tools, genErr := p.generate(ctx, msgs, perms, ws, out)

	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		p.logger.Info("turn cancelled", "user_id", req.UserID, "reason", cause)
		return cause
	}
	if genErr == nil && strings.TrimSpace(full) == "" {
		genErr = errEmptyResponse
	}
	if genErr != nil {
		p.logger.Warn("generation failed", "user_id", req.UserID, "started", started, "error", genErr)
		out.emit(Event{Type: EventError, Error: userMessage(genErr, started)})
		return genErr
	}

	visible := full
	if p.deps.Actions != nil {
		if res := p.deps.Actions.Process(ctx, full, req.UserID, in.user.Settings); res != nil {
			visible = res.CleanedResponse
		}
	}
	label := emotion.Classify(visible)

	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if !req.Probe {
		p.persist(ctx, req.UserID, visible, label, meta, userLogged)
	}

	out.emit(Event{Type: EventComplete, FullResponse: visible, Emotion: string(label)})
	p.logger.Info("turn complete",
		"user_id", req.UserID,
		"duration", p.now().Sub(start).Round(time.Millisecond),
		"tools", tools,
		"chars", len(visible),
		"emotion", string(label),
	)
	return nil
}

// awaitPrevious waits for the user's previous turn to return and for its
// writes to land, so facts from that turn are visible to this one.
func (p *Pipeline) awaitPrevious(ctx context.Context, userID string, prev *session) {
	if prev == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, p.cfg.LoadTimeout+p.cfg.FactWriteTimeout)
	defer cancel()
	if err := p.sessions.wait(wctx, prev); err != nil && ctx.Err() == nil {
		p.logger.Warn("previous turn still finishing", "user_id", userID, "error", err)
	}
}

// load fetches user, master config and history concurrently, each under
// LoadTimeout. A missing user or master config is fatal; history degrades
// to empty.
func (p *Pipeline) load(ctx context.Context, userID string) (loaded, error) {
	var in loaded
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, cancel := context.WithTimeout(gctx, p.cfg.LoadTimeout)
		defer cancel()
		u, err := p.deps.Identity.GetUser(c, userID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUserNotFound, err)
		}
		in.user = u
		return nil
	})
	g.Go(func() error {
		c, cancel := context.WithTimeout(gctx, p.cfg.LoadTimeout)
		defer cancel()
		mc, err := p.deps.Identity.GetMasterConfig(c)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMasterNotFound, err)
		}
		in.master = mc
		return nil
	})
	g.Go(func() error {
		c, cancel := context.WithTimeout(gctx, p.cfg.LoadTimeout)
		defer cancel()
		h, err := p.deps.Memory.History(c, userID, p.cfg.HistoryLimit)
		if err != nil {
			if gctx.Err() == nil {
				p.logger.Warn("history unavailable, continuing without it", "user_id", userID, "error", err)
			}
			return nil
		}
		in.history = h
		return nil
	})
	if err := g.Wait(); err != nil {
		return loaded{}, err
	}
	return in, nil
}

func (p *Pipeline) retrieve(ctx context.Context, userID, query string) string {
	c, cancel := context.WithTimeout(ctx, p.cfg.MemoryTimeout)
	defer cancel()
	text, ok := p.deps.Memory.RetrieveContext(c, userID, query)
	if !ok {
		return ""
	}
	return text
}

// generate streams the response. It returns the full text, whether any
// text was emitted, how many tool calls ran and the failure, if any.
func (p *Pipeline) generate(ctx context.Context, msgs []llm.Message, perms identity.Permissions, ws *memory.WriteSet, out *emitter) (string, bool, int, error) {
	budget := p.cfg.GenerationBudget
	genCtx, cancel := context.WithTimeoutCause(ctx, budget, errBudgetExceeded)
	defer cancel()

	fb := startFeedback(p.cfg.FeedbackOffsets, func(stage int, msg string) {
		out.emit(Event{Type: EventThinking, Content: msg, Stage: fmt.Sprintf("waiting_%d", stage)})
	})
	defer fb.stop()

	var schemas []llm.ToolSchema
	var exec llm.ExecuteFunc
	if p.deps.Tools != nil {
		schemas = p.deps.Tools.Schemas(perms)
		if len(schemas) > 0 {
			exec = p.deps.Tools.Executor(perms, ws)
		}
	}

	genStart := p.now()
	var text strings.Builder
	started := false
	tools := 0
	var genErr error
	for tok, err := range p.deps.Provider.StreamWithTools(genCtx, msgs, schemas, exec) {
		if err != nil {
			genErr = err
			break
		}
		if p.now().Sub(genStart) > budget {
			genErr = errBudgetExceeded
			break
		}
		switch tok.Kind {
		case llm.TokenText:
			if tok.Text == "" {
				continue
			}
			if !started {
				started = true
				fb.stop()
			}
			text.WriteString(tok.Text)
			out.emit(Event{Type: EventText, Content: tok.Text})
		case llm.TokenStatus:
			if tok.Status == nil {
				continue
			}
			if tok.Status.Action == llm.StatusToolStart {
				tools++
			}
			out.emit(Event{
				Type:       EventStatus,
				Action:     tok.Status.Action,
				Tool:       tok.Status.Tool,
				ToolIndex:  tok.Status.Index,
				TotalTools: tok.Status.Total,
			})
		}
		if out.finished() {
			break
		}
	}
	if genErr == nil && ctx.Err() == nil && genCtx.Err() != nil {
		genErr = context.Cause(genCtx)
	}
	if genErr != nil && errors.Is(context.Cause(genCtx), errBudgetExceeded) {
		genErr = fmt.Errorf("%w: %v", errBudgetExceeded, genErr)
	}
	return text.String(), started, tools, genErr
}

// persist appends the assistant turn after the user turn it answers. It
// never fails the turn.
func (p *Pipeline) persist(ctx context.Context, userID, text string, label emotion.Label, meta memory.Meta, userLogged <-chan struct{}) {
	select {
	case <-userLogged:
	case <-time.After(p.cfg.FactWriteTimeout):
		p.logger.Warn("user turn not logged in time", "user_id", userID)
	}
	c, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.FactWriteTimeout)
	defer cancel()
	meta.Tags = []string{"emotion:" + string(label)}
	if err := p.deps.Memory.AppendTurn(c, userID, llm.RoleAssistant, text, meta); err != nil {
		p.logger.Error("persisting assistant turn failed", "user_id", userID, "error", err)
	}
}

func userMessage(err error, started bool) string {
	switch {
	case errors.Is(err, errBudgetExceeded), errors.Is(err, context.DeadlineExceeded):
		if started {
			return MsgTimeoutLate
		}
		return MsgTimeout
	case errors.Is(err, llm.ErrRateLimited):
		return MsgRateLimited
	default:
		return MsgGeneric
	}
}

// Interrupt stops userID's running turn. It reports whether one was running.
func (p *Pipeline) Interrupt(userID string) bool {
	return p.sessions.interrupt(userID)
}

// Flush waits until userID's latest turn has returned and all of its
// memory writes have finished.
func (p *Pipeline) Flush(ctx context.Context, userID string) error {
	sess := p.sessions.lastOf(userID)
	if sess == nil {
		return nil
	}
	return p.sessions.wait(ctx, sess)
}

// FlushAll waits for every user's latest turn. Used at shutdown.
func (p *Pipeline) FlushAll(ctx context.Context) error {
	for _, sess := range p.sessions.all() {
		if err := p.sessions.wait(ctx, sess); err != nil {
			return err
		}
	}
	return nil
}
