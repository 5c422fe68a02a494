// Package schedule stores reminders and fires them at their scheduled time.
// One-shot reminders are polled; recurring ones run on a cron scheduler.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	rcron "github.com/robfig/cron/v3"

	"github.com/kalambet/mira/internal/storage"
)

const (
	KindAt   = "at"
	KindCron = "cron"

	defaultTickInterval = 5 * time.Second
	// pastTolerance is how far in the past a one-shot time may be and still
	// be accepted (it fires on the next tick).
	pastTolerance = time.Minute
)

var ErrInvalidRequest = errors.New("invalid reminder request")

// Store is the reminder persistence the service needs.
type Store interface {
	SaveReminder(ctx context.Context, r storage.Reminder) error
	ListReminders(ctx context.Context, userID string, enabledOnly bool) ([]storage.Reminder, error)
	MarkReminderFired(ctx context.Context, id string, at time.Time, disable bool) error
}

// Request describes a reminder to create. Exactly one of At or Cron is set.
type Request struct {
	Title string
	At    time.Time
	Cron  string
}

type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	// OnFire is called for every reminder that comes due.
	OnFire func(ctx context.Context, r storage.Reminder)

	TickInterval time.Duration

	mu       sync.Mutex
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewService(store Store) *Service {
	return &Service{
		store:        store,
		logger:       slog.Default(),
		now:          time.Now,
		TickInterval: defaultTickInterval,
		entryMap:     make(map[string]rcron.EntryID),
	}
}

// Create validates and stores a reminder, registering it with the running
// scheduler when it is recurring.
func (s *Service) Create(ctx context.Context, userID string, req Request) (storage.Reminder, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return storage.Reminder{}, fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	hasAt, hasCron := !req.At.IsZero(), strings.TrimSpace(req.Cron) != ""
	if hasAt == hasCron {
		return storage.Reminder{}, fmt.Errorf("%w: exactly one of time or cron is required", ErrInvalidRequest)
	}

	r := storage.Reminder{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Enabled:   true,
		CreatedAt: s.now().UTC(),
	}
	if hasAt {
		if req.At.Before(s.now().Add(-pastTolerance)) {
			return storage.Reminder{}, fmt.Errorf("%w: %s is in the past", ErrInvalidRequest, req.At.Format(time.RFC3339))
		}
		r.Kind = KindAt
		r.At = req.At.UTC()
	} else {
		expr := strings.TrimSpace(req.Cron)
		if _, err := rcron.ParseStandard(expr); err != nil {
			return storage.Reminder{}, fmt.Errorf("%w: cron %q: %v", ErrInvalidRequest, expr, err)
		}
		r.Kind = KindCron
		r.CronExpr = expr
	}

	if err := s.store.SaveReminder(ctx, r); err != nil {
		return storage.Reminder{}, fmt.Errorf("saving reminder: %w", err)
	}

	if r.Kind == KindCron {
		s.mu.Lock()
		if s.cron != nil {
			s.register(r)
		}
		s.mu.Unlock()
	}
	return r, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]storage.Reminder, error) {
	return s.store.ListReminders(ctx, userID, false)
}

// Start loads enabled reminders and begins firing them until ctx is
// cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	reminders, err := s.store.ListReminders(ctx, "", true)
	if err != nil {
		return fmt.Errorf("loading reminders: %w", err)
	}

	s.mu.Lock()
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.cron = rcron.New()
	for _, r := range reminders {
		if r.Kind == KindCron {
			s.register(r)
		}
	}
	s.cron.Start()
	runCtx := s.runCtx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tickLoop(runCtx)
	}()

	s.logger.Info("reminder scheduler started", "reminders", len(reminders))
	return nil
}

// Stop halts the scheduler and waits for running reminders to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, c := s.cancel, s.cron
	s.cancel, s.cron = nil, nil
	s.entryMap = make(map[string]rcron.EntryID)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			s.logger.Warn("reminder scheduler stop timed out waiting for running reminders")
		}
	}
	s.wg.Wait()
}

// register must be called with s.mu held.
func (s *Service) register(r storage.Reminder) {
	id, err := s.cron.AddFunc(r.CronExpr, func() {
		s.mu.Lock()
		ctx := s.runCtx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		s.fire(ctx, r, false)
	})
	if err != nil {
		s.logger.Warn("failed to register reminder", "id", r.ID, "cron", r.CronExpr, "error", err)
		return
	}
	s.entryMap[r.ID] = id
}

func (s *Service) tickLoop(ctx context.Context) {
	interval := s.TickInterval
	if interval <= 0 {
		interval = defaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.fireDue(ctx, s.now())
		case <-ctx.Done():
			return
		}
	}
}

// fireDue fires and disables every enabled one-shot reminder due at or before now.
func (s *Service) fireDue(ctx context.Context, now time.Time) int {
	reminders, err := s.store.ListReminders(ctx, "", true)
	if err != nil {
		s.logger.Warn("listing reminders failed", "error", err)
		return 0
	}
	fired := 0
	for _, r := range reminders {
		if r.Kind != KindAt || r.At.After(now) {
			continue
		}
		s.fire(ctx, r, true)
		fired++
	}
	return fired
}

func (s *Service) fire(ctx context.Context, r storage.Reminder, oneShot bool) {
	s.logger.Info("reminder due", "id", r.ID, "user_id", r.UserID, "kind", r.Kind)
	if s.OnFire != nil {
		s.OnFire(ctx, r)
	}
	if err := s.store.MarkReminderFired(ctx, r.ID, s.now(), oneShot); err != nil {
		s.logger.Warn("marking reminder fired failed", "id", r.ID, "error", err)
	}
}
