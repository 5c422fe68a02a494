package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/mira/internal/storage"
)

func newTestService(t *testing.T, now time.Time) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	s := NewService(store)
	s.now = func() time.Time { return now }
	return s, store
}

func TestCreate_OneShot(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, _ := newTestService(t, now)
	ctx := context.Background()

	r, err := s.Create(ctx, "u1", Request{Title: "call mom", At: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Kind != KindAt || !r.Enabled || r.ID == "" {
		t.Errorf("reminder = %+v", r)
	}

	list, err := s.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Title != "call mom" {
		t.Errorf("List = %+v", list)
	}
}

func TestCreate_Validation(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, _ := newTestService(t, now)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"no title", Request{At: now.Add(time.Hour)}},
		{"neither time nor cron", Request{Title: "x"}},
		{"both time and cron", Request{Title: "x", At: now.Add(time.Hour), Cron: "0 9 * * *"}},
		{"past time", Request{Title: "x", At: now.Add(-time.Hour)}},
		{"bad cron", Request{Title: "x", Cron: "every tuesday"}},
	}
	for _, tt := range tests {
		if _, err := s.Create(ctx, "u1", tt.req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%s: err = %v, want ErrInvalidRequest", tt.name, err)
		}
	}
}

func TestFireDue(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s, store := newTestService(t, now)
	ctx := context.Background()

	var mu sync.Mutex
	var fired []string
	s.OnFire = func(ctx context.Context, r storage.Reminder) {
		mu.Lock()
		fired = append(fired, r.Title)
		mu.Unlock()
	}

	if _, err := s.Create(ctx, "u1", Request{Title: "soon", At: now.Add(time.Minute)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(ctx, "u1", Request{Title: "later", At: now.Add(time.Hour)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(ctx, "u1", Request{Title: "daily", Cron: "0 9 * * *"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if n := s.fireDue(ctx, now.Add(2*time.Minute)); n != 1 {
		t.Fatalf("fireDue fired %d, want 1", n)
	}
	if len(fired) != 1 || fired[0] != "soon" {
		t.Errorf("fired = %v, want [soon]", fired)
	}

	// Fired one-shots are disabled and never fire twice.
	if n := s.fireDue(ctx, now.Add(3*time.Minute)); n != 0 {
		t.Errorf("second fireDue fired %d, want 0", n)
	}
	enabled, err := store.ListReminders(ctx, "u1", true)
	if err != nil {
		t.Fatalf("ListReminders: %v", err)
	}
	if len(enabled) != 2 {
		t.Errorf("enabled = %d, want 2", len(enabled))
	}
}

func TestStartStop(t *testing.T) {
	now := time.Now()
	s, _ := newTestService(t, now)
	s.TickInterval = 10 * time.Millisecond
	ctx := context.Background()

	done := make(chan string, 1)
	s.OnFire = func(ctx context.Context, r storage.Reminder) {
		select {
		case done <- r.Title:
		default:
		}
	}

	if _, err := s.Create(ctx, "u1", Request{Title: "now", At: now}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// Recurring reminders created while running are registered immediately.
	if _, err := s.Create(ctx, "u1", Request{Title: "hourly", Cron: "0 * * * *"}); err != nil {
		t.Fatalf("Create cron: %v", err)
	}
	s.mu.Lock()
	registered := len(s.entryMap)
	s.mu.Unlock()
	if registered != 1 {
		t.Errorf("entryMap has %d entries, want 1", registered)
	}

	select {
	case title := <-done:
		if title != "now" {
			t.Errorf("fired %q, want now", title)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reminder did not fire")
	}
}

func TestParseWhen(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 5, 1, 9, 30, 0, 0, loc)

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "in 10 minutes", want: now.Add(10 * time.Minute)},
		{in: "in 2 hours", want: now.Add(2 * time.Hour)},
		{in: "in 1 day", want: now.Add(24 * time.Hour)},
		{in: "2026-05-02T08:00:00Z", want: time.Date(2026, 5, 2, 8, 0, 0, 0, loc)},
		{in: "2026-05-02 08:15", want: time.Date(2026, 5, 2, 8, 15, 0, 0, loc)},
		{in: "17:00", want: time.Date(2026, 5, 1, 17, 0, 0, 0, loc)},
		{in: "08:00", want: time.Date(2026, 5, 2, 8, 0, 0, 0, loc)},
		{in: "", wantErr: true},
		{in: "whenever", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseWhen(tt.in, now, loc)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseWhen(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseWhen(%q) error: %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseWhen(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
