package workspace

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/mira/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewStore(st.DB())
}

// bagOfWords is a deterministic embedding: each word bumps one of 32
// dimensions, with a constant first dimension so no vector is zero.
func bagOfWords(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 32)
	vec[0] = 0.1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[1+h.Sum32()%31]++
	}
	return vec, nil
}

func TestCreateGetUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e, err := s.Create(ctx, Entry{OwnerUserID: "u1", Title: "Groceries", Body: "milk, eggs"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if e.Kind != KindNote || e.ID == "" {
		t.Errorf("Create = %+v", e)
	}

	got, err := s.Get(ctx, "u1", e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Body != "milk, eggs" {
		t.Errorf("Body = %q", got.Body)
	}

	if _, err := s.Get(ctx, "someone-else", e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get from other owner = %v, want ErrNotFound", err)
	}

	body := "milk, eggs, bread"
	updated, err := s.Update(ctx, "u1", e.ID, Patch{Body: &body})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Body != body || updated.Title != "Groceries" {
		t.Errorf("Update = %+v", updated)
	}

	if _, err := s.Update(ctx, "u1", "missing", Patch{Body: &body}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) = %v, want ErrNotFound", err)
	}
}

func TestCreate_RejectsEmpty(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Create(context.Background(), Entry{OwnerUserID: "u1"}); err == nil {
		t.Error("expected error for empty entry")
	}
}

func TestChanges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	old, _ := s.Create(ctx, Entry{OwnerUserID: "u1", Title: "old"})
	clock = base.Add(time.Hour)
	s.Create(ctx, Entry{OwnerUserID: "u1", Title: "new"})
	clock = base.Add(2 * time.Hour)
	title := "old, edited"
	s.Update(ctx, "u1", old.ID, Patch{Title: &title})

	changes, err := s.Changes(ctx, "u1", base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("len = %d, want 2", len(changes))
	}
	if changes[0].Title != "new" || changes[1].Title != "old, edited" {
		t.Errorf("changes = %q, %q", changes[0].Title, changes[1].Title)
	}
}

func TestListByKind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.Create(ctx, Entry{OwnerUserID: "team", Kind: KindSprint, Title: "Ship login", Status: "in_progress"})
	s.Create(ctx, Entry{OwnerUserID: "team", Kind: KindBacklog, Title: "Dark mode"})
	s.Create(ctx, Entry{OwnerUserID: "team", Kind: KindSprint, Title: "Fix crash", Status: "todo"})

	sprint, err := s.ListByKind(ctx, "team", KindSprint)
	if err != nil {
		t.Fatalf("ListByKind: %v", err)
	}
	if len(sprint) != 2 || sprint[0].Title != "Ship login" {
		t.Errorf("sprint = %+v", sprint)
	}
}

func TestSearch_Keyword(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.Create(ctx, Entry{OwnerUserID: "u1", Title: "Trip", Body: "pack the tent and the stove"})
	s.Create(ctx, Entry{OwnerUserID: "u1", Title: "Tent repair", Body: "tent pole is cracked, order a tent patch"})
	s.Create(ctx, Entry{OwnerUserID: "u1", Title: "Recipes", Body: "soup"})
	s.Create(ctx, Entry{OwnerUserID: "u2", Title: "Tent", Body: "not yours"})

	results, err := s.Search(ctx, "u1", "tent", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(results), results)
	}
	if results[0].Title != "Tent repair" {
		t.Errorf("top result = %q, want Tent repair", results[0].Title)
	}

	none, err := s.Search(ctx, "u1", "   ", 5)
	if err != nil || len(none) != 0 {
		t.Errorf("blank query = %v, %v", none, err)
	}
}

func TestSearch_Index(t *testing.T) {
	s := openTestStore(t).WithIndex(NewIndex(bagOfWords))
	ctx := context.Background()

	s.Create(ctx, Entry{OwnerUserID: "u1", Title: "garden", Body: "tomatoes basil watering schedule"})
	s.Create(ctx, Entry{OwnerUserID: "u1", Title: "taxes", Body: "receipts deductions filing deadline"})

	results, err := s.Search(ctx, "u1", "taxes filing deadline", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "taxes" {
		t.Errorf("Search = %+v, want taxes", results)
	}

	// Other owners have their own collection.
	other, err := s.Search(ctx, "u2", "taxes", 3)
	if err != nil {
		t.Fatalf("Search u2: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("u2 results = %+v, want none", other)
	}
}

func TestImportPDF_Errors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.ImportPDF(ctx, "u1", filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Error("expected error for missing file")
	}

	notPDF := filepath.Join(t.TempDir(), "notes.pdf")
	if err := os.WriteFile(notPDF, []byte("just text"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ImportPDF(ctx, "u1", notPDF); err == nil {
		t.Error("expected error for non-PDF content")
	}
}
