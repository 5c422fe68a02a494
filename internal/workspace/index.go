package workspace

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Index is an in-memory semantic index over workspace entries, one
// collection per owner.
type Index struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc

	mu   sync.Mutex
	cols map[string]*chromem.Collection
}

func NewIndex(embed chromem.EmbeddingFunc) *Index {
	return &Index{
		db:    chromem.NewDB(),
		embed: embed,
		cols:  make(map[string]*chromem.Collection),
	}
}

func (x *Index) collection(owner string) (*chromem.Collection, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if col, ok := x.cols[owner]; ok {
		return col, nil
	}
	col, err := x.db.GetOrCreateCollection("workspace-"+owner, nil, x.embed)
	if err != nil {
		return nil, fmt.Errorf("creating collection for %s: %w", owner, err)
	}
	x.cols[owner] = col
	return col, nil
}

// Add indexes e, replacing any previous version with the same ID.
func (x *Index) Add(ctx context.Context, e Entry) error {
	col, err := x.collection(e.OwnerUserID)
	if err != nil {
		return err
	}
	return col.AddDocument(ctx, chromem.Document{
		ID:       e.ID,
		Content:  e.Title + "\n" + e.Body,
		Metadata: map[string]string{"kind": e.Kind},
	})
}

// Query returns the IDs of the n entries most similar to q.
func (x *Index) Query(ctx context.Context, owner, q string, n int) ([]string, error) {
	col, err := x.collection(owner)
	if err != nil {
		return nil, err
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}
	results, err := col.Query(ctx, q, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying workspace index: %w", err)
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	return ids, nil
}
