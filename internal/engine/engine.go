// Package engine talks to the local inference backend used for embeddings.
package engine

import "context"

// Engine abstracts the embedding backend. Memory and workspace indexing
// depend on this interface instead of a concrete client.
type Engine interface {
	// Embed returns the embedding vector for text using model.
	Embed(ctx context.Context, model, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// HasModel reports whether model is available locally.
	HasModel(ctx context.Context, model string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, model string, onProgress func(PullProgress)) error
}

// PullProgress is one line of a streamed model pull.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
