package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/mira/internal/storage"
)

// JobStore abstracts the job queue operations the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// PointEmbedder is the point store surface the worker writes to.
type PointEmbedder interface {
	Get(ctx context.Context, id string) (Point, error)
	SetEmbedding(ctx context.Context, id string, vec []float32) error
}

// Worker embeds points queued by the orchestrator.
type Worker struct {
	jobs     JobStore
	points   PointEmbedder
	embedder TextEmbedder
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker returns a worker polling every pollInterval (500ms if <= 0).
func NewWorker(jobs JobStore, points PointEmbedder, embedder TextEmbedder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		jobs:     jobs,
		points:   points,
		embedder: embedder,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("embed worker iteration failed", "error", err)
		}
		if done {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes one job. It reports whether a job was
// claimed, regardless of its outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob([]string{embedJobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.process(ctx, job); err != nil {
		w.logger.Warn("embed job failed", "job_id", job.ID, "error", err)
		if failErr := w.jobs.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}
	if err := w.jobs.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type embedPayload struct {
	PointID string `json:"point_id"`
}

func (w *Worker) process(ctx context.Context, job *storage.Job) error {
	var payload embedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	p, err := w.points.Get(ctx, payload.PointID)
	if errors.Is(err, ErrPointNotFound) {
		// Nothing to embed anymore.
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading point %s: %w", payload.PointID, err)
	}
	if len(p.Embedding) > 0 {
		return nil
	}
	vec, err := w.embedder.Embed(ctx, p.Text)
	if err != nil {
		return fmt.Errorf("embedding point: %w", err)
	}
	if err := w.points.SetEmbedding(ctx, p.ID, vec); err != nil {
		return fmt.Errorf("saving embedding: %w", err)
	}
	return nil
}
