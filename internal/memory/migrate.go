package memory

import (
	"context"
	"fmt"
	"log/slog"
)

// Migrator moves stored points between identities.
type Migrator struct {
	store  *Store
	logger *slog.Logger
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store, logger: slog.Default()}
}

// Reown reassigns every point owned by from to to, batch points at a time,
// and returns how many moved. Reading always starts at offset zero because
// moved points leave the filter.
func (m *Migrator) Reown(ctx context.Context, from, to string, batch int) (int, error) {
	if from == "" || to == "" {
		return 0, fmt.Errorf("both source and target owners are required")
	}
	if from == to {
		return 0, fmt.Errorf("source and target owners are the same")
	}
	if batch <= 0 {
		batch = 100
	}

	moved := 0
	for {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		points, err := m.store.ScrollByUser(ctx, Filter{OwnerUserID: from, Limit: batch})
		if err != nil {
			return moved, fmt.Errorf("reading points of %s: %w", from, err)
		}
		if len(points) == 0 {
			break
		}
		for i := range points {
			points[i].OwnerUserID = to
		}
		if err := m.store.Upsert(ctx, points); err != nil {
			return moved, fmt.Errorf("writing points to %s: %w", to, err)
		}
		moved += len(points)
		m.logger.Debug("re-owned memory batch", "from", from, "to", to, "count", len(points))
	}
	m.logger.Info("memory migration complete", "from", from, "to", to, "moved", moved)
	return moved, nil
}
