package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// AuditEntry records one authorized invocation of a privileged tool.
type AuditEntry struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Tool     string    `json:"tool"`
	Category string    `json:"category"`
	Input    string    `json:"input"`
	Outcome  string    `json:"outcome"` // "ok" or "error"
	At       time.Time `json:"at"`
}

// AuditLog is a durable, append-only trail of privileged tool calls kept in
// badger, apart from conversation memory.
type AuditLog struct {
	db  *badger.DB
	now func() time.Time
}

// OpenAuditLog opens the log under dir. An empty dir keeps the log in memory.
func OpenAuditLog(dir string) (*AuditLog, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &AuditLog{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (a *AuditLog) Close() error {
	return a.db.Close()
}

// auditKey sorts entries by user, then time.
func auditKey(e AuditEntry) []byte {
	return []byte(fmt.Sprintf("audit/%s/%020d/%s", e.UserID, e.At.UnixNano(), e.ID))
}

func (a *AuditLog) Record(ctx context.Context, e AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.At.IsZero() {
		e.At = a.now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(auditKey(e), data)
	})
}

// List returns up to limit of userID's entries, newest first.
func (a *AuditLog) List(ctx context.Context, userID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	prefix := []byte("audit/" + userID + "/")
	var out []AuditEntry
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks from just past the prefix.
		seek := append(append([]byte(nil), prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e AuditEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decoding audit entry: %w", err)
			}
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}
