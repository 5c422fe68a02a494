package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type User struct {
	ID        string
	Name      string
	Email     string
	Role      string // "owner", "admin", "member"
	UserType  string // "companion", "engineer", "platform", "simulation"
	Settings  string // JSON object stored as text
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn is one message in a user's permanent conversation log.
// Turns are append-only: the store exposes no update or delete for them.
type Turn struct {
	ID          string
	UserID      string
	Role        string // "user", "assistant", "system"
	Content     string
	CreatedAt   time.Time
	Seq         int64
	MemoryScope string
	Tags        string // JSON array stored as text
	Topic       string
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

type Reminder struct {
	ID          string
	UserID      string
	Title       string
	Kind        string // "at" or "cron"
	At          time.Time
	CronExpr    string
	Enabled     bool
	CreatedAt   time.Time
	LastFiredAt time.Time
}
