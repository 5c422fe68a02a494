package turn

import (
	"context"
	"sync"

	"github.com/kalambet/mira/internal/memory"
)

// session is one running turn.
type session struct {
	id     uint64
	cancel context.CancelCauseFunc
	done   chan struct{}
	writes *memory.WriteSet // guarded by sessions.mu
}

// sessions tracks the active turn and the most recent turn of every user.
type sessions struct {
	mu     sync.Mutex
	next   uint64
	active map[string]*session
	last   map[string]*session
}

func newSessions() *sessions {
	return &sessions{active: make(map[string]*session), last: make(map[string]*session)}
}

// begin registers a new turn for key, superseding the active one. It
// returns the turn's context and the previous turn, if any.
func (s *sessions) begin(ctx context.Context, key string) (context.Context, *session, *session) {
	ctx, cancel := context.WithCancelCause(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.active[key]; a != nil {
		a.cancel(ErrSuperseded)
	}
	s.next++
	sess := &session{id: s.next, cancel: cancel, done: make(chan struct{})}
	prev := s.last[key]
	s.active[key] = sess
	s.last[key] = sess
	return ctx, sess, prev
}

// end marks sess finished. Every write of the turn has been issued by now.
func (s *sessions) end(key string, sess *session) {
	s.mu.Lock()
	if s.active[key] == sess {
		delete(s.active, key)
	}
	s.mu.Unlock()
	sess.cancel(nil)
	close(sess.done)
}

func (s *sessions) setWrites(sess *session, ws *memory.WriteSet) {
	s.mu.Lock()
	sess.writes = ws
	s.mu.Unlock()
}

func (s *sessions) writesOf(sess *session) *memory.WriteSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sess.writes
}

// interrupt cancels key's active turn.
func (s *sessions) interrupt(key string) bool {
	s.mu.Lock()
	a := s.active[key]
	s.mu.Unlock()
	if a == nil {
		return false
	}
	a.cancel(ErrInterrupted)
	return true
}

func (s *sessions) lastOf(key string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[key]
}

func (s *sessions) all() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.last))
	for _, sess := range s.last {
		out = append(out, sess)
	}
	return out
}

// wait blocks until sess has returned and its writes have finished.
func (s *sessions) wait(ctx context.Context, sess *session) error {
	select {
	case <-sess.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if ws := s.writesOf(sess); ws != nil {
		return ws.Wait(ctx)
	}
	return nil
}
