package turn

import (
	"sync"
	"time"
)

var feedbackMessages = []string{
	"Still thinking...",
	"Working on it, this one needs a little longer.",
	"Almost there, thanks for waiting.",
}

// feedback fires escalating "still working" callbacks at fixed offsets
// until stopped. A timer that fires after stop is a no-op: the callback
// runs under the same lock stop takes.
type feedback struct {
	mu      sync.Mutex
	stopped bool
	timers  []*time.Timer
}

func startFeedback(offsets []time.Duration, fire func(stage int, msg string)) *feedback {
	f := &feedback{}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, off := range offsets {
		msg := feedbackMessages[min(i, len(feedbackMessages)-1)]
		f.timers = append(f.timers, time.AfterFunc(off, func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.stopped {
				return
			}
			fire(i+1, msg)
		}))
	}
	return f
}

// stop cancels pending timers. When it returns, no callback is running and
// none will run.
func (f *feedback) stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.stopped = true
	for _, t := range f.timers {
		t.Stop()
	}
}
