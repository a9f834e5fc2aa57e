// Package timer provides the dial inactivity countdown.
package timer

import (
	"sync"
	"time"

	"github.com/sweeney/rotary-phone/internal/clock"
)

// DialTimer is a restartable one-shot countdown. Every Start, Reset and
// Cancel begins a new generation; an expiry only counts for the generation
// that scheduled it.
type DialTimer struct {
	clock clock.Clock
	d     time.Duration

	mu       sync.Mutex
	seq      uint64
	running  bool
	pending  clock.Timer
	onExpire []func(seq uint64)
}

// New creates a stopped DialTimer with countdown d.
func New(clk clock.Clock, d time.Duration) *DialTimer {
	return &DialTimer{clock: clk, d: d}
}

// Duration returns the countdown length.
func (t *DialTimer) Duration() time.Duration {
	return t.d
}

// OnExpire registers a callback. It receives the generation that expired.
func (t *DialTimer) OnExpire(f func(seq uint64)) {
	t.mu.Lock()
	t.onExpire = append(t.onExpire, f)
	t.mu.Unlock()
}

// Start begins a fresh countdown and returns its generation.
func (t *DialTimer) Start() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.restart()
}

// Reset cancels any running countdown and starts a new one.
func (t *DialTimer) Reset() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.restart()
}

// Cancel stops the countdown. Cancelling a stopped or expired timer is a no-op.
func (t *DialTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stop()
	t.seq++
}

// Running reports whether a countdown is in progress.
func (t *DialTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Stale reports whether seq has been superseded by a later Start, Reset or
// Cancel.
func (t *DialTimer) Stale(seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return seq != t.seq
}

func (t *DialTimer) restart() uint64 {
	t.stop()
	t.seq++
	seq := t.seq
	t.running = true
	t.pending = t.clock.AfterFunc(t.d, func() { t.fire(seq) })
	return seq
}

func (t *DialTimer) stop() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.running = false
}

func (t *DialTimer) fire(seq uint64) {
	t.mu.Lock()
	if seq != t.seq || !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.pending = nil
	fns := t.onExpire
	t.mu.Unlock()

	for _, f := range fns {
		f(seq)
	}
}
