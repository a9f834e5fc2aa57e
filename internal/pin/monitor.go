// Package pin debounces raw GPIO edge notifications into confirmed level
// changes. Each claimed line gets a Monitor; the Registry owns every claim and
// releases them together at shutdown.
package pin

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/rotary-phone/internal/clock"
	"github.com/sweeney/rotary-phone/internal/gpio"
)

// Event is a confirmed (debounced) level change.
type Event struct {
	Line  int
	Level bool
	// At is when the settled level first appeared on the line.
	At time.Time
	// PreviousDuration is how long the previous confirmed level lasted.
	PreviousDuration time.Duration
}

// Handler receives confirmed events. Handlers run while the line is locked
// and must not call back into the Monitor.
type Handler func(Event)

// window is a pending debounce decision.
type window struct {
	candidate bool
	since     time.Time
	seq       uint64
	timer     clock.Timer
}

// Monitor debounces a single input line.
type Monitor struct {
	line   int
	bounce time.Duration
	chip   gpio.Chip
	clock  clock.Clock
	log    *zap.SugaredLogger

	mu          sync.Mutex
	confirmed   bool
	confirmedAt time.Time
	raw         bool
	pending     *window
	seq         uint64
	closed      bool
	rising      []Handler
	falling     []Handler
	changed     []Handler
}

func newMonitor(line int, bounce time.Duration, chip gpio.Chip, clk clock.Clock, log *zap.SugaredLogger) *Monitor {
	return &Monitor{
		line:        line,
		bounce:      bounce,
		chip:        chip,
		clock:       clk,
		log:         log,
		confirmedAt: clk.Now(),
	}
}

// Line returns the line number.
func (m *Monitor) Line() int {
	return m.line
}

// Bounce returns the debounce interval.
func (m *Monitor) Bounce() time.Duration {
	return m.bounce
}

// OnRising registers a handler for confirmed low-to-high changes.
func (m *Monitor) OnRising(h Handler) {
	m.mu.Lock()
	m.rising = append(m.rising, h)
	m.mu.Unlock()
}

// OnFalling registers a handler for confirmed high-to-low changes.
func (m *Monitor) OnFalling(h Handler) {
	m.mu.Lock()
	m.falling = append(m.falling, h)
	m.mu.Unlock()
}

// OnChanged registers a handler for every confirmed change. It fires after
// the rising or falling handlers of the same change.
func (m *Monitor) OnChanged(h Handler) {
	m.mu.Lock()
	m.changed = append(m.changed, h)
	m.mu.Unlock()
}

// Level returns the confirmed level.
func (m *Monitor) Level() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmed
}

// ConfirmedAt returns when the confirmed level was established.
func (m *Monitor) ConfirmedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmedAt
}

// Raw returns the most recent unfiltered read.
func (m *Monitor) Raw() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw
}

// Pending reports whether a debounce window is open.
func (m *Monitor) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

// Resync samples the line and adopts the level as confirmed without
// emitting an event. Any pending window is dropped.
func (m *Monitor) Resync() error {
	level, err := m.chip.Level(m.line)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelPending()
	m.raw = level
	m.confirmed = level
	m.confirmedAt = m.clock.Now()
	return nil
}

// Notify is the chip's notification entry point: the raw level of the line
// may have changed.
func (m *Monitor) Notify() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	level, err := m.chip.Level(m.line)
	if err != nil {
		m.log.Warnw("gpio read failed", "line", m.line, "error", err)
		return
	}
	m.raw = level
	now := m.clock.Now()

	if m.bounce <= 0 {
		if level != m.confirmed {
			m.confirm(level, now)
		}
		return
	}

	if m.pending != nil {
		if level == m.pending.candidate {
			return
		}
		// Bounced back to the confirmed level: the burst is noise.
		m.cancelPending()
		return
	}

	if level == m.confirmed {
		return
	}

	m.seq++
	w := &window{candidate: level, since: now, seq: m.seq}
	seq := w.seq
	w.timer = m.clock.AfterFunc(m.bounce, func() { m.expire(seq) })
	m.pending = w
}

// expire runs when a window's deadline passes. A window that was cancelled
// or replaced after its timer fired is ignored.
func (m *Monitor) expire(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.pending == nil || m.pending.seq != seq {
		return
	}
	w := m.pending
	m.pending = nil
	m.confirm(w.candidate, w.since)
}

func (m *Monitor) confirm(level bool, at time.Time) {
	prev := m.confirmedAt
	m.confirmed = level
	m.confirmedAt = at

	ev := Event{
		Line:             m.line,
		Level:            level,
		At:               at,
		PreviousDuration: at.Sub(prev),
	}

	edge := m.falling
	if level {
		edge = m.rising
	}
	for _, h := range edge {
		h(ev)
	}
	for _, h := range m.changed {
		h(ev)
	}
}

func (m *Monitor) cancelPending() {
	if m.pending == nil {
		return
	}
	m.pending.timer.Stop()
	m.pending = nil
}

func (m *Monitor) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelPending()
	m.closed = true
}
