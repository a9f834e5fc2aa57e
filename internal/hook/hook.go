// Package hook reports handset transitions from the debounced hook line and
// periodically re-reports the confirmed state in case a transition was missed.
package hook

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/rotary-phone/internal/clock"
	"github.com/sweeney/rotary-phone/internal/pin"
)

// Monitor watches the hook switch.
type Monitor struct {
	line     *pin.Monitor
	offLevel bool
	clock    clock.Clock
	log      *zap.SugaredLogger

	mu        sync.Mutex
	onOffHook []func()
	onOnHook  []func()
	onVerify  []func(offHook bool)
	verify    clock.Timer
	interval  time.Duration
	running   bool
	stopped   bool
}

// New subscribes to line. offHookLevel is the confirmed level of a lifted
// handset.
func New(line *pin.Monitor, offHookLevel bool, clk clock.Clock, log *zap.SugaredLogger) *Monitor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	m := &Monitor{
		line:     line,
		offLevel: offHookLevel,
		clock:    clk,
		log:      log,
	}
	line.OnChanged(m.handle)
	return m
}

// OnOffHook registers a callback for the handset being lifted.
func (m *Monitor) OnOffHook(f func()) {
	m.mu.Lock()
	m.onOffHook = append(m.onOffHook, f)
	m.mu.Unlock()
}

// OnOnHook registers a callback for the handset being replaced.
func (m *Monitor) OnOnHook(f func()) {
	m.mu.Lock()
	m.onOnHook = append(m.onOnHook, f)
	m.mu.Unlock()
}

// OnVerify registers a callback for the periodic state report.
func (m *Monitor) OnVerify(f func(offHook bool)) {
	m.mu.Lock()
	m.onVerify = append(m.onVerify, f)
	m.mu.Unlock()
}

// OffHook reports whether the handset is lifted.
func (m *Monitor) OffHook() bool {
	return m.line.Level() == m.offLevel
}

// Sync reports the current state once through the transition callbacks.
func (m *Monitor) Sync() {
	m.report(m.OffHook())
}

// StartVerify reports the confirmed state every interval until StopVerify.
// It does nothing if verification is running, has been stopped, or interval
// is not positive.
func (m *Monitor) StartVerify(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.running || interval <= 0 {
		return
	}
	m.running = true
	m.interval = interval
	m.verify = m.clock.AfterFunc(interval, m.tick)
}

// StopVerify stops verification permanently. Calling it again is a no-op.
func (m *Monitor) StopVerify() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	m.running = false
	if m.verify != nil {
		m.verify.Stop()
		m.verify = nil
	}
}

// Verifying reports whether the verification loop is scheduled.
func (m *Monitor) Verifying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) tick() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.verify = m.clock.AfterFunc(m.interval, m.tick)
	fns := m.onVerify
	m.mu.Unlock()

	offHook := m.OffHook()
	for _, f := range fns {
		f(offHook)
	}
}

func (m *Monitor) handle(ev pin.Event) {
	offHook := ev.Level == m.offLevel
	m.log.Debugw("hook changed", "off_hook", offHook, "previous_duration", ev.PreviousDuration)
	m.report(offHook)
}

func (m *Monitor) report(offHook bool) {
	m.mu.Lock()
	fns := m.onOnHook
	if offHook {
		fns = m.onOffHook
	}
	m.mu.Unlock()

	for _, f := range fns {
		f()
	}
}
