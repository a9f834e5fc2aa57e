// Package status provides a thread-safe status tracker for the rotary-phone daemon.
// It is written by the phone runtime and read by HTTP handlers and system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/rotary-phone/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Driver        string
	PinRotation   int
	PinPulse      int
	PinHook       int
	DialBounceMs  int64
	HookBounceMs  int64
	DialTimeoutMs int64
	HeartbeatMs   int64
	Broker        string
	HTTPAddr      string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State         logic.State
	OffHook       bool
	Digits        string
	LastNumber    string
	Counts        logic.EventCounts
	Dropped       uint64
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	MQTTBuffered  int
	SIPRegistered bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu       sync.RWMutex
	snap     Snapshot
	watchers map[chan struct{}]struct{}
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			State:     logic.StateOnHook,
			StartTime: startTime,
			Config:    cfg,
		},
		watchers: make(map[chan struct{}]struct{}),
	}
}

// Update sets the call state, dial buffer and event counts.
// Called by the phone runtime after every processed event.
func (t *Tracker) Update(state logic.State, offHook bool, digits, lastNumber string, counts logic.EventCounts) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.State = state
	t.snap.OffHook = offHook
	t.snap.Digits = digits
	t.snap.LastNumber = lastNumber
	t.snap.Counts = counts
	t.notify()
}

// SetDropped sets the number of events dropped by a full queue.
func (t *Tracker) SetDropped(n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Dropped = n
	t.notify()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.MQTTConnected != connected {
		t.snap.MQTTConnected = connected
		t.notify()
	}
}

// SetMQTTBuffered sets the number of publications held for replay.
func (t *Tracker) SetMQTTBuffered(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.MQTTBuffered != n {
		t.snap.MQTTBuffered = n
		t.notify()
	}
}

// SetSIPRegistered sets the SIP user agent registration status.
func (t *Tracker) SetSIPRegistered(registered bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.SIPRegistered != registered {
		t.snap.SIPRegistered = registered
		t.notify()
	}
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Network = info
	t.notify()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

// Watch returns a channel that receives a signal after every change, and a
// function that stops the watch. Signals coalesce while the reader is busy.
func (t *Tracker) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	t.mu.Lock()
	t.watchers[ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.watchers, ch)
			t.mu.Unlock()
		})
	}
}

// notify must be called with mu held.
func (t *Tracker) notify() {
	for ch := range t.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
