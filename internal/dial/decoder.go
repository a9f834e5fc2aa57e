// Package dial turns the rotation and pulse lines of a rotary dial into
// digits.
package dial

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/rotary-phone/internal/pin"
)

// MaxPulses is the pulse count of the digit 0.
const MaxPulses = 10

// State is the decoder state.
type State int

const (
	Rest State = iota
	Rotating
)

func (s State) String() string {
	if s == Rotating {
		return "ROTATING"
	}
	return "REST"
}

// Config sets the active levels of the dial contacts.
type Config struct {
	// RotatingLevel is the rotation line level while the dial is off normal.
	RotatingLevel bool
	// PulseLevel is the pulse line level that counts as one pulse.
	PulseLevel bool
}

// PulsesToDigit converts a completed rotation's pulse count to a digit.
// Ten pulses encode 0. Counts of 0 or above ten are not digits.
func PulsesToDigit(n int) (int, bool) {
	if n <= 0 || n > MaxPulses {
		return 0, false
	}
	return n % MaxPulses, true
}

// Decoder reconstructs digits from debounced dial events.
type Decoder struct {
	cfg Config
	log *zap.SugaredLogger

	mu        sync.Mutex
	state     State
	pulses    int
	started   time.Time
	onDigit   []func(int)
	onProblem []func(int)
	rotLED    *pin.Output
	pulseLED  *pin.Output
}

// New creates a Decoder at rest.
func New(cfg Config, log *zap.SugaredLogger) *Decoder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Decoder{cfg: cfg, log: log}
}

// OnDigit registers a callback for decoded digits.
func (d *Decoder) OnDigit(f func(digit int)) {
	d.mu.Lock()
	d.onDigit = append(d.onDigit, f)
	d.mu.Unlock()
}

// OnProblem registers a callback for malformed rotations. It receives the raw
// pulse count.
func (d *Decoder) OnProblem(f func(pulses int)) {
	d.mu.Lock()
	d.onProblem = append(d.onProblem, f)
	d.mu.Unlock()
}

// Mirror drives indicator outputs from the dial. Either may be nil.
func (d *Decoder) Mirror(rotation, pulse *pin.Output) {
	d.mu.Lock()
	d.rotLED = rotation
	d.pulseLED = pulse
	d.mu.Unlock()
}

// Attach subscribes the decoder to the rotation and pulse monitors. A dial
// already off normal at attach time is treated as rotating with no pulses
// counted.
func (d *Decoder) Attach(rotation, pulse *pin.Monitor) {
	d.mu.Lock()
	if rotation.Level() == d.cfg.RotatingLevel {
		d.state = Rotating
		d.pulses = 0
		d.started = rotation.ConfirmedAt()
	}
	d.mu.Unlock()

	rotation.OnChanged(d.HandleRotation)
	pulse.OnChanged(d.HandlePulse)
}

// State returns the current decoder state.
func (d *Decoder) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Pulses returns the pulses counted in the open session.
func (d *Decoder) Pulses() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pulses
}

// HandleRotation processes a confirmed rotation line change.
func (d *Decoder) HandleRotation(ev pin.Event) {
	d.mu.Lock()
	d.setLED(d.rotLED, ev.Level == d.cfg.RotatingLevel)

	if ev.Level == d.cfg.RotatingLevel {
		if d.state == Rest {
			d.state = Rotating
			d.pulses = 0
			d.started = ev.At
		}
		d.mu.Unlock()
		return
	}

	if d.state != Rotating {
		d.mu.Unlock()
		return
	}
	count := d.pulses
	took := ev.At.Sub(d.started)
	d.state = Rest
	d.pulses = 0
	digitFns := d.onDigit
	problemFns := d.onProblem
	d.mu.Unlock()

	digit, ok := PulsesToDigit(count)
	if !ok {
		d.log.Warnw("rotation problem", "pulses", count, "duration", took)
		for _, f := range problemFns {
			f(count)
		}
		return
	}
	d.log.Debugw("digit decoded", "digit", digit, "pulses", count, "duration", took)
	for _, f := range digitFns {
		f(digit)
	}
}

// HandlePulse processes a confirmed pulse line change.
func (d *Decoder) HandlePulse(ev pin.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.setLED(d.pulseLED, ev.Level == d.cfg.PulseLevel)

	if ev.Level != d.cfg.PulseLevel || d.state != Rotating {
		return
	}
	d.pulses++
}

func (d *Decoder) setLED(o *pin.Output, on bool) {
	if o == nil {
		return
	}
	if err := o.Set(on); err != nil {
		d.log.Warnw("indicator update failed", "line", o.Line(), "error", err)
	}
}
