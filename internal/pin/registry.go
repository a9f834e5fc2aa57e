package pin

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/rotary-phone/internal/clock"
	"github.com/sweeney/rotary-phone/internal/gpio"
)

// ErrRegistryClosed is returned when claiming a line after Close.
var ErrRegistryClosed = errors.New("pin: registry closed")

// Registry owns every line claimed by the process.
type Registry struct {
	chip  gpio.Chip
	clock clock.Clock
	log   *zap.SugaredLogger

	mu       sync.Mutex
	monitors map[int]*Monitor
	outputs  map[int]*Output
	closed   bool
}

// NewRegistry creates a Registry for chip. A nil logger discards output.
func NewRegistry(chip gpio.Chip, clk clock.Clock, log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{
		chip:     chip,
		clock:    clk,
		log:      log,
		monitors: make(map[int]*Monitor),
		outputs:  make(map[int]*Output),
	}
}

// Claim watches line and returns its Monitor, baselined to the current level.
// Claiming a line twice returns the existing Monitor.
func (r *Registry) Claim(line int, bounce time.Duration) (*Monitor, error) {
	if bounce < 0 {
		return nil, fmt.Errorf("claim pin %d: negative bounce interval %v", line, bounce)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if m, ok := r.monitors[line]; ok {
		if m.bounce != bounce {
			r.log.Warnw("line already claimed with a different bounce interval",
				"line", line, "bounce", m.bounce, "requested", bounce)
		}
		return m, nil
	}
	if _, ok := r.outputs[line]; ok {
		return nil, fmt.Errorf("claim pin %d: already claimed as output", line)
	}

	m := newMonitor(line, bounce, r.chip, r.clock, r.log)
	if err := r.chip.Watch(line, func(int) { m.Notify() }); err != nil {
		return nil, fmt.Errorf("claim pin %d: %w", line, err)
	}
	if err := m.Resync(); err != nil {
		r.chip.Release(line)
		return nil, fmt.Errorf("baseline pin %d: %w", line, err)
	}
	r.monitors[line] = m

	r.log.Debugw("line claimed", "line", line, "bounce", bounce, "level", m.Level())
	return m, nil
}

// ClaimOutput returns an output line, initially driven low.
func (r *Registry) ClaimOutput(line int) (*Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if o, ok := r.outputs[line]; ok {
		return o, nil
	}
	if _, ok := r.monitors[line]; ok {
		return nil, fmt.Errorf("claim output pin %d: already claimed as input", line)
	}
	if err := r.chip.Drive(line, false); err != nil {
		return nil, fmt.Errorf("claim output pin %d: %w", line, err)
	}
	o := &Output{line: line, chip: r.chip}
	r.outputs[line] = o
	return o, nil
}

// Lines returns the claimed input lines in ascending order.
func (r *Registry) Lines() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]int, 0, len(r.monitors))
	for n := range r.monitors {
		lines = append(lines, n)
	}
	sort.Ints(lines)
	return lines
}

// Close cancels every pending debounce window and releases every claim.
// Closing twice is a no-op.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	monitors := r.monitors
	outputs := r.outputs
	r.monitors = make(map[int]*Monitor)
	r.outputs = make(map[int]*Output)
	r.mu.Unlock()

	var errs []error
	for line, m := range monitors {
		m.close()
		if err := r.chip.Release(line); err != nil {
			errs = append(errs, fmt.Errorf("release pin %d: %w", line, err))
		}
	}
	for line := range outputs {
		if err := r.chip.Release(line); err != nil {
			errs = append(errs, fmt.Errorf("release output pin %d: %w", line, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// Output is a claimed output line, used for indicator LEDs.
type Output struct {
	line int
	chip gpio.Chip

	mu    sync.Mutex
	level bool
}

// Line returns the line number.
func (o *Output) Line() int {
	return o.line
}

// Set drives the line.
func (o *Output) Set(high bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.chip.Drive(o.line, high); err != nil {
		return err
	}
	o.level = high
	return nil
}

// Level returns the last level set.
func (o *Output) Level() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level
}
