//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// CdevChip reads and drives lines through the Linux GPIO character device.
type CdevChip struct {
	mu      sync.Mutex
	chip    *gpiocdev.Chip
	bias    gpiocdev.LineBias
	inputs  map[int]*gpiocdev.Line
	outputs map[int]*gpiocdev.Line
}

// NewCdevChip opens the named chip (e.g. "gpiochip0").
func NewCdevChip(name string, pull Pull) (*CdevChip, error) {
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	return &CdevChip{
		chip:    chip,
		bias:    lineBias(pull),
		inputs:  make(map[int]*gpiocdev.Line),
		outputs: make(map[int]*gpiocdev.Line),
	}, nil
}

// lineBias maps the configured pull to the kernel bias flag.
func lineBias(pull Pull) gpiocdev.LineBias {
	switch pull {
	case PullDown:
		return gpiocdev.WithPullDown
	case PullNone:
		return gpiocdev.WithBiasDisabled
	}
	return gpiocdev.WithPullUp
}

// Watch requests line as an input with both-edge events. The kernel event
// handler runs on a goroutine owned by go-gpiocdev.
func (c *CdevChip) Watch(line int, notify func(int)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.inputs[line]; ok {
		return fmt.Errorf("request pin %d: already claimed", line)
	}

	l, err := c.chip.RequestLine(line,
		gpiocdev.AsInput,
		c.bias,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			notify(evt.Offset)
		}))
	if err != nil {
		return fmt.Errorf("request pin %d: %w", line, err)
	}
	c.inputs[line] = l
	return nil
}

// Level returns the raw level of an input line.
func (c *CdevChip) Level(line int) (bool, error) {
	c.mu.Lock()
	l, ok := c.inputs[line]
	c.mu.Unlock()
	if !ok {
		return false, ErrNotClaimed
	}

	v, err := l.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", line, err)
	}
	return v == 1, nil
}

// Drive sets an output line, requesting it on first use.
func (c *CdevChip) Drive(line int, high bool) error {
	v := 0
	if high {
		v = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.outputs[line]; ok {
		if err := l.SetValue(v); err != nil {
			return fmt.Errorf("set pin %d: %w", line, err)
		}
		return nil
	}

	l, err := c.chip.RequestLine(line, gpiocdev.AsOutput(v))
	if err != nil {
		return fmt.Errorf("request output pin %d: %w", line, err)
	}
	c.outputs[line] = l
	return nil
}

// Release reconfigures the line to input with pull-down (matching Pi boot
// defaults) and closes it.
func (c *CdevChip) Release(line int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.inputs[line]; ok {
		delete(c.inputs, line)
		return closeLine(line, l)
	}
	if l, ok := c.outputs[line]; ok {
		delete(c.outputs, line)
		return closeLine(line, l)
	}
	return ErrNotClaimed
}

func closeLine(line int, l *gpiocdev.Line) error {
	var errs []error
	if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", line, err))
	}
	if err := l.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pin %d: %w", line, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("release errors: %v", errs)
	}
	return nil
}

// Close releases every line and the chip.
func (c *CdevChip) Close() error {
	c.mu.Lock()
	lines := make([]int, 0, len(c.inputs)+len(c.outputs))
	for n := range c.inputs {
		lines = append(lines, n)
	}
	for n := range c.outputs {
		lines = append(lines, n)
	}
	c.mu.Unlock()

	var errs []error
	for _, n := range lines {
		if err := c.Release(n); err != nil {
			errs = append(errs, err)
		}
	}
	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
