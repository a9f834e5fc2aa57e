//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// edgePoll bounds how long a WaitForEdge call blocks so that Release can
// stop the watcher goroutine.
const edgePoll = 100 * time.Millisecond

// PeriphChip reads and drives lines through periph.io. It is an alternative
// to CdevChip for kernels or boards where the character device is unavailable.
type PeriphChip struct {
	mu      sync.Mutex
	pull    gpio.Pull
	inputs  map[int]*periphInput
	outputs map[int]gpio.PinIO
}

type periphInput struct {
	pin  gpio.PinIO
	stop chan struct{}
	done chan struct{}
}

// NewPeriphChip initialises the periph host drivers.
func NewPeriphChip(pull Pull) (*PeriphChip, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	p := gpio.PullUp
	switch pull {
	case PullDown:
		p = gpio.PullDown
	case PullNone:
		p = gpio.Float
	}

	return &PeriphChip{
		pull:    p,
		inputs:  make(map[int]*periphInput),
		outputs: make(map[int]gpio.PinIO),
	}, nil
}

func pinByNumber(line int) (gpio.PinIO, error) {
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", line))
	if p == nil {
		return nil, fmt.Errorf("no such pin GPIO%d", line)
	}
	return p, nil
}

// Watch configures line for both edges and starts a goroutine that turns
// WaitForEdge wakeups into notifications.
func (c *PeriphChip) Watch(line int, notify func(int)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.inputs[line]; ok {
		return fmt.Errorf("request pin %d: already claimed", line)
	}

	p, err := pinByNumber(line)
	if err != nil {
		return err
	}
	if err := p.In(c.pull, gpio.BothEdges); err != nil {
		return fmt.Errorf("request pin %d: %w", line, err)
	}

	in := &periphInput{pin: p, stop: make(chan struct{}), done: make(chan struct{})}
	c.inputs[line] = in

	go func() {
		defer close(in.done)
		for {
			select {
			case <-in.stop:
				return
			default:
			}
			if p.WaitForEdge(edgePoll) {
				notify(line)
			}
		}
	}()
	return nil
}

// Level returns the raw level of an input line.
func (c *PeriphChip) Level(line int) (bool, error) {
	c.mu.Lock()
	in, ok := c.inputs[line]
	c.mu.Unlock()
	if !ok {
		return false, ErrNotClaimed
	}
	return in.pin.Read() == gpio.High, nil
}

// Drive sets an output line.
func (c *PeriphChip) Drive(line int, high bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.outputs[line]
	if !ok {
		var err error
		if p, err = pinByNumber(line); err != nil {
			return err
		}
		c.outputs[line] = p
	}

	lvl := gpio.Low
	if high {
		lvl = gpio.High
	}
	if err := p.Out(lvl); err != nil {
		return fmt.Errorf("set pin %d: %w", line, err)
	}
	return nil
}

// Release stops the watcher (if any) and halts the pin.
func (c *PeriphChip) Release(line int) error {
	c.mu.Lock()
	in, isIn := c.inputs[line]
	out, isOut := c.outputs[line]
	delete(c.inputs, line)
	delete(c.outputs, line)
	c.mu.Unlock()

	switch {
	case isIn:
		close(in.stop)
		<-in.done
		if err := in.pin.Halt(); err != nil {
			return fmt.Errorf("halt pin %d: %w", line, err)
		}
		return nil
	case isOut:
		if err := out.Out(gpio.Low); err != nil {
			return fmt.Errorf("reset pin %d: %w", line, err)
		}
		return nil
	default:
		return ErrNotClaimed
	}
}

// Close releases every line.
func (c *PeriphChip) Close() error {
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
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
