// Package gpio provides the hardware edge source for the phone's sense lines.
// The real implementations use the Linux GPIO character device (go-gpiocdev)
// or periph.io. The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotClaimed is returned when releasing or reading a line that was never claimed.
var ErrNotClaimed = errors.New("gpio: line not claimed")

// Chip delivers raw edge notifications for claimed input lines and drives
// output lines.
type Chip interface {
	// Watch claims line as an input with both-edge detection. notify is
	// called whenever the raw level may have changed. Delivery is
	// at-least-once and unordered across lines.
	Watch(line int, notify func(line int)) error

	// Level samples the raw level of a claimed input line (true = high).
	Level(line int) (bool, error)

	// Drive sets an output line, claiming it on first use.
	Drive(line int, high bool) error

	// Release gives back a single claim.
	Release(line int) error

	// Close releases every claim and the chip itself.
	Close() error
}

// Default line assignments (BCM numbering), matching the Astral wall phone
// wiring: dial-active on 27, pulse contacts on 17, earpiece switch on 22.
const (
	DefaultPinRotation = 27
	DefaultPinPulse    = 17
	DefaultPinHook     = 22
)

// Pull is the bias applied to input lines.
type Pull string

const (
	PullUp   Pull = "up"
	PullDown Pull = "down"
	PullNone Pull = "none"
)

// ParsePull converts a config value into a Pull.
func ParsePull(s string) (Pull, error) {
	switch p := Pull(strings.ToLower(strings.TrimSpace(s))); p {
	case PullUp, PullDown, PullNone:
		return p, nil
	case "":
		return PullUp, nil
	default:
		return "", fmt.Errorf("gpio: unknown pull %q", s)
	}
}
