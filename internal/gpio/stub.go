//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// CdevChip is not available on non-Linux platforms.
type CdevChip struct{ FakeChip }

// NewCdevChip returns an error on non-Linux platforms.
func NewCdevChip(name string, pull Pull) (*CdevChip, error) {
	return nil, errUnsupported
}

// PeriphChip is not available on non-Linux platforms.
type PeriphChip struct{ FakeChip }

// NewPeriphChip returns an error on non-Linux platforms.
func NewPeriphChip(pull Pull) (*PeriphChip, error) {
	return nil, errUnsupported
}
