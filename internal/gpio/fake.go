package gpio

import (
	"errors"
	"sort"
	"sync"
)

// FakeChip is a test double that simulates input and output lines.
// It is safe for concurrent use.
type FakeChip struct {
	mu       sync.Mutex
	lines    map[int]*fakeLine
	released []int

	// Closed tracks if Close was called.
	Closed bool

	// LevelError, if set, is returned by Level.
	LevelError error

	// WatchError, if set, is returned by Watch.
	WatchError error
}

type fakeLine struct {
	level   bool
	notify  func(int)
	watched bool
	output  bool
}

// NewFakeChip creates a FakeChip with every line low.
func NewFakeChip() *FakeChip {
	return &FakeChip{lines: make(map[int]*fakeLine)}
}

func (f *FakeChip) line(n int) *fakeLine {
	l, ok := f.lines[n]
	if !ok {
		l = &fakeLine{}
		f.lines[n] = l
	}
	return l
}

// Watch records the notify callback for line.
func (f *FakeChip) Watch(line int, notify func(int)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WatchError != nil {
		return f.WatchError
	}
	l := f.line(line)
	if l.watched {
		return errors.New("gpio: line busy")
	}
	l.watched = true
	l.notify = notify
	return nil
}

// Level returns the simulated level of line.
func (f *FakeChip) Level(line int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LevelError != nil {
		return false, f.LevelError
	}
	l, ok := f.lines[line]
	if !ok || !l.watched {
		return false, ErrNotClaimed
	}
	return l.level, nil
}

// Drive sets an output line.
func (f *FakeChip) Drive(line int, high bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.line(line)
	l.output = true
	l.level = high
	return nil
}

// Release marks line as released.
func (f *FakeChip) Release(line int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lines[line]
	if !ok || (!l.watched && !l.output) {
		return ErrNotClaimed
	}
	l.watched = false
	l.output = false
	l.notify = nil
	f.released = append(f.released, line)
	return nil
}

// Close marks the chip as closed.
func (f *FakeChip) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// SetInitial sets the level of line without notifying.
func (f *FakeChip) SetInitial(line int, level bool) {
	f.mu.Lock()
	f.line(line).level = level
	f.mu.Unlock()
}

// Set changes the level of line and delivers a notification.
func (f *FakeChip) Set(line int, level bool) {
	f.mu.Lock()
	l := f.line(line)
	l.level = level
	notify := l.notify
	f.mu.Unlock()

	if notify != nil {
		notify(line)
	}
}

// Bounce delivers a burst of level changes, one notification each.
func (f *FakeChip) Bounce(line int, levels ...bool) {
	for _, lv := range levels {
		f.Set(line, lv)
	}
}

// Notify delivers a notification without changing the level (a duplicate report).
func (f *FakeChip) Notify(line int) {
	f.mu.Lock()
	notify := f.line(line).notify
	f.mu.Unlock()

	if notify != nil {
		notify(line)
	}
}

// Driven returns the level last set on an output line.
func (f *FakeChip) Driven(line int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lines[line]
	return ok && l.output && l.level
}

// Watched reports whether line is currently claimed as an input.
func (f *FakeChip) Watched(line int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lines[line]
	return ok && l.watched
}

// Released returns the released lines in ascending order.
func (f *FakeChip) Released() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]int(nil), f.released...)
	sort.Ints(out)
	return out
}
