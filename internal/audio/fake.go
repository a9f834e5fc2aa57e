package audio

import (
	"sort"
	"sync"

	"github.com/sweeney/rotary-phone/internal/logic"
)

// FakePlayer records player calls and tracks which tones would be audible.
type FakePlayer struct {
	mu     sync.Mutex
	calls  []string
	active map[logic.Tone]bool
	closed bool

	// PlayError, if set, will be returned by Play.
	PlayError error
}

// NewFakePlayer creates a FakePlayer.
func NewFakePlayer() *FakePlayer {
	return &FakePlayer{active: make(map[logic.Tone]bool)}
}

// Play records "play <tone>".
func (f *FakePlayer) Play(tone logic.Tone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "play "+string(tone))
	if f.closed {
		return ErrClosed
	}
	if f.PlayError != nil {
		return f.PlayError
	}
	f.active[tone] = true
	return nil
}

// Stop records "stop <tone>".
func (f *FakePlayer) Stop(tone logic.Tone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop "+string(tone))
	delete(f.active, tone)
	return nil
}

// StopAll records "stopall".
func (f *FakePlayer) StopAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stopall")
	f.active = make(map[logic.Tone]bool)
	return nil
}

// Close records "close".
func (f *FakePlayer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "close")
	f.closed = true
	f.active = make(map[logic.Tone]bool)
	return nil
}

// Calls returns the recorded calls in order.
func (f *FakePlayer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Playing returns the tones currently playing, sorted by name.
func (f *FakePlayer) Playing() []logic.Tone {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]logic.Tone, 0, len(f.active))
	for tone := range f.active {
		out = append(out, tone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Closed reports whether Close has been called.
func (f *FakePlayer) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
