package sip

import (
	"fmt"
	"strings"
	"sync"
)

// FakeBackend records backend calls for test assertions.
type FakeBackend struct {
	mu    sync.Mutex
	calls []string

	// DialError, if set, will be returned by Dial.
	DialError error

	// AnswerError, if set, will be returned by Answer.
	AnswerError error
}

// NewFakeBackend creates a FakeBackend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{}
}

func (f *FakeBackend) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

// Dial records "dial <number>".
func (f *FakeBackend) Dial(number string) error {
	f.record("dial " + number)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.DialError
}

// Answer records "answer".
func (f *FakeBackend) Answer() error {
	f.record("answer")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.AnswerError
}

// Hangup records "hangup <code> <reason>".
func (f *FakeBackend) Hangup(code int, reason string) error {
	f.record(fmt.Sprintf("hangup %d %s", code, reason))
	return nil
}

// Logout records "logout".
func (f *FakeBackend) Logout() error {
	f.record("logout")
	return nil
}

// Calls returns the recorded calls in order.
func (f *FakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how many recorded calls start with prefix.
func (f *FakeBackend) Count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// FakeHandler records call events delivered to it.
type FakeHandler struct {
	mu     sync.Mutex
	events []string
}

func (h *FakeHandler) add(ev string) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

func (h *FakeHandler) IncomingCall() { h.add("incoming") }
func (h *FakeHandler) Connected()    { h.add("connected") }
func (h *FakeHandler) RemoteBusy()   { h.add("busy") }
func (h *FakeHandler) RemoteHangup() { h.add("hangup") }
func (h *FakeHandler) CallDropped()  { h.add("dropped") }
func (h *FakeHandler) CallFailed()   { h.add("failed") }

// Events returns the recorded events in order.
func (h *FakeHandler) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}
