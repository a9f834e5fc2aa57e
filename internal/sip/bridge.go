package sip

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sweeney/rotary-phone/internal/mqtt"
)

// Command is sent to the user agent on the command topic.
type Command struct {
	Command string `json:"command"`
	Number  string `json:"number,omitempty"`
	Code    int    `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Event is received from the user agent on the event topic.
type Event struct {
	Event  string `json:"event"`
	Cause  int    `json:"cause,omitempty"`
	Caller string `json:"caller,omitempty"`
}

// Event names sent by the user agent.
const (
	EventIncomingCall = "incoming_call"
	EventConnected    = "connected"
	EventBusy         = "busy"
	EventHangup       = "hangup"
	EventDropped      = "dropped"
	EventFailed       = "failed"
	EventRegistered   = "registered"
	EventUnregistered = "unregistered"
)

// Bridge is a Backend that relays commands to an external SIP user agent over
// MQTT and turns its events into Handler calls.
type Bridge struct {
	transport mqtt.Transport
	topics    mqtt.Topics
	log       *zap.SugaredLogger

	mu             sync.Mutex
	handler        Handler
	registered     bool
	onRegistration []func(registered bool)
}

// NewBridge creates a Bridge. Call Start to begin receiving events.
func NewBridge(t mqtt.Transport, topics mqtt.Topics, log *zap.SugaredLogger) *Bridge {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bridge{transport: t, topics: topics, log: log}
}

// OnRegistration registers a callback for user agent registration changes.
func (b *Bridge) OnRegistration(f func(registered bool)) {
	b.mu.Lock()
	b.onRegistration = append(b.onRegistration, f)
	b.mu.Unlock()
}

// Start subscribes to call events and delivers them to h.
func (b *Bridge) Start(h Handler) error {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()

	if err := b.transport.Subscribe(b.topics.SIPEvent, b.handle); err != nil {
		return fmt.Errorf("subscribe sip events: %w", err)
	}
	return nil
}

// Registered reports whether the user agent last reported registration.
func (b *Bridge) Registered() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registered
}

// Dial asks the user agent to call number.
func (b *Bridge) Dial(number string) error {
	return b.send(Command{Command: "dial", Number: number})
}

// Answer asks the user agent to accept the incoming call.
func (b *Bridge) Answer() error {
	return b.send(Command{Command: "answer"})
}

// Hangup asks the user agent to end the current call.
func (b *Bridge) Hangup(code int, reason string) error {
	return b.send(Command{Command: "hangup", Code: code, Reason: reason})
}

// Logout asks the user agent to unregister.
func (b *Bridge) Logout() error {
	return b.send(Command{Command: "logout"})
}

func (b *Bridge) send(cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd.Command, err)
	}
	if err := b.transport.Send(b.topics.SIPCommand, payload); err != nil {
		return fmt.Errorf("%s: %w", cmd.Command, err)
	}
	b.log.Debugw("sip command sent", "command", cmd.Command, "number", cmd.Number)
	return nil
}

func (b *Bridge) handle(payload []byte) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		b.log.Warnw("malformed sip event", "payload", string(payload), "error", err)
		return
	}

	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h == nil {
		return
	}

	switch ev.Event {
	case EventIncomingCall:
		b.log.Infow("incoming call", "caller", ev.Caller)
		h.IncomingCall()
	case EventConnected:
		h.Connected()
	case EventBusy:
		h.RemoteBusy()
	case EventHangup:
		cause := LookupCause(ev.Cause)
		b.log.Infow("call ended", "cause", cause.Name, "code", ev.Cause, "outcome", cause.Outcome)
		switch cause.Outcome {
		case OutcomeBusy:
			h.RemoteBusy()
		case OutcomeFailed:
			h.CallFailed()
		default:
			h.RemoteHangup()
		}
	case EventDropped:
		h.CallDropped()
	case EventFailed:
		h.CallFailed()
	case EventRegistered, EventUnregistered:
		b.setRegistered(ev.Event == EventRegistered)
	default:
		b.log.Warnw("unknown sip event", "event", ev.Event)
	}
}

func (b *Bridge) setRegistered(registered bool) {
	b.mu.Lock()
	changed := b.registered != registered
	b.registered = registered
	fns := b.onRegistration
	b.mu.Unlock()

	if !changed {
		return
	}
	b.log.Infow("sip registration changed", "registered", registered)
	for _, f := range fns {
		f(registered)
	}
}
