// Package logic contains the call state machine.
// This package has NO external dependencies (no GPIO, MQTT, audio, or time.Sleep).
// Time is always injectable via time.Time fields.
package logic

import "time"

// State is the call state of the phone.
type State string

const (
	StateOnHook         State = "ON_HOOK"
	StateOffHookIdle    State = "OFF_HOOK_IDLE"
	StateDialing        State = "DIALING"
	StateConnecting     State = "CONNECTING"
	StateRingingInbound State = "RINGING_INBOUND"
	StateConnected      State = "CONNECTED"
	StateTeardown       State = "TEARDOWN"
)

// EventType identifies an input to the controller.
type EventType string

const (
	EventOffHook         EventType = "OFF_HOOK"
	EventOnHook          EventType = "ON_HOOK"
	EventHookVerify      EventType = "HOOK_VERIFY"
	EventDigit           EventType = "DIGIT"
	EventRotationProblem EventType = "ROTATION_PROBLEM"
	EventTimerExpired    EventType = "TIMER_EXPIRED"
	EventIncomingCall    EventType = "INCOMING_CALL"
	EventConnected       EventType = "CONNECTED"
	EventRemoteBusy      EventType = "REMOTE_BUSY"
	EventRemoteHangup    EventType = "REMOTE_HANGUP"
	EventCallDropped     EventType = "CALL_DROPPED"
	EventCallFailed      EventType = "CALL_FAILED"
	EventShutdown        EventType = "SHUTDOWN"
)

// Event is a single input to the controller.
type Event struct {
	Type EventType
	// Digit is set for EventDigit.
	Digit int
	// Pulses is the raw count for EventRotationProblem.
	Pulses int
	// OffHook is the sampled hook state for EventHookVerify.
	OffHook bool
	// Seq is the dial timer generation for EventTimerExpired.
	Seq  uint64
	Time time.Time
}

// Tone identifies a call-progress tone.
type Tone string

const (
	ToneDial     Tone = "dial"
	ToneRingback Tone = "ringback"
	ToneRing     Tone = "ring"
	ToneBusy     Tone = "busy"
	ToneError    Tone = "error"
)

// Tones lists every tone.
var Tones = []Tone{ToneDial, ToneRingback, ToneRing, ToneBusy, ToneError}

// ActionKind identifies a side effect requested by the controller.
type ActionKind string

const (
	ActionStartTimer   ActionKind = "START_TIMER"
	ActionResetTimer   ActionKind = "RESET_TIMER"
	ActionCancelTimer  ActionKind = "CANCEL_TIMER"
	ActionPlayTone     ActionKind = "PLAY_TONE"
	ActionStopTone     ActionKind = "STOP_TONE"
	ActionStopAllTones ActionKind = "STOP_ALL_TONES"
	ActionDial         ActionKind = "DIAL"
	ActionAnswer       ActionKind = "ANSWER"
	ActionHangup       ActionKind = "HANGUP"
	ActionReleaseLines ActionKind = "RELEASE_LINES"
	ActionLogout       ActionKind = "LOGOUT"
)

// Action is a side effect to execute, in order, after a transition.
type Action struct {
	Kind   ActionKind
	Tone   Tone
	Number string
	Code   int
	Reason string
}

// Hangup codes sent to the call backend.
const (
	HangupNormal     = 200
	HangupTerminated = 487
)

// Outcome is the result of processing one event.
type Outcome struct {
	From    State
	To      State
	Actions []Action
	// Ignored is set when the event has no transition in the current state.
	Ignored bool
}

// Changed reports whether the state changed.
func (o Outcome) Changed() bool {
	return o.From != o.To
}

// EventCounts tracks activity since startup.
type EventCounts struct {
	OffHook  int
	OnHook   int
	Digits   int
	Problems int
	Dialed   int
	Incoming int
	Answered int
	Failed   int
	Ignored  int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	State     State
	Counts    EventCounts
}
