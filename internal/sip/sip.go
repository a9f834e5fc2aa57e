// Package sip connects the phone to the call backend. The SIP signalling
// itself runs in an external user agent; this package only relays commands
// to it and call events back.
package sip

// Backend places and controls calls.
type Backend interface {
	Dial(number string) error
	Answer() error
	Hangup(code int, reason string) error
	Logout() error
}

// Handler receives call events from the backend.
type Handler interface {
	IncomingCall()
	Connected()
	RemoteBusy()
	RemoteHangup()
	CallDropped()
	CallFailed()
}

// Outcome classifies how a call ended.
type Outcome int

const (
	OutcomeHangup Outcome = iota
	OutcomeBusy
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBusy:
		return "busy"
	case OutcomeFailed:
		return "failed"
	default:
		return "hangup"
	}
}

// Cause describes a Q.850 hangup cause as reported by Asterisk.
type Cause struct {
	Name        string
	Description string
	Outcome     Outcome
}

// HangupCause maps hangup cause codes to names, descriptions and the call
// outcome the phone should present.
var HangupCause = map[int]Cause{
	0:   {"unknown", "Unknown or no cause provided", OutcomeHangup},
	16:  {"normal_clearing", "The call was hung up normally by one of the parties", OutcomeHangup},
	17:  {"user_busy", "The destination was busy", OutcomeBusy},
	18:  {"no_answer", "The destination did not answer", OutcomeHangup},
	19:  {"no_answer", "The destination did not answer within the timeout", OutcomeHangup},
	21:  {"call_rejected", "The call was rejected by the destination", OutcomeBusy},
	31:  {"normal_unspecified", "Normal call clearing, unspecified cause", OutcomeHangup},
	34:  {"congestion", "All circuits are busy or no circuit is available", OutcomeFailed},
	38:  {"network_out_of_order", "The network is not functioning correctly", OutcomeFailed},
	41:  {"temporary_failure", "The network is temporarily unavailable", OutcomeFailed},
	127: {"interworking", "An interworking error occurred", OutcomeFailed},
}

// LookupCause returns the cause for code. Unknown codes in the normal class
// (below 32) end the call normally; anything else is a failure.
func LookupCause(code int) Cause {
	if c, ok := HangupCause[code]; ok {
		return c
	}
	if code < 32 {
		return Cause{"unknown", "Unrecognised normal-class cause", OutcomeHangup}
	}
	return Cause{"unknown", "Unrecognised failure cause", OutcomeFailed}
}
