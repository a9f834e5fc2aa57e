// Package mqtt provides MQTT publishing and messaging with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/rotary-phone/internal/logic"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "phone/rotary"

// Topics are the MQTT topics used by the phone.
type Topics struct {
	// Events carries phone activity reports.
	Events string
	// System carries lifecycle events (retained).
	System string
	// SIPCommand carries commands to the SIP user agent.
	SIPCommand string
	// SIPEvent carries call events from the SIP user agent.
	SIPEvent string
}

// NewTopics derives the topic set from prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{
		Events:     prefix + "/events",
		System:     prefix + "/system",
		SIPCommand: prefix + "/sip/command",
		SIPEvent:   prefix + "/sip/event",
	}
}

// Publisher publishes phone activity to MQTT.
type Publisher interface {
	// Publish sends a phone report to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(report Report) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// Transport sends and receives raw messages. The SIP bridge runs over it.
type Transport interface {
	// Send publishes payload to topic with at-least-once delivery.
	Send(topic string, payload []byte) error

	// Subscribe registers handler for topic. Subscriptions survive reconnects.
	Subscribe(topic string, handler func(payload []byte)) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// BacklogStatus reports how many publications are held for replay.
type BacklogStatus interface {
	Buffered() int
}

// ReportType identifies a phone activity report.
type ReportType string

const (
	ReportOffHook         ReportType = "OFF_HOOK"
	ReportOnHook          ReportType = "ON_HOOK"
	ReportDigit           ReportType = "DIGIT"
	ReportRotationProblem ReportType = "ROTATION_PROBLEM"
	ReportState           ReportType = "STATE"
	ReportDial            ReportType = "DIAL"
)

// Report is a phone activity event.
type Report struct {
	Timestamp time.Time
	Type      ReportType
	State     logic.State
	From      logic.State // STATE only
	Number    string      // DIAL only
	Digit     int         // DIGIT only
	Pulses    int         // ROTATION_PROBLEM only
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Phone PhonePayload `json:"phone"`
}

// PhonePayload contains the report details.
type PhonePayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	State     string `json:"state"`
	From      string `json:"from,omitempty"`
	Number    string `json:"number,omitempty"`
	Digit     *int   `json:"digit,omitempty"`
	Pulses    *int   `json:"pulses,omitempty"`
}

// FormatPayload creates the JSON payload for a phone report.
func FormatPayload(report Report) ([]byte, error) {
	inner := PhonePayload{
		Timestamp: report.Timestamp.UTC().Format(time.RFC3339),
		Event:     string(report.Type),
		State:     string(report.State),
		From:      string(report.From),
		Number:    report.Number,
	}
	switch report.Type {
	case ReportDigit:
		d := report.Digit
		inner.Digit = &d
	case ReportRotationProblem:
		p := report.Pulses
		inner.Pulses = &p
	}
	return json.Marshal(Payload{Phone: inner})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
