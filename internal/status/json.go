package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	State         string       `json:"state"`
	Hook          string       `json:"hook"`
	Digits        string       `json:"digits"`
	LastNumber    string       `json:"last_number,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	SIP           SIPStatus    `json:"sip"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Buffered  int    `json:"buffered"`
}

// SIPStatus reports the user agent registration state.
type SIPStatus struct {
	Registered bool `json:"registered"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	OffHook  int    `json:"off_hook"`
	OnHook   int    `json:"on_hook"`
	Digits   int    `json:"digits"`
	Problems int    `json:"rotation_problems"`
	Dialed   int    `json:"dialed"`
	Incoming int    `json:"incoming"`
	Answered int    `json:"answered"`
	Failed   int    `json:"failed"`
	Ignored  int    `json:"ignored"`
	Dropped  uint64 `json:"dropped"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Driver        string `json:"driver"`
	PinRotation   int    `json:"pin_rotation"`
	PinPulse      int    `json:"pin_pulse"`
	PinHook       int    `json:"pin_hook"`
	DialBounceMs  int64  `json:"dial_bounce_ms"`
	HookBounceMs  int64  `json:"hook_bounce_ms"`
	DialTimeoutMs int64  `json:"dial_timeout_ms"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	Broker        string `json:"broker"`
	HTTPAddr      string `json:"http_addr"`
}

// HookString returns "OFF_HOOK" or "ON_HOOK".
func HookString(offHook bool) string {
	if offHook {
		return "OFF_HOOK"
	}
	return "ON_HOOK"
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.State)
	if state == "" {
		state = "UNKNOWN"
	}

	return StatusInner{
		State:         state,
		Hook:          HookString(snap.OffHook),
		Digits:        snap.Digits,
		LastNumber:    snap.LastNumber,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker, Buffered: snap.MQTTBuffered},
		SIP:           SIPStatus{Registered: snap.SIPRegistered},
		Counts: CountsJSON{
			OffHook:  snap.Counts.OffHook,
			OnHook:   snap.Counts.OnHook,
			Digits:   snap.Counts.Digits,
			Problems: snap.Counts.Problems,
			Dialed:   snap.Counts.Dialed,
			Incoming: snap.Counts.Incoming,
			Answered: snap.Counts.Answered,
			Failed:   snap.Counts.Failed,
			Ignored:  snap.Counts.Ignored,
			Dropped:  snap.Dropped,
		},
		Config: ConfigJSON{
			Driver:        snap.Config.Driver,
			PinRotation:   snap.Config.PinRotation,
			PinPulse:      snap.Config.PinPulse,
			PinHook:       snap.Config.PinHook,
			DialBounceMs:  snap.Config.DialBounceMs,
			HookBounceMs:  snap.Config.HookBounceMs,
			DialTimeoutMs: snap.Config.DialTimeoutMs,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			Broker:        snap.Config.Broker,
			HTTPAddr:      snap.Config.HTTPAddr,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
