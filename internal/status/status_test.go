package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/rotary-phone/internal/logic"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{DialBounceMs: 25, HookBounceMs: 100, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.DialBounceMs != 25 {
		t.Errorf("Config.DialBounceMs: got %d, want 25", snap.Config.DialBounceMs)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if snap.State != logic.StateOnHook {
		t.Errorf("State: got %q, want ON_HOOK", snap.State)
	}
	if snap.MQTTConnected || snap.SIPRegistered {
		t.Error("expected disconnected initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.Update(logic.StateDialing, true, "55", "", logic.EventCounts{OffHook: 1, Digits: 2})

	snap := tr.Snapshot()
	if snap.State != logic.StateDialing {
		t.Errorf("State: got %q, want DIALING", snap.State)
	}
	if !snap.OffHook {
		t.Error("expected OffHook=true")
	}
	if snap.Digits != "55" {
		t.Errorf("Digits: got %q, want 55", snap.Digits)
	}
	if snap.Counts.Digits != 2 {
		t.Errorf("Counts.Digits: got %d, want 2", snap.Counts.Digits)
	}
}

func TestSetters(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	tr.SetSIPRegistered(true)
	tr.SetDropped(3)
	tr.SetMQTTBuffered(7)
	snap := tr.Snapshot()
	if !snap.MQTTConnected || !snap.SIPRegistered {
		t.Error("expected connected and registered")
	}
	if snap.Dropped != 3 {
		t.Errorf("Dropped: got %d, want 3", snap.Dropped)
	}
	if snap.MQTTBuffered != 7 {
		t.Errorf("MQTTBuffered: got %d, want 7", snap.MQTTBuffered)
	}

	tr.SetMQTTConnected(false)
	tr.SetSIPRegistered(false)
	snap = tr.Snapshot()
	if snap.MQTTConnected || snap.SIPRegistered {
		t.Error("expected disconnected and unregistered")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(logic.StateDialing, true, "5", "", logic.EventCounts{Digits: 1})

	snap1 := tr.Snapshot()

	tr.Update(logic.StateOnHook, false, "", "5", logic.EventCounts{Digits: 1})

	if snap1.State != logic.StateDialing {
		t.Error("snapshot should be a copy; State was modified")
	}
	if snap1.Digits != "5" {
		t.Error("snapshot should be a copy; Digits was modified")
	}
}

func TestWatch(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	ch, stop := tr.Watch()

	tr.Update(logic.StateOffHookIdle, true, "", "", logic.EventCounts{})
	tr.Update(logic.StateDialing, true, "1", "", logic.EventCounts{})

	select {
	case <-ch:
	default:
		t.Fatal("expected a change signal")
	}
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}

	// Setting an unchanged connection status does not signal.
	tr.SetMQTTConnected(false)
	select {
	case <-ch:
		t.Fatal("unexpected signal for unchanged status")
	default:
	}

	stop()
	stop()
	tr.SetDropped(1)
	select {
	case <-ch:
		t.Fatal("stopped watch should not be signalled")
	default:
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		State:         logic.StateConnected,
		OffHook:       true,
		LastNumber:    "551",
		Counts:        logic.EventCounts{OffHook: 5, Dialed: 2, Ignored: 1},
		Dropped:       4,
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		MQTTBuffered:  2,
		SIPRegistered: true,
		Config:        Config{DialBounceMs: 25, HookBounceMs: 100, HeartbeatMs: 900000, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.State != "CONNECTED" {
		t.Errorf("State: got %q, want CONNECTED", parsed.Status.State)
	}
	if parsed.Status.Hook != "OFF_HOOK" {
		t.Errorf("Hook: got %q, want OFF_HOOK", parsed.Status.Hook)
	}
	if parsed.Status.LastNumber != "551" {
		t.Errorf("LastNumber: got %q, want 551", parsed.Status.LastNumber)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if !parsed.Status.MQTT.Connected || !parsed.Status.SIP.Registered {
		t.Error("expected MQTT connected and SIP registered")
	}
	if parsed.Status.MQTT.Buffered != 2 {
		t.Errorf("MQTT.Buffered: got %d, want 2", parsed.Status.MQTT.Buffered)
	}
	if parsed.Status.Counts.OffHook != 5 || parsed.Status.Counts.Dialed != 2 {
		t.Errorf("Counts: got %+v", parsed.Status.Counts)
	}
	if parsed.Status.Counts.Dropped != 4 {
		t.Errorf("Counts.Dropped: got %d, want 4", parsed.Status.Counts.Dropped)
	}
	if parsed.Status.Config.DialBounceMs != 25 {
		t.Errorf("Config.DialBounceMs: got %d, want 25", parsed.Status.Config.DialBounceMs)
	}
	// Event and Reason should be omitted
	if parsed.Status.Event != "" {
		t.Errorf("expected empty Event for web format, got %q", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("expected empty Reason for web format, got %q", parsed.Status.Reason)
	}
}

func TestFormatJSONUnknownState(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	json.Unmarshal(data, &parsed)

	if parsed.Status.State != "UNKNOWN" {
		t.Errorf("State: got %q, want UNKNOWN", parsed.Status.State)
	}
	if parsed.Status.Hook != "ON_HOOK" {
		t.Errorf("Hook: got %q, want ON_HOOK", parsed.Status.Hook)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		State:     logic.StateOnHook,
		Counts:    logic.EventCounts{OffHook: 3},
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "HEARTBEAT", "")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if parsed.Status.State != "ON_HOOK" {
		t.Errorf("State: got %q, want ON_HOOK", parsed.Status.State)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		State:     logic.StateOnHook,
		StartTime: start,
		Now:       start.Add(30 * time.Minute),
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if _, exists := status["last_number"]; exists {
		t.Error("last_number should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{
		State:     logic.StateOnHook,
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	json.Unmarshal(data, &parsed)

	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", parsed.Status.Network.IP)
	}
	if parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network.SSID: got %q, want MyNet", parsed.Status.Network.SSID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	ch, stop := tr.Watch()
	defer stop()
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(logic.StateDialing, true, "1", "", logic.EventCounts{Digits: i})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	// Readers
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			select {
			case <-ch:
			default:
			}
		}
	}()

	wg.Wait()
}
