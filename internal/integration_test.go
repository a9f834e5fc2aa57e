package internal

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/sweeney/rotary-phone/internal/audio"
	"github.com/sweeney/rotary-phone/internal/clock"
	"github.com/sweeney/rotary-phone/internal/dial"
	"github.com/sweeney/rotary-phone/internal/gpio"
	"github.com/sweeney/rotary-phone/internal/hook"
	"github.com/sweeney/rotary-phone/internal/logic"
	"github.com/sweeney/rotary-phone/internal/mqtt"
	"github.com/sweeney/rotary-phone/internal/phone"
	"github.com/sweeney/rotary-phone/internal/pin"
	"github.com/sweeney/rotary-phone/internal/sip"
	"github.com/sweeney/rotary-phone/internal/status"
	"github.com/sweeney/rotary-phone/internal/timer"
)

const (
	pinRotation    = gpio.DefaultPinRotation
	pinPulse       = gpio.DefaultPinPulse
	pinHook        = gpio.DefaultPinHook
	pinRotationLED = 5

	dialBounce  = 25 * time.Millisecond
	hookBounce  = 100 * time.Millisecond
	dialTimeout = 3 * time.Second

	// settle outlasts either bounce window.
	settle = 120 * time.Millisecond
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// pipeline wires the full phone the way main does, on a fake chip and clock.
type pipeline struct {
	t         *testing.T
	chip      *gpio.FakeChip
	clk       *clock.Fake
	registry  *pin.Registry
	phone     *phone.Phone
	hook      *hook.Monitor
	player    *audio.FakePlayer
	publisher *mqtt.FakePublisher
	transport *mqtt.FakeTransport
	topics    mqtt.Topics
	tracker   *status.Tracker
	cancel    context.CancelFunc
	done      chan error
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()

	p := &pipeline{
		t:         t,
		chip:      gpio.NewFakeChip(),
		clk:       clock.NewFake(epoch),
		player:    audio.NewFakePlayer(),
		publisher: mqtt.NewFakePublisher(),
		transport: mqtt.NewFakeTransport(),
		topics:    mqtt.NewTopics(""),
		tracker:   status.NewTracker(epoch, status.Config{}),
	}

	// Dial at rest (rotation high), pulse contacts open, handset on hook.
	p.chip.SetInitial(pinRotation, true)
	p.chip.SetInitial(pinPulse, false)
	p.chip.SetInitial(pinHook, false)

	p.registry = pin.NewRegistry(p.chip, p.clk, log)
	rotation := p.claim(pinRotation, dialBounce)
	pulse := p.claim(pinPulse, dialBounce)
	hookLine := p.claim(pinHook, hookBounce)
	led, err := p.registry.ClaimOutput(pinRotationLED)
	if err != nil {
		t.Fatalf("claim LED: %v", err)
	}

	decoder := dial.New(dial.Config{RotatingLevel: false, PulseLevel: true}, log)
	decoder.Mirror(led, nil)
	decoder.Attach(rotation, pulse)
	hk := hook.New(hookLine, true, p.clk, log)
	p.hook = hk

	bridge := sip.NewBridge(p.transport, p.topics, log)
	p.phone = phone.New(phone.Deps{
		Controller: logic.NewController(logic.Options{StartTime: epoch}),
		Timer:      timer.New(p.clk, dialTimeout),
		Player:     p.player,
		Backend:    bridge,
		Publisher:  p.publisher,
		Tracker:    p.tracker,
		Lines:      p.registry,
		Clock:      p.clk,
		Log:        log,
	}, phone.DefaultQueueSize)
	p.phone.Attach(decoder, hk)
	if err := bridge.Start(p.phone); err != nil {
		t.Fatalf("start bridge: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() { p.done <- p.phone.Run(ctx) }()
	t.Cleanup(p.stop)
	return p
}

func (p *pipeline) claim(line int, bounce time.Duration) *pin.Monitor {
	p.t.Helper()
	m, err := p.registry.Claim(line, bounce)
	if err != nil {
		p.t.Fatalf("claim %d: %v", line, err)
	}
	return m
}

func (p *pipeline) stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	if err := <-p.done; err != nil {
		p.t.Errorf("Run: %v", err)
	}
}

// wait blocks until the phone has consumed every posted event.
func (p *pipeline) wait() {
	p.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !p.phone.Idle() {
		if time.Now().After(deadline) {
			p.t.Fatal("timed out waiting for the phone to go idle")
		}
		time.Sleep(time.Millisecond)
	}
}

// step advances the clock and waits for the resulting events.
func (p *pipeline) step(d time.Duration) {
	p.t.Helper()
	p.clk.Advance(d)
	p.wait()
}

func (p *pipeline) lift() {
	p.t.Helper()
	p.chip.Set(pinHook, true)
	p.step(settle)
}

func (p *pipeline) replace() {
	p.t.Helper()
	p.chip.Set(pinHook, false)
	p.step(settle)
}

// rotate drives one full rotation delivering pulses pulses.
func (p *pipeline) rotate(pulses int) {
	p.t.Helper()
	p.chip.Set(pinRotation, false)
	p.step(settle)
	for i := 0; i < pulses; i++ {
		p.chip.Set(pinPulse, true)
		p.step(settle)
		p.chip.Set(pinPulse, false)
		p.step(settle)
	}
	p.chip.Set(pinRotation, true)
	p.step(settle)
}

func (p *pipeline) state() logic.State {
	return p.tracker.Snapshot().State
}

func (p *pipeline) commands() []string {
	var out []string
	for _, msg := range p.transport.Sent() {
		if msg.Topic != p.topics.SIPCommand {
			p.t.Errorf("command sent to %s", msg.Topic)
		}
		out = append(out, string(msg.Payload))
	}
	return out
}

func (p *pipeline) sipEvent(ev sip.Event) {
	p.t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		p.t.Fatal(err)
	}
	if !p.transport.Deliver(p.topics.SIPEvent, payload) {
		p.t.Fatal("bridge not subscribed")
	}
	p.wait()
}

// TestIntegrationDialNumber dials 551 with the rotary dial and checks the
// call is placed exactly once after the dial timeout.
func TestIntegrationDialNumber(t *testing.T) {
	p := newPipeline(t)

	p.lift()
	if p.state() != logic.StateOffHookIdle {
		t.Fatalf("state after lift = %s, want OFF_HOOK_IDLE", p.state())
	}
	if got := p.player.Playing(); !reflect.DeepEqual(got, []logic.Tone{logic.ToneDial}) {
		t.Fatalf("playing = %v, want [dial]", got)
	}

	p.rotate(5)
	p.rotate(5)
	p.rotate(1)
	if got := p.tracker.Snapshot().Digits; got != "551" {
		t.Fatalf("digits = %q, want 551", got)
	}
	if len(p.commands()) != 0 {
		t.Fatalf("dialed before the timeout: %v", p.commands())
	}

	p.step(dialTimeout)
	want := []string{`{"command":"dial","number":"551"}`}
	if got := p.commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
	if p.state() != logic.StateConnecting {
		t.Errorf("state = %s, want CONNECTING", p.state())
	}
	if got := p.player.Playing(); !reflect.DeepEqual(got, []logic.Tone{logic.ToneRingback}) {
		t.Errorf("playing = %v, want [ringback]", got)
	}

	p.step(time.Minute)
	if len(p.commands()) != 1 {
		t.Errorf("commands = %v, want exactly one dial", p.commands())
	}

	var digits []int
	for _, r := range p.publisher.Reports() {
		if r.Type == mqtt.ReportDigit {
			digits = append(digits, r.Digit)
		}
	}
	if !reflect.DeepEqual(digits, []int{5, 5, 1}) {
		t.Errorf("digit reports = %v, want [5 5 1]", digits)
	}
}

// TestIntegrationTenPulsesIsZero dials 0.
func TestIntegrationTenPulsesIsZero(t *testing.T) {
	p := newPipeline(t)

	p.lift()
	p.rotate(10)
	if got := p.tracker.Snapshot().Digits; got != "0" {
		t.Errorf("digits = %q, want 0", got)
	}
}

// TestIntegrationContactBounce checks bouncy contacts produce single events.
func TestIntegrationContactBounce(t *testing.T) {
	p := newPipeline(t)

	// Hook contacts chatter on the way up.
	p.chip.Bounce(pinHook, true, false, true, false, true)
	p.step(settle)
	if got := p.tracker.Snapshot().Counts.OffHook; got != 1 {
		t.Fatalf("off-hook count = %d, want 1", got)
	}

	// A pulse that chatters within the bounce window counts once.
	p.chip.Set(pinRotation, false)
	p.step(settle)
	p.chip.Bounce(pinPulse, true, false, true)
	p.step(settle)
	p.chip.Set(pinPulse, false)
	p.step(settle)
	p.chip.Set(pinRotation, true)
	p.step(settle)

	if got := p.tracker.Snapshot().Digits; got != "1" {
		t.Errorf("digits = %q, want 1", got)
	}

	// A glitch shorter than the bounce window is ignored entirely.
	p.chip.Bounce(pinHook, false, true)
	p.step(settle)
	if got := p.tracker.Snapshot().Counts.OnHook; got != 0 {
		t.Errorf("on-hook count = %d, want 0", got)
	}
}

// TestIntegrationRotationProblem checks an impossible pulse count is reported
// and not dialed.
func TestIntegrationRotationProblem(t *testing.T) {
	p := newPipeline(t)

	p.lift()
	p.rotate(11)

	snap := p.tracker.Snapshot()
	if snap.Counts.Problems != 1 {
		t.Errorf("problems = %d, want 1", snap.Counts.Problems)
	}
	if snap.Digits != "" {
		t.Errorf("digits = %q, want none", snap.Digits)
	}

	var found bool
	for _, payload := range p.publisher.Payloads() {
		if strings.Contains(string(payload), `"event":"ROTATION_PROBLEM"`) &&
			strings.Contains(string(payload), `"pulses":11`) {
			found = true
		}
	}
	if !found {
		t.Error("expected a ROTATION_PROBLEM report with 11 pulses")
	}
}

// TestIntegrationRotationLED checks the indicator follows the dial.
func TestIntegrationRotationLED(t *testing.T) {
	p := newPipeline(t)

	p.chip.Set(pinRotation, false)
	p.step(settle)
	if !p.chip.Driven(pinRotationLED) {
		t.Error("LED should be lit while rotating")
	}
	p.chip.Set(pinRotation, true)
	p.step(settle)
	if p.chip.Driven(pinRotationLED) {
		t.Error("LED should be off at rest")
	}
}

// TestIntegrationIncomingCall rings, answers and hangs up through the bridge.
func TestIntegrationIncomingCall(t *testing.T) {
	p := newPipeline(t)

	p.sipEvent(sip.Event{Event: sip.EventIncomingCall, Caller: "07700900123"})
	if p.state() != logic.StateRingingInbound {
		t.Fatalf("state = %s, want RINGING_INBOUND", p.state())
	}
	if got := p.player.Playing(); !reflect.DeepEqual(got, []logic.Tone{logic.ToneRing}) {
		t.Errorf("playing = %v, want [ring]", got)
	}

	p.lift()
	if p.state() != logic.StateConnected {
		t.Fatalf("state = %s, want CONNECTED", p.state())
	}
	if got := p.commands(); !reflect.DeepEqual(got, []string{`{"command":"answer"}`}) {
		t.Errorf("commands = %v, want [answer]", got)
	}

	p.sipEvent(sip.Event{Event: sip.EventHangup, Cause: 16})
	if p.state() != logic.StateTeardown {
		t.Fatalf("state = %s, want TEARDOWN", p.state())
	}

	p.replace()
	if p.state() != logic.StateOnHook {
		t.Errorf("state = %s, want ON_HOOK", p.state())
	}
	if len(p.commands()) != 1 {
		t.Errorf("commands = %v, want only the answer", p.commands())
	}
}

// TestIntegrationBusyCauseEndsAnsweredCall sends a busy-class hangup cause
// for a call that is already up.
func TestIntegrationBusyCauseEndsAnsweredCall(t *testing.T) {
	p := newPipeline(t)

	p.sipEvent(sip.Event{Event: sip.EventIncomingCall})
	p.lift()
	if p.state() != logic.StateConnected {
		t.Fatalf("state = %s, want CONNECTED", p.state())
	}

	p.sipEvent(sip.Event{Event: sip.EventHangup, Cause: 17})
	if p.state() != logic.StateTeardown {
		t.Fatalf("state = %s, want TEARDOWN", p.state())
	}
	if len(p.player.Playing()) != 0 {
		t.Errorf("playing = %v, want none", p.player.Playing())
	}

	p.replace()
	if p.state() != logic.StateOnHook {
		t.Errorf("state = %s, want ON_HOOK", p.state())
	}
}

// TestIntegrationHangUpOutgoing replaces the handset while the call connects.
func TestIntegrationHangUpOutgoing(t *testing.T) {
	p := newPipeline(t)

	p.lift()
	p.rotate(2)
	p.step(dialTimeout)
	p.sipEvent(sip.Event{Event: sip.EventConnected})
	if p.state() != logic.StateConnected {
		t.Fatalf("state = %s, want CONNECTED", p.state())
	}

	p.replace()
	want := []string{
		`{"command":"dial","number":"2"}`,
		`{"command":"hangup","code":200,"reason":"User Hung Up"}`,
	}
	if got := p.commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
	if len(p.player.Playing()) != 0 {
		t.Errorf("playing = %v, want none", p.player.Playing())
	}
}

// TestIntegrationShutdown checks the lines are released and the agent logged out.
func TestIntegrationShutdown(t *testing.T) {
	p := newPipeline(t)
	p.hook.StartVerify(time.Minute)

	p.lift()
	p.stop()

	if p.hook.Verifying() {
		t.Error("hook verification should stop with the phone")
	}
	if n := p.clk.Pending(); n != 0 {
		t.Errorf("%d timers still scheduled after shutdown", n)
	}

	want := []int{pinRotationLED, pinPulse, pinHook, pinRotation}
	if got := p.chip.Released(); !reflect.DeepEqual(got, want) {
		t.Errorf("released = %v, want %v", got, want)
	}
	if got := p.commands(); !reflect.DeepEqual(got, []string{`{"command":"logout"}`}) {
		t.Errorf("commands = %v, want [logout]", got)
	}
	if !p.player.Closed() {
		t.Error("player should be closed")
	}

	// Edges after shutdown go nowhere.
	p.chip.Set(pinHook, false)
	p.clk.Advance(settle)
	if got := p.tracker.Snapshot().Counts.OnHook; got != 0 {
		t.Errorf("on-hook count = %d, want 0", got)
	}
}
