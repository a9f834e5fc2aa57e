// Package phone runs the call controller. Every input (dial digits, hook
// changes, timer expiry, call backend events) is posted to one bounded queue
// and consumed in order by a single goroutine, which drives the tone player
// and the dial timer directly. Publishes and call backend commands go through
// an ordered outbox worker so broker round-trips never block the consumer.
package phone

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/rotary-phone/internal/audio"
	"github.com/sweeney/rotary-phone/internal/clock"
	"github.com/sweeney/rotary-phone/internal/dial"
	"github.com/sweeney/rotary-phone/internal/hook"
	"github.com/sweeney/rotary-phone/internal/logic"
	"github.com/sweeney/rotary-phone/internal/mqtt"
	"github.com/sweeney/rotary-phone/internal/sip"
	"github.com/sweeney/rotary-phone/internal/status"
	"github.com/sweeney/rotary-phone/internal/timer"
)

// DefaultQueueSize is used when New is given a non-positive size.
const DefaultQueueSize = 64

// ErrStopped is returned by Run once the phone has shut down.
var ErrStopped = errors.New("phone: already shut down")

// Deps are the collaborators driven by the phone. Controller and Timer are
// required; the rest fall back to logging or no-op implementations.
type Deps struct {
	Controller *logic.Controller
	Timer      *timer.DialTimer
	Player     audio.Player
	Backend    sip.Backend
	Publisher  mqtt.Publisher
	Tracker    *status.Tracker
	// Lines is closed when the controller asks for the sense lines to be released.
	Lines io.Closer
	Clock clock.Clock
	Log   *zap.SugaredLogger
	// Heartbeat is the system heartbeat interval; zero disables it.
	Heartbeat time.Duration
}

var _ sip.Handler = (*Phone)(nil)

// Phone is the event queue and its consumer.
type Phone struct {
	ctrl      *logic.Controller
	timer     *timer.DialTimer
	player    audio.Player
	backend   sip.Backend
	publisher mqtt.Publisher
	tracker   *status.Tracker
	lines     io.Closer
	clock     clock.Clock
	log       *zap.SugaredLogger
	heartbeat time.Duration
	hook      *hook.Monitor
	out       *outbox

	events    chan logic.Event
	beats     chan struct{}
	posted    atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64
}

// New creates a Phone with a queue of queueSize events.
func New(d Deps, queueSize int) *Phone {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Player == nil {
		d.Player = audio.NewLogPlayer(d.Log)
	}
	if d.Backend == nil {
		d.Backend = sip.NewLogBackend(d.Log)
	}
	if d.Publisher == nil {
		d.Publisher = mqtt.NopPublisher{}
	}

	p := &Phone{
		ctrl:      d.Controller,
		timer:     d.Timer,
		player:    d.Player,
		backend:   d.Backend,
		publisher: d.Publisher,
		tracker:   d.Tracker,
		lines:     d.Lines,
		clock:     d.Clock,
		log:       d.Log,
		heartbeat: d.Heartbeat,
		events:    make(chan logic.Event, queueSize),
		beats:     make(chan struct{}, 1),
		out:       newOutbox(outboxSize, d.Log),
	}
	p.timer.OnExpire(p.timerExpired)
	return p
}

// Attach feeds the phone from the dial decoder and the hook monitor. The
// monitor's verification loop is stopped when the phone shuts down.
func (p *Phone) Attach(d *dial.Decoder, h *hook.Monitor) {
	p.hook = h
	d.OnDigit(p.Digit)
	d.OnProblem(p.RotationProblem)
	h.OnOffHook(p.OffHook)
	h.OnOnHook(p.OnHook)
	h.OnVerify(p.HookVerified)
}

// Digit posts a decoded digit.
func (p *Phone) Digit(digit int) {
	p.post(logic.Event{Type: logic.EventDigit, Digit: digit})
}

// RotationProblem posts a rotation whose pulse count was not a digit.
func (p *Phone) RotationProblem(pulses int) {
	p.post(logic.Event{Type: logic.EventRotationProblem, Pulses: pulses})
}

// OffHook posts a lifted handset.
func (p *Phone) OffHook() {
	p.post(logic.Event{Type: logic.EventOffHook})
}

// OnHook posts a replaced handset.
func (p *Phone) OnHook() {
	p.post(logic.Event{Type: logic.EventOnHook})
}

// HookVerified posts a periodic sample of the hook line.
func (p *Phone) HookVerified(offHook bool) {
	p.post(logic.Event{Type: logic.EventHookVerify, OffHook: offHook})
}

func (p *Phone) IncomingCall() { p.post(logic.Event{Type: logic.EventIncomingCall}) }
func (p *Phone) Connected()    { p.post(logic.Event{Type: logic.EventConnected}) }
func (p *Phone) RemoteBusy()   { p.post(logic.Event{Type: logic.EventRemoteBusy}) }
func (p *Phone) RemoteHangup() { p.post(logic.Event{Type: logic.EventRemoteHangup}) }
func (p *Phone) CallDropped()  { p.post(logic.Event{Type: logic.EventCallDropped}) }
func (p *Phone) CallFailed()   { p.post(logic.Event{Type: logic.EventCallFailed}) }

func (p *Phone) timerExpired(seq uint64) {
	p.post(logic.Event{Type: logic.EventTimerExpired, Seq: seq})
}

// post never blocks: producers run inside line and timer callbacks.
func (p *Phone) post(ev logic.Event) {
	ev.Time = p.clock.Now()
	select {
	case p.events <- ev:
		p.posted.Add(1)
	default:
		n := p.dropped.Add(1)
		p.log.Errorw("event queue full, dropping event", "event", ev.Type, "dropped", n)
		if p.tracker != nil {
			p.tracker.SetDropped(n)
		}
	}
}

// Processed returns how many events have been consumed.
func (p *Phone) Processed() uint64 {
	return p.processed.Load()
}

// Idle reports whether every accepted event has been consumed and every
// resulting publish and backend command has completed.
func (p *Phone) Idle() bool {
	return p.processed.Load() >= p.posted.Load() && p.out.idle()
}

// Dropped returns how many events were lost to a full queue.
func (p *Phone) Dropped() uint64 {
	return p.dropped.Load()
}

// Run consumes events until ctx is cancelled, then shuts the controller down,
// waits for the outbox to drain and closes the tone player. A phone runs once.
func (p *Phone) Run(ctx context.Context) error {
	if p.ctrl.IsShutdown() {
		return ErrStopped
	}
	p.log.Infow("phone started", "state", p.ctrl.State(), "queue", cap(p.events))
	p.update()
	go p.out.run()

	var hb clock.Timer
	if p.heartbeat > 0 {
		hb = p.clock.AfterFunc(p.heartbeat, p.beat)
	}

	for {
		select {
		case ev := <-p.events:
			p.handle(ev)
		case <-p.beats:
			p.sendHeartbeat()
			hb = p.clock.AfterFunc(p.heartbeat, p.beat)
		case <-ctx.Done():
			if hb != nil {
				hb.Stop()
			}
			p.shutdown()
			return nil
		}
	}
}

func (p *Phone) beat() {
	select {
	case p.beats <- struct{}{}:
	default:
	}
}

func (p *Phone) handle(ev logic.Event) {
	defer p.processed.Add(1)

	if ev.Type == logic.EventTimerExpired && p.timer.Stale(ev.Seq) {
		p.log.Debugw("discarding stale timer expiry", "seq", ev.Seq)
		return
	}

	out := p.ctrl.Process(ev)
	if out.Ignored {
		if ev.Type != logic.EventHookVerify {
			p.log.Debugw("event ignored", "event", ev.Type, "state", out.From)
		}
		p.update()
		return
	}

	p.report(ev, out)
	if out.Changed() {
		p.log.Infow("state changed", "from", out.From, "to", out.To, "event", ev.Type)
	}
	for _, a := range out.Actions {
		p.execute(a)
	}
	p.update()
}

// report publishes the input and any state change.
func (p *Phone) report(ev logic.Event, out logic.Outcome) {
	r := mqtt.Report{Timestamp: ev.Time, State: out.To}
	switch ev.Type {
	case logic.EventOffHook:
		r.Type = mqtt.ReportOffHook
	case logic.EventOnHook:
		r.Type = mqtt.ReportOnHook
	case logic.EventHookVerify:
		p.log.Warnw("hook verification found a missed transition", "off_hook", ev.OffHook)
		r.Type = mqtt.ReportOnHook
		if ev.OffHook {
			r.Type = mqtt.ReportOffHook
		}
	case logic.EventDigit:
		r.Type = mqtt.ReportDigit
		r.Digit = ev.Digit
		p.log.Infow("digit", "digit", ev.Digit, "digits", p.ctrl.Digits())
	case logic.EventRotationProblem:
		r.Type = mqtt.ReportRotationProblem
		r.Pulses = ev.Pulses
		p.log.Warnw("rotation problem", "pulses", ev.Pulses)
	}
	if r.Type != "" {
		p.publish(r)
	}

	if out.Changed() {
		p.publish(mqtt.Report{
			Timestamp: ev.Time,
			Type:      mqtt.ReportState,
			State:     out.To,
			From:      out.From,
		})
	}
}

func (p *Phone) publish(r mqtt.Report) {
	p.out.submit("publish", func() {
		if err := p.publisher.Publish(r); err != nil {
			p.log.Warnw("publish failed", "report", r.Type, "error", err)
		}
	})
}

// command runs a backend command on the outbox. When failed is set, an error
// or a full outbox is posted back as CallFailed.
func (p *Phone) command(a logic.Action, cmd func() error, failed bool) {
	queued := p.out.submit(string(a.Kind), func() {
		if err := cmd(); err != nil {
			p.log.Errorw("action failed", "action", a.Kind, "number", a.Number, "error", err)
			if failed {
				p.CallFailed()
			}
		}
	})
	if !queued && failed {
		p.CallFailed()
	}
}

func (p *Phone) execute(a logic.Action) {
	var err error
	switch a.Kind {
	case logic.ActionStartTimer:
		p.timer.Start()
	case logic.ActionResetTimer:
		p.timer.Reset()
	case logic.ActionCancelTimer:
		p.timer.Cancel()
	case logic.ActionPlayTone:
		err = p.player.Play(a.Tone)
	case logic.ActionStopTone:
		err = p.player.Stop(a.Tone)
	case logic.ActionStopAllTones:
		err = p.player.StopAll()
	case logic.ActionDial:
		p.log.Infow("dialing", "number", a.Number)
		p.publish(mqtt.Report{
			Timestamp: p.clock.Now(),
			Type:      mqtt.ReportDial,
			State:     p.ctrl.State(),
			Number:    a.Number,
		})
		p.command(a, func() error { return p.backend.Dial(a.Number) }, true)
	case logic.ActionAnswer:
		p.command(a, p.backend.Answer, true)
	case logic.ActionHangup:
		p.command(a, func() error { return p.backend.Hangup(a.Code, a.Reason) }, false)
	case logic.ActionReleaseLines:
		if p.lines != nil {
			err = p.lines.Close()
		}
	case logic.ActionLogout:
		p.command(a, p.backend.Logout, false)
	}
	if err != nil {
		p.log.Errorw("action failed", "action", a.Kind, "tone", a.Tone, "number", a.Number, "error", err)
	}
}

func (p *Phone) sendHeartbeat() {
	hb := p.ctrl.CheckHeartbeat(p.clock.Now(), p.heartbeat)
	if hb == nil {
		return
	}
	p.log.Infow("heartbeat", "uptime", hb.Uptime, "state", hb.State,
		"dialed", hb.Counts.Dialed, "incoming", hb.Counts.Incoming, "dropped", p.Dropped())

	ev := mqtt.SystemEvent{Timestamp: hb.Timestamp, Event: "HEARTBEAT"}
	if p.tracker != nil {
		p.update()
		ev.RawPayload = status.FormatStatusEvent(p.tracker.Snapshot(), "HEARTBEAT", "")
	}
	p.out.submit("heartbeat", func() {
		if err := p.publisher.PublishSystem(ev); err != nil {
			p.log.Warnw("heartbeat publish failed", "error", err)
		}
	})
}

func (p *Phone) shutdown() {
	if p.hook != nil {
		if p.hook.Verifying() {
			p.log.Debugw("stopping hook verification")
		}
		p.hook.StopVerify()
	}
	p.handle(logic.Event{Type: logic.EventShutdown, Time: p.clock.Now()})
	p.out.close()
	if err := p.player.Close(); err != nil {
		p.log.Errorw("close player", "error", err)
	}
	p.log.Infow("phone stopped", "processed", p.Processed(), "dropped", p.Dropped(),
		"outbox_dropped", p.out.dropped.Load())
}

func (p *Phone) update() {
	if p.tracker == nil {
		return
	}
	p.tracker.Update(p.ctrl.State(), p.ctrl.OffHook(), p.ctrl.Digits(), p.ctrl.LastNumber(), p.ctrl.Counts())
	if cs, ok := p.publisher.(mqtt.ConnectionStatus); ok {
		p.tracker.SetMQTTConnected(cs.IsConnected())
	}
	if bs, ok := p.publisher.(mqtt.BacklogStatus); ok {
		p.tracker.SetMQTTBuffered(bs.Buffered())
	}
}
