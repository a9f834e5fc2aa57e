package logic

import "time"

// Options configures a Controller.
type Options struct {
	// MaxDigits submits the number as soon as this many digits are dialed.
	// Zero waits for the dial timer.
	MaxDigits int
	// SpeedDial maps dialed codes to the numbers actually called.
	SpeedDial map[string]string
	// StartTime is used for uptime in heartbeats.
	StartTime time.Time
}

// Controller is the call state machine. It is not safe for concurrent use;
// a single consumer feeds it events in order.
type Controller struct {
	opts Options

	state         State
	digits        []byte
	offHook       bool
	call          bool
	shutdown      bool
	lastNumber    string
	counts        EventCounts
	lastHeartbeat time.Time
}

// NewController creates a Controller in ON_HOOK.
func NewController(opts Options) *Controller {
	return &Controller{
		opts:          opts,
		state:         StateOnHook,
		lastHeartbeat: opts.StartTime,
	}
}

// Process applies ev and returns the transition and the actions to execute.
// Every (state, event) pair is defined; pairs without a transition come back
// with Ignored set and no actions.
func (c *Controller) Process(ev Event) Outcome {
	from := c.state
	if c.shutdown {
		return c.ignore(from)
	}

	var actions []Action
	ok := true

	switch ev.Type {
	case EventOffHook:
		c.counts.OffHook++
		actions, ok = c.offHookEvent()
	case EventOnHook:
		c.counts.OnHook++
		actions, ok = c.onHookEvent()
	case EventHookVerify:
		if ev.OffHook == c.offHook {
			return Outcome{From: from, To: from, Ignored: true}
		}
		if ev.OffHook {
			return c.Process(Event{Type: EventOffHook, Time: ev.Time})
		}
		return c.Process(Event{Type: EventOnHook, Time: ev.Time})
	case EventDigit:
		actions, ok = c.digitEvent(ev.Digit)
	case EventRotationProblem:
		c.counts.Problems++
	case EventTimerExpired:
		actions, ok = c.timerEvent()
	case EventIncomingCall:
		actions, ok = c.incomingEvent()
	case EventConnected:
		actions, ok = c.connectedEvent()
	case EventRemoteBusy:
		actions, ok = c.busyEvent()
	case EventRemoteHangup, EventCallDropped, EventCallFailed:
		actions, ok = c.endEvent(ev.Type == EventCallFailed)
	case EventShutdown:
		actions = c.shutdownEvent()
	default:
		ok = false
	}

	if !ok {
		return c.ignore(from)
	}
	return Outcome{From: from, To: c.state, Actions: actions}
}

func (c *Controller) ignore(s State) Outcome {
	c.counts.Ignored++
	return Outcome{From: s, To: s, Ignored: true}
}

func (c *Controller) offHookEvent() ([]Action, bool) {
	wasOffHook := c.offHook
	c.offHook = true

	switch c.state {
	case StateOnHook:
		if wasOffHook {
			return nil, false
		}
		c.state = StateOffHookIdle
		c.digits = c.digits[:0]
		return []Action{
			{Kind: ActionStartTimer},
			{Kind: ActionPlayTone, Tone: ToneDial},
		}, true
	case StateRingingInbound:
		c.state = StateConnected
		c.counts.Answered++
		return []Action{
			{Kind: ActionStopTone, Tone: ToneRing},
			{Kind: ActionAnswer},
		}, true
	}
	return nil, false
}

func (c *Controller) onHookEvent() ([]Action, bool) {
	wasOffHook := c.offHook
	c.offHook = false

	switch c.state {
	case StateOnHook:
		if !wasOffHook {
			return nil, false
		}
		// Handset replaced after a timeout: silence the error tone.
		return []Action{{Kind: ActionStopAllTones}}, true
	case StateOffHookIdle, StateDialing:
		c.reset()
		return []Action{
			{Kind: ActionCancelTimer},
			{Kind: ActionStopAllTones},
		}, true
	case StateConnecting:
		c.reset()
		return []Action{
			{Kind: ActionHangup, Code: HangupTerminated, Reason: "Request Terminated"},
			{Kind: ActionStopAllTones},
		}, true
	case StateConnected:
		c.reset()
		return []Action{
			{Kind: ActionHangup, Code: HangupNormal, Reason: "User Hung Up"},
			{Kind: ActionStopAllTones},
		}, true
	case StateRingingInbound:
		// Still ringing; lifting the handset answers.
		return nil, true
	case StateTeardown:
		c.reset()
		return []Action{{Kind: ActionStopAllTones}}, true
	}
	return nil, false
}

func (c *Controller) digitEvent(digit int) ([]Action, bool) {
	if digit < 0 || digit > 9 {
		return nil, false
	}

	var actions []Action
	switch c.state {
	case StateOffHookIdle:
		c.state = StateDialing
		actions = append(actions, Action{Kind: ActionStopTone, Tone: ToneDial})
	case StateDialing:
	default:
		return nil, false
	}

	c.counts.Digits++
	c.digits = append(c.digits, byte('0'+digit))

	if c.opts.MaxDigits > 0 && len(c.digits) >= c.opts.MaxDigits {
		actions = append(actions, Action{Kind: ActionCancelTimer})
		return append(actions, c.submit()...), true
	}
	return append(actions, Action{Kind: ActionResetTimer}), true
}

func (c *Controller) timerEvent() ([]Action, bool) {
	switch c.state {
	case StateDialing:
		if len(c.digits) == 0 {
			return nil, false
		}
		return c.submit(), true
	case StateOffHookIdle:
		c.state = StateOnHook
		return []Action{
			{Kind: ActionStopTone, Tone: ToneDial},
			{Kind: ActionPlayTone, Tone: ToneError},
		}, true
	}
	return nil, false
}

// submit sends the dial buffer to the backend and moves to CONNECTING.
func (c *Controller) submit() []Action {
	number := string(c.digits)
	if mapped, ok := c.opts.SpeedDial[number]; ok {
		number = mapped
	}
	c.digits = c.digits[:0]
	c.lastNumber = number
	c.call = true
	c.state = StateConnecting
	c.counts.Dialed++
	return []Action{
		{Kind: ActionDial, Number: number},
		{Kind: ActionPlayTone, Tone: ToneRingback},
	}
}

func (c *Controller) incomingEvent() ([]Action, bool) {
	switch c.state {
	case StateOnHook, StateOffHookIdle, StateDialing, StateTeardown:
	default:
		return nil, false
	}
	c.state = StateRingingInbound
	c.digits = c.digits[:0]
	c.call = true
	c.counts.Incoming++
	return []Action{
		{Kind: ActionCancelTimer},
		{Kind: ActionStopAllTones},
		{Kind: ActionPlayTone, Tone: ToneRing},
	}, true
}

func (c *Controller) connectedEvent() ([]Action, bool) {
	if c.state != StateConnecting {
		return nil, false
	}
	c.state = StateConnected
	return []Action{{Kind: ActionStopTone, Tone: ToneRingback}}, true
}

// busyEvent plays busy tone for a pending outbound call. A busy-class
// hangup on an established or ringing call ends it like a remote hangup.
func (c *Controller) busyEvent() ([]Action, bool) {
	if c.state != StateConnecting {
		return c.endEvent(false)
	}
	c.state = StateTeardown
	c.call = false
	return []Action{
		{Kind: ActionStopTone, Tone: ToneRingback},
		{Kind: ActionPlayTone, Tone: ToneBusy},
	}, true
}

func (c *Controller) endEvent(failed bool) ([]Action, bool) {
	switch c.state {
	case StateConnected, StateConnecting, StateRingingInbound:
	default:
		return nil, false
	}
	if failed {
		c.counts.Failed++
	}
	c.call = false

	if c.state == StateRingingInbound && !c.offHook {
		c.state = StateOnHook
		return []Action{{Kind: ActionStopAllTones}}, true
	}

	c.state = StateTeardown
	actions := []Action{{Kind: ActionStopAllTones}}
	if failed {
		actions = append(actions, Action{Kind: ActionPlayTone, Tone: ToneError})
	}
	return actions, true
}

func (c *Controller) shutdownEvent() []Action {
	actions := []Action{
		{Kind: ActionCancelTimer},
		{Kind: ActionReleaseLines},
	}
	if c.call {
		actions = append(actions, Action{Kind: ActionHangup, Code: HangupNormal, Reason: "Shutdown"})
	}
	actions = append(actions,
		Action{Kind: ActionLogout},
		Action{Kind: ActionStopAllTones},
	)
	c.reset()
	c.shutdown = true
	return actions
}

func (c *Controller) reset() {
	c.state = StateOnHook
	c.digits = c.digits[:0]
	c.call = false
}

// State returns the current call state.
func (c *Controller) State() State {
	return c.state
}

// Digits returns the dial buffer.
func (c *Controller) Digits() string {
	return string(c.digits)
}

// OffHook returns the tracked hook state.
func (c *Controller) OffHook() bool {
	return c.offHook
}

// HasCall reports whether a call exists on the backend.
func (c *Controller) HasCall() bool {
	return c.call
}

// LastNumber returns the most recently submitted number.
func (c *Controller) LastNumber() string {
	return c.lastNumber
}

// Counts returns activity counters since startup.
func (c *Controller) Counts() EventCounts {
	return c.counts
}

// IsShutdown reports whether Shutdown has been processed.
func (c *Controller) IsShutdown() bool {
	return c.shutdown
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed or
// if interval is <= 0 (disabled).
func (c *Controller) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(c.lastHeartbeat) < interval {
		return nil
	}

	c.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(c.opts.StartTime),
		State:     c.state,
		Counts:    c.counts,
	}
}
