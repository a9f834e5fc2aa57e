// Command rotary-phone turns a rotary-dial telephone wired to GPIO into a
// SIP phone. It decodes the dial and hook switch, plays call-progress tones,
// drives calls through an MQTT-bridged SIP user agent and publishes activity
// to MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/rotary-phone/internal/audio"
	"github.com/sweeney/rotary-phone/internal/clock"
	"github.com/sweeney/rotary-phone/internal/config"
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
	"github.com/sweeney/rotary-phone/internal/web"
)

// off disables the HTTP server or MQTT when given to --http or --broker.
const off = "off"

type options struct {
	EnvFile    string `long:"env-file" default:".env" description:"Environment file to load"`
	PrintState bool   `long:"print-state" description:"Print the current line levels and exit"`
	Debug      bool   `long:"debug" description:"Enable debug logging"`
	NoAudio    bool   `long:"no-audio" description:"Log tones instead of playing them"`
	HTTP       string `long:"http" description:"HTTP status address, overrides HTTP_ADDR (\"off\" disables)"`
	Broker     string `long:"broker" description:"MQTT broker URL, overrides MQTT_BROKER (\"off\" disables)"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return err
	}
	applyOptions(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	chip, err := openChip(cfg)
	if err != nil {
		return err
	}
	defer chip.Close()

	if opts.PrintState {
		return printState(os.Stdout, chip, cfg)
	}

	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		chip:      chip,
		clock:     clock.Real(),
		publisher: mqtt.NopPublisher{},
		tracker:   tracker,
	}

	if cfg.MQTTEnabled() {
		pub, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.Broker,
			ClientID: cfg.ClientID,
			Topics:   mqtt.NewTopics(cfg.TopicPrefix),
		}, log.Named("mqtt"))
		if err != nil {
			return err
		}
		a.publisher = pub
		a.transport = pub
	} else {
		log.Infow("mqtt disabled, calls are logged only")
	}
	defer a.publisher.Close()

	a.player = newPlayer(cfg, opts.NoAudio, log.Named("audio"))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	return a.run(context.Background(), sig)
}

func applyOptions(cfg *config.Config, opts options) {
	if opts.Debug {
		cfg.Debug = true
	}
	if opts.NoAudio {
		cfg.AudioEnabled = false
	}
	switch opts.HTTP {
	case "":
	case off:
		cfg.HTTPAddr = ""
	default:
		cfg.HTTPAddr = opts.HTTP
	}
	switch opts.Broker {
	case "":
	case off:
		cfg.Broker = ""
	default:
		cfg.Broker = opts.Broker
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openChip(cfg *config.Config) (gpio.Chip, error) {
	pull, err := gpio.ParsePull(cfg.Pull)
	if err != nil {
		return nil, err
	}
	if cfg.Driver == config.DriverPeriph {
		return gpio.NewPeriphChip(pull)
	}
	return gpio.NewCdevChip(cfg.Chip, pull)
}

func newPlayer(cfg *config.Config, noAudio bool, log *zap.SugaredLogger) audio.Player {
	if noAudio || !cfg.AudioEnabled {
		return audio.NewLogPlayer(log)
	}
	files, err := cfg.SoundFileMap()
	if err != nil {
		log.Warnw("ignoring sound files", "error", err)
		files = nil
	}
	p, err := audio.NewBeepPlayer(audio.Options{
		SampleRate: cfg.SampleRate,
		Files:      files,
		Volume:     cfg.Volume,
	}, log)
	if err != nil {
		log.Warnw("audio unavailable, logging tones instead", "error", err)
		return audio.NewLogPlayer(log)
	}
	return p
}

func statusConfig(cfg *config.Config) status.Config {
	return status.Config{
		Driver:        cfg.Driver,
		PinRotation:   cfg.PinRotation,
		PinPulse:      cfg.PinPulse,
		PinHook:       cfg.PinHook,
		DialBounceMs:  cfg.DialBounce.Milliseconds(),
		HookBounceMs:  cfg.HookBounce.Milliseconds(),
		DialTimeoutMs: cfg.DialTimeout.Milliseconds(),
		HeartbeatMs:   cfg.Heartbeat.Milliseconds(),
		Broker:        cfg.Broker,
		HTTPAddr:      cfg.HTTPAddr,
	}
}

// printState samples the sense lines once and writes them to w.
func printState(w io.Writer, chip gpio.Chip, cfg *config.Config) error {
	reg := pin.NewRegistry(chip, clock.Real(), nil)
	defer reg.Close()

	level := func(line int) (bool, error) {
		m, err := reg.Claim(line, 0)
		if err != nil {
			return false, err
		}
		return m.Level(), nil
	}

	rotation, err := level(cfg.PinRotation)
	if err != nil {
		return err
	}
	pulse, err := level(cfg.PinPulse)
	if err != nil {
		return err
	}
	hk, err := level(cfg.PinHook)
	if err != nil {
		return err
	}

	dialState := dial.Rest
	if rotation == cfg.RotatingLevel {
		dialState = dial.Rotating
	}
	pulseState := "OPEN"
	if pulse == cfg.PulseLevel {
		pulseState = "PULSE"
	}
	fmt.Fprintf(w, "Hook: %s, Dial: %s, Pulse: %s\n",
		status.HookString(hk == cfg.OffHookLevel), dialState, pulseState)
	return nil
}

// app is the assembled daemon.
type app struct {
	cfg       *config.Config
	log       *zap.SugaredLogger
	chip      gpio.Chip
	clock     clock.Clock
	publisher mqtt.Publisher
	transport mqtt.Transport // nil without MQTT
	player    audio.Player
	tracker   *status.Tracker
}

// run claims the lines, wires the pipeline and serves until a signal arrives
// or ctx is cancelled.
func (a *app) run(ctx context.Context, sig <-chan os.Signal) error {
	cfg := a.cfg
	log := a.log

	reg := pin.NewRegistry(a.chip, a.clock, log.Named("pin"))
	decoder, hk, err := a.attachLines(reg)
	if err != nil {
		reg.Close()
		return err
	}

	speedDial, err := cfg.SpeedDialMap()
	if err != nil {
		reg.Close()
		return err
	}

	var backend sip.Backend
	var bridge *sip.Bridge
	if a.transport != nil {
		bridge = sip.NewBridge(a.transport, mqtt.NewTopics(cfg.TopicPrefix), log.Named("sip"))
		bridge.OnRegistration(a.tracker.SetSIPRegistered)
		backend = bridge
	}

	ph := phone.New(phone.Deps{
		Controller: logic.NewController(logic.Options{
			MaxDigits: cfg.MaxDigits,
			SpeedDial: speedDial,
			StartTime: a.clock.Now(),
		}),
		Timer:     timer.New(a.clock, cfg.DialTimeout),
		Player:    a.player,
		Backend:   backend,
		Publisher: a.publisher,
		Tracker:   a.tracker,
		Lines:     reg,
		Clock:     a.clock,
		Log:       log.Named("phone"),
		Heartbeat: cfg.Heartbeat,
	}, cfg.QueueSize)
	ph.Attach(decoder, hk)

	if bridge != nil {
		if err := bridge.Start(ph); err != nil {
			reg.Close()
			return err
		}
	}

	// A handset already lifted at startup gets a dial tone.
	if hk.OffHook() {
		hk.Sync()
	}
	// The phone stops verification before it processes Shutdown.
	hk.StartVerify(cfg.HookVerify)

	a.publishSystem("STARTUP", "")
	log.Infow("started",
		"driver", cfg.Driver,
		"rotation", cfg.PinRotation,
		"pulse", cfg.PinPulse,
		"hook", cfg.PinHook,
		"claimed", reg.Lines(),
		"dial_timeout", cfg.DialTimeout,
		"broker", cfg.Broker,
		"http", cfg.HTTPAddr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	reason := ""
	g.Go(func() error {
		select {
		case s := <-sig:
			reason = signalName(s)
			log.Infow("shutting down", "signal", reason)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		return ph.Run(gctx)
	})

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, a.tracker, log.Named("web"))
		g.Go(func() error {
			log.Infow("http status server listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	if reason == "" {
		reason = "CONTEXT"
	}
	if err != nil {
		reason = "ERROR"
	}
	a.publishSystem("SHUTDOWN", reason)
	return err
}

// attachLines claims the sense and indicator lines and builds the dial
// decoder and hook monitor on them.
func (a *app) attachLines(reg *pin.Registry) (*dial.Decoder, *hook.Monitor, error) {
	cfg := a.cfg
	rotation, err := reg.Claim(cfg.PinRotation, cfg.DialBounce)
	if err != nil {
		return nil, nil, err
	}
	pulse, err := reg.Claim(cfg.PinPulse, cfg.DialBounce)
	if err != nil {
		return nil, nil, err
	}
	hookLine, err := reg.Claim(cfg.PinHook, cfg.HookBounce)
	if err != nil {
		return nil, nil, err
	}

	var rotLED, pulseLED *pin.Output
	if cfg.PinRotationLED != config.Disabled {
		if rotLED, err = reg.ClaimOutput(cfg.PinRotationLED); err != nil {
			return nil, nil, err
		}
	}
	if cfg.PinPulseLED != config.Disabled {
		if pulseLED, err = reg.ClaimOutput(cfg.PinPulseLED); err != nil {
			return nil, nil, err
		}
	}

	decoder := dial.New(dial.Config{
		RotatingLevel: cfg.RotatingLevel,
		PulseLevel:    cfg.PulseLevel,
	}, a.log.Named("dial"))
	decoder.Mirror(rotLED, pulseLED)
	decoder.Attach(rotation, pulse)

	hk := hook.New(hookLine, cfg.OffHookLevel, a.clock, a.log.Named("hook"))
	return decoder, hk, nil
}

// publishSystem sends a retained lifecycle event carrying the full status.
func (a *app) publishSystem(event, reason string) {
	snap := a.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := a.publisher.PublishSystem(ev); err != nil {
		a.log.Warnw("failed to publish system event", "event", event, "error", err)
		return
	}
	a.log.Infow("published system event", "event", event, "reason", reason)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
