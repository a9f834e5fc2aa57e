// Package config loads the daemon configuration from defaults, an optional
// .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/sweeney/rotary-phone/internal/gpio"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Driver names.
const (
	DriverCdev   = "cdev"
	DriverPeriph = "periph"
)

// Disabled marks an optional output line as unused.
const Disabled = -1

type Config struct {
	Chip   string `env:"GPIO_CHIP"`
	Driver string `env:"GPIO_DRIVER"` // cdev|periph
	Pull   string `env:"GPIO_PULL"`   // up|down|none

	PinRotation    int `env:"PIN_ROTATION"`
	PinPulse       int `env:"PIN_PULSE"`
	PinHook        int `env:"PIN_HOOK"`
	PinRotationLED int `env:"PIN_ROTATION_LED"`
	PinPulseLED    int `env:"PIN_PULSE_LED"`

	RotatingLevel bool `env:"ROTATING_LEVEL"`
	PulseLevel    bool `env:"PULSE_LEVEL"`
	OffHookLevel  bool `env:"OFF_HOOK_LEVEL"`

	DialBounce  time.Duration `env:"DIAL_BOUNCE"`
	HookBounce  time.Duration `env:"HOOK_BOUNCE"`
	DialTimeout time.Duration `env:"DIAL_TIMEOUT"`
	HookVerify  time.Duration `env:"HOOK_VERIFY"` // 0 disables

	MaxDigits int    `env:"MAX_DIGITS"` // 0 waits for the dial timer
	SpeedDial string `env:"SPEED_DIAL"` // code=number;code=number
	QueueSize int    `env:"QUEUE_SIZE"`

	Broker      string        `env:"MQTT_BROKER"` // empty disables MQTT
	ClientID    string        `env:"MQTT_CLIENT_ID"`
	TopicPrefix string        `env:"MQTT_TOPIC_PREFIX"`
	Heartbeat   time.Duration `env:"HEARTBEAT"`

	HTTPAddr string `env:"HTTP_ADDR"` // empty disables the status page

	SoundFiles   string `env:"SOUND_FILES"` // tone=path.wav;tone=path.wav
	SampleRate   int    `env:"AUDIO_SAMPLE_RATE"`
	AudioEnabled bool   `env:"AUDIO_ENABLED"`

	// Volume is a base-2 exponent: -1 halves the amplitude.
	Volume float64 `env:"AUDIO_VOLUME"`

	Debug bool `env:"DEBUG_MODE"`
}

// Defaults returns the configuration of the stock phone wiring.
// Values are overridden by the .env file, the environment and command-line flags.
func Defaults() *Config {
	return &Config{
		Chip:           "gpiochip0",
		Driver:         DriverCdev,
		Pull:           string(gpio.PullUp),
		PinRotation:    gpio.DefaultPinRotation,
		PinPulse:       gpio.DefaultPinPulse,
		PinHook:        gpio.DefaultPinHook,
		PinRotationLED: Disabled,
		PinPulseLED:    Disabled,
		RotatingLevel:  false,
		PulseLevel:     true,
		OffHookLevel:   true,
		DialBounce:     25 * time.Millisecond,
		HookBounce:     100 * time.Millisecond,
		DialTimeout:    3 * time.Second,
		HookVerify:     time.Second,
		QueueSize:      64,
		ClientID:       "rotary-phone",
		TopicPrefix:    "phone/rotary",
		Heartbeat:      15 * time.Minute,
		HTTPAddr:       ":8080",
		SampleRate:     44100,
		AudioEnabled:   true,
	}
}

// Load returns Defaults overridden by envFile (if it exists) and the
// environment. An empty envFile means ".env".
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Driver {
	case DriverCdev, DriverPeriph:
	default:
		add("unknown gpio driver %q", c.Driver)
	}
	if _, err := gpio.ParsePull(c.Pull); err != nil {
		add("%v", err)
	}

	lines := map[int]string{}
	claim := func(name string, line int, optional bool) {
		if optional && line == Disabled {
			return
		}
		if line < 0 {
			add("%s: invalid line %d", name, line)
			return
		}
		if other, ok := lines[line]; ok {
			add("%s: line %d already assigned to %s", name, line, other)
			return
		}
		lines[line] = name
	}
	claim("rotation", c.PinRotation, false)
	claim("pulse", c.PinPulse, false)
	claim("hook", c.PinHook, false)
	claim("rotation led", c.PinRotationLED, true)
	claim("pulse led", c.PinPulseLED, true)

	if c.DialBounce < 0 || c.HookBounce < 0 {
		add("bounce intervals must not be negative")
	}
	if c.DialTimeout <= 0 {
		add("dial timeout must be positive")
	}
	if c.HookVerify < 0 || c.Heartbeat < 0 {
		add("intervals must not be negative")
	}
	if c.MaxDigits < 0 {
		add("max digits must not be negative")
	}
	if c.QueueSize <= 0 {
		add("queue size must be positive")
	}
	if c.SampleRate <= 0 {
		add("sample rate must be positive")
	}
	if _, err := c.SpeedDialMap(); err != nil {
		add("%v", err)
	}
	if _, err := c.SoundFileMap(); err != nil {
		add("%v", err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// MQTTEnabled reports whether a broker is configured.
func (c *Config) MQTTEnabled() bool {
	return c.Broker != ""
}

// SpeedDialMap parses SpeedDial. Codes and numbers must be digits.
func (c *Config) SpeedDialMap() (map[string]string, error) {
	pairs, err := parsePairs(c.SpeedDial)
	if err != nil {
		return nil, fmt.Errorf("speed dial: %w", err)
	}
	for code, number := range pairs {
		if !isDigits(code) || !isDigits(number) {
			return nil, fmt.Errorf("speed dial: %q=%q is not numeric", code, number)
		}
	}
	return pairs, nil
}

// SoundFileMap parses SoundFiles into tone name → file path.
func (c *Config) SoundFileMap() (map[string]string, error) {
	pairs, err := parsePairs(c.SoundFiles)
	if err != nil {
		return nil, fmt.Errorf("sound files: %w", err)
	}
	return pairs, nil
}

// parsePairs splits "k=v;k=v", trimming blanks and skipping empty entries.
func parsePairs(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		k, v, ok := strings.Cut(entry, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("malformed entry %q", entry)
		}
		out[k] = v
	}
	return out, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
