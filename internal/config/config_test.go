package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.PinRotation != 27 || cfg.PinPulse != 17 || cfg.PinHook != 22 {
		t.Errorf("unexpected default pins: %d/%d/%d", cfg.PinRotation, cfg.PinPulse, cfg.PinHook)
	}
	if cfg.DialTimeout != 3*time.Second {
		t.Errorf("DialTimeout = %v, want 3s", cfg.DialTimeout)
	}
	if cfg.MQTTEnabled() {
		t.Error("MQTT should be disabled by default")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PIN_HOOK", "5")
	t.Setenv("DIAL_BOUNCE", "40ms")
	t.Setenv("MQTT_BROKER", "tcp://localhost:1883")
	t.Setenv("SPEED_DIAL", "1=07700900123; 2=999")
	t.Setenv("AUDIO_ENABLED", "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PinHook != 5 {
		t.Errorf("PinHook = %d, want 5", cfg.PinHook)
	}
	if cfg.DialBounce != 40*time.Millisecond {
		t.Errorf("DialBounce = %v, want 40ms", cfg.DialBounce)
	}
	if !cfg.MQTTEnabled() {
		t.Error("expected MQTT enabled")
	}
	if cfg.AudioEnabled {
		t.Error("expected audio disabled")
	}
	if cfg.PinPulse != 17 {
		t.Errorf("unset values should keep defaults, PinPulse = %d", cfg.PinPulse)
	}

	sd, err := cfg.SpeedDialMap()
	if err != nil {
		t.Fatalf("speed dial: %v", err)
	}
	if sd["1"] != "07700900123" || sd["2"] != "999" || len(sd) != 2 {
		t.Errorf("speed dial = %v", sd)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phone.env")
	content := "MAX_DIGITS=8\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MAX_DIGITS", "")
	os.Unsetenv("MAX_DIGITS")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxDigits != 8 {
		t.Errorf("MaxDigits = %d, want 8", cfg.MaxDigits)
	}
}

func TestLoadBadValue(t *testing.T) {
	t.Setenv("DIAL_TIMEOUT", "soon")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Driver = "sysfs" }},
		{"bad pull", func(c *Config) { c.Pull = "sideways" }},
		{"duplicate line", func(c *Config) { c.PinHook = c.PinPulse }},
		{"led on input line", func(c *Config) { c.PinPulseLED = c.PinRotation }},
		{"negative line", func(c *Config) { c.PinRotation = -3 }},
		{"negative bounce", func(c *Config) { c.DialBounce = -time.Millisecond }},
		{"zero dial timeout", func(c *Config) { c.DialTimeout = 0 }},
		{"negative verify", func(c *Config) { c.HookVerify = -time.Second }},
		{"negative max digits", func(c *Config) { c.MaxDigits = -1 }},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"bad speed dial", func(c *Config) { c.SpeedDial = "1=abc" }},
		{"malformed sound files", func(c *Config) { c.SoundFiles = "ring" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestValidateAcceptsLEDs(t *testing.T) {
	cfg := Defaults()
	cfg.PinRotationLED = 23
	cfg.PinPulseLED = 24
	cfg.HookVerify = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSoundFileMap(t *testing.T) {
	cfg := Defaults()
	cfg.SoundFiles = "ring=/usr/share/sounds/bell.wav;;dial = dial.wav "

	files, err := cfg.SoundFileMap()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if files["ring"] != "/usr/share/sounds/bell.wav" || files["dial"] != "dial.wav" {
		t.Errorf("files = %v", files)
	}
}
