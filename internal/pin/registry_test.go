package pin

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/rotary-phone/internal/clock"
	"github.com/sweeney/rotary-phone/internal/gpio"
)

func TestClaimTwiceReturnsSameMonitor(t *testing.T) {
	reg := NewRegistry(gpio.NewFakeChip(), clock.NewFake(epoch), nil)

	a, err := reg.Claim(17, bounce)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	b, err := reg.Claim(17, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if a != b {
		t.Error("expected the same monitor")
	}
	if b.Bounce() != bounce {
		t.Errorf("bounce = %v, want original %v", b.Bounce(), bounce)
	}
}

func TestClaimErrors(t *testing.T) {
	chip := gpio.NewFakeChip()
	reg := NewRegistry(chip, clock.NewFake(epoch), nil)

	if _, err := reg.Claim(17, -time.Millisecond); err == nil {
		t.Error("expected error for negative bounce")
	}

	chip.WatchError = errors.New("busy")
	if _, err := reg.Claim(17, bounce); err == nil {
		t.Error("expected watch error to propagate")
	}
	chip.WatchError = nil

	if _, err := reg.ClaimOutput(5); err != nil {
		t.Fatalf("claim output: %v", err)
	}
	if _, err := reg.Claim(5, bounce); err == nil {
		t.Error("expected error claiming an output line as input")
	}

	if _, err := reg.Claim(6, bounce); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := reg.ClaimOutput(6); err == nil {
		t.Error("expected error claiming an input line as output")
	}
}

func TestClaimBaselineReadFailure(t *testing.T) {
	chip := gpio.NewFakeChip()
	reg := NewRegistry(chip, clock.NewFake(epoch), nil)
	chip.LevelError = errors.New("EIO")

	if _, err := reg.Claim(17, bounce); err == nil {
		t.Fatal("expected baseline error")
	}
	if chip.Watched(17) {
		t.Error("line should be released after a failed baseline")
	}
	if len(reg.Lines()) != 0 {
		t.Errorf("expected no claimed lines, got %v", reg.Lines())
	}
}

func TestRegistryCloseReleasesEverything(t *testing.T) {
	chip := gpio.NewFakeChip()
	clk := clock.NewFake(epoch)
	reg := NewRegistry(chip, clk, nil)

	m, _ := reg.Claim(17, bounce)
	reg.Claim(27, bounce)
	led, _ := reg.ClaimOutput(5)
	led.Set(true)

	rec := &recorder{}
	rec.attach(m)
	chip.Set(17, true)
	if !m.Pending() {
		t.Fatal("expected a pending window")
	}

	if lines := reg.Lines(); len(lines) != 2 || lines[0] != 17 || lines[1] != 27 {
		t.Errorf("Lines() = %v, want [17 27]", lines)
	}

	if err := reg.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if m.Pending() {
		t.Error("close should cancel pending windows")
	}
	clk.Advance(time.Second)
	if rec.count() != 0 {
		t.Errorf("event emitted after close: %d", rec.count())
	}

	released := chip.Released()
	if len(released) != 3 || released[0] != 5 || released[1] != 17 || released[2] != 27 {
		t.Errorf("released = %v, want [5 17 27]", released)
	}

	if _, err := reg.Claim(22, bounce); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("expected ErrRegistryClosed, got %v", err)
	}
	if _, err := reg.ClaimOutput(23); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("expected ErrRegistryClosed, got %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestOutputSet(t *testing.T) {
	chip := gpio.NewFakeChip()
	reg := NewRegistry(chip, clock.NewFake(epoch), nil)

	o, err := reg.ClaimOutput(5)
	if err != nil {
		t.Fatalf("claim output: %v", err)
	}
	if o.Level() || chip.Driven(5) {
		t.Error("output should start low")
	}
	o.Set(true)
	if !o.Level() || !chip.Driven(5) {
		t.Error("output should be high")
	}
	o.Set(false)
	if o.Level() || chip.Driven(5) {
		t.Error("output should be low")
	}
	if o.Line() != 5 {
		t.Errorf("Line() = %d", o.Line())
	}

	again, _ := reg.ClaimOutput(5)
	if again != o {
		t.Error("expected the same output")
	}
}
