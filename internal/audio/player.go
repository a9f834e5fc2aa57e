// Package audio plays the call-progress tones requested by the controller.
package audio

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sweeney/rotary-phone/internal/logic"
)

// ErrClosed is returned by Play after Close.
var ErrClosed = errors.New("audio: player closed")

// Player starts and stops tones. Play of a tone that is already playing is a
// no-op, as is Stop of a tone that is not.
type Player interface {
	Play(tone logic.Tone) error
	Stop(tone logic.Tone) error
	StopAll() error
	Close() error
}

// ParseTone maps a configured tone name to a Tone.
func ParseTone(name string) (logic.Tone, error) {
	for _, t := range logic.Tones {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown tone %q", name)
}

// LogPlayer is used when audio is disabled or unavailable.
type LogPlayer struct {
	log *zap.SugaredLogger
}

// NewLogPlayer creates a LogPlayer. A nil logger discards output.
func NewLogPlayer(log *zap.SugaredLogger) *LogPlayer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LogPlayer{log: log}
}

func (p *LogPlayer) Play(tone logic.Tone) error {
	p.log.Debugw("tone start (no audio)", "tone", tone)
	return nil
}

func (p *LogPlayer) Stop(tone logic.Tone) error {
	p.log.Debugw("tone stop (no audio)", "tone", tone)
	return nil
}

func (p *LogPlayer) StopAll() error {
	return nil
}

func (p *LogPlayer) Close() error {
	return nil
}
