package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
	"go.uber.org/zap"

	"github.com/sweeney/rotary-phone/internal/logic"
)

// DefaultSampleRate is used when Options.SampleRate is unset.
const DefaultSampleRate = 44100

// Options configures a BeepPlayer.
type Options struct {
	SampleRate int
	// Files maps tone names to WAV or MP3 files that replace the synthesized tone.
	Files map[string]string
	// Volume is a base-2 exponent applied to every tone; 0 leaves it unchanged.
	Volume float64
}

// sink is the part of the speaker the player drives.
type sink interface {
	Play(s ...beep.Streamer)
	Lock()
	Unlock()
}

type speakerSink struct{}

func (speakerSink) Play(s ...beep.Streamer) { speaker.Play(s...) }
func (speakerSink) Lock()                   { speaker.Lock() }
func (speakerSink) Unlock()                 { speaker.Unlock() }

// BeepPlayer plays tones on the default sound device. Each tone runs behind
// its own beep.Ctrl so it can be cut off mid-cadence.
type BeepPlayer struct {
	sink   sink
	rate   beep.SampleRate
	volume float64
	log    *zap.SugaredLogger

	mu     sync.Mutex
	files  map[logic.Tone]*beep.Buffer
	active map[logic.Tone]*beep.Ctrl
	closed bool
}

// NewBeepPlayer loads any configured sound files and initializes the speaker.
// The speaker can only be initialized once per process.
func NewBeepPlayer(opts Options, log *zap.SugaredLogger) (*BeepPlayer, error) {
	rate := beep.SampleRate(opts.SampleRate)
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	p := newBeepPlayer(speakerSink{}, rate, opts.Volume, log)

	for name, path := range opts.Files {
		tone, err := ParseTone(name)
		if err != nil {
			return nil, err
		}
		buf, err := loadFile(path, rate)
		if err != nil {
			return nil, fmt.Errorf("tone %s: %w", tone, err)
		}
		p.files[tone] = buf
		p.log.Infow("loaded tone file", "tone", tone, "path", path, "samples", buf.Len())
	}

	if err := speaker.Init(rate, rate.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("speaker init: %w", err)
	}
	return p, nil
}

func newBeepPlayer(s sink, rate beep.SampleRate, volume float64, log *zap.SugaredLogger) *BeepPlayer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &BeepPlayer{
		sink:   s,
		rate:   rate,
		volume: volume,
		log:    log,
		files:  make(map[logic.Tone]*beep.Buffer),
		active: make(map[logic.Tone]*beep.Ctrl),
	}
}

// loadFile decodes a sound file into memory at the player's sample rate.
func loadFile(path string, rate beep.SampleRate) (*beep.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		s, format, err = wav.Decode(f)
	case ".mp3":
		s, format, err = mp3.Decode(f)
	default:
		return nil, fmt.Errorf("unsupported sound file type %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	var src beep.Streamer = s
	if format.SampleRate != rate {
		src = beep.Resample(4, format.SampleRate, rate, s)
	}
	buf := beep.NewBuffer(beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2})
	buf.Append(src)
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%s: no audio", path)
	}
	return buf, nil
}

// source builds a fresh streamer for tone. Loaded files loop, except the
// error tone which plays once like its synthesized form.
func (p *BeepPlayer) source(tone logic.Tone) (beep.Streamer, error) {
	var s beep.Streamer
	if buf, ok := p.files[tone]; ok {
		if tone == logic.ToneError {
			s = buf.Streamer(0, buf.Len())
		} else {
			s = beep.Loop(-1, buf.Streamer(0, buf.Len()))
		}
	} else {
		c, ok := cadences[tone]
		if !ok {
			return nil, fmt.Errorf("unknown tone %q", tone)
		}
		s = newToneStreamer(p.rate, c)
	}
	if p.volume != 0 {
		s = &effects.Volume{Streamer: s, Base: 2, Volume: p.volume}
	}
	return s, nil
}

func (p *BeepPlayer) Play(tone logic.Tone) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if _, ok := p.active[tone]; ok {
		p.mu.Unlock()
		return nil
	}
	src, err := p.source(tone)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	ctrl := &beep.Ctrl{Streamer: src}
	p.active[tone] = ctrl
	p.mu.Unlock()

	// The callback runs on the speaker goroutine with the speaker locked.
	p.sink.Play(beep.Seq(ctrl, beep.Callback(func() {
		go p.finished(tone, ctrl)
	})))
	p.log.Debugw("tone started", "tone", tone)
	return nil
}

func (p *BeepPlayer) finished(tone logic.Tone, ctrl *beep.Ctrl) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[tone] == ctrl {
		delete(p.active, tone)
	}
}

func (p *BeepPlayer) Stop(tone logic.Tone) error {
	p.mu.Lock()
	ctrl := p.active[tone]
	delete(p.active, tone)
	p.mu.Unlock()

	if ctrl != nil {
		p.silence(ctrl)
		p.log.Debugw("tone stopped", "tone", tone)
	}
	return nil
}

func (p *BeepPlayer) StopAll() error {
	p.mu.Lock()
	ctrls := make([]*beep.Ctrl, 0, len(p.active))
	for tone, ctrl := range p.active {
		ctrls = append(ctrls, ctrl)
		delete(p.active, tone)
	}
	p.mu.Unlock()

	for _, ctrl := range ctrls {
		p.silence(ctrl)
	}
	return nil
}

// silence detaches the tone so the speaker drops it on its next read.
func (p *BeepPlayer) silence(ctrl *beep.Ctrl) {
	p.sink.Lock()
	ctrl.Streamer = nil
	p.sink.Unlock()
}

// Playing returns the tones currently playing, sorted by name.
func (p *BeepPlayer) Playing() []logic.Tone {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]logic.Tone, 0, len(p.active))
	for tone := range p.active {
		out = append(out, tone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close stops every tone. Later Play calls fail with ErrClosed.
func (p *BeepPlayer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.StopAll()
}
