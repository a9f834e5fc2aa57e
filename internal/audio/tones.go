package audio

import (
	"math"
	"time"

	"github.com/faiface/beep"

	"github.com/sweeney/rotary-phone/internal/logic"
)

// segment is one step of a tone cadence. No frequencies means silence.
type segment struct {
	d     time.Duration
	freqs []float64
}

// cadence describes a synthesized tone.
type cadence struct {
	segments []segment
	// rounds is how many times the segments play; 0 repeats forever.
	rounds int
	amp    float64
}

// cadences follow the North American call-progress plan.
var cadences = map[logic.Tone]cadence{
	logic.ToneDial: {
		segments: []segment{{time.Second, []float64{350, 440}}},
		amp:      0.25,
	},
	logic.ToneRingback: {
		segments: []segment{
			{2 * time.Second, []float64{440, 480}},
			{4 * time.Second, nil},
		},
		amp: 0.25,
	},
	logic.ToneRing: {
		segments: []segment{
			{2 * time.Second, []float64{440, 480}},
			{4 * time.Second, nil},
		},
		amp: 0.6,
	},
	logic.ToneBusy: {
		segments: []segment{
			{500 * time.Millisecond, []float64{480, 620}},
			{500 * time.Millisecond, nil},
		},
		amp: 0.25,
	},
	// Special information tone, three rounds then silence.
	logic.ToneError: {
		segments: []segment{
			{330 * time.Millisecond, []float64{950}},
			{330 * time.Millisecond, []float64{1400}},
			{330 * time.Millisecond, []float64{1800}},
			{time.Second, nil},
		},
		rounds: 3,
		amp:    0.25,
	},
}

// toneStreamer synthesizes a cadence as a sum of sines.
type toneStreamer struct {
	rate    beep.SampleRate
	c       cadence
	lengths []int
	seg     int
	pos     int
	round   int
	n       int
}

func newToneStreamer(rate beep.SampleRate, c cadence) *toneStreamer {
	lengths := make([]int, len(c.segments))
	for i, s := range c.segments {
		lengths[i] = rate.N(s.d)
	}
	return &toneStreamer{rate: rate, c: c, lengths: lengths}
}

func (t *toneStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		if t.seg >= len(t.c.segments) {
			if t.c.rounds > 0 && t.round+1 >= t.c.rounds {
				return i, i > 0
			}
			t.round++
			t.seg = 0
		}

		s := t.c.segments[t.seg]
		v := 0.0
		if len(s.freqs) > 0 {
			at := float64(t.n) / float64(t.rate)
			for _, f := range s.freqs {
				v += math.Sin(2 * math.Pi * f * at)
			}
			v *= t.c.amp / float64(len(s.freqs))
		}
		samples[i][0], samples[i][1] = v, v
		t.n++

		t.pos++
		if t.pos >= t.lengths[t.seg] {
			t.pos = 0
			t.seg++
		}
	}
	return len(samples), true
}

func (t *toneStreamer) Err() error {
	return nil
}
