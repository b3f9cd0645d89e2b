package audio

import (
	"math"
	"time"

	"github.com/gopxl/beep/v2"
)

// butterworthQ gives a flat passband.
const butterworthQ = 0.707

// biquad is a second-order IIR filter applied to both channels.
// Coefficients are stored pre-normalized by a0.
type biquad struct {
	streamer beep.Streamer

	b0, b1, b2 float64
	a1, a2     float64

	x1, x2 [2]float64
	y1, y2 [2]float64
}

func newBiquad(streamer beep.Streamer, sampleRate, cutoff, q float64, highPass bool) *biquad {
	omega := 2 * math.Pi * cutoff / sampleRate
	cs := math.Cos(omega)
	alpha := math.Sin(omega) / (2 * q)
	a0 := 1 + alpha

	f := &biquad{streamer: streamer}
	if highPass {
		f.b0 = (1 + cs) / 2 / a0
		f.b1 = -(1 + cs) / a0
	} else {
		f.b0 = (1 - cs) / 2 / a0
		f.b1 = (1 - cs) / a0
	}
	f.b2 = f.b0
	f.a1 = -2 * cs / a0
	f.a2 = (1 - alpha) / a0
	return f
}

func (f *biquad) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = f.streamer.Stream(samples)
	for i := range n {
		for c := range 2 {
			x := samples[i][c]
			y := f.b0*x + f.b1*f.x1[c] + f.b2*f.x2[c] - f.a1*f.y1[c] - f.a2*f.y2[c]

			f.x2[c], f.x1[c] = f.x1[c], x
			f.y2[c], f.y1[c] = f.y1[c], y
			samples[i][c] = y
		}
	}
	return n, ok
}

func (f *biquad) Err() error { return f.streamer.Err() }

// NewHeadsetFilter band-limits speech to [lowCutoff, highCutoff] Hz,
// roughly the response of a headset or telephone line.
func NewHeadsetFilter(streamer beep.Streamer, sampleRate, lowCutoff, highCutoff float64) beep.Streamer {
	hp := newBiquad(streamer, sampleRate, lowCutoff, butterworthQ, true)
	return newBiquad(hp, sampleRate, highCutoff, butterworthQ, false)
}

// fadeInStreamer ramps gain linearly from 0 to 1 over its first frames.
type fadeInStreamer struct {
	streamer beep.Streamer
	gain     float64
	step     float64
}

func newFadeIn(streamer beep.Streamer, sampleRate float64, d time.Duration) *fadeInStreamer {
	frames := sampleRate * d.Seconds()
	if frames < 1 {
		return &fadeInStreamer{streamer: streamer, gain: 1}
	}
	return &fadeInStreamer{streamer: streamer, step: 1 / frames}
}

func (f *fadeInStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = f.streamer.Stream(samples)
	for i := 0; i < n && f.gain < 1; i++ {
		samples[i][0] *= f.gain
		samples[i][1] *= f.gain
		f.gain = math.Min(1, f.gain+f.step)
	}
	return n, ok
}

func (f *fadeInStreamer) Err() error { return f.streamer.Err() }

// volumeToPower maps linear volume [0, 1] to the exponent used by
// effects.Volume with Base 2. Near-zero volume is treated as silence.
func volumeToPower(vol float64) float64 {
	if vol <= 0.01 {
		return -10
	}
	return math.Log2(vol)
}
