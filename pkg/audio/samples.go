package audio

import "github.com/gopxl/beep/v2"

// samplesStreamer plays an in-memory mono buffer on both speaker channels.
type samplesStreamer struct {
	data []float32
	pos  int
}

func newSamplesStreamer(data []float32) *samplesStreamer {
	return &samplesStreamer{data: data}
}

func (s *samplesStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	if s.pos >= len(s.data) {
		return 0, false
	}
	n = min(len(samples), len(s.data)-s.pos)
	for i := range n {
		v := float64(s.data[s.pos+i])
		samples[i] = [2]float64{v, v}
	}
	s.pos += n
	return n, true
}

func (s *samplesStreamer) Err() error { return nil }

var _ beep.Streamer = (*samplesStreamer)(nil)
