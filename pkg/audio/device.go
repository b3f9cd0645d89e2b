package audio

import (
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// Device is the audio output a Manager plays through.
// It mirrors the package-level API of gopxl/beep/speaker so tests can swap it.
type Device interface {
	Init(sampleRate beep.SampleRate, bufferSize int) error
	Play(s ...beep.Streamer)
	Clear()
	Lock()
	Unlock()
	Close()
}

// speakerDevice is the system output via gopxl/beep/speaker.
type speakerDevice struct{}

func (speakerDevice) Init(sr beep.SampleRate, bufferSize int) error {
	return speaker.Init(sr, bufferSize)
}
func (speakerDevice) Play(s ...beep.Streamer) { speaker.Play(s...) }
func (speakerDevice) Clear()                  { speaker.Clear() }
func (speakerDevice) Lock()                   { speaker.Lock() }
func (speakerDevice) Unlock()                 { speaker.Unlock() }
func (speakerDevice) Close()                  { speaker.Close() }
