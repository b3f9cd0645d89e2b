package tts

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// SplitSentences breaks text into sentences on terminal punctuation followed
// by whitespace (or end of text) and on line breaks. Punctuation stays with
// its sentence so engines keep the intonation.
func SplitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' || r == '\r' {
			flush()
			continue
		}
		current.WriteRune(r)
		if !isTerminal(r) {
			continue
		}
		if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) || isFullWidthTerminal(r) {
			flush()
		}
	}
	flush()
	return sentences
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return isFullWidthTerminal(r)
}

func isFullWidthTerminal(r rune) bool {
	switch r {
	case '。', '！', '？':
		return true
	}
	return false
}

// PCM16ToFloat32 converts signed 16-bit little-endian PCM to float samples in [-1, 1).
func PCM16ToFloat32(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("truncated PCM data: %d bytes is not a whole number of 16-bit samples", len(data))
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[2*i:]))
		samples[i] = float32(v) / 32768
	}
	return samples, nil
}

// Float32ToPCM16 converts float samples to signed 16-bit little-endian PCM, clipping to range.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32768)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}
