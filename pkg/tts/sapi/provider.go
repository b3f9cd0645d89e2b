// Package sapi synthesizes speech with the Windows SAPI5 voices via OLE.
// On other platforms object creation fails and HealthCheck reports it.
package sapi

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"

	"speakline/pkg/tts"
)

const (
	engineName = "windows-sapi"
	sampleRate = 22050
	// SpeechAudioFormatType SAFT22kHz16BitMono
	formatType22kMono = 22
)

// Provider implements tts.Synthesizer using Windows SAPI5 via OLE.
type Provider struct {
	mu      sync.Mutex
	voiceID string
}

// NewProvider creates a new SAPI5 provider. voiceID may be empty for the system default.
func NewProvider(voiceID string) *Provider {
	return &Provider{voiceID: voiceID}
}

// Name implements tts.Synthesizer.
func (p *Provider) Name() string { return engineName }

// Format is requested from SAPI explicitly, so it never varies with the voice.
func (p *Provider) Format() tts.Format {
	return tts.Format{SampleRate: sampleRate, Channels: 1}
}

// HealthCheck verifies SAPI.SpVoice can be created.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.withVoice(func(voice *ole.IDispatch) error { return nil })
}

// Synthesize speaks each sentence into a memory stream, one at a time,
// as the consumer pulls chunks.
func (p *Provider) Synthesize(ctx context.Context, text string, opts tts.Options) (tts.Stream, error) {
	sentences := tts.SplitSentences(text)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("nothing to synthesize")
	}
	voiceID := opts.Voice
	if voiceID == "" {
		voiceID = p.voiceID
	}

	return tts.Sequential(ctx, sentences, func(ctx context.Context, i int, sentence string) ([]float32, error) {
		pcm, err := p.speak(voiceID, sentence)
		if err != nil {
			tts.Log("SAPI", sentence, 0, err)
			return nil, fmt.Errorf("sentence %d: %w", i, err)
		}
		samples, err := tts.PCM16ToFloat32(pcm)
		if err != nil {
			return nil, fmt.Errorf("sentence %d: %w", i, err)
		}
		if len(samples) == 0 {
			return nil, fmt.Errorf("sentence %d: SAPI produced no audio", i)
		}
		tts.Log("SAPI", sentence, 200, nil)
		return samples, nil
	}), nil
}

// withVoice runs fn with a fresh SpVoice on a COM-initialized, locked OS thread.
func (p *Provider) withVoice(fn func(voice *ole.IDispatch) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitialize(0); err == nil {
		defer ole.CoUninitialize()
	}

	unknown, err := oleutil.CreateObject("SAPI.SpVoice")
	if err != nil {
		return fmt.Errorf("failed to create SAPI.SpVoice: %w", err)
	}
	voice, err := unknown.QueryInterface(ole.IID_IDispatch)
	unknown.Release()
	if err != nil {
		return fmt.Errorf("QueryInterface SpVoice failed: %w", err)
	}
	defer voice.Release()

	return fn(voice)
}

// speak renders text to raw 16-bit mono PCM at 22050 Hz.
func (p *Provider) speak(voiceID, text string) ([]byte, error) {
	var pcm []byte
	err := p.withVoice(func(voice *ole.IDispatch) error {
		if voiceID != "" {
			setVoiceByID(voice, voiceID)
		}

		unknownStream, err := oleutil.CreateObject("SAPI.SpMemoryStream")
		if err != nil {
			return fmt.Errorf("failed to create SAPI.SpMemoryStream: %w", err)
		}
		stream, err := unknownStream.QueryInterface(ole.IID_IDispatch)
		unknownStream.Release()
		if err != nil {
			return fmt.Errorf("QueryInterface SpMemoryStream failed: %w", err)
		}
		defer stream.Release()

		if err := setStreamFormat(stream); err != nil {
			return err
		}

		if _, err := oleutil.PutPropertyRef(voice, "AudioOutputStream", stream); err != nil {
			return fmt.Errorf("failed to set AudioOutputStream: %w", err)
		}

		if _, err := oleutil.CallMethod(voice, "Speak", text, 0); err != nil {
			return fmt.Errorf("Speak failed: %w", err)
		}

		dataVar, err := oleutil.CallMethod(stream, "GetData")
		if err != nil {
			return fmt.Errorf("GetData failed: %w", err)
		}
		defer func() { _ = dataVar.Clear() }()

		arr := dataVar.ToArray()
		if arr == nil {
			return fmt.Errorf("GetData returned no array")
		}
		pcm = arr.ToByteArray()
		return nil
	})
	return pcm, err
}

func setStreamFormat(stream *ole.IDispatch) error {
	fmtVar, err := oleutil.GetProperty(stream, "Format")
	if err != nil {
		return fmt.Errorf("get stream Format failed: %w", err)
	}
	format := fmtVar.ToIDispatch()
	if format == nil {
		return fmt.Errorf("stream Format is nil")
	}
	defer format.Release()

	if _, err := oleutil.PutProperty(format, "Type", formatType22kMono); err != nil {
		return fmt.Errorf("set format Type failed: %w", err)
	}
	if _, err := oleutil.PutPropertyRef(stream, "Format", format); err != nil {
		return fmt.Errorf("set stream Format failed: %w", err)
	}
	return nil
}

// Voices lists available SAPI voices.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	var voices []tts.Voice
	err := p.withVoice(func(voice *ole.IDispatch) error {
		// GetVoices returns ISpeechObjectTokens.
		tokensVar, err := oleutil.CallMethod(voice, "GetVoices")
		if err != nil {
			tokensVar, err = oleutil.GetProperty(voice, "Voices")
		}
		if err != nil {
			return fmt.Errorf("failed to get voices collection: %w", err)
		}
		tokens := tokensVar.ToIDispatch()
		if tokens == nil {
			return fmt.Errorf("voices collection is nil")
		}
		defer tokens.Release()

		countVar, err := oleutil.GetProperty(tokens, "Count")
		if err != nil {
			return fmt.Errorf("GetVoices Count failed: %w", err)
		}
		count := getVariantInt(countVar)

		_ = oleutil.ForEach(tokens, func(v *ole.VARIANT) error {
			if voice, ok := extractVoice(v); ok {
				voices = append(voices, voice)
			}
			return nil
		})

		if len(voices) == 0 {
			voices = fallbackManualEnum(tokens, count)
		}
		return nil
	})
	return voices, err
}

func getVariantInt(v *ole.VARIANT) int {
	val := v.Value()
	if val == nil {
		return int(v.Val)
	}
	switch it := val.(type) {
	case int32:
		return int(it)
	case int64:
		return int(it)
	case int:
		return it
	case uint32:
		return int(it)
	default:
		return int(v.Val)
	}
}

func extractVoice(v *ole.VARIANT) (tts.Voice, bool) {
	item := v.ToIDispatch()
	if item == nil {
		return tts.Voice{}, false
	}
	defer item.Release()

	idVar, idErr := oleutil.CallMethod(item, "GetId")
	descVar, descErr := oleutil.CallMethod(item, "GetDescription", int32(0))

	if idErr == nil && descErr == nil && idVar != nil && descVar != nil {
		return tts.Voice{
			ID:   idVar.ToString(),
			Name: descVar.ToString(),
		}, true
	}
	return tts.Voice{}, false
}

func fallbackManualEnum(tokens *ole.IDispatch, count int) []tts.Voice {
	var voices []tts.Voice
	for i := 0; i < count; i++ {
		itemVar, err := oleutil.GetProperty(tokens, "Item", i)
		if err != nil {
			itemVar, err = oleutil.CallMethod(tokens, "Item", i)
		}
		if err != nil {
			continue
		}
		item := itemVar.ToIDispatch()
		if item == nil {
			continue
		}
		idVar, _ := oleutil.CallMethod(item, "GetId")
		descVar, _ := oleutil.CallMethod(item, "GetDescription", int32(0))
		if idVar != nil && descVar != nil {
			voices = append(voices, tts.Voice{
				ID:   idVar.ToString(),
				Name: descVar.ToString(),
			})
		}
		item.Release()
	}
	return voices
}

func setVoiceByID(voice *ole.IDispatch, voiceID string) {
	tokensVar, err := oleutil.CallMethod(voice, "GetVoices", "", "")
	if err != nil {
		return
	}
	tokens := tokensVar.ToIDispatch()
	if tokens == nil {
		return
	}
	defer tokens.Release()

	_ = oleutil.ForEach(tokens, func(v *ole.VARIANT) error {
		item := v.ToIDispatch()
		if item == nil {
			return nil
		}
		defer item.Release()
		idVar, _ := oleutil.CallMethod(item, "GetId")
		if idVar != nil && idVar.ToString() == voiceID {
			_, _ = oleutil.PutPropertyRef(voice, "Voice", item)
		}
		return nil
	})
}
