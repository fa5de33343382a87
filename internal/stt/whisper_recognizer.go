//go:build whisper

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-caption/internal/audio"
	"github.com/loqalabs/loqa-caption/internal/config"
)

// WhisperAvailable reports whether this binary links libwhisper.
const WhisperAvailable = true

type whisperRecognizer struct {
	mu        sync.Mutex
	model     whisper.Model
	resampler audio.Resampler
}

// NewWhisperRecognizer loads a ggml model from cfg.ModelPath and runs it
// in-process through the whisper.cpp cgo bindings.
func NewWhisperRecognizer(cfg config.STTConfig) (Recognizer, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("whisper model path is empty")
	}
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	return &whisperRecognizer{
		model:     model,
		resampler: audio.NewResampler(whisper.SampleRate, 16),
	}, nil
}

func (r *whisperRecognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frame := r.resampler.Resample(audio.Frame{Samples: samples, SampleRate: sampleRate})

	r.mu.Lock()
	defer r.mu.Unlock()

	wctx, err := r.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper context: %w", err)
	}
	if language == "" {
		language = "auto"
	}
	if err := wctx.SetLanguage(language); err != nil {
		return nil, fmt.Errorf("whisper language %q: %w", language, err)
	}
	if err := wctx.Process(frame.Samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper process: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var fragments []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			fragments = append(fragments, text)
		}
	}
	return fragments, nil
}

func (r *whisperRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model.Close()
}
