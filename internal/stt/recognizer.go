package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-caption/internal/config"
)

// Recognizer abstracts STT backends. Samples are mono in [-1, 1]; the
// result is the ordered list of text fragments the backend produced.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) ([]string, error)
}

// New builds the recognizer selected by cfg.Mode.
func New(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "openai":
		return NewOpenAIRecognizer(cfg), nil
	case "whisper":
		return NewWhisperRecognizer(cfg)
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
