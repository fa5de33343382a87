package stt

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

// NewMockRecognizer returns a recognizer whose text grows with the audio
// duration, so drafts visibly change while an utterance accumulates.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	seconds := float64(len(samples)) / float64(sampleRate)
	return []string{fmt.Sprintf("[%s speech %.1fs]", language, seconds)}, nil
}
