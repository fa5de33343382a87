package segmenter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/loqalabs/loqa-caption/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// durationRecognizer reports the buffer length so every growth of the
// buffer yields new text.
type durationRecognizer struct {
	mu    sync.Mutex
	calls int
	err   error
	text  string
}

func (r *durationRecognizer) Transcribe(_ context.Context, samples []float32, sampleRate int, _ string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if r.text != "" {
		return []string{r.text}, nil
	}
	return []string{fmt.Sprintf(" words for %d samples ", len(samples))}, nil
}

func (r *durationRecognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type recordingTranslator struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (t *recordingTranslator) Translate(_ context.Context, text, target string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, text)
	if t.err != nil {
		return "", t.err
	}
	return target + ":" + text, nil
}

func (t *recordingTranslator) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *recordingTranslator) SetErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

func testDraftConfig() DraftConfig {
	return DraftConfig{
		SampleRate:     16000,
		Language:       "en",
		TargetLanguage: "ko",
		PendingMarker:  "[translating...]",
	}
}

func testSegmenterConfig() config.SegmenterConfig {
	return config.SegmenterConfig{
		TargetSampleRate:      16000,
		ResampleQuality:       4,
		VolumeThreshold:       0.0001,
		SilenceFramesToCommit: 2,
		MinAccumSeconds:       0.5,
		MaxAccumSeconds:       12,
	}
}

const chunk = 8000 // 0.5s at 16kHz

func tone(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

func silence(n int) []float32 {
	return make([]float32, n)
}
