package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-caption/internal/audio"
	"github.com/loqalabs/loqa-caption/internal/capture"
	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/segmenter"
	"github.com/loqalabs/loqa-caption/internal/session"
	"github.com/loqalabs/loqa-caption/internal/stt"
	"github.com/loqalabs/loqa-caption/internal/translate"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptedReader struct {
	frames []audio.Frame
	err    error
}

func (r *scriptedReader) Next(ctx context.Context) (audio.Frame, error) {
	if len(r.frames) == 0 {
		if r.err != nil {
			return audio.Frame{}, r.err
		}
		return audio.Frame{}, io.EOF
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return f, nil
}

type blockingReader struct{}

func (blockingReader) Next(ctx context.Context) (audio.Frame, error) {
	<-ctx.Done()
	return audio.Frame{}, ctx.Err()
}

type recordingProcessor struct {
	mu      sync.Mutex
	lengths []int
	firsts  []float32
	flushes int
}

func (p *recordingProcessor) Process(_ context.Context, frame []float32) segmenter.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lengths = append(p.lengths, len(frame))
	p.firsts = append(p.firsts, frame[0])
	return segmenter.Result{Appended: true}
}

func (p *recordingProcessor) Flush(context.Context) segmenter.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	return segmenter.Result{}
}

func constant(v float32, n, rate int) audio.Frame {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return audio.Frame{Samples: samples, SampleRate: rate}
}

func TestRunPreservesOrderAndFlushes(t *testing.T) {
	reader := &scriptedReader{}
	for i := 1; i <= 5; i++ {
		reader.frames = append(reader.frames, constant(float32(i), 800, 16000))
	}
	proc := &recordingProcessor{}
	p := New(reader, proc, audio.NewResampler(16000, 4), 0, newLogger())

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(proc.firsts) != 5 {
		t.Fatalf("expected 5 frames processed, got %d", len(proc.firsts))
	}
	for i, v := range proc.firsts {
		if v != float32(i+1) {
			t.Fatalf("frame %d out of order: %v", i, v)
		}
	}
	if proc.flushes != 1 {
		t.Fatalf("expected one flush, got %d", proc.flushes)
	}
}

func TestRunResamplesToTarget(t *testing.T) {
	reader := &scriptedReader{frames: []audio.Frame{constant(0.1, 24000, 48000)}}
	proc := &recordingProcessor{}
	p := New(reader, proc, audio.NewResampler(16000, 4), 0, newLogger())
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(proc.lengths) != 1 || proc.lengths[0] != 8000 {
		t.Fatalf("expected one 8000-sample frame, got %v", proc.lengths)
	}
}

func TestRunReturnsSourceErrorAfterDraining(t *testing.T) {
	boom := errors.New("device unplugged")
	reader := &scriptedReader{
		frames: []audio.Frame{constant(0.2, 100, 16000), constant(0.3, 100, 16000)},
		err:    boom,
	}
	proc := &recordingProcessor{}
	var results int
	p := New(reader, proc, audio.NewResampler(16000, 4), 0, newLogger(),
		WithResultHook(func(segmenter.Result) { results++ }))

	if err := p.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
	if len(proc.firsts) != 2 || proc.flushes != 1 {
		t.Fatalf("expected drain and flush, got %d frames %d flushes", len(proc.firsts), proc.flushes)
	}
	if results != 3 {
		t.Fatalf("expected 3 results, got %d", results)
	}
}

func TestRunStopsOnCancelWithoutFlush(t *testing.T) {
	proc := &recordingProcessor{}
	p := New(blockingReader{}, proc, audio.NewResampler(16000, 4), 0, newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop")
	}
	if proc.flushes != 0 {
		t.Fatal("cancellation must not flush")
	}
}

func TestEndToEndToneCaptions(t *testing.T) {
	src := capture.NewToneSource(48000, 2, 300, 0.4, []capture.ToneStep{
		{Seconds: 2, Loud: true},
		{Seconds: 1, Loud: false},
		{Seconds: 1, Loud: true},
	}, false, false)
	reader, err := capture.NewFrameReader(context.Background(), src, 0.5)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}

	cfg := config.Default()
	store := session.NewStore()
	drafter := segmenter.NewDrafter(segmenter.DraftConfigFrom(cfg), stt.NewMockRecognizer(), translate.NewMockTranslator(), newLogger())
	seg := segmenter.New(cfg.Segmenter, drafter, store, newLogger())

	var reasons []segmenter.CommitReason
	p := New(reader, seg, audio.NewResampler(cfg.Segmenter.TargetSampleRate, cfg.Segmenter.ResampleQuality), 0, newLogger(),
		WithResultHook(func(res segmenter.Result) {
			if res.Committed {
				reasons = append(reasons, res.Reason)
			}
		}))
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	committed := store.Committed()
	if len(committed) != 2 {
		t.Fatalf("expected 2 utterances, got %+v", committed)
	}
	if len(reasons) != 2 || reasons[0] != segmenter.ReasonSilence || reasons[1] != segmenter.ReasonFlush {
		t.Fatalf("unexpected commit reasons %v", reasons)
	}
	if committed[0].SourceText != "[en speech 3.0s]" {
		t.Fatalf("unexpected first utterance %q", committed[0].SourceText)
	}
	if committed[0].TranslatedText != "[ko] [en speech 3.0s]" {
		t.Fatalf("unexpected translation %q", committed[0].TranslatedText)
	}
	if !store.Draft().Empty() {
		t.Fatalf("expected empty draft, got %+v", store.Draft())
	}
}
