package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-caption/internal/audio"
	"github.com/loqalabs/loqa-caption/internal/queue"
	"github.com/loqalabs/loqa-caption/internal/segmenter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-caption/pipeline"

// FrameReader yields captured frames at the device's native rate.
type FrameReader interface {
	Next(ctx context.Context) (audio.Frame, error)
}

// Processor consumes frames at the target rate.
type Processor interface {
	Process(ctx context.Context, frame []float32) segmenter.Result
	Flush(ctx context.Context) segmenter.Result
}

// Pipeline runs the capture worker and the processing worker joined by a
// FIFO queue. Capture never waits on processing.
type Pipeline struct {
	reader    FrameReader
	processor Processor
	resampler audio.Resampler
	queue     *queue.Queue[audio.Frame]
	logger    *slog.Logger
	onResult  func(segmenter.Result)

	captured metric.Int64Counter
	dropped  metric.Int64Counter
	gauge    metric.Registration
}

type Option func(*Pipeline)

// WithResultHook is called on the processing goroutine after every frame.
func WithResultHook(fn func(segmenter.Result)) Option {
	return func(p *Pipeline) { p.onResult = fn }
}

func New(reader FrameReader, processor Processor, resampler audio.Resampler, queueSize int, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		reader:    reader,
		processor: processor,
		resampler: resampler,
		queue:     queue.New[audio.Frame](queueSize),
		logger:    logger.With(slog.String("component", "pipeline")),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.initMetrics()
	return p
}

func (p *Pipeline) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error
	if p.captured, err = meter.Int64Counter("caption_frames_captured_total",
		metric.WithDescription("Frames read from the capture source")); err != nil {
		p.logger.Warn("failed to create frames counter", slog.String("error", err.Error()))
	}
	if p.dropped, err = meter.Int64Counter("caption_frames_dropped_total",
		metric.WithDescription("Frames evicted from a full queue")); err != nil {
		p.logger.Warn("failed to create drop counter", slog.String("error", err.Error()))
	}
	depth, err := meter.Int64ObservableGauge("caption_queue_depth",
		metric.WithDescription("Frames waiting for the processing worker"))
	if err != nil {
		p.logger.Warn("failed to create queue gauge", slog.String("error", err.Error()))
		return
	}
	p.gauge, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(depth, int64(p.queue.Len()))
		return nil
	}, depth)
	if err != nil {
		p.logger.Warn("failed to register queue gauge", slog.String("error", err.Error()))
	}
}

// Run blocks until both workers stop. When the source is exhausted or fails
// the processing worker drains the queue, flushes and returns. Cancelling
// ctx stops both without a flush. The capture error, if any, is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	defer func() {
		if p.gauge != nil {
			_ = p.gauge.Unregister()
		}
	}()

	var (
		wg         sync.WaitGroup
		captureErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		captureErr = p.capture(ctx)
	}()

	p.process(ctx)
	wg.Wait()
	return captureErr
}

func (p *Pipeline) capture(ctx context.Context) error {
	defer p.queue.Close()
	for {
		frame, err := p.reader.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				p.logger.Info("capture source exhausted")
				return nil
			case ctx.Err() != nil:
				return nil
			default:
				p.logger.Error("capture failed", slog.String("error", err.Error()))
				return err
			}
		}
		if len(frame.Samples) == 0 {
			continue
		}
		if p.captured != nil {
			p.captured.Add(ctx, 1)
		}
		evicted, err := p.queue.Push(frame)
		if err != nil {
			return nil
		}
		if evicted {
			if p.dropped != nil {
				p.dropped.Add(ctx, 1)
			}
			p.logger.Warn("frame queue full, dropped oldest frame", slog.Uint64("dropped_total", p.queue.Dropped()))
		}
	}
}

func (p *Pipeline) process(ctx context.Context) {
	for {
		frame, ok := p.queue.Pop(ctx)
		if !ok {
			break
		}
		resampled := p.resampler.Resample(frame)
		res := p.processor.Process(ctx, resampled.Samples)
		if res.Committed {
			p.logger.Debug("utterance committed",
				slog.String("reason", string(res.Reason)),
				slog.Int("samples", res.CommittedSamples))
		}
		p.report(res)
	}
	if ctx.Err() != nil {
		p.logger.Info("processing stopped")
		return
	}
	p.report(p.processor.Flush(ctx))
	p.logger.Info("processing drained")
}

func (p *Pipeline) report(res segmenter.Result) {
	if p.onResult != nil {
		p.onResult(res)
	}
}

// QueueLen reports how many frames wait for processing.
func (p *Pipeline) QueueLen() int { return p.queue.Len() }
