package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-caption/internal/audio"
	"github.com/loqalabs/loqa-caption/internal/capture"
	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/segmenter"
	"github.com/loqalabs/loqa-caption/internal/stt"
	"github.com/loqalabs/loqa-caption/internal/translate"
)

// Build wires the adapters, the segmenter and a frame reader over src into
// a pipeline that writes into store.
func Build(ctx context.Context, cfg config.Config, src capture.Source, store segmenter.Store, logger *slog.Logger, opts ...Option) (*Pipeline, capture.Device, error) {
	recognizer, err := stt.New(cfg.STT)
	if err != nil {
		return nil, capture.Device{}, fmt.Errorf("init stt: %w", err)
	}
	translator, err := translate.New(cfg.Translation, logger)
	if err != nil {
		return nil, capture.Device{}, fmt.Errorf("init translator: %w", err)
	}

	reader, err := capture.NewFrameReader(ctx, src, cfg.Capture.ChunkSeconds)
	if err != nil {
		return nil, capture.Device{}, err
	}
	device := reader.Device()
	logger.Info("capture device ready",
		slog.String("device", device.Name),
		slog.Int("channels", device.Channels),
		slog.Int("sample_rate", device.SampleRate))

	drafter := segmenter.NewDrafter(segmenter.DraftConfigFrom(cfg), recognizer, translator, logger)
	seg := segmenter.New(cfg.Segmenter, drafter, store, logger)
	resampler := audio.NewResampler(cfg.Segmenter.TargetSampleRate, cfg.Segmenter.ResampleQuality)

	return New(reader, seg, resampler, cfg.Capture.QueueSize, logger, opts...), device, nil
}
