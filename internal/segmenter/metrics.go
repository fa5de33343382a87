package segmenter

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/loqalabs/loqa-caption/segmenter"

type metrics struct {
	draftUpdates     metric.Int64Counter
	commits          metric.Int64Counter
	transcribeTime   metric.Float64Histogram
	transcribeErrors metric.Int64Counter
	translations     metric.Int64Counter
	translateErrors  metric.Int64Counter
}

func newMetrics(logger *slog.Logger) *metrics {
	m, err := buildMetrics(otel.Meter(instrumentationName))
	if err != nil {
		logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		m, _ = buildMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	}
	return m
}

func buildMetrics(meter metric.Meter) (*metrics, error) {
	var (
		m   metrics
		err error
	)
	if m.draftUpdates, err = meter.Int64Counter("caption_draft_updates_total",
		metric.WithDescription("Draft updates that changed the visible draft")); err != nil {
		return nil, err
	}
	if m.commits, err = meter.Int64Counter("caption_commits_total",
		metric.WithDescription("Utterance commits by reason")); err != nil {
		return nil, err
	}
	if m.transcribeTime, err = meter.Float64Histogram("caption_transcription_seconds",
		metric.WithDescription("Transcription latency"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.transcribeErrors, err = meter.Int64Counter("caption_transcription_errors_total",
		metric.WithDescription("Failed transcription calls")); err != nil {
		return nil, err
	}
	if m.translations, err = meter.Int64Counter("caption_translations_total",
		metric.WithDescription("Translation calls")); err != nil {
		return nil, err
	}
	if m.translateErrors, err = meter.Int64Counter("caption_translation_errors_total",
		metric.WithDescription("Failed translation calls")); err != nil {
		return nil, err
	}
	return &m, nil
}
