package segmenter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-caption/internal/audio"
	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/session"
	"github.com/loqalabs/loqa-caption/internal/stt"
	"github.com/loqalabs/loqa-caption/internal/translate"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrBusy is returned by Update while another update is in flight.
var ErrBusy = errors.New("draft update already in flight")

const minFragmentRunes = 2

// DraftConfig carries the adapter settings a Drafter needs.
type DraftConfig struct {
	SampleRate       int
	Language         string
	TargetLanguage   string
	PendingMarker    string
	STTTimeout       time.Duration
	TranslateTimeout time.Duration
}

func DraftConfigFrom(cfg config.Config) DraftConfig {
	return DraftConfig{
		SampleRate:       cfg.Segmenter.TargetSampleRate,
		Language:         cfg.STT.Language,
		TargetLanguage:   cfg.Translation.TargetLanguage,
		PendingMarker:    cfg.Translation.PendingMarker,
		STTTimeout:       time.Duration(cfg.STT.TimeoutMS) * time.Millisecond,
		TranslateTimeout: time.Duration(cfg.Translation.TimeoutMS) * time.Millisecond,
	}
}

// Drafter turns the accumulation buffer into a draft. It keeps the
// translation cache for the current utterance and guarantees at most one
// update in flight. Reset starts a new generation; results of updates that
// began under an older generation are discarded.
type Drafter struct {
	cfg        DraftConfig
	recognizer stt.Recognizer
	translator translate.Translator
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *metrics

	busy       atomic.Bool
	generation atomic.Uint64

	mu              sync.Mutex
	draft           session.Draft
	lastText        string
	lastTranslation string
	hasTranslation  bool
}

// NewDrafter builds a Drafter. translator may be nil when translation is
// disabled.
func NewDrafter(cfg DraftConfig, recognizer stt.Recognizer, translator translate.Translator, logger *slog.Logger) *Drafter {
	return &Drafter{
		cfg:        cfg,
		recognizer: recognizer,
		translator: translator,
		logger:     logger.With(slog.String("component", "drafter")),
		tracer:     otel.Tracer(instrumentationName),
		metrics:    newMetrics(logger),
	}
}

// Update transcribes buffer and refreshes the draft. The bool result
// reports whether the draft changed. Adapter failures never surface as
// errors; the only error is ErrBusy.
func (d *Drafter) Update(ctx context.Context, buffer []float32) (session.Draft, bool, error) {
	if !d.busy.CompareAndSwap(false, true) {
		return d.Draft(), false, ErrBusy
	}
	defer d.busy.Store(false)

	gen := d.generation.Load()
	normalized, ok := audio.PeakNormalize(buffer)
	if !ok {
		return d.Draft(), false, nil
	}

	ctx, span := d.tracer.Start(ctx, "draft.update", trace.WithAttributes(
		attribute.Int("samples", len(buffer)),
		attribute.Int64("generation", int64(gen)),
	))
	defer span.End()

	fragments, err := d.transcribe(ctx, normalized)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		d.logger.Warn("transcription failed", slogError(err))
		return d.Draft(), false, nil
	}
	candidate := JoinFragments(fragments)
	if candidate == "" {
		return d.Draft(), false, nil
	}

	d.mu.Lock()
	current := d.draft
	changedText := candidate != d.lastText
	fallback, hasFallback := d.lastTranslation, d.hasTranslation
	d.mu.Unlock()

	next := session.Draft{
		SourceText:         candidate,
		TranslatedText:     current.TranslatedText,
		TranslationPending: current.TranslationPending,
	}
	var (
		translated string
		succeeded  bool
	)
	if changedText && d.translator != nil {
		translated, err = d.translate(ctx, candidate)
		if err != nil {
			span.RecordError(err)
			d.logger.Warn("translation failed", slogError(err), slog.Bool("has_fallback", hasFallback))
			next.TranslatedText = d.cfg.PendingMarker
			if hasFallback {
				next.TranslatedText = fallback
			}
			next.TranslationPending = true
		} else {
			succeeded = true
			next.TranslatedText = translated
			next.TranslationPending = false
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.generation.Load() != gen {
		d.logger.Debug("discarding draft from previous utterance", slog.Uint64("generation", gen))
		return d.draft, false, nil
	}
	d.lastText = candidate
	if succeeded {
		d.lastTranslation = translated
		d.hasTranslation = true
	}
	if next == d.draft {
		return d.draft, false, nil
	}
	d.draft = next
	d.metrics.draftUpdates.Add(ctx, 1)
	return next, true, nil
}

// Draft returns the current draft.
func (d *Drafter) Draft() session.Draft {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draft
}

// Reset clears the draft and translation cache and starts a new generation.
func (d *Drafter) Reset() {
	d.generation.Add(1)
	d.mu.Lock()
	d.draft = session.Draft{}
	d.lastText = ""
	d.lastTranslation = ""
	d.hasTranslation = false
	d.mu.Unlock()
}

// Generation identifies the utterance the drafter is working on.
func (d *Drafter) Generation() uint64 {
	return d.generation.Load()
}

func (d *Drafter) transcribe(ctx context.Context, samples []float32) ([]string, error) {
	ctx, span := d.tracer.Start(ctx, "stt.transcribe")
	defer span.End()
	if d.cfg.STTTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.STTTimeout)
		defer cancel()
	}

	start := time.Now()
	fragments, err := d.recognizer.Transcribe(ctx, samples, d.cfg.SampleRate, d.cfg.Language)
	d.metrics.transcribeTime.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		d.metrics.transcribeErrors.Add(ctx, 1)
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("fragments", len(fragments)))
	return fragments, nil
}

func (d *Drafter) translate(ctx context.Context, text string) (string, error) {
	ctx, span := d.tracer.Start(ctx, "translate", trace.WithAttributes(
		attribute.String("target_language", d.cfg.TargetLanguage),
	))
	defer span.End()
	if d.cfg.TranslateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.TranslateTimeout)
		defer cancel()
	}

	d.metrics.translations.Add(ctx, 1)
	out, err := d.translator.Translate(ctx, text, d.cfg.TargetLanguage)
	if err != nil {
		reason := "error"
		if errors.Is(err, translate.ErrRateLimited) {
			reason = "rate_limited"
		}
		d.metrics.translateErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		span.RecordError(err)
		return "", err
	}
	return out, nil
}

// JoinFragments trims each fragment, drops those shorter than two
// characters and joins the rest with single spaces.
func JoinFragments(fragments []string) string {
	kept := lo.FilterMap(fragments, func(f string, _ int) (string, bool) {
		trimmed := strings.TrimSpace(f)
		return trimmed, utf8.RuneCountInString(trimmed) >= minFragmentRunes
	})
	return strings.Join(kept, " ")
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
