package segmenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/loqalabs/loqa-caption/internal/audio"
	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type State int

const (
	StateIdle State = iota
	StateAccumulating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type CommitReason string

const (
	ReasonSilence   CommitReason = "silence"
	ReasonMaxLength CommitReason = "max_length"
	ReasonFlush     CommitReason = "flush"
)

// Store is the part of the session store the segmenter writes to.
type Store interface {
	AppendCommitted(u session.Utterance) session.Utterance
	SetDraft(d session.Draft)
}

// Result reports what a single frame did to the state machine.
type Result struct {
	Volume       float64
	Appended     bool
	DraftUpdated bool
	Committed    bool
	// Utterance is set when the commit produced a committed entry.
	Utterance        *session.Utterance
	Reason           CommitReason
	CommittedSamples int
	State            State
}

// Segmenter owns the accumulation buffer and decides utterance boundaries.
// It is driven by a single goroutine.
type Segmenter struct {
	cfg        config.SegmenterConfig
	minSamples int
	maxSamples int
	drafter    *Drafter
	store      Store
	logger     *slog.Logger
	metrics    *metrics

	buffer  []float32
	silence int
}

func New(cfg config.SegmenterConfig, drafter *Drafter, store Store, logger *slog.Logger) *Segmenter {
	return &Segmenter{
		cfg:        cfg,
		minSamples: audio.SamplesFor(cfg.MinAccumSeconds, cfg.TargetSampleRate),
		maxSamples: audio.SamplesFor(cfg.MaxAccumSeconds, cfg.TargetSampleRate),
		drafter:    drafter,
		store:      store,
		logger:     logger.With(slog.String("component", "segmenter")),
		metrics:    newMetrics(logger),
	}
}

// Process runs one frame, already at the target rate, through the state
// machine.
func (s *Segmenter) Process(ctx context.Context, frame []float32) Result {
	vol := audio.Volume(frame)
	loud := vol >= s.cfg.VolumeThreshold
	if loud {
		s.silence = 0
	} else {
		s.silence++
	}

	res := Result{Volume: vol}
	// Never open an utterance on silence.
	if len(s.buffer) > 0 || loud {
		if len(s.buffer) == 0 {
			s.logger.Debug("utterance started", slog.Float64("volume", vol))
		}
		s.buffer = append(s.buffer, frame...)
		res.Appended = true
	}

	if len(s.buffer) > 0 && len(s.buffer) >= s.minSamples {
		res.DraftUpdated = s.updateDraft(ctx)
	}

	// Silence is checked first so it wins when both conditions hold.
	switch {
	case s.silence >= s.cfg.SilenceFramesToCommit && len(s.buffer) > 0:
		s.commit(ctx, ReasonSilence, &res)
	case s.maxSamples > 0 && len(s.buffer) >= s.maxSamples:
		s.commit(ctx, ReasonMaxLength, &res)
	}

	res.State = s.State()
	return res
}

// Flush commits the open utterance, if any. Used when the frame source is
// exhausted.
func (s *Segmenter) Flush(ctx context.Context) Result {
	var res Result
	if len(s.buffer) > 0 {
		s.commit(ctx, ReasonFlush, &res)
	}
	res.State = s.State()
	return res
}

func (s *Segmenter) State() State {
	if len(s.buffer) == 0 {
		return StateIdle
	}
	return StateAccumulating
}

func (s *Segmenter) BufferLen() int { return len(s.buffer) }

func (s *Segmenter) SilenceCount() int { return s.silence }

func (s *Segmenter) updateDraft(ctx context.Context) bool {
	draft, changed, err := s.drafter.Update(ctx, s.buffer)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			s.logger.Debug("draft update skipped", slog.String("reason", "in flight"))
		}
		return false
	}
	if changed {
		s.store.SetDraft(draft)
	}
	return changed
}

func (s *Segmenter) commit(ctx context.Context, reason CommitReason, res *Result) {
	draft := s.drafter.Draft()
	samples := s.buffer

	res.Committed = true
	res.Reason = reason
	res.CommittedSamples = len(samples)

	if !draft.Empty() {
		u := s.store.AppendCommitted(session.Utterance{
			SourceText:     draft.SourceText,
			TranslatedText: draft.TranslatedText,
		})
		res.Utterance = &u
		s.logger.Info("utterance committed",
			slog.String("id", u.ID),
			slog.String("reason", string(reason)),
			slog.Int("samples", len(samples)),
			slog.String("text", u.SourceText),
			slog.String("translation", u.TranslatedText))
		s.dump(u.ID, samples)
	} else {
		s.logger.Debug("utterance discarded without transcript",
			slog.String("reason", string(reason)),
			slog.Int("samples", len(samples)))
	}
	s.metrics.commits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", string(reason)),
		attribute.Bool("empty", draft.Empty()),
	))

	s.buffer = nil
	s.silence = 0
	s.drafter.Reset()
	s.store.SetDraft(session.Draft{})
}

func (s *Segmenter) dump(id string, samples []float32) {
	if s.cfg.DebugDumpDir == "" {
		return
	}
	path := filepath.Join(s.cfg.DebugDumpDir, id+".wav")
	if err := audio.WriteWAVFile(path, samples, s.cfg.TargetSampleRate); err != nil {
		s.logger.Warn("debug dump failed", slogError(err))
	}
}
