package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-caption/internal/config"
)

// ErrRateLimited is returned when a call is rejected by the local limiter.
var ErrRateLimited = errors.New("translation rate limited")

// Translator abstracts translation backends. Implementations are treated
// as unreliable: callers swallow errors.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// New builds the translator selected by cfg.Mode, wrapped with the
// configured rate limit. It returns nil when translation is disabled.
func New(cfg config.TranslateConfig, logger *slog.Logger) (Translator, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var (
		t   Translator
		err error
	)
	switch cfg.Mode {
	case "", "mock":
		t = NewMockTranslator()
	case "exec":
		t, err = NewExecTranslator(cfg.Command, cfg.SourceLanguage)
	case "ollama":
		t = NewOllamaTranslator(cfg.Endpoint, cfg.Model, cfg.SourceLanguage, cfg.Temperature)
	case "openai":
		t = NewOpenAITranslator(cfg)
	default:
		return nil, fmt.Errorf("unknown translation mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RatePerSecond > 0 {
		t = NewLimited(t, cfg.RatePerSecond, cfg.Burst)
	}
	logger.Info("translator ready",
		slog.String("mode", cfg.Mode),
		slog.String("target_language", cfg.TargetLanguage))
	return t, nil
}

func prompt(text, source, target string) string {
	if source == "" {
		source = "the source language"
	}
	return fmt.Sprintf("Translate the following %s text to %s. Reply with the translation only.\n\n%s", source, target, text)
}
