package translate

import (
	"context"

	"golang.org/x/time/rate"
)

type limitedTranslator struct {
	next    Translator
	limiter *rate.Limiter
}

// NewLimited fails calls beyond perSecond (with burst) immediately with
// ErrRateLimited instead of waiting, so the caller never stalls.
func NewLimited(next Translator, perSecond float64, burst int) Translator {
	if burst <= 0 {
		burst = 1
	}
	return &limitedTranslator{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *limitedTranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	if !l.limiter.Allow() {
		return "", ErrRateLimited
	}
	return l.next.Translate(ctx, text, targetLanguage)
}
