package translate

import (
	"context"
	"fmt"
)

type mockTranslator struct{}

func NewMockTranslator() Translator {
	return &mockTranslator{}
}

func (m *mockTranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s] %s", targetLanguage, text), nil
}
