package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-caption/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

type openAITranslator struct {
	client      *openai.Client
	model       string
	source      string
	temperature float32
}

func NewOpenAITranslator(cfg config.TranslateConfig) Translator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &openAITranslator{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		source:      cfg.SourceLanguage,
		temperature: float32(cfg.Temperature),
	}
}

func (t *openAITranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a subtitle translator."},
			{Role: openai.ChatMessageRoleUser, Content: prompt(text, t.source, targetLanguage)},
		},
		Temperature: t.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai translation: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai translation returned no choices")
	}
	translated := strings.TrimSpace(resp.Choices[0].Message.Content)
	if translated == "" {
		return "", fmt.Errorf("openai translation returned empty text")
	}
	return translated, nil
}
