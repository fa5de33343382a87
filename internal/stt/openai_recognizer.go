package stt

import (
	"context"
	"fmt"
	"os"

	"github.com/loqalabs/loqa-caption/internal/audio"
	"github.com/loqalabs/loqa-caption/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

type openAIRecognizer struct {
	client *openai.Client
	model  string
}

// NewOpenAIRecognizer targets the OpenAI transcription API or any server
// implementing it (cfg.Endpoint overrides the base URL).
func NewOpenAIRecognizer(cfg config.STTConfig) Recognizer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &openAIRecognizer{client: openai.NewClientWithConfig(clientCfg), model: model}
}

func (r *openAIRecognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) ([]string, error) {
	path, err := audio.WriteTempWAV("loqa_caption_openai_*.wav", samples, sampleRate)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.model,
		FilePath: path,
		Language: language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}
	if len(resp.Segments) > 0 {
		fragments := make([]string, 0, len(resp.Segments))
		for _, seg := range resp.Segments {
			fragments = append(fragments, seg.Text)
		}
		return fragments, nil
	}
	if resp.Text == "" {
		return nil, nil
	}
	return []string{resp.Text}, nil
}
