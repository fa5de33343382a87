package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type ollamaTranslator struct {
	endpoint    string
	model       string
	source      string
	temperature float64
	client      *http.Client
}

func NewOllamaTranslator(endpoint, model, sourceLanguage string, temperature float64) Translator {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2:latest"
	}
	return &ollamaTranslator{
		endpoint:    strings.TrimRight(endpoint, "/"),
		model:       model,
		source:      sourceLanguage,
		temperature: temperature,
		client:      http.DefaultClient,
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (t *ollamaTranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	payload := ollamaRequest{
		Model:  t.model,
		Prompt: prompt(text, t.source, targetLanguage),
		System: "You are a subtitle translator.",
		Stream: false,
		Options: ollamaOptions{
			Temperature: t.temperature,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama returned status %s", resp.Status)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	translated := strings.TrimSpace(out.Response)
	if translated == "" {
		return "", fmt.Errorf("ollama returned empty translation")
	}
	return translated, nil
}
