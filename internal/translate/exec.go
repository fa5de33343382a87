package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execTranslator struct {
	cmd    []string
	source string
	mu     sync.Mutex
}

type execRequest struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
}

type execResponse struct {
	Text string `json:"text"`
}

// NewExecTranslator pipes a JSON request into command and reads
// {"text": ...} from its stdout.
func NewExecTranslator(command, sourceLanguage string) (Translator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse translation command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("translation command empty")
	}
	return &execTranslator{cmd: args, source: sourceLanguage}, nil
}

func (t *execTranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	input, err := json.Marshal(execRequest{Text: text, Source: t.source, Target: targetLanguage})
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, t.cmd[0], t.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("translation command failed: %w", err)
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fmt.Errorf("decode translation response: %w", err)
	}
	translated := strings.TrimSpace(resp.Text)
	if translated == "" {
		return "", fmt.Errorf("translation command returned empty text")
	}
	return translated, nil
}
