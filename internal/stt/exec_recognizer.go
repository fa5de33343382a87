package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/loqalabs/loqa-caption/internal/audio"
	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/mattn/go-shellwords"
)

type execRecognizer struct {
	cmd []string
	cfg config.STTConfig
	mu  sync.Mutex
}

type execSegment struct {
	Text string `json:"text"`
}

type execResult struct {
	Text     string        `json:"text"`
	Segments []execSegment `json:"segments"`
}

// NewExecRecognizer runs an external command per request. The command gets
// --audio <wav> [--model m] [--language l] and prints JSON on stdout.
func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, err := audio.WriteTempWAV("loqa_caption_stt_*.wav", samples, sampleRate)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", path)
	if r.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.ModelPath)
	}
	if language != "" {
		cmdArgs = append(cmdArgs, "--language", language)
	}

	command := exec.CommandContext(ctx, r.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}
	return decodeExecResult(stdout.Bytes())
}

func decodeExecResult(data []byte) ([]string, error) {
	var resp execResult
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode stt response: %w", err)
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
