package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-caption/internal/audio"
	"github.com/loqalabs/loqa-caption/internal/session"
)

func TestReplayPrintsCommits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "talk.wav")
	samples := make([]float32, 16000*6)
	// two bursts: 1.5s and 1s, each followed by silence
	for i := 0; i < 24000; i++ {
		samples[i] = 0.2
	}
	for i := 48000; i < 64000; i++ {
		samples[i] = 0.2
	}
	if err := audio.WriteWAVFile(path, samples, 16000); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	t.Setenv("LOQA_TRANSLATION_ENABLED", "false")

	var out bytes.Buffer
	if err := runReplay(context.Background(), []string{"-file", path}, &out); err != nil {
		t.Fatalf("replay: %v", err)
	}

	var got []session.Utterance
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var u session.Utterance
		if err := json.Unmarshal(scanner.Bytes(), &u); err != nil {
			t.Fatalf("decode line %q: %v", scanner.Text(), err)
		}
		got = append(got, u)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 utterances, got %+v", got)
	}
	if got[0].SourceText != "[en speech 2.5s]" || got[1].SourceText != "[en speech 2.0s]" {
		t.Fatalf("unexpected transcripts %q, %q", got[0].SourceText, got[1].SourceText)
	}
	if got[0].TranslatedText != "" {
		t.Fatalf("expected no translation when disabled, got %q", got[0].TranslatedText)
	}
}

func TestReplayRequiresFile(t *testing.T) {
	if err := runReplay(context.Background(), nil, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error without -file")
	}
}
