//go:build !whisper

package stt

import (
	"errors"

	"github.com/loqalabs/loqa-caption/internal/config"
)

// WhisperAvailable reports whether this binary links libwhisper.
const WhisperAvailable = false

// ErrWhisperUnavailable is returned for mode=whisper when the binary was
// built without the whisper tag.
var ErrWhisperUnavailable = errors.New("stt mode whisper requires a build with -tags whisper and libwhisper on the linker path")

func NewWhisperRecognizer(_ config.STTConfig) (Recognizer, error) {
	return nil, ErrWhisperUnavailable
}
