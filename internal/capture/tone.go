package capture

import (
	"context"
	"io"
	"math"
	"sync"

	"github.com/loqalabs/loqa-caption/internal/audio"
)

// ToneStep is one stretch of a synthetic signal: a sine burst or silence.
type ToneStep struct {
	Seconds float64
	Loud    bool
}

// DefaultTonePattern mimics short utterances separated by pauses.
var DefaultTonePattern = []ToneStep{
	{Seconds: 2, Loud: true},
	{Seconds: 1.5, Loud: false},
	{Seconds: 3.5, Loud: true},
	{Seconds: 1.5, Loud: false},
}

// ToneSource synthesizes a speech-like on/off signal. It is useful for
// exercising the pipeline on machines without a loopback device.
type ToneSource struct {
	rate      int
	channels  int
	frequency float64
	amplitude float64
	pattern   []ToneStep
	repeat    bool
	realtime  bool

	mu        sync.Mutex
	step      int
	remaining int
	phase     int
	done      bool
	pace      pacer
}

func NewToneSource(rate, channels int, frequency, amplitude float64, pattern []ToneStep, repeat, realtime bool) *ToneSource {
	if channels <= 0 {
		channels = 1
	}
	s := &ToneSource{
		rate:      rate,
		channels:  channels,
		frequency: frequency,
		amplitude: amplitude,
		pattern:   pattern,
		repeat:    repeat,
		realtime:  realtime,
	}
	if len(pattern) == 0 {
		s.done = true
	} else {
		s.remaining = audio.SamplesFor(pattern[0].Seconds, rate)
	}
	return s
}

func (s *ToneSource) Device(_ context.Context) (Device, error) {
	return Device{Name: "tone", Channels: s.channels, SampleRate: s.rate}, nil
}

func (s *ToneSource) Read(ctx context.Context, frames int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mono := s.synthesize(frames)
	if len(mono) == 0 {
		return nil, io.EOF
	}
	if s.realtime {
		if err := s.pace.wait(ctx, len(mono), s.rate); err != nil {
			return nil, err
		}
	}
	return audio.EncodeFloat32LE(mono, s.channels), nil
}

func (s *ToneSource) synthesize(frames int) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	mono := make([]float32, 0, frames)
	for len(mono) < frames && !s.done {
		if s.remaining == 0 {
			s.advance()
			continue
		}
		if s.pattern[s.step].Loud {
			t := float64(s.phase) / float64(s.rate)
			mono = append(mono, float32(s.amplitude*math.Sin(2*math.Pi*s.frequency*t)))
		} else {
			mono = append(mono, 0)
		}
		s.phase++
		s.remaining--
	}
	return mono
}

func (s *ToneSource) advance() {
	s.step++
	if s.step >= len(s.pattern) {
		if !s.repeat {
			s.done = true
			return
		}
		s.step = 0
	}
	s.remaining = audio.SamplesFor(s.pattern[s.step].Seconds, s.rate)
}

func (s *ToneSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	return nil
}
