package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-caption/internal/audio"
)

// WAVSource replays a PCM WAV file as if it were a live device.
type WAVSource struct {
	path     string
	loop     bool
	realtime bool

	mu      sync.Mutex
	file    *os.File
	decoder *wav.Decoder
	device  Device
	pace    pacer
}

func OpenWAVSource(path string, loop, realtime bool) (*WAVSource, error) {
	s := &WAVSource{path: path, loop: loop, realtime: realtime}
	if err := s.rewind(); err != nil {
		return nil, err
	}
	s.device = Device{
		Name:       path,
		Channels:   int(s.decoder.NumChans),
		SampleRate: int(s.decoder.SampleRate),
	}
	return s, nil
}

func (s *WAVSource) rewind() error {
	if s.file != nil {
		_ = s.file.Close()
	}
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open wav: %w", err)
	}
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		f.Close()
		return fmt.Errorf("%s is not a valid wav file", s.path)
	}
	s.file = f
	s.decoder = d
	return nil
}

func (s *WAVSource) Device(_ context.Context) (Device, error) {
	return s.device, nil
}

func (s *WAVSource) Read(ctx context.Context, frames int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, err := s.decode(frames)
	if err != nil {
		return nil, err
	}
	channels := s.device.Channels
	if s.realtime {
		if err := s.pace.wait(ctx, len(values)/channels, s.device.SampleRate); err != nil {
			return nil, err
		}
	}
	return audio.EncodeFloat32LE(values, 1), nil
}

// decode holds mu; pacing in Read happens outside it.
func (s *WAVSource) decode(frames int) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decoder == nil {
		return nil, io.EOF
	}
	channels := s.device.Channels
	buf := &goaudio.IntBuffer{
		Data:   make([]int, frames*channels),
		Format: &goaudio.Format{NumChannels: channels, SampleRate: s.device.SampleRate},
	}
	n, err := s.decoder.PCMBuffer(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if n == 0 {
		if !s.loop {
			return nil, io.EOF
		}
		if err := s.rewind(); err != nil {
			return nil, err
		}
		if n, err = s.decoder.PCMBuffer(buf); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode wav: %w", err)
		}
		if n == 0 {
			return nil, io.EOF
		}
	}
	n -= n % channels

	bitDepth := int(s.decoder.BitDepth)
	values := make([]float32, n)
	for i := 0; i < n; i++ {
		values[i] = audio.IntToFloat(buf.Data[i], bitDepth)
	}
	return values, nil
}

func (s *WAVSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.decoder = nil
	return err
}
