package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-caption/internal/audio"
	"github.com/loqalabs/loqa-caption/internal/bus"
	"github.com/loqalabs/loqa-caption/internal/config"
)

// Device describes a capture endpoint.
type Device struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Channels    int    `json:"channels,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// Source is a raw capture endpoint. Read blocks until frames sample frames
// of interleaved little-endian float32 PCM are available. It returns io.EOF
// when the source is exhausted; any other error is fatal to the reader.
type Source interface {
	Device(ctx context.Context) (Device, error)
	Read(ctx context.Context, frames int) ([]byte, error)
	Close() error
}

// Open builds the source selected by cfg.Source. busClient is only used by
// the bus source and may be nil otherwise.
func Open(cfg config.CaptureConfig, busClient *bus.Client, logger *slog.Logger) (Source, error) {
	var (
		src Source
		err error
	)
	switch cfg.Source {
	case "ffmpeg":
		src, err = NewFFmpegSource(cfg, logger)
	case "wav":
		src, err = OpenWAVSource(cfg.File, cfg.Loop, cfg.Realtime)
	case "tone":
		src = NewToneSource(cfg.SampleRate, cfg.Channels, cfg.ToneFrequency, cfg.ToneAmplitude, DefaultTonePattern, true, cfg.Realtime)
	case "bus":
		if busClient == nil {
			return nil, fmt.Errorf("bus source requires a bus connection")
		}
		src, err = NewBusSource(busClient, cfg)
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Source)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// FrameReader slices a Source into fixed-duration mono frames.
type FrameReader struct {
	src    Source
	device Device
	frames int
}

func NewFrameReader(ctx context.Context, src Source, chunkSeconds float64) (*FrameReader, error) {
	device, err := src.Device(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover capture device: %w", err)
	}
	if device.Channels <= 0 || device.SampleRate <= 0 {
		return nil, fmt.Errorf("capture device %q reports invalid format %d ch @ %d Hz", device.Name, device.Channels, device.SampleRate)
	}
	frames := audio.SamplesFor(chunkSeconds, device.SampleRate)
	if frames <= 0 {
		return nil, fmt.Errorf("chunk of %.3fs is empty at %d Hz", chunkSeconds, device.SampleRate)
	}
	return &FrameReader{src: src, device: device, frames: frames}, nil
}

func (r *FrameReader) Device() Device { return r.device }

// Next reads one frame and keeps channel 0.
func (r *FrameReader) Next(ctx context.Context) (audio.Frame, error) {
	raw, err := r.src.Read(ctx, r.frames)
	if err != nil {
		return audio.Frame{}, err
	}
	samples, err := audio.DecodeFloat32LE(raw, r.device.Channels)
	if err != nil {
		return audio.Frame{}, err
	}
	return audio.Frame{Samples: samples, SampleRate: r.device.SampleRate}, nil
}

// pacer holds generated audio back to wall-clock speed.
type pacer struct {
	start    time.Time
	produced time.Duration
}

func (p *pacer) wait(ctx context.Context, frames, rate int) error {
	if p.start.IsZero() {
		p.start = time.Now()
	}
	p.produced += time.Duration(frames) * time.Second / time.Duration(rate)
	delay := time.Until(p.start.Add(p.produced))
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
