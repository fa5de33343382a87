package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/loqalabs/loqa-caption/internal/audio"
	"github.com/loqalabs/loqa-caption/internal/bus"
	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/protocol"
	"github.com/nats-io/nats.go"
)

const busSourceBuffer = 256

// BusSource receives audio frames that a remote capture node publishes on
// audio.frame.<session>. The stream ends when a frame marked Final arrives.
type BusSource struct {
	device  Device
	sub     *nats.Subscription
	msgs    chan *nats.Msg
	log     *slog.Logger
	pending []byte
	final   bool
}

func NewBusSource(client *bus.Client, cfg config.CaptureConfig) (*BusSource, error) {
	msgs := make(chan *nats.Msg, busSourceBuffer)
	subject := protocol.AudioFrameSubject(cfg.BusSession)
	sub, err := client.Conn().ChanSubscribe(subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return &BusSource{
		device: Device{Name: subject, Channels: cfg.Channels, SampleRate: cfg.SampleRate},
		sub:    sub,
		msgs:   msgs,
		log:    client.Logger().With(slog.String("component", "bus-capture")),
	}, nil
}

func (s *BusSource) Device(_ context.Context) (Device, error) {
	return s.device, nil
}

func (s *BusSource) Read(ctx context.Context, frames int) ([]byte, error) {
	want := audio.FrameBytes(frames, s.device.Channels)
	for len(s.pending) < want && !s.final {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-s.msgs:
			if !ok {
				s.final = true
				break
			}
			s.accept(msg)
		}
	}
	if len(s.pending) >= want {
		out := s.pending[:want:want]
		s.pending = s.pending[want:]
		return out, nil
	}
	whole := len(s.pending) - len(s.pending)%audio.FrameBytes(1, s.device.Channels)
	if whole == 0 {
		return nil, io.EOF
	}
	out := s.pending[:whole]
	s.pending = nil
	return out, nil
}

func (s *BusSource) accept(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("dropping malformed audio frame", slog.String("error", err.Error()))
		return
	}
	if err := s.check(frame); err != nil {
		s.log.Warn("dropping audio frame", slog.Int("sequence", frame.Sequence), slog.String("error", err.Error()))
	} else {
		s.pending = append(s.pending, frame.PCM...)
	}
	if frame.Final {
		s.final = true
	}
}

func (s *BusSource) check(frame protocol.AudioFrame) error {
	if frame.Encoding != "" && frame.Encoding != protocol.EncodingFloat32LE {
		return fmt.Errorf("unsupported encoding %q", frame.Encoding)
	}
	if frame.SampleRate != s.device.SampleRate || frame.Channels != s.device.Channels {
		return fmt.Errorf("format %d ch @ %d Hz does not match %d ch @ %d Hz",
			frame.Channels, frame.SampleRate, s.device.Channels, s.device.SampleRate)
	}
	if len(frame.PCM)%audio.FrameBytes(1, frame.Channels) != 0 {
		return errors.New("pcm payload is not frame aligned")
	}
	return nil
}

func (s *BusSource) Close() error {
	return s.sub.Unsubscribe()
}
