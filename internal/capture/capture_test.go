package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-caption/internal/audio"
	"github.com/loqalabs/loqa-caption/internal/bus"
	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/natsserver"
	"github.com/loqalabs/loqa-caption/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readAll(t *testing.T, r *FrameReader) []audio.Frame {
	t.Helper()
	var frames []audio.Frame
	for {
		frame, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return frames
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		frames = append(frames, frame)
	}
}

func TestToneSourcePattern(t *testing.T) {
	src := NewToneSource(8000, 2, 440, 0.5, []ToneStep{
		{Seconds: 1, Loud: true},
		{Seconds: 1, Loud: false},
	}, false, false)

	reader, err := NewFrameReader(context.Background(), src, 0.5)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	if reader.Device().Channels != 2 || reader.Device().SampleRate != 8000 {
		t.Fatalf("unexpected device %+v", reader.Device())
	}

	frames := readAll(t, reader)
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(frames))
	}
	for i, frame := range frames {
		if len(frame.Samples) != 4000 || frame.SampleRate != 8000 {
			t.Fatalf("frame %d has %d samples @ %d", i, len(frame.Samples), frame.SampleRate)
		}
	}
	if audio.Volume(frames[0].Samples) < 0.1 || audio.Volume(frames[1].Samples) < 0.1 {
		t.Fatal("expected loud first second")
	}
	if audio.Volume(frames[2].Samples) != 0 || audio.Volume(frames[3].Samples) != 0 {
		t.Fatal("expected silent second second")
	}
}

func TestToneSourceRepeats(t *testing.T) {
	src := NewToneSource(1000, 1, 100, 0.5, []ToneStep{{Seconds: 0.1, Loud: true}}, true, false)
	for i := 0; i < 5; i++ {
		raw, err := src.Read(context.Background(), 100)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if len(raw) != audio.FrameBytes(100, 1) {
			t.Fatalf("short read %d", len(raw))
		}
	}
	src.Close()
	if _, err := src.Read(context.Background(), 100); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after close, got %v", err)
	}
}

func TestToneSourceRealtimeHonoursContext(t *testing.T) {
	src := NewToneSource(1000, 1, 100, 0.5, []ToneStep{{Seconds: 10, Loud: true}}, false, true)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := src.Read(ctx, 5000); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestWAVSourceReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	samples := make([]float32, 16000)
	for i := range samples[:8000] {
		samples[i] = 0.5
	}
	if err := audio.WriteWAVFile(path, samples, 16000); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	src, err := OpenWAVSource(path, false, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	reader, err := NewFrameReader(context.Background(), src, 0.25)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	frames := readAll(t, reader)
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(frames))
	}
	if v := audio.Volume(frames[0].Samples); v < 0.45 || v > 0.55 {
		t.Fatalf("expected ~0.5 volume, got %v", v)
	}
	if v := audio.Volume(frames[3].Samples); v != 0 {
		t.Fatalf("expected silent tail, got %v", v)
	}
}

func TestWAVSourceLoops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.wav")
	if err := audio.WriteWAVFile(path, make([]float32, 1000), 1000); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	src, err := OpenWAVSource(path, true, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()
	for i := 0; i < 4; i++ {
		if _, err := src.Read(context.Background(), 1000); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
}

// closeWhileReading drains src from another goroutine while Close runs.
func closeWhileReading(t *testing.T, src Source) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		for {
			if _, err := src.Read(context.Background(), 800); err != nil {
				done <- err
				return
			}
		}
	}()
	time.Sleep(5 * time.Millisecond)
	if err := src.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("expected EOF after close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop after close")
	}
}

func TestWAVSourceCloseWhileReading(t *testing.T) {
	path := filepath.Join(t.TempDir(), "race.wav")
	if err := audio.WriteWAVFile(path, make([]float32, 16000), 16000); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	src, err := OpenWAVSource(path, true, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	closeWhileReading(t, src)
}

func TestToneSourceCloseWhileReading(t *testing.T) {
	closeWhileReading(t, NewToneSource(16000, 1, 440, 0.5, DefaultTonePattern, true, false))
}

func TestOpenWAVSourceRejectsGarbage(t *testing.T) {
	if _, err := OpenWAVSource(filepath.Join(t.TempDir(), "missing.wav"), false, false); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFFmpegArgs(t *testing.T) {
	src, err := NewFFmpegSource(config.CaptureConfig{
		Command:    "/usr/bin/ffmpeg -thread_queue_size 512",
		Format:     "pulse",
		Device:     "default.monitor",
		SampleRate: 48000,
		Channels:   2,
	}, newLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := strings.Join(src.Args(), " ")
	want := "-thread_queue_size 512 -nostdin -hide_banner -loglevel warning -f pulse -i default.monitor -ac 2 -ar 48000 -f f32le -"
	if got != want {
		t.Fatalf("unexpected args\n got: %s\nwant: %s", got, want)
	}
	dev, _ := src.Device(context.Background())
	if dev.Channels != 2 || dev.SampleRate != 48000 {
		t.Fatalf("unexpected device %+v", dev)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("close before start: %v", err)
	}
}

func TestFFmpegRejectsBadCommand(t *testing.T) {
	if _, err := NewFFmpegSource(config.CaptureConfig{Command: `"unterminated`}, newLogger()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestOpenUnknownSource(t *testing.T) {
	if _, err := Open(config.CaptureConfig{Source: "alsa"}, nil, newLogger()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Open(config.CaptureConfig{Source: "bus"}, nil, newLogger()); err == nil {
		t.Fatal("expected error without bus")
	}
}

func TestBusSourceReceivesFrames(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Host: "127.0.0.1", Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	defer srv.Shutdown()
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	src, err := NewBusSource(client, config.CaptureConfig{BusSession: "room", SampleRate: 1000, Channels: 2})
	if err != nil {
		t.Fatalf("bus source: %v", err)
	}
	defer src.Close()
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	loud := make([]float32, 150)
	for i := range loud {
		loud[i] = 0.25
	}
	publish := func(seq, rate int, samples []float32, final bool) {
		t.Helper()
		err := client.PublishJSON(protocol.AudioFrameSubject("room"), protocol.AudioFrame{
			SessionID:  "room",
			Sequence:   seq,
			SampleRate: rate,
			Channels:   2,
			Encoding:   protocol.EncodingFloat32LE,
			PCM:        audio.EncodeFloat32LE(samples, 2),
			Final:      final,
		})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	publish(1, 1000, loud, false)
	publish(2, 44100, loud, false) // wrong rate, dropped
	publish(3, 1000, loud, true)

	reader, err := NewFrameReader(context.Background(), src, 0.1)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var total int
	for {
		frame, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if frame.Samples[0] != 0.25 {
			t.Fatalf("unexpected sample %v", frame.Samples[0])
		}
		total += len(frame.Samples)
	}
	if total != 300 {
		t.Fatalf("expected 300 samples, got %d", total)
	}
}

func TestParseSources(t *testing.T) {
	out := "Auto-detected sources for pulse:\n" +
		"* alsa_output.pci-0000_00_1f.3.analog-stereo.monitor [Monitor of Built-in Audio Analog Stereo]\n" +
		"  alsa_input.pci-0000_00_1f.3.analog-stereo [Built-in Audio Analog Stereo]\n"
	devices := parseSources(out)
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %+v", devices)
	}
	if !devices[0].Default || !strings.HasSuffix(devices[0].Name, ".monitor") {
		t.Fatalf("unexpected default device %+v", devices[0])
	}
	if devices[1].Default || devices[1].Description != "Built-in Audio Analog Stereo" {
		t.Fatalf("unexpected second device %+v", devices[1])
	}
}
