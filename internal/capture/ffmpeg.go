package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-caption/internal/audio"
	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/mattn/go-shellwords"
)

const ffmpegStopGrace = 1200 * time.Millisecond

// FFmpegSource captures system audio through an ffmpeg child process that
// writes raw float32 PCM to stdout. With the pulse input format and a
// ".monitor" device this is a loopback of what the speakers play.
type FFmpegSource struct {
	cfg    config.CaptureConfig
	cmd    []string
	logger *slog.Logger

	mu      sync.Mutex
	proc    *exec.Cmd
	stdout  io.ReadCloser
	stderr  bytes.Buffer
	waitErr chan error
	closed  bool
}

func NewFFmpegSource(cfg config.CaptureConfig, logger *slog.Logger) (*FFmpegSource, error) {
	command := cfg.Command
	if strings.TrimSpace(command) == "" {
		command = "ffmpeg"
	}
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("capture command is empty")
	}
	return &FFmpegSource{
		cfg:    cfg,
		cmd:    args,
		logger: logger.With(slog.String("component", "ffmpeg-capture")),
	}, nil
}

func (s *FFmpegSource) Device(_ context.Context) (Device, error) {
	return Device{Name: s.cfg.Format + ":" + s.cfg.Device, Channels: s.cfg.Channels, SampleRate: s.cfg.SampleRate}, nil
}

// Args returns the full ffmpeg argument list (without the binary).
func (s *FFmpegSource) Args() []string {
	args := append([]string{}, s.cmd[1:]...)
	return append(args,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", s.cfg.Format,
		"-i", s.cfg.Device,
		"-ac", strconv.Itoa(s.cfg.Channels),
		"-ar", strconv.Itoa(s.cfg.SampleRate),
		"-f", "f32le",
		"-",
	)
}

func (s *FFmpegSource) Read(ctx context.Context, frames int) ([]byte, error) {
	stdout, err := s.start(ctx)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, audio.FrameBytes(frames, s.cfg.Channels))
	if _, err := io.ReadFull(stdout, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		if errors.Is(err, io.EOF) {
			if waitErr := s.exitError(); waitErr != nil {
				return nil, waitErr
			}
		}
		return nil, err
	}
	return buf, nil
}

func (s *FFmpegSource) start(ctx context.Context) (io.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, io.EOF
	}
	if s.stdout != nil {
		return s.stdout, nil
	}

	cmd := exec.CommandContext(ctx, s.cmd[0], s.Args()...)
	cmd.Stderr = &s.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	s.proc = cmd
	s.stdout = stdout
	s.waitErr = make(chan error, 1)
	go func() {
		s.waitErr <- cmd.Wait()
		close(s.waitErr)
	}()
	s.logger.Info("capture started",
		slog.String("device", s.cfg.Device),
		slog.Int("sample_rate", s.cfg.SampleRate),
		slog.Int("channels", s.cfg.Channels))
	return stdout, nil
}

// exitError reports why the child exited early, if it failed.
func (s *FFmpegSource) exitError() error {
	s.mu.Lock()
	waitErr := s.waitErr
	s.mu.Unlock()
	if waitErr == nil {
		return nil
	}
	select {
	case err, ok := <-waitErr:
		if ok && err != nil {
			return fmt.Errorf("ffmpeg exited: %w: %s", err, strings.TrimSpace(s.stderr.String()))
		}
	case <-time.After(ffmpegStopGrace):
	}
	return nil
}

// Close interrupts ffmpeg and kills it if it does not exit in time.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	proc, waitErr := s.proc, s.waitErr
	s.mu.Unlock()

	if proc == nil || proc.Process == nil {
		return nil
	}
	_ = proc.Process.Signal(os.Interrupt)
	select {
	case <-waitErr:
	case <-time.After(ffmpegStopGrace):
		_ = proc.Process.Kill()
		<-waitErr
	}
	return nil
}

// ListFFmpegSources asks ffmpeg which input devices the configured format
// offers. Monitor sources of the output device are what system-audio
// capture needs.
func ListFFmpegSources(ctx context.Context, cfg config.CaptureConfig) ([]Device, error) {
	src, err := NewFFmpegSource(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		return nil, err
	}
	args := append(append([]string{}, src.cmd[1:]...), "-hide_banner", "-sources", cfg.Format)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, src.cmd[0], args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("list %s sources: %w: %s", cfg.Format, err, strings.TrimSpace(stderr.String()))
	}
	return parseSources(string(out)), nil
}

// parseSources reads the listing printed by "ffmpeg -sources":
//
//	Auto-detected sources for pulse:
//	* alsa_output.pci.analog-stereo.monitor [Monitor of Built-in Audio]
//	  alsa_input.pci.analog-stereo [Built-in Audio]
func parseSources(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		if line == "" || !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "*") {
			continue
		}
		line = strings.TrimSpace(line)
		dev := Device{}
		if rest, ok := strings.CutPrefix(line, "*"); ok {
			dev.Default = true
			line = strings.TrimSpace(rest)
		}
		name, desc, _ := strings.Cut(line, " ")
		if name == "" {
			continue
		}
		dev.Name = name
		dev.Description = strings.Trim(strings.TrimSpace(desc), "[]")
		devices = append(devices, dev)
	}
	return devices
}
