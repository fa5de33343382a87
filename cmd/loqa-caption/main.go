package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/loqalabs/loqa-caption/internal/capture"
	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/pipeline"
	"github.com/loqalabs/loqa-caption/internal/runtime"
	"github.com/loqalabs/loqa-caption/internal/session"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate', 'devices', 'replay' or 'version'")
		os.Exit(2)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "validate":
		err = runValidate(os.Args[2:])
	case "devices":
		err = runDevices(ctx, os.Args[2:])
	case "replay":
		err = runReplay(ctx, os.Args[2:], os.Stdout)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runValidate(args []string) error {
	flags := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := flags.String("config", "", "Path to configuration file")
	_ = flags.Parse(args)

	if _, err := config.Load(*configPath); err != nil {
		return err
	}
	fmt.Println("config valid")
	return nil
}

func runDevices(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("devices", flag.ExitOnError)
	configPath := flags.String("config", "", "Path to configuration file")
	_ = flags.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if cfg.Capture.Source == "ffmpeg" {
		devices, err := capture.ListFFmpegSources(ctx, cfg.Capture)
		if err != nil {
			return err
		}
		return enc.Encode(devices)
	}

	src, err := capture.Open(cfg.Capture, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	defer src.Close()
	device, err := src.Device(ctx)
	if err != nil {
		return err
	}
	return enc.Encode([]capture.Device{device})
}

// runReplay feeds a WAV file through the caption pipeline as fast as it can
// be processed and prints each committed utterance as a JSON line.
func runReplay(ctx context.Context, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := flags.String("config", "", "Path to configuration file")
	file := flags.String("file", "", "WAV file to caption")
	verbose := flags.Bool("v", false, "Log pipeline activity to stderr")
	_ = flags.Parse(args)

	if *file == "" {
		return errors.New("replay requires -file")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	cfg.Capture.Source = "wav"
	cfg.Capture.File = *file
	cfg.Capture.Loop = false
	cfg.Capture.Realtime = false

	logger := slog.New(slog.DiscardHandler)
	if *verbose {
		logger = runtime.NewLogger(os.Stderr, cfg.Telemetry)
	}

	src, err := capture.OpenWAVSource(cfg.Capture.File, false, false)
	if err != nil {
		return err
	}
	defer src.Close()

	store := session.NewStore()
	enc := json.NewEncoder(out)
	store.OnChange(func(change session.Change) {
		if change.Kind == session.ChangeCommit {
			_ = enc.Encode(change.Utterance)
		}
	})

	pipe, _, err := pipeline.Build(ctx, cfg, src, store, logger)
	if err != nil {
		return err
	}
	return pipe.Run(ctx)
}
