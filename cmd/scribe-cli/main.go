package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/engine"
	"github.com/loqalabs/loqa-scribe/internal/runtime"
	"github.com/loqalabs/loqa-scribe/internal/transcribe"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'transcribe', 'validate' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "transcribe":
		var audioPath, configPath, language string
		cmd := flag.NewFlagSet("transcribe", flag.ExitOnError)
		cmd.StringVar(&audioPath, "file", "", "Path to a WAV or raw float32 file")
		cmd.StringVar(&configPath, "config", "", "Path to configuration file (defaults when empty)")
		cmd.StringVar(&language, "language", "", "Language code, overrides engine.language")
		cmd.Parse(os.Args[2:])
		if audioPath == "" {
			fmt.Fprintln(os.Stderr, "-file is required")
			os.Exit(2)
		}
		if err := runTranscribe(configPath, audioPath, language); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "validate":
		var configPath string
		cmd := flag.NewFlagSet("validate", flag.ExitOnError)
		cmd.StringVar(&configPath, "file", "scribe.yaml", "Path to configuration file")
		cmd.Parse(os.Args[2:])
		if _, err := config.Load(configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("config valid")
	case "version":
		fmt.Println(runtime.Version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runTranscribe(configPath, audioPath, language string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	provider := engine.NewProviderFromConfig(cfg.Engine, nil, logger)
	defer provider.Close()
	svc := transcribe.NewService(provider, cfg.Processing, cfg.Engine.Language, nil, logger)

	opts := svc.DefaultOptions()
	if language != "" {
		opts.Language = language
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := svc.Transcribe(ctx, data, opts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Transcript())
}
