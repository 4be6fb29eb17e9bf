package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/mattn/go-shellwords"
)

// execBackend hands each utterance to an external recognizer as a WAV file
// and reads {"text": ...} JSON from its stdout.
type execBackend struct {
	mu  sync.Mutex
	cmd []string
	cfg BackendConfig
}

type execResponse struct {
	Text    string `json:"text"`
	Version string `json:"version,omitempty"`
}

func newExecBackend(cfg BackendConfig) (Backend, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("engine command is empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("engine command %q: %w", args[0], err)
	}
	return &execBackend{cmd: args, cfg: cfg}, nil
}

func (b *execBackend) Infer(ctx context.Context, samples []float32, language string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	file, err := os.CreateTemp("", "scribe_utterance_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.EncodeWAV(file, samples, SampleRate); err != nil {
		return "", err
	}

	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	args := append([]string{}, b.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if b.cfg.ModelPath != "" {
		args = append(args, "--model", b.cfg.ModelPath)
	}
	if language != "" {
		args = append(args, "--language", language)
	}

	command := exec.CommandContext(ctx, b.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return "", fmt.Errorf("engine command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode engine response: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (b *execBackend) RuntimeVersion() string { return "exec:" + b.cmd[0] }

func (b *execBackend) Close() error { return nil }
