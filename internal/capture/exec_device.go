package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/mattn/go-shellwords"
)

// ExecDevice records by running an external command that writes raw
// little-endian float32 frames to stdout, arecord by default.
type ExecDevice struct {
	args []string
}

func NewExecDevice(command string) (*ExecDevice, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse audio command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("audio command is empty")
	}
	return &ExecDevice{args: args}, nil
}

func (d *ExecDevice) Name() string { return "exec:" + d.args[0] }

func (d *ExecDevice) Open(format Format, cb Callbacks) (Stream, error) {
	if _, err := exec.LookPath(d.args[0]); err != nil {
		return nil, err
	}
	return &execStream{args: d.args, format: format, cb: cb}, nil
}

type execStream struct {
	args   []string
	format Format
	cb     Callbacks

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// Start spawns the recorder process. Each Start gets a fresh process.
func (s *execStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return nil
	}
	cmd := exec.Command(s.args[0], s.args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	s.cmd = cmd
	s.done = make(chan struct{})
	go s.read(cmd, stdout, s.done)
	return nil
}

func (s *execStream) read(cmd *exec.Cmd, stdout io.Reader, done chan struct{}) {
	defer close(done)
	frame := s.format.BlockSize * s.format.Channels * audio.BytesPerSample
	if frame <= 0 {
		frame = 1024 * audio.BytesPerSample
	}
	reader := bufio.NewReaderSize(stdout, frame*4)
	buf := make([]byte, frame)
	for {
		_, err := io.ReadFull(reader, buf)
		if err != nil {
			waitErr := cmd.Wait()
			if s.stopped(cmd) {
				return
			}
			if waitErr != nil {
				err = waitErr
			}
			if s.cb.OnError != nil {
				s.cb.OnError(fmt.Errorf("recorder exited: %w", err))
			}
			return
		}
		if s.cb.OnBlock != nil {
			s.cb.OnBlock(audio.Float32FromLE(buf))
		}
	}
}

// stopped reports whether cmd was terminated through Stop.
func (s *execStream) stopped(cmd *exec.Cmd) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != cmd
}

func (s *execStream) Stop() error {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.cmd = nil
	s.mu.Unlock()
	if cmd == nil {
		return nil
	}
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-done
	return nil
}

func (s *execStream) Close() error { return s.Stop() }
