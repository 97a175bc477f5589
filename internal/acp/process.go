package acp

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/armatrix/opencode-agent-sdk-go/types"
)

// BinaryName is the executable looked up on $PATH.
const BinaryName = "opencode"

// closeGrace is how long Close waits at each shutdown step.
const closeGrace = 2 * time.Second

// stderrTail bounds the stderr kept for error reports.
const stderrTail = 4096

// fallbackDirs are searched when the binary is not on $PATH. Entries
// starting with "~" are relative to the home directory.
var fallbackDirs = []string{
	"~/.local/bin",
	"~/.bun/bin",
	"/usr/local/bin",
}

// FindBinary resolves the opencode executable: explicit when set, then
// $PATH, then the usual install locations.
func FindBinary(explicit string) (string, error) {
	if explicit != "" {
		if isExecutable(explicit) {
			return explicit, nil
		}
		if p, err := exec.LookPath(explicit); err == nil {
			return p, nil
		}
		return "", &types.ProcessError{
			Message:  "opencode binary not found at " + explicit,
			ExitCode: types.ExitNotFound,
		}
	}
	if p, err := exec.LookPath(BinaryName); err == nil {
		return p, nil
	}
	home, _ := os.UserHomeDir()
	for _, dir := range fallbackDirs {
		if strings.HasPrefix(dir, "~") {
			if home == "" {
				continue
			}
			dir = filepath.Join(home, dir[1:])
		}
		if p := filepath.Join(dir, BinaryName); isExecutable(p) {
			return p, nil
		}
	}
	return "", &types.ProcessError{
		Message:  "could not find 'opencode' binary; install it with: bun install -g opencode-ai",
		ExitCode: types.ExitNotFound,
	}
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir() && fi.Mode()&0o111 != 0
}

// process is a running `opencode acp` subprocess.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *stderrLog

	waitOnce sync.Once
	waitErr  error
	exited   chan struct{}
}

// spawn starts `<bin> acp --cwd <cwd>`. The process outlives the caller's
// context; it is stopped by close.
func spawn(bin, cwd string, env map[string]string, logger *slog.Logger) (*process, error) {
	cmd := exec.Command(bin, "acp", "--cwd", cwd)
	cmd.Dir = cwd
	// Children of the agent may keep stderr open after it exits.
	cmd.WaitDelay = closeGrace
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	p := &process{
		cmd:    cmd,
		stderr: &stderrLog{logger: logger},
		exited: make(chan struct{}),
	}
	cmd.Stderr = p.stderr

	var err error
	if p.stdin, err = cmd.StdinPipe(); err != nil {
		return nil, &types.ProcessError{Message: "stdin pipe", ExitCode: types.ExitGeneric, Cause: err}
	}
	if p.stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, &types.ProcessError{Message: "stdout pipe", ExitCode: types.ExitGeneric, Cause: err}
	}
	logger.Debug("spawning agent", "binary", bin, "cwd", cwd)
	if err := cmd.Start(); err != nil {
		code := types.ExitGeneric
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			code = types.ExitNotFound
		}
		return nil, &types.ProcessError{Message: "start " + bin + ": " + err.Error(), ExitCode: code, Cause: err}
	}
	return p, nil
}

// wait reaps the process once and reports a non-zero exit as a
// ProcessError.
func (p *process) wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.waitErr = &types.ProcessError{
				Message:  "opencode acp exited",
				ExitCode: exitErr.ExitCode(),
				Stderr:   p.stderr.Tail(),
				Cause:    err,
			}
		}
		close(p.exited)
	})
	return p.waitErr
}

// close closes stdin, asks the process to terminate and waits for it,
// killing it when it does not exit in time.
func (p *process) close() error {
	_ = p.stdin.Close()
	go p.wait()

	select {
	case <-p.exited:
		return p.waitErr
	case <-time.After(closeGrace):
	}
	return p.terminate()
}

// terminate sends SIGTERM and reaps the process, killing it when it does
// not exit in time.
func (p *process) terminate() error {
	go p.wait()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-p.exited:
		return nil
	case <-time.After(closeGrace):
	}
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	<-p.exited
	return nil
}

// stderrLog forwards the agent's stderr to the logger line by line and
// keeps the tail for error reports.
type stderrLog struct {
	logger *slog.Logger

	mu   sync.Mutex
	line []byte
	tail []byte
}

func (s *stderrLog) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tail = append(s.tail, b...)
	if len(s.tail) > stderrTail {
		s.tail = s.tail[len(s.tail)-stderrTail:]
	}
	s.line = append(s.line, b...)
	for {
		i := bytes.IndexByte(s.line, '\n')
		if i < 0 {
			break
		}
		if text := strings.TrimSpace(string(s.line[:i])); text != "" {
			s.logger.Debug("agent stderr", "line", text)
		}
		s.line = s.line[i+1:]
	}
	return len(b), nil
}

// Tail returns the last stderr output.
func (s *stderrLog) Tail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(string(s.tail))
}
