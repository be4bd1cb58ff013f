package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// killGrace is how long Close waits after SIGTERM before escalating to
// SIGKILL, per spec.md §4.4's stdio close sequence.
const killGrace = time.Second

// StdioTransport spawns a child process with an argv vector — never a shell
// string, so a serverId or command can never be interpreted by a shell.
// Grounded on internal/transport/stdio.go's spawn shape, minus its
// wrapCommandInShell step: spec.md §4.4 requires argv-only spawning.
type StdioTransport struct {
	base

	command    string
	args       []string
	env        []string
	serverName string
	logger     *zap.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool
	exited chan struct{}
}

func NewStdio(command string, args, env []string, serverName string, logger *zap.Logger) *StdioTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioTransport{
		command:    command,
		args:       args,
		env:        env,
		serverName: serverName,
		logger:     logger.Named("transport.stdio").With(zap.String("server", serverName)),
	}
}

func (t *StdioTransport) Start(ctx context.Context) error {
	if t.command == "" {
		return newError(ConnectionFailed, "no command specified for stdio transport", nil)
	}

	cmd := exec.CommandContext(ctx, t.command, t.args...)
	cmd.Env = t.env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return newError(ConnectionFailed, "opening stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return newError(ConnectionFailed, "opening stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return newError(ConnectionFailed, "opening stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return mapSpawnError(err)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.exited = make(chan struct{})
	t.mu.Unlock()

	go t.readStdout(stdout)
	go t.readStderr(stderr)
	go t.waitForExit()

	return nil
}

func (t *StdioTransport) readStdout(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			t.logger.Warn("non-JSON line on stdout, treating as stderr-equivalent", zap.ByteString("line", line))
			continue
		}
		t.emitMessage(msg)
	}
}

func (t *StdioTransport) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		t.logger.Info(scanner.Text())
	}
}

func (t *StdioTransport) waitForExit() {
	t.mu.Lock()
	cmd := t.cmd
	exited := t.exited
	t.mu.Unlock()
	if cmd == nil {
		return
	}

	err := cmd.Wait()
	close(exited)

	t.mu.Lock()
	wasClosed := t.closed
	t.mu.Unlock()
	if wasClosed {
		t.emitClose()
		return
	}

	if err != nil {
		t.emitError(newError(ConnectionReset, fmt.Sprintf("child process for %q exited", t.serverName), err))
	}
	t.emitClose()
}

func (t *StdioTransport) Send(_ context.Context, msg Message, opts *SendOpts) error {
	if msg.Jsonrpc == "" {
		msg.Jsonrpc = "2.0"
	}
	if opts != nil && opts.ID != nil && msg.ID == nil {
		msg.ID = opts.ID
	}

	t.mu.Lock()
	stdin := t.stdin
	closed := t.closed
	t.mu.Unlock()

	if closed || stdin == nil {
		return newError(TransportClosed, "stdio transport is closed", nil)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return newError(ConnectionFailed, "marshaling outgoing message", err)
	}
	if _, err := stdin.Write(append(raw, '\n')); err != nil {
		return newError(ConnectionReset, "writing to child stdin", err)
	}
	return nil
}

func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cmd := t.cmd
	exited := t.exited
	t.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-exited:
	case <-time.After(killGrace):
		_ = cmd.Process.Kill()
		if exited != nil {
			<-exited
		}
	}
	return nil
}

func (t *StdioTransport) SetProtocolVersion(string) {}

func mapSpawnError(err error) *Error {
	switch {
	case errors.Is(err, os.ErrNotExist) || errors.Is(err, exec.ErrNotFound):
		return newError(ConnectionFailed, "command not found", err)
	case errors.Is(err, os.ErrPermission):
		return newError(ConnectionFailed, "permission denied", err)
	case errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE):
		return newError(ServiceUnavailable, "too many open files", err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ConnectionTimeout, "spawn timed out", err)
	default:
		return newError(ConnectionFailed, "failed to start child process", err)
	}
}
