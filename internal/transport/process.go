package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"workerhub/internal/logging"
	"workerhub/internal/protocol"
)

// ProcessOptions configures the child process transport.
type ProcessOptions struct {
	// Path is the executable to run. Empty means the current executable.
	Path string
	// Args precede the worker flags. Defaults to ["worker", "serve"].
	Args []string
	// Env is appended to the parent environment.
	Env   []string
	Codec Codec
}

// Process runs each worker as a child process speaking envelopes over stdio.
type Process struct {
	opts   ProcessOptions
	logger *slog.Logger
}

// NewProcess builds a process transport.
func NewProcess(opts ProcessOptions, logger *slog.Logger) (*Process, error) {
	if opts.Path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		opts.Path = exe
	}
	if opts.Args == nil {
		opts.Args = []string{"worker", "serve"}
	}
	if opts.Codec == nil {
		opts.Codec = jsonCodec{}
	}
	return &Process{opts: opts, logger: logging.NewComponentLogger(logger, "transport")}, nil
}

func (t *Process) Name() string { return "process" }

// Spawn starts the child process for kind and begins reading its output.
func (t *Process) Spawn(_ context.Context, kind string) (Conn, error) {
	args := append(append([]string(nil), t.opts.Args...), "--kind", kind, "--codec", t.opts.Codec.Name())
	cmd := exec.Command(t.opts.Path, args...)
	cmd.Env = append(os.Environ(), t.opts.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn %s: stdin pipe: %w", kind, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn %s: stdout pipe: %w", kind, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn %s: stderr pipe: %w", kind, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", kind, err)
	}

	logger := t.logger.With(logging.String(logging.FieldWorkerKind, kind), logging.Int("pid", cmd.Process.Pid))
	c := &processConn{
		cmd:        cmd,
		queue:      make(chan protocol.Envelope, inprocBuffer),
		writerDone: make(chan struct{}),
		out:        make(chan protocol.Envelope, inprocBuffer),
		exited:     make(chan struct{}),
		logger:     logger,
	}
	logger.Debug("worker process started", logging.String("codec", t.opts.Codec.Name()))
	go c.writeLoop(t.opts.Codec.NewEncoder(stdin), stdin)
	go c.readLoop(t.opts.Codec.NewDecoder(stdout), stdout, stderr)
	return c, nil
}

type processConn struct {
	cmd    *exec.Cmd
	logger *slog.Logger

	// queue feeds writeLoop, which owns stdin.
	queue      chan protocol.Envelope
	writerDone chan struct{}

	out    chan protocol.Envelope
	exited chan struct{}

	mu       sync.Mutex
	exit     Exit
	killed   bool
	writeErr error
}

// writeLoop encodes queued envelopes onto stdin until the write side fails
// or the process exits.
func (c *processConn) writeLoop(enc Encoder, stdin io.Closer) {
	defer close(c.writerDone)
	defer stdin.Close()
	for {
		select {
		case env := <-c.queue:
			if err := enc.Encode(env); err != nil {
				c.mu.Lock()
				c.writeErr = err
				c.mu.Unlock()
				c.logger.Debug("worker stdin closed", logging.Error(err))
				return
			}
		case <-c.exited:
			return
		}
	}
}

func (c *processConn) readLoop(dec Decoder, stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logStderr(stderr)
	}()

	var streamErr error
	for {
		var env protocol.Envelope
		if err := dec.Decode(&env); err != nil {
			if !errors.Is(err, io.EOF) {
				streamErr = err
				logging.WarnWithContext(c.logger, "worker output unreadable; terminating worker", "worker_stream_error",
					logging.Error(err),
					logging.String(logging.FieldImpact, "worker is stopped and reported as failed"),
					logging.String(logging.FieldErrorHint, "check codec settings match on both sides"),
				)
				_ = c.cmd.Process.Kill()
				_, _ = io.Copy(io.Discard, stdout)
			}
			break
		}
		c.out <- env
	}

	wg.Wait()
	waitErr := c.cmd.Wait()

	c.mu.Lock()
	code := 0
	if c.cmd.ProcessState != nil {
		code = c.cmd.ProcessState.ExitCode()
	}
	switch {
	case c.killed:
		c.exit = Exit{Code: code, Err: ErrKilled}
	case streamErr != nil:
		c.exit = Exit{Code: code, Err: streamErr}
	case waitErr != nil:
		c.exit = Exit{Code: code, Err: waitErr}
	default:
		c.exit = Exit{Code: code}
	}
	c.mu.Unlock()
	c.logger.Debug("worker process exited", logging.String("exit", c.exit.String()))

	close(c.exited)
	close(c.out)
}

// logStderr forwards the child's stderr lines, which carry its own logs.
func (c *processConn) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			c.logger.Info(line, logging.String("stream", "stderr"))
		}
	}
}

func (c *processConn) Send(ctx context.Context, env protocol.Envelope) error {
	select {
	case <-c.exited:
		return ErrClosed
	case <-c.writerDone:
		return c.writeClosed()
	default:
	}
	select {
	case c.queue <- env:
		return nil
	default:
	}
	select {
	case c.queue <- env:
		return nil
	case <-c.exited:
		return ErrClosed
	case <-c.writerDone:
		return c.writeClosed()
	case <-ctx.Done():
		return inboxFull(ctx)
	}
}

func (c *processConn) writeClosed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return fmt.Errorf("%w: %v", ErrClosed, c.writeErr)
	}
	return ErrClosed
}

func (c *processConn) Messages() <-chan protocol.Envelope { return c.out }

func (c *processConn) Wait() Exit {
	<-c.exited
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exit
}

func (c *processConn) Kill() error {
	c.mu.Lock()
	select {
	case <-c.exited:
		c.mu.Unlock()
		return nil
	default:
	}
	c.killed = true
	c.mu.Unlock()
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill worker: %w", err)
	}
	return nil
}
