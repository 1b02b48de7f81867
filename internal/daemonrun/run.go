// Package daemonrun holds the process entry points shared by workerhubd and
// the workerhub CLI: the foreground daemon runtime and the worker child entry
// used by the process transport.
package daemonrun

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"workerhub/internal/config"
	"workerhub/internal/daemon"
	"workerhub/internal/hub"
	"workerhub/internal/ipc"
	"workerhub/internal/logging"
	"workerhub/internal/transport"
	"workerhub/internal/workers"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the workerhub daemon and blocks until SIGINT, SIGTERM or ctx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "workerhub.log")},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	h, err := hub.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create hub: %w", err)
	}

	d, err := daemon.New(cfg, h, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	logger.Info("workerhub daemon ready",
		logging.String(logging.FieldEventType, "daemon_ready"),
		logging.String("socket", cfg.Paths.SocketPath),
		logging.String("transport", cfg.Workers.Transport),
		logging.Int("pid", os.Getpid()),
	)

	<-signalCtx.Done()
	logger.Info("workerhub daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// RunWorker serves one worker kind over stdin and stdout until the parent
// closes stdin. Nothing else may write to stdout while it runs.
func RunWorker(ctx context.Context, kind, codecName string, stdin io.Reader, stdout io.Writer) error {
	codec, err := transport.NewCodec(codecName)
	if err != nil {
		return err
	}
	w, err := workers.Factory(kind)
	if err != nil {
		return err
	}
	return transport.Serve(ctx, w, codec, stdin, stdout)
}

// PIDPath returns the daemon pid file location.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, "workerhub.pid")
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
