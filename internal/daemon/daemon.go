package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"workerhub/internal/config"
	"workerhub/internal/hub"
	"workerhub/internal/logging"
)

// ErrAlreadyRunning is returned when another daemon holds the state directory lock.
var ErrAlreadyRunning = errors.New("another workerhub daemon instance is already running")

// stopTimeout bounds worker shutdown during Stop.
const stopTimeout = 10 * time.Second

// Daemon owns the hub for the lifetime of the process.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	hub    *hub.Hub

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	started time.Time
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running    bool       `json:"running"`
	PID        int        `json:"pid"`
	Started    time.Time  `json:"started"`
	LockPath   string     `json:"lockPath"`
	SocketPath string     `json:"socketPath"`
	Hub        hub.Status `json:"hub"`
}

// New constructs a daemon around h.
func New(cfg *config.Config, h *hub.Hub, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || h == nil {
		return nil, errors.New("daemon requires config and hub")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		hub:      h,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Hub returns the daemon's hub.
func (d *Daemon) Hub() *hub.Hub {
	return d.hub
}

// Start acquires the daemon lock, starts autostart workers and the session reaper.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.started = time.Now()
	d.running.Store(true)

	if kinds := d.cfg.Workers.Autostart; len(kinds) > 0 {
		if err := d.hub.StartAll(runCtx, kinds...); err != nil {
			logging.WarnWithContext(d.logger, "autostart incomplete", "autostart_failed",
				logging.Error(err),
				logging.String("kinds", strings.Join(kinds, ",")),
				logging.String(logging.FieldImpact, "some workers must be started manually"),
				logging.String(logging.FieldErrorHint, "run workerhub worker start <kind> and check the logs"),
			)
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.reapLoop(runCtx)
	}()

	d.logger.Info("workerhub daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Int("autostart", len(d.cfg.Workers.Autostart)),
	)
	return nil
}

// Stop stops every worker, closes sessions and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := d.hub.Close(ctx); err != nil {
		logging.WarnWithContext(d.logger, "workers did not stop cleanly", "daemon_stop_incomplete",
			logging.Error(err),
			logging.String(logging.FieldImpact, "some workers were killed"),
		)
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_lock_release_failed"),
			logging.String(logging.FieldImpact, "next daemon start may report a running instance"),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("workerhub daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Running reports whether the daemon holds its lock.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:    d.running.Load(),
		PID:        os.Getpid(),
		Started:    d.started,
		LockPath:   d.lockPath,
		SocketPath: d.cfg.Paths.SocketPath,
		Hub:        d.hub.Status(),
	}
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.hub.Notifier().TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// reapLoop closes idle sessions until ctx ends.
func (d *Daemon) reapLoop(ctx context.Context) {
	interval := d.cfg.SessionReapInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := d.hub.Reap(now); n > 0 {
				d.logger.Debug("reaped idle sessions", logging.Int("count", n))
			}
		}
	}
}
