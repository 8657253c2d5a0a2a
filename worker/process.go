package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Process runs the backend as a child process whose stdout and stderr are appended to the
// log file watched by the LogMonitor.
type Process struct {
	args    []string
	workDir string
	logFile string
	grace   time.Duration
}

// NewProcess prepares a backend launcher. args[0] is the executable.
func NewProcess(args []string, workDir, logFile string, grace time.Duration) *Process {
	return &Process{args: args, workDir: workDir, logFile: logFile, grace: grace}
}

// Run starts the backend and blocks until it exits. When ctx is cancelled the backend gets
// SIGTERM and, if still alive after the grace period, SIGKILL. A nil return means the process
// exited cleanly or was stopped through ctx.
func (p *Process) Run(ctx context.Context) error {
	if len(p.args) == 0 {
		return fmt.Errorf("backend command is empty")
	}
	out, err := p.openLog()
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	cmd := exec.CommandContext(ctx, p.args[0], p.args[1:]...)
	cmd.Dir = p.workDir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = p.grace

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting backend %q: %w", p.args[0], err)
	}
	log := logrus.WithFields(logrus.Fields{"pid": cmd.Process.Pid, "command": p.args[0]})
	log.Info("backend process started")

	err = cmd.Wait()
	if ctx.Err() != nil {
		log.Info("backend process stopped")
		return nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.WithField("exit_code", exitErr.ExitCode()).Error("backend process exited unexpectedly")
		}
		return fmt.Errorf("backend process: %w", err)
	}
	log.Warn("backend process exited")
	return nil
}

func (p *Process) openLog() (*os.File, error) {
	if dir := filepath.Dir(p.logFile); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
	}
	f, err := os.OpenFile(p.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening backend log file: %w", err)
	}
	return f, nil
}
