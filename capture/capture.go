// Package capture runs a packet capture process next to the sampler.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/apex/log"

	"github.com/m-lab/sstrace/logging"
	"github.com/m-lab/sstrace/metrics"
)

// Config describes a tcpdump invocation.
type Config struct {
	Binary    string
	Interface string
	// Port restricts the capture to TCP traffic on this port. Zero captures
	// everything.
	Port       int
	Output     string
	Owner      string
	FileSizeMB int
}

// Args returns the tcpdump arguments for c.
func (c Config) Args() []string {
	args := []string{"-i", c.Interface, "-w", c.Output}
	if c.FileSizeMB > 0 {
		args = append(args, "-C", strconv.Itoa(c.FileSizeMB))
	}
	if c.Owner != "" {
		args = append(args, "-Z", c.Owner)
	}
	if c.Port > 0 {
		args = append(args, "tcp", "port", strconv.Itoa(c.Port))
	}
	return args
}

// Capture is a running capture process.
type Capture struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
	stop sync.Once
}

// killDelay is how long a process may take to exit after SIGTERM when ctx
// is cancelled.
const killDelay = 5 * time.Second

// Start spawns the capture process. Cancelling ctx sends SIGTERM, followed by
// SIGKILL after killDelay.
func Start(ctx context.Context, c Config) (*Capture, error) {
	return start(ctx, c.Binary, c.Args()...)
}

func start(ctx context.Context, binary string, args ...string) (*Capture, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killDelay
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	logging.Logger.WithFields(log.Fields{
		"pid":  cmd.Process.Pid,
		"args": args,
	}).Info("capture: start")
	metrics.CaptureRunning.Inc()
	c := &Capture{cmd: cmd, done: make(chan struct{})}
	go func() {
		c.err = cmd.Wait()
		metrics.CaptureRunning.Dec()
		logging.Logger.WithError(c.err).Info("capture: exit")
		close(c.done)
	}()
	return c, nil
}

// Done is closed when the process has exited.
func (c *Capture) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the process exits and returns its exit status.
func (c *Capture) Wait() error {
	<-c.Done()
	return c.err
}

// Run blocks until ctx is cancelled or the process exits. An exit before
// cancellation is an error, since the capture would be incomplete.
func (c *Capture) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-c.Done():
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("capture: process exited early: %v", c.err)
	}
}

// Stop sends SIGTERM and waits for the process to exit. When ctx expires
// first, the process is killed. Calling Stop more than once is safe. A
// process stopped by the signal is not reported as an error.
func (c *Capture) Stop(ctx context.Context) error {
	c.stop.Do(func() {
		select {
		case <-c.done:
			return
		default:
		}
		if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logging.Logger.WithError(err).Warn("capture: SIGTERM failed")
		}
		select {
		case <-c.done:
		case <-ctx.Done():
			logging.Logger.Warn("capture: killing process")
			c.cmd.Process.Kill()
			<-c.done
		}
	})
	<-c.done
	var exit *exec.ExitError
	if errors.As(c.err, &exit) {
		if ws, ok := exit.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return nil
		}
	}
	return c.err
}
