// Package lifecycle ties the sampler and its helper processes to a single
// cancellation context, and guarantees that helper processes are stopped
// and the log is closed on every exit path.
package lifecycle

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"

	"github.com/m-lab/go/memoryless"
	"github.com/m-lab/sstrace/logging"
	"github.com/m-lab/sstrace/metrics"
)

// DefaultStopTimeout bounds how long Shutdown waits for tracked processes.
const DefaultStopTimeout = 10 * time.Second

// Stopper is a spawned process that must be stopped at shutdown.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Task is one concurrently running unit of work. A task should return nil
// when ctx is cancelled.
type Task func(ctx context.Context) error

// Manager owns the run context.
type Manager struct {
	// StopTimeout bounds the time given to tracked processes to exit.
	StopTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	sigs   chan os.Signal

	mu       sync.Mutex
	stoppers []Stopper
	closers  []io.Closer

	once        sync.Once
	shutdownErr error
}

// New returns a Manager whose context is cancelled by SIGINT, SIGTERM, the
// cancellation of parent, the end of Run, or Shutdown.
func New(parent context.Context) *Manager {
	ctx, cancel := context.WithCancel(parent)
	m := &Manager{
		StopTimeout: DefaultStopTimeout,
		ctx:         ctx,
		cancel:      cancel,
		sigs:        make(chan os.Signal, 1),
	}
	signal.Notify(m.sigs, syscall.SIGINT, syscall.SIGTERM)
	go m.awaitSignal()
	return m
}

func (m *Manager) awaitSignal() {
	select {
	case sig := <-m.sigs:
		logging.Logger.WithField("signal", sig.String()).Info("lifecycle: signal received")
		m.cancel()
	case <-m.ctx.Done():
	}
}

// Context returns the run context.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Track registers a process to stop at shutdown.
func (m *Manager) Track(s Stopper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stoppers = append(m.stoppers, s)
}

// OnClose registers a resource to close at shutdown, after every tracked
// process has stopped. Closers run in reverse registration order.
func (m *Manager) OnClose(c io.Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, c)
}

// Run runs all tasks concurrently. The first task to return, successfully
// or not, cancels the context of the others. Run waits for every task,
// then calls Shutdown, and returns the first task error, or else the
// Shutdown error.
func (m *Manager) Run(tasks ...Task) error {
	g, ctx := errgroup.WithContext(m.ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			defer m.cancel()
			return task(ctx)
		})
	}
	err := g.Wait()
	if serr := m.Shutdown(); err == nil {
		err = serr
	}
	return err
}

// Shutdown cancels the context, stops every tracked process and closes
// every registered resource. Only the first call does the work; all calls
// return its result.
func (m *Manager) Shutdown() error {
	m.once.Do(func() {
		m.cancel()
		signal.Stop(m.sigs)
		m.mu.Lock()
		stoppers := m.stoppers
		closers := m.closers
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.StopTimeout)
		defer cancel()
		var wg sync.WaitGroup
		errs := make([]error, len(stoppers)+len(closers))
		for i, s := range stoppers {
			wg.Add(1)
			go func(i int, s Stopper) {
				defer wg.Done()
				errs[i] = s.Stop(ctx)
			}(i, s)
		}
		wg.Wait()
		for i := len(closers) - 1; i >= 0; i-- {
			errs[len(stoppers)+i] = closers[i].Close()
		}
		m.shutdownErr = errors.Join(errs...)
		if m.shutdownErr != nil {
			logging.Logger.WithError(m.shutdownErr).Warn("lifecycle: unclean shutdown")
		}
	})
	return m.shutdownErr
}

// TerminationSource reports whether an operator asked a run to stop.
type TerminationSource interface {
	GetTerminationFlag(ctx context.Context, runID string) (int, error)
}

// WatchTermination returns a Task that polls src at memoryless intervals
// and returns once the flag for runID is 1. Lookup errors are logged and
// retried.
func WatchTermination(src TerminationSource, runID string, c memoryless.Config) Task {
	return func(ctx context.Context) error {
		ticker, err := memoryless.NewTicker(ctx, c)
		if err != nil {
			return err
		}
		defer ticker.Stop()
		logger := logging.Logger.WithFields(log.Fields{"run_id": runID})
		for range ticker.C {
			flag, err := src.GetTerminationFlag(ctx, runID)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				metrics.TerminationChecks.WithLabelValues("error").Inc()
				logger.WithError(err).Warn("lifecycle: termination flag lookup failed")
				continue
			}
			if flag == 1 {
				metrics.TerminationChecks.WithLabelValues("terminate").Inc()
				logger.Info("lifecycle: termination requested")
				return nil
			}
			metrics.TerminationChecks.WithLabelValues("continue").Inc()
		}
		return nil
	}
}
