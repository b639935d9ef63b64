// Package query runs the socket statistics tool for a filter predicate and
// returns its raw output.
package query

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/m-lab/sstrace/filter"
	"github.com/m-lab/sstrace/metrics"
	pipe "gopkg.in/m-lab/pipe.v3"
)

// DefaultArgs are passed to ss before the filter: TCP sockets, internal TCP
// information, numeric addresses, timers and no header line.
var DefaultArgs = []string{"-t", "-i", "-n", "-o", "-H"}

// Executor returns the raw statistics text for all connections matching a
// predicate. Empty output means that nothing matched.
type Executor interface {
	Query(ctx context.Context, p filter.Predicate) (string, error)
}

// Kind classifies execution failures.
type Kind string

// Execution failure kinds.
const (
	KindMissing  = Kind("missing")
	KindExit     = Kind("exit")
	KindTimeout  = Kind("timeout")
	KindCanceled = Kind("canceled")
)

// ExecutionError is returned when ss could not be run to completion.
type ExecutionError struct {
	Kind   Kind
	Binary string
	Stderr string
	Err    error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Binary, e.Kind, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// SS runs the ss binary.
type SS struct {
	// Binary is the ss executable, looked up in PATH when not absolute.
	Binary string

	// Args precede the filter arguments. Nil means DefaultArgs.
	Args []string

	// Timeout bounds a single invocation. Zero means no bound other than
	// the context deadline.
	Timeout time.Duration
}

// NewSS returns an SS using DefaultArgs, extended with -e and -m when
// requested.
func NewSS(binary string, timeout time.Duration, extended, memory bool) *SS {
	args := append([]string{}, DefaultArgs...)
	if extended {
		args = append(args, "-e")
	}
	if memory {
		args = append(args, "-m")
	}
	return &SS{Binary: binary, Args: args, Timeout: timeout}
}

// Command returns the argv that Query executes for p.
func (s *SS) Command(p filter.Predicate) []string {
	args := s.Args
	if args == nil {
		args = DefaultArgs
	}
	argv := append([]string{s.Binary}, args...)
	return append(argv, p.Args()...)
}

// Query runs ss once and returns its standard output.
func (s *SS) Query(ctx context.Context, p filter.Predicate) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &ExecutionError{Kind: KindCanceled, Binary: s.Binary, Err: err}
	}
	if _, err := exec.LookPath(s.Binary); err != nil {
		return "", &ExecutionError{Kind: KindMissing, Binary: s.Binary, Err: err}
	}
	timeout := s.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); timeout == 0 || left < timeout {
			timeout = left
		}
	}
	argv := s.Command(p)
	start := time.Now()
	stdout, stderr, err := run(ctx, timeout, pipe.Exec(argv[0], argv[1:]...))
	metrics.QueryLatencyHistogram.Observe(time.Since(start).Seconds())
	if err != nil {
		kind := classify(err)
		if ctx.Err() != nil {
			kind, err = KindCanceled, ctx.Err()
		}
		return "", &ExecutionError{
			Kind:   kind,
			Binary: s.Binary,
			Stderr: strings.TrimSpace(string(stderr)),
			Err:    err,
		}
	}
	return string(stdout), nil
}

// run executes p and kills it when ctx is done or timeout elapses. Output
// goes through OS pipes so that an orphaned grandchild holding them open
// cannot delay the return after a kill.
func run(ctx context.Context, timeout time.Duration, p pipe.Pipe) ([]byte, []byte, error) {
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, nil, err
	}
	var outb, errb bytes.Buffer
	var copies sync.WaitGroup
	copies.Add(2)
	go func() { defer copies.Done(); io.Copy(&outb, outR) }()
	go func() { defer copies.Done(); io.Copy(&errb, errR) }()

	st := pipe.NewState(outW, errW)
	st.Timeout = timeout
	err = p(st)
	if err == nil {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				st.Kill()
			case <-done:
			}
		}()
		err = st.RunTasks()
		close(done)
	}
	outW.Close()
	errW.Close()
	killed := err != nil && classify(err) != KindExit
	if killed {
		// Unblock the copies even if a descendant still holds the pipes.
		outR.Close()
		errR.Close()
	}
	copies.Wait()
	if !killed {
		outR.Close()
		errR.Close()
	}
	return outb.Bytes(), errb.Bytes(), err
}

// classify maps a pipe failure to its Kind. pipe.Errors carries the timeout
// and kill markers as plain elements rather than wrapped errors.
func classify(err error) Kind {
	errs, ok := err.(pipe.Errors)
	if !ok {
		errs = pipe.Errors{err}
	}
	for _, e := range errs {
		switch e {
		case pipe.ErrTimeout:
			return KindTimeout
		case pipe.ErrKilled:
			return KindCanceled
		}
	}
	return KindExit
}
