package query

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/sstrace/filter"
	pipe "gopkg.in/m-lab/pipe.v3"
)

func mustPredicate(ip string, rport, lport int) filter.Predicate {
	spec, err := filter.Build(ip, rport, lport, "")
	rtx.Must(err, "could not build filter")
	return spec.Predicate
}

func TestSS_Command(t *testing.T) {
	s := NewSS("ss", time.Second, true, true)
	got := s.Command(mustPredicate("140.82.23.101", 5202, 0))
	want := []string{"ss", "-t", "-i", "-n", "-o", "-H", "-e", "-m",
		"(", "dst", "140.82.23.101", ")", "and", "(", "dport", "=", ":5202", ")"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Command() mismatch (-want +got):\n%s", diff)
	}
	got = (&SS{Binary: "ss"}).Command(filter.Predicate{})
	if diff := cmp.Diff(append([]string{"ss"}, DefaultArgs...), got); diff != "" {
		t.Errorf("Command() mismatch (-want +got):\n%s", diff)
	}
}

func TestSS_Query(t *testing.T) {
	tests := []struct {
		name     string
		ss       *SS
		ctx      func() (context.Context, context.CancelFunc)
		want     string
		wantKind Kind
	}{
		{
			name: "success",
			ss:   &SS{Binary: "echo", Args: []string{"-n", "hello"}, Timeout: 5 * time.Second},
			want: "hello dport = :80",
		},
		{
			name:     "missing",
			ss:       &SS{Binary: "this-binary-does-not-exist", Args: []string{}},
			wantKind: KindMissing,
		},
		{
			name:     "exit",
			ss:       &SS{Binary: "false", Args: []string{}},
			wantKind: KindExit,
		},
		{
			name:     "timeout",
			ss:       &SS{Binary: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond},
			wantKind: KindTimeout,
		},
		{
			name: "canceled",
			ss:   &SS{Binary: "echo", Args: []string{}},
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
			wantKind: KindCanceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			if tt.ctx != nil {
				ctx, cancel = tt.ctx()
			}
			defer cancel()
			p := filter.Predicate{}
			if tt.name == "success" {
				p = mustPredicate("", 80, 0)
			}
			got, err := tt.ss.Query(ctx, p)
			if tt.wantKind == "" {
				rtx.Must(err, "unexpected query failure")
				if strings.TrimSpace(got) != tt.want {
					t.Errorf("Query() = %q, want %q", got, tt.want)
				}
				return
			}
			var e *ExecutionError
			if !errors.As(err, &e) {
				t.Fatalf("Query() error = %v, want ExecutionError", err)
			}
			if e.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", e.Kind, tt.wantKind)
			}
		})
	}
}

func TestSS_QueryCancelKillsProcess(t *testing.T) {
	s := &SS{Binary: "sleep", Args: []string{"5"}}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := s.Query(ctx, filter.Predicate{})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Query() returned after %v, want prompt return on cancel", elapsed)
	}
	var e *ExecutionError
	if !errors.As(err, &e) {
		t.Fatalf("Query() error = %v, want ExecutionError", err)
	}
	if e.Kind != KindCanceled {
		t.Errorf("Kind = %q, want %q", e.Kind, KindCanceled)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Query() error = %v, want context.Canceled", err)
	}
}

func TestSS_QueryCancelKillsScript(t *testing.T) {
	// The script's child keeps stdout open after the script is killed.
	fakeSS := filepath.Join(t.TempDir(), "fake-ss")
	rtx.Must(os.WriteFile(fakeSS, []byte("#!/bin/sh\nsleep 3\necho late\n"), 0755), "could not write fake ss")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	got, err := (&SS{Binary: fakeSS, Args: []string{}}).Query(ctx, filter.Predicate{})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Query() returned after %v, want prompt return on cancel", elapsed)
	}
	var e *ExecutionError
	if !errors.As(err, &e) || e.Kind != KindCanceled {
		t.Errorf("Query() = %q, %v; want a canceled ExecutionError", got, err)
	}
}

func TestSS_QueryKeepsStderr(t *testing.T) {
	s := &SS{Binary: "sh", Args: []string{"-c", "echo 'Cannot open netlink socket' >&2; exit 3"}}
	_, err := s.Query(context.Background(), filter.Predicate{})
	var e *ExecutionError
	if !errors.As(err, &e) {
		t.Fatalf("Query() error = %v, want ExecutionError", err)
	}
	if e.Kind != KindExit || e.Stderr != "Cannot open netlink socket" {
		t.Errorf("Query() error = %+v, want exit with stderr", e)
	}
}

func Test_classify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"timeout", pipe.Errors{pipe.ErrTimeout}, KindTimeout},
		{"timeout-then-exit", pipe.Errors{pipe.ErrTimeout, errors.New("signal: killed")}, KindTimeout},
		{"killed", pipe.Errors{pipe.ErrKilled}, KindCanceled},
		{"bare-timeout", pipe.ErrTimeout, KindTimeout},
		{"exit", pipe.Errors{errors.New("exit status 1")}, KindExit},
		{"other", errors.New("boom"), KindExit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestProcCensus(t *testing.T) {
	c, err := NewProcCensus("/proc")
	if err != nil {
		t.Skip("no /proc:", err)
	}
	all, err := c.Count(filter.Predicate{})
	if err != nil {
		t.Skip("no /proc/net/tcp:", err)
	}
	none, err := c.Count(mustPredicate("192.0.2.1", 9, 0))
	if err != nil {
		t.Fatal(err)
	}
	if none > all {
		t.Errorf("filtered count %d > total %d", none, all)
	}
}
