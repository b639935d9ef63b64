package sampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/m-lab/sstrace/filter"
	"github.com/m-lab/sstrace/model"
	"github.com/m-lab/sstrace/query"
	"github.com/m-lab/sstrace/ssparse"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const conn = "ESTAB 0 0 10.0.0.1:22 10.0.0.2:5000 cubic rto:204 rtt:0.5/0.25 cwnd:10"

// fakeExecutor replays outputs in order and repeats the last one.
type fakeExecutor struct {
	mu      sync.Mutex
	outputs []string
	errs    []error
	calls   int
}

func (f *fakeExecutor) Query(ctx context.Context, p filter.Predicate) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.outputs) {
		i = len(f.outputs) - 1
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.outputs[i], err
}

type fakeSink struct {
	samples []*model.Sample
	limit   int
	cancel  context.CancelFunc
	err     error
}

func (s *fakeSink) WriteSample(sample *model.Sample) error {
	if s.err != nil {
		return s.err
	}
	s.samples = append(s.samples, sample)
	if s.limit > 0 && len(s.samples) >= s.limit {
		s.cancel()
	}
	return nil
}

// steppingClock advances by step on every call.
func steppingClock(step time.Duration) Clock {
	t := time.Unix(1754776664, 23490865)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestSampler_StrictlyIncreasingTimestamps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(Config{}, &fakeExecutor{outputs: []string{conn}}, ssparse.NewParser())
	// A clock that never moves forces the tie breaker.
	frozen := time.Unix(1754776664, 0)
	s.now = func() time.Time { return frozen }
	sink := &fakeSink{limit: 100, cancel: cancel}
	if err := s.Run(ctx, sink); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if len(sink.samples) != 100 {
		t.Fatalf("got %d samples, want 100", len(sink.samples))
	}
	for i := 1; i < len(sink.samples); i++ {
		if sink.samples[i].CapturedAtNanos <= sink.samples[i-1].CapturedAtNanos {
			t.Fatalf("sample %d timestamp %d not after %d", i, sink.samples[i].CapturedAtNanos, sink.samples[i-1].CapturedAtNanos)
		}
	}
	if got := len(sink.samples[0].Records); got != 1 {
		t.Errorf("sample has %d records, want 1", got)
	}
}

func TestSampler_Duration(t *testing.T) {
	s := New(Config{Duration: time.Second}, &fakeExecutor{outputs: []string{conn}}, ssparse.NewParser())
	s.now = steppingClock(100 * time.Millisecond)
	sink := &fakeSink{}
	if err := s.Run(context.Background(), sink); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	// The anchor takes the first tick; the ten ticks after it are within
	// the bound.
	if len(sink.samples) != 10 {
		t.Errorf("got %d samples, want 10", len(sink.samples))
	}
	start := time.Unix(1754776664, 23490865).Add(100 * time.Millisecond).UnixNano()
	for _, sample := range sink.samples {
		if sample.CapturedAtNanos > start+time.Second.Nanoseconds() {
			t.Errorf("sample at %d is past the end", sample.CapturedAtNanos)
		}
	}
}

func TestSampler_EmptySamples(t *testing.T) {
	for _, emit := range []bool{true, false} {
		exec := &fakeExecutor{outputs: []string{"", "\n", conn}}
		s := New(Config{Duration: time.Second, EmitEmptySamples: emit}, exec, ssparse.NewParser())
		s.now = steppingClock(300 * time.Millisecond)
		sink := &fakeSink{}
		if err := s.Run(context.Background(), sink); err != nil {
			t.Fatalf("Run() = %v", err)
		}
		empty := 0
		for _, sample := range sink.samples {
			if sample.Empty() {
				empty++
			}
		}
		if emit && empty != 2 {
			t.Errorf("EmitEmptySamples=true wrote %d empty samples, want 2", empty)
		}
		if !emit && empty != 0 {
			t.Errorf("EmitEmptySamples=false wrote %d empty samples", empty)
		}
		if exec.calls != 3 {
			t.Errorf("got %d queries, want 3", exec.calls)
		}
	}
}

func TestSampler_QueryFailures(t *testing.T) {
	fail := &query.ExecutionError{Kind: query.KindExit, Binary: "ss", Err: errors.New("exit status 1")}
	exec := &fakeExecutor{
		outputs: []string{"", "", conn, "", "", ""},
		errs:    []error{fail, fail, nil, fail, fail, fail},
	}
	s := New(Config{MaxConsecutiveFailures: 3}, exec, ssparse.NewParser())
	s.now = steppingClock(time.Millisecond)
	sink := &fakeSink{}
	err := s.Run(context.Background(), sink)
	if !errors.Is(err, ErrTooManyFailures) {
		t.Fatalf("Run() = %v, want ErrTooManyFailures", err)
	}
	var qerr *query.ExecutionError
	if !errors.As(err, &qerr) {
		t.Errorf("Run() = %v, want the last ExecutionError wrapped", err)
	}
	if len(sink.samples) != 1 {
		t.Errorf("got %d samples, want 1", len(sink.samples))
	}
	if exec.calls != 6 {
		t.Errorf("got %d queries, want 6", exec.calls)
	}
}

func TestSampler_Quarantine(t *testing.T) {
	bad := conn + " frobnicate:1"
	tests := []struct {
		policy  Policy
		wantErr error
		want    int
	}{
		{Quarantine, nil, 3},
		{Abort, ErrAborted, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			exec := &fakeExecutor{outputs: []string{bad, conn}}
			s := New(Config{Duration: time.Second, Policy: tt.policy}, exec, ssparse.NewParser())
			s.now = steppingClock(300 * time.Millisecond)
			sink := &fakeSink{}
			err := s.Run(context.Background(), sink)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() = %v, want %v", err, tt.wantErr)
			}
			if len(sink.samples) != tt.want {
				t.Fatalf("got %d samples, want %d", len(sink.samples), tt.want)
			}
			q := sink.samples[0]
			var u *ssparse.UnknownFieldError
			if !errors.As(q.ParseError, &u) || u.Field != "frobnicate" {
				t.Errorf("ParseError = %v, want unknown frobnicate", q.ParseError)
			}
			if q.RawText != bad || len(q.Records) != 0 {
				t.Errorf("quarantined sample = %+v", q)
			}
		})
	}
}

func TestSampler_SinkFailure(t *testing.T) {
	s := New(Config{}, &fakeExecutor{outputs: []string{conn}}, ssparse.NewParser())
	want := errors.New("disk full")
	if err := s.Run(context.Background(), &fakeSink{err: want}); !errors.Is(err, want) {
		t.Errorf("Run() = %v, want %v", err, want)
	}
}

func TestSampler_MinInterval(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	exec := &fakeExecutor{outputs: []string{conn}}
	s := New(Config{MinInterval: 100 * time.Millisecond}, exec, ssparse.NewParser())
	if err := s.Run(ctx, &fakeSink{}); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if exec.calls < 1 || exec.calls > 3 {
		t.Errorf("got %d queries in 250ms at 100ms spacing", exec.calls)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("ABORT"); err != nil || p != Abort {
		t.Errorf("ParsePolicy(ABORT) = %q, %v", p, err)
	}
	if _, err := ParsePolicy("ignore"); !errors.Is(err, filter.ErrInvalidArgument) {
		t.Errorf("ParsePolicy(ignore) = %v, want ErrInvalidArgument", err)
	}
}
