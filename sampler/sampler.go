// Package sampler implements the polling loop that turns repeated ss
// queries into timestamped samples.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"
	"golang.org/x/time/rate"

	"github.com/m-lab/sstrace/filter"
	"github.com/m-lab/sstrace/logging"
	"github.com/m-lab/sstrace/metrics"
	"github.com/m-lab/sstrace/model"
	"github.com/m-lab/sstrace/query"
	"github.com/m-lab/sstrace/ssparse"
)

// Policy selects what happens to samples whose text cannot be decoded.
type Policy string

// Unknown field policies.
const (
	// Quarantine writes the raw text together with the error and keeps
	// sampling.
	Quarantine = Policy("quarantine")
	// Abort writes the raw text together with the error and stops.
	Abort = Policy("abort")
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(s)); p {
	case Quarantine, Abort:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown field policy %q", filter.ErrInvalidArgument, s)
}

var (
	// ErrTooManyFailures is returned when the query failed more often in a
	// row than allowed.
	ErrTooManyFailures = errors.New("too many consecutive query failures")
	// ErrAborted is returned under the Abort policy after a quarantined
	// sample was written.
	ErrAborted = errors.New("sampling aborted on undecodable output")
)

// Sink receives every sample. It is implemented by results.Writer.
type Sink interface {
	WriteSample(s *model.Sample) error
}

// Clock returns the current time. time.Now is used unless a test replaces
// it.
type Clock func() time.Time

// Config controls a sampling run.
type Config struct {
	Predicate filter.Predicate

	// Duration bounds the run. Zero or negative means unbounded.
	Duration time.Duration

	// MinInterval is the minimum delay between the start of two queries.
	// Zero polls back to back.
	MinInterval time.Duration

	// EmitEmptySamples records samples in which nothing matched.
	EmitEmptySamples bool

	// MaxConsecutiveFailures is the number of query failures in a row that
	// ends the run. Zero means unlimited.
	MaxConsecutiveFailures int

	Policy Policy
}

// Sampler runs the polling loop.
type Sampler struct {
	config Config
	exec   query.Executor
	parser *ssparse.Parser
	now    Clock

	last int64
}

// New creates a Sampler.
func New(config Config, exec query.Executor, parser *ssparse.Parser) *Sampler {
	if config.Policy == "" {
		config.Policy = Quarantine
	}
	return &Sampler{
		config: config,
		exec:   exec,
		parser: parser,
		now:    time.Now,
	}
}

// timestamp converts now into wall clock nanoseconds using the elapsed
// monotonic time since anchor. The result is strictly greater than the
// previous one.
func (s *Sampler) timestamp(anchor, now time.Time) int64 {
	ts := anchor.UnixNano() + now.Sub(anchor).Nanoseconds()
	if ts <= s.last {
		ts = s.last + 1
	}
	s.last = ts
	return ts
}

// Run polls until ctx is cancelled, the duration elapses, or an error
// ends the run. Cancellation and the end of the duration are normal exits
// and return nil.
func (s *Sampler) Run(ctx context.Context, sink Sink) error {
	logger := logging.Logger.WithFields(log.Fields{
		"filter":   s.config.Predicate.String(),
		"duration": s.config.Duration.String(),
	})
	logger.Info("sampler: start")
	defer logger.Info("sampler: stop")

	var limiter *rate.Limiter
	if s.config.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(s.config.MinInterval), 1)
	}
	anchor := s.now()
	var end time.Time
	if s.config.Duration > 0 {
		end = anchor.Add(s.config.Duration)
	}
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				// Wait fails early when the deadline would pass first.
				return nil
			}
		}
		now := s.now()
		if !end.IsZero() && now.After(end) {
			return nil
		}
		sample := &model.Sample{CapturedAtNanos: s.timestamp(anchor, now)}
		raw, err := s.exec.Query(ctx, s.config.Predicate)
		if err != nil {
			var qerr *query.ExecutionError
			if errors.As(err, &qerr) && qerr.Kind == query.KindCanceled {
				return nil
			}
			kind := "unknown"
			if qerr != nil {
				kind = string(qerr.Kind)
			}
			metrics.QueryErrorCount.WithLabelValues(kind).Inc()
			metrics.SampleCount.WithLabelValues("query_error").Inc()
			failures++
			logger.WithError(err).WithField("failures", failures).Warn("query failed")
			if s.config.MaxConsecutiveFailures > 0 && failures >= s.config.MaxConsecutiveFailures {
				return fmt.Errorf("%w: %d: %w", ErrTooManyFailures, failures, err)
			}
			continue
		}
		failures = 0
		if strings.TrimSpace(raw) == "" {
			if !s.config.EmitEmptySamples {
				metrics.SampleCount.WithLabelValues("empty_skipped").Inc()
				continue
			}
			metrics.SampleCount.WithLabelValues("empty").Inc()
			metrics.ConnectionsPerSample.Observe(0)
			if err := sink.WriteSample(sample); err != nil {
				return err
			}
			continue
		}
		sample.RawText = raw
		sample.Records, sample.ParseError = s.parser.Parse(raw)
		if sample.ParseError != nil {
			metrics.SampleCount.WithLabelValues("quarantined").Inc()
			metrics.ParseErrorCount.WithLabelValues(errorType(sample.ParseError)).Inc()
			logger.WithError(sample.ParseError).Warn("quarantining sample")
			if err := sink.WriteSample(sample); err != nil {
				return err
			}
			if s.config.Policy == Abort {
				return fmt.Errorf("%w: %w", ErrAborted, sample.ParseError)
			}
			continue
		}
		metrics.SampleCount.WithLabelValues("ok").Inc()
		metrics.ConnectionsPerSample.Observe(float64(len(sample.Records)))
		if err := sink.WriteSample(sample); err != nil {
			return err
		}
	}
}

func errorType(err error) string {
	var u *ssparse.UnknownFieldError
	var m *ssparse.MalformedFieldError
	switch {
	case errors.As(err, &u):
		return "unknown_field"
	case errors.As(err, &m):
		return "malformed_field"
	}
	return "other"
}
