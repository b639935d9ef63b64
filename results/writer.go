// Package results writes samples to the append-only sample log and reads
// text logs back.
package results

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/m-lab/sstrace/filter"
	"github.com/m-lab/sstrace/logging"
	"github.com/m-lab/sstrace/model"
	"github.com/m-lab/sstrace/ssparse"
)

// Format selects the log layout.
type Format string

// Supported formats.
const (
	// Text writes "time:<nanos>" followed by one line per connection.
	Text = Format("text")
	// JSON writes one JSON object per sample.
	JSON = Format("json")
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case Text, JSON:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown format %q", filter.ErrInvalidArgument, s)
}

// IOError is returned when the log cannot be opened or written.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("results: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Writer is the single owner of a sample log.
type Writer struct {
	// Path is the location of the log.
	Path string

	format Format
	mu     sync.Mutex
	fp     *os.File
	writer io.Writer

	// gzip is an optional writer for compressed logs.
	gzip *gzip.Writer
}

// Open opens path for appending, creating it if needed. Existing content is
// never truncated. With compress, this run is written as a new gzip member
// after any existing ones, which gzip readers decode as one stream.
func Open(path string, format Format, compress bool) (*Writer, error) {
	fp, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		logging.Logger.WithError(err).Warn("results: open failed")
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	w := &Writer{Path: path, format: format, fp: fp, writer: fp}
	if compress {
		w.gzip, err = gzip.NewWriterLevel(fp, gzip.BestSpeed)
		if err != nil {
			fp.Close()
			return nil, &IOError{Op: "open", Path: path, Err: err}
		}
		w.writer = w.gzip
	}
	return w, nil
}

// WriteSample appends one unit for s. The unit is flushed and synced to
// disk before WriteSample returns.
func (w *Writer) WriteSample(s *model.Sample) error {
	var (
		unit []byte
		err  error
	)
	switch w.format {
	case JSON:
		unit, err = MarshalJSON(s)
	default:
		unit = MarshalText(s)
	}
	if err != nil {
		return &IOError{Op: "encode", Path: w.Path, Err: err}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fp == nil {
		return &IOError{Op: "write", Path: w.Path, Err: os.ErrClosed}
	}
	if _, err := w.writer.Write(unit); err != nil {
		return &IOError{Op: "write", Path: w.Path, Err: err}
	}
	if w.gzip != nil {
		if err := w.gzip.Flush(); err != nil {
			return &IOError{Op: "flush", Path: w.Path, Err: err}
		}
	}
	if err := w.fp.Sync(); err != nil {
		return &IOError{Op: "sync", Path: w.Path, Err: err}
	}
	return nil
}

// Close finishes the gzip member, if any, and closes the log. Further
// writes fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fp == nil {
		return nil
	}
	fp := w.fp
	w.fp = nil
	if w.gzip != nil {
		if err := w.gzip.Close(); err != nil {
			fp.Close()
			return &IOError{Op: "close", Path: w.Path, Err: err}
		}
	}
	if err := fp.Close(); err != nil {
		return &IOError{Op: "close", Path: w.Path, Err: err}
	}
	return nil
}

// MarshalText renders the text unit for s: a time line followed by one
// line per connection, the raw text of a quarantined sample, or a single
// empty line when nothing matched.
func MarshalText(s *model.Sample) []byte {
	var buf bytes.Buffer
	buf.WriteString("time:")
	buf.WriteString(strconv.FormatInt(s.CapturedAtNanos, 10))
	buf.WriteByte('\n')
	switch {
	case s.ParseError != nil:
		buf.WriteString(strings.TrimRight(s.RawText, "\n"))
		buf.WriteByte('\n')
	case len(s.Records) == 0:
		buf.WriteByte('\n')
	default:
		for i := range s.Records {
			buf.WriteString(ssparse.Format(&s.Records[i]))
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

type jsonSample struct {
	Time        int64                    `json:"time"`
	Connections []model.ConnectionRecord `json:"connections"`
}

type jsonQuarantine struct {
	Time  int64  `json:"time"`
	Error string `json:"error"`
	Raw   string `json:"raw"`
}

// MarshalJSON renders the JSON unit for s, terminated by a newline.
func MarshalJSON(s *model.Sample) ([]byte, error) {
	var v interface{}
	if s.ParseError != nil {
		v = jsonQuarantine{Time: s.CapturedAtNanos, Error: s.ParseError.Error(), Raw: s.RawText}
	} else {
		records := s.Records
		if records == nil {
			records = []model.ConnectionRecord{}
		}
		v = jsonSample{Time: s.CapturedAtNanos, Connections: records}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
