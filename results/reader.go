package results

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/m-lab/sstrace/model"
	"github.com/m-lab/sstrace/ssparse"
)

const maxLineSize = 4 << 20

// LogReader iterates over the samples of a text log.
type LogReader struct {
	scanner *bufio.Scanner
	parser  *ssparse.Parser
	line    int

	// pending is the time line of the next unit, already consumed.
	pending string
	started bool
}

// ReadLog returns a LogReader decoding records with parser.
func ReadLog(r io.Reader, parser *ssparse.Parser) *LogReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLineSize)
	return &LogReader{scanner: s, parser: parser}
}

func (lr *LogReader) scan() (string, bool) {
	if !lr.scanner.Scan() {
		return "", false
	}
	lr.line++
	return lr.scanner.Text(), true
}

// Next returns the next sample, or io.EOF at the end of the log. A unit
// whose body cannot be decoded is returned with ParseError set; only
// damaged time lines or read failures return an error.
func (lr *LogReader) Next() (*model.Sample, error) {
	if !lr.started {
		lr.started = true
		for {
			line, ok := lr.scan()
			if !ok {
				return nil, lr.eof()
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			lr.pending = line
			break
		}
	}
	if lr.pending == "" {
		return nil, lr.eof()
	}
	ts, ok := strings.CutPrefix(strings.TrimSpace(lr.pending), "time:")
	if !ok {
		return nil, fmt.Errorf("results: line %d: expected time line, got %q", lr.line, lr.pending)
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("results: line %d: %w", lr.line, err)
	}
	lr.pending = ""
	var body []string
	for {
		line, ok := lr.scan()
		if !ok {
			break
		}
		if strings.HasPrefix(line, "time:") {
			lr.pending = line
			break
		}
		body = append(body, line)
	}
	if err := lr.scanner.Err(); err != nil {
		return nil, err
	}
	s := &model.Sample{CapturedAtNanos: nanos, RawText: strings.TrimSpace(strings.Join(body, "\n"))}
	s.Records, s.ParseError = lr.parser.Parse(s.RawText)
	return s, nil
}

func (lr *LogReader) eof() error {
	if err := lr.scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
