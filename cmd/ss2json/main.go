// ss2json converts a text sample log into JSON, either one object per
// sample or one archival row per connection.
package main

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"strings"

	"github.com/apex/log"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/go/warnonerror"

	"github.com/m-lab/sstrace/data"
	"github.com/m-lab/sstrace/logging"
	"github.com/m-lab/sstrace/model"
	"github.com/m-lab/sstrace/results"
	"github.com/m-lab/sstrace/ssparse"
)

var (
	input       = flag.String("input", "ss.log", "The text sample log. Files ending in .gz are decompressed")
	output      = flag.String("output", "ss.json", "The JSON output. Existing content is kept")
	rows        = flag.Bool("rows", false, "Write one archival row per connection instead of one object per sample")
	runID       = flag.String("run-id", "", "The run identifier stored in archival rows")
	filterText  = flag.String("filter", "", "The filter stored in archival rows")
	extraFields flagx.StringArray

	ctx, cancel = context.WithCancel(context.Background())
)

func init() {
	flag.Var(&extraFields, "extra-field", "An ss key to keep verbatim instead of rejecting. Repeatable")
}

// sampleWriter is implemented by results.Writer and rowWriter.
type sampleWriter interface {
	WriteSample(s *model.Sample) error
	Close() error
}

var _ sampleWriter = (*results.Writer)(nil)

type rowWriter struct {
	fp  *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

func newRowWriter(path string) (*rowWriter, error) {
	fp, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(fp)
	return &rowWriter{fp: fp, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (w *rowWriter) WriteSample(s *model.Sample) error {
	for _, row := range data.Rows(*runID, *filterText, s) {
		if err := w.enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func (w *rowWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.fp.Close()
		return err
	}
	return w.fp.Close()
}

func openInput(path string) (io.ReadCloser, error) {
	fp, err := os.Open(path)
	if err != nil || !strings.HasSuffix(path, ".gz") {
		return fp, err
	}
	gz, err := gzip.NewReader(fp)
	if err != nil {
		fp.Close()
		return nil, err
	}
	return struct {
		io.Reader
		io.Closer
	}{gz, fp}, nil
}

func convert(ctx context.Context, r io.Reader, w sampleWriter, parser *ssparse.Parser) (samples, quarantined int, err error) {
	lr := results.ReadLog(r, parser)
	for ctx.Err() == nil {
		s, err := lr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return samples, quarantined, err
		}
		if s.ParseError != nil {
			quarantined++
			logging.Logger.WithError(s.ParseError).WithField("time", s.CapturedAtNanos).Warn("quarantined")
		}
		if err := w.WriteSample(s); err != nil {
			return samples, quarantined, err
		}
		samples++
	}
	return samples, quarantined, ctx.Err()
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")

	in, err := openInput(*input)
	rtx.Must(err, "Could not open input")
	defer warnonerror.Close(in, "Could not close input")

	var w sampleWriter
	if *rows {
		w, err = newRowWriter(*output)
	} else {
		w, err = results.Open(*output, results.JSON, false)
	}
	rtx.Must(err, "Could not open output")

	samples, quarantined, err := convert(ctx, in, w, ssparse.NewParser(extraFields...))
	rtx.Must(w.Close(), "Could not close output")
	rtx.Must(err, "Could not convert %s", *input)
	logging.Logger.WithFields(log.Fields{
		"samples":     samples,
		"quarantined": quarantined,
		"output":      *output,
	}).Info("converted")
}
