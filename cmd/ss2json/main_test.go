package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-lab/go/osx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/sstrace/data"
	"github.com/m-lab/sstrace/ssparse"
)

const sampleLog = "time:1754776664023490865\n" +
	"0 398200 [::ffff:140.82.23.101]:5202 [::ffff:137.25.146.88]:56512 timer:(on,078ms,0) ts sack bbr wscale:6,10 rto:237 rtt:36.788/3.994 bbr:(bw:4762104bps,mrtt:30.236,pacing_gain:2.88672,cwnd_gain:2.88672)\n" +
	"time:1754776664023491000\n" +
	"0 0 1.2.3.4:1 5.6.7.8:2 frobnicate:1\n"

func TestConvert_Rows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.json")
	w, err := newRowWriter(path)
	rtx.Must(err, "could not open")
	samples, quarantined, err := convert(context.Background(), strings.NewReader(sampleLog), w, ssparse.NewParser())
	rtx.Must(err, "could not convert")
	rtx.Must(w.Close(), "could not close")
	if samples != 2 || quarantined != 1 {
		t.Errorf("convert() = %d, %d; want 2, 1", samples, quarantined)
	}
	fp, err := os.Open(path)
	rtx.Must(err, "could not open")
	defer fp.Close()
	var got []data.SampleRow
	s := bufio.NewScanner(fp)
	s.Buffer(make([]byte, 1<<20), 1<<20)
	for s.Scan() {
		var row data.SampleRow
		rtx.Must(json.Unmarshal(s.Bytes(), &row), "could not decode row")
		got = append(got, row)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if got[0].Connection.RTO != 237 || got[0].BBRInfo.BW != 595263 {
		t.Errorf("first row = %+v", got[0])
	}
	if got[1].Raw != "0 0 1.2.3.4:1 5.6.7.8:2 frobnicate:1" || got[1].ParseError == "" {
		t.Errorf("second row = %+v", got[1])
	}
}

func Test_Main(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "ss.log")
	out := filepath.Join(dir, "ss.json")
	rtx.Must(os.WriteFile(in, []byte(sampleLog), 0644), "could not write input")
	defer osx.MustSetenv("INPUT", in)()
	defer osx.MustSetenv("OUTPUT", out)()
	main()
	b, err := os.ReadFile(out)
	rtx.Must(err, "could not read output")
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], `{"time":1754776664023490865,"connections":[`) {
		t.Errorf("unexpected output:\n%s", b)
	}
	var q map[string]interface{}
	rtx.Must(json.Unmarshal([]byte(lines[1]), &q), "could not decode")
	if q["raw"] == nil || q["error"] == nil {
		t.Errorf("quarantine unit = %v", q)
	}
}
