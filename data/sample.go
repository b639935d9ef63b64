// Package data contains the archival rows that sstrace logs can be
// converted to for loading into BigQuery.
package data

import (
	"time"

	"github.com/m-lab/tcp-info/inetdiag"
	"github.com/m-lab/tcp-info/tcp"

	"github.com/m-lab/sstrace/model"
)

// CurrentSchemaVersion is the current version of the SampleRow struct below.
// The version should be incremented for every structure change to SampleRow
// so that the mirror structures in the ETL parser can be updated.
const CurrentSchemaVersion = 1

// SampleRow is the archival record of one connection in one sample. A
// quarantined sample produces a single row with ParseError and Raw set.
//
// The TCPInfo and BBRInfo fields repeat the decoded values in the units of
// the kernel structures, so rows can be joined with tcp-info data.
type SampleRow struct {
	// RunID identifies the sampling run.
	RunID string
	// SchemaVersion represents the version of the SampleRow structure.
	SchemaVersion int

	Filter          string
	Time            time.Time
	CapturedAtNanos int64

	Connection *model.ConnectionRecord `json:",omitempty"`
	TCPInfo    *tcp.LinuxTCPInfo       `json:",omitempty"`
	BBRInfo    *inetdiag.BBRInfo       `json:",omitempty"`

	ParseError string `json:",omitempty"`
	Raw        string `json:",omitempty"`
}

// Rows converts a sample into archival rows. Empty samples produce none.
func Rows(runID, filter string, s *model.Sample) []SampleRow {
	base := SampleRow{
		RunID:           runID,
		SchemaVersion:   CurrentSchemaVersion,
		Filter:          filter,
		Time:            time.Unix(0, s.CapturedAtNanos).UTC(),
		CapturedAtNanos: s.CapturedAtNanos,
	}
	if s.ParseError != nil {
		base.ParseError = s.ParseError.Error()
		base.Raw = s.RawText
		return []SampleRow{base}
	}
	rows := make([]SampleRow, 0, len(s.Records))
	for i := range s.Records {
		r := &s.Records[i]
		row := base
		row.Connection = r
		info := r.ToLinuxTCPInfo()
		row.TCPInfo = &info
		if r.BBR != nil {
			bbr := r.BBR.ToInetDiag()
			row.BBRInfo = &bbr
		}
		rows = append(rows, row)
	}
	return rows
}
