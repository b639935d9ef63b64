// Package model contains the sstrace data model.
package model

// Sample is the result of one polling cycle. It is created by one sampler
// iteration and never modified after being handed to the writer.
type Sample struct {
	// CapturedAtNanos is the wall-clock time, in nanoseconds since the
	// epoch, at which the query was started. It is derived from a monotonic
	// clock and strictly increases within a single run.
	CapturedAtNanos int64

	// RawText is the unparsed query output. Empty means that no connection
	// matched the filter.
	RawText string

	// Records contains the decoded connections, in input order.
	Records []ConnectionRecord

	// ParseError is set when RawText could not be decoded. Records is empty
	// in this case and RawText is kept verbatim.
	ParseError error
}

// Empty returns whether no connection matched during this sample.
func (s *Sample) Empty() bool {
	return s.ParseError == nil && len(s.Records) == 0
}
