package ssparse

import (
	"strings"
	"unicode"
)

// states lists the socket state words ss prints in its first column when no
// state filter is given.
var states = map[string]bool{
	"ESTAB":      true,
	"SYN-SENT":   true,
	"SYN-RECV":   true,
	"FIN-WAIT-1": true,
	"FIN-WAIT-2": true,
	"TIME-WAIT":  true,
	"UNCONN":     true,
	"CLOSE-WAIT": true,
	"LAST-ACK":   true,
	"LISTEN":     true,
	"CLOSING":    true,
	"CLOSED":     true,
	"UNKNOWN":    true,
}

// tokenize splits s on whitespace that is outside of parentheses and double
// quotes, so that "bbr:(bw:1bps, mrtt:2)" or users:(("a b",pid=1)) stay
// single tokens.
func tokenize(s string) []string {
	var (
		tokens  []string
		current strings.Builder
		depth   int
		quoted  bool
	)
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, c := range s {
		switch {
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case unicode.IsSpace(c) && depth == 0:
			flush()
			continue
		}
		current.WriteRune(c)
	}
	flush()
	return tokens
}

func isHeader(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "State", "Recv-Q", "Netid":
		return true
	}
	return false
}

func isUint(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// isSummary returns whether fields start with a socket summary:
// [State] Recv-Q Send-Q Local:Port Peer:Port.
func isSummary(fields []string) bool {
	if len(fields) > 0 && states[fields[0]] {
		fields = fields[1:]
	}
	return len(fields) >= 4 &&
		isUint(fields[0]) && isUint(fields[1]) &&
		strings.Contains(fields[2], ":") && strings.Contains(fields[3], ":")
}

// Split divides raw ss output into per-connection segments. A summary line
// opens a new segment; the indented detail lines that follow it are joined
// to it. Column headers and blank lines are dropped. A detail line that
// precedes any summary forms a segment of its own, which then fails to
// parse.
func Split(raw string) []string {
	var (
		segments []string
		current  []string
	)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if isHeader(fields) {
			continue
		}
		if isSummary(fields) && len(current) > 0 {
			segments = append(segments, strings.Join(current, " "))
			current = nil
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		segments = append(segments, strings.Join(current, " "))
	}
	return segments
}
