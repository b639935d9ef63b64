package ssparse

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	errUnit   = errors.New("unexpected unit")
	errArity  = errors.New("unexpected number of sub-values")
	errSyntax = errors.New("invalid syntax")
)

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errSyntax
	}
	return v, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// splitN splits s on sep and requires exactly n parts.
func splitN(s, sep string, n int) ([]string, error) {
	parts := strings.Split(s, sep)
	if len(parts) != n {
		return nil, fmt.Errorf("%w: got %d, want %d", errArity, len(parts), n)
	}
	return parts, nil
}

// unparen strips the parentheses around a compound value.
func unparen(s string) (string, error) {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return "", fmt.Errorf("%w: compound value must be parenthesized", errSyntax)
	}
	return s[1 : len(s)-1], nil
}

var rateMultipliers = map[byte]float64{
	'K': 1e3,
	'k': 1e3,
	'M': 1e6,
	'G': 1e9,
}

// parseRate parses an ss bandwidth such as "4762104bps" or "4.8Mbps" into
// bits per second. ss prints plain numbers with -n and scaled numbers
// otherwise.
func parseRate(s string) (int64, error) {
	num, ok := strings.CutSuffix(s, "bps")
	if !ok || num == "" {
		return 0, fmt.Errorf("%w: rate %q must end in bps", errUnit, s)
	}
	mult := 1.0
	if m, ok := rateMultipliers[num[len(num)-1]]; ok {
		mult = m
		num = num[:len(num)-1]
	}
	v, err := parseFloat(num)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: negative rate", errSyntax)
	}
	return int64(math.Round(v * mult)), nil
}

func formatRate(bps int64) string {
	return strconv.FormatInt(bps, 10) + "bps"
}

// parseMs parses an integer millisecond count with an explicit unit, e.g.
// "12ms".
func parseMs(s string) (int64, error) {
	num, ok := strings.CutSuffix(s, "ms")
	if !ok {
		return 0, fmt.Errorf("%w: %q must end in ms", errUnit, s)
	}
	return parseInt(num)
}

// parseTimerMs parses the timer expiry format used by ss -o, e.g. "078ms",
// "1.200ms" (1.2 seconds), "7sec", "1min13sec" or "-5ms".
func parseTimerMs(s string) (int64, error) {
	orig := s
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var total int64
	if mins, rest, ok := strings.Cut(s, "min"); ok {
		m, err := parseInt(mins)
		if err != nil {
			return 0, err
		}
		total += m * 60 * 1000
		s = rest
	}
	switch {
	case s == "":
		if total == 0 {
			return 0, fmt.Errorf("%w: empty timer %q", errSyntax, orig)
		}
	case strings.HasSuffix(s, "sec"):
		secs, err := parseInt(strings.TrimSuffix(s, "sec"))
		if err != nil {
			return 0, err
		}
		total += secs * 1000
	case strings.HasSuffix(s, "ms"):
		v := strings.TrimSuffix(s, "ms")
		if secs, ms, ok := strings.Cut(v, "."); ok {
			sv, err := parseInt(secs)
			if err != nil {
				return 0, err
			}
			mv, err := parseInt(ms)
			if err != nil {
				return 0, err
			}
			total += sv*1000 + mv
		} else {
			mv, err := parseInt(v)
			if err != nil {
				return 0, err
			}
			total += mv
		}
	default:
		return 0, fmt.Errorf("%w: timer %q", errUnit, orig)
	}
	if neg {
		total = -total
	}
	return total, nil
}

func formatTimerMs(ms int64) string {
	return strconv.FormatInt(ms, 10) + "ms"
}
