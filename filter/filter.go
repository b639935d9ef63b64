// Package filter builds the connection-selection predicate handed to ss.
package filter

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidArgument is returned for filters or durations that cannot be
// used. It is always detected before sampling starts.
var ErrInvalidArgument = errors.New("invalid argument")

// Predicate selects connections by remote address and ports. The zero
// value matches every connection.
type Predicate struct {
	// RemoteIP is the remote address. The zero value is a wildcard.
	RemoteIP netip.Addr

	// RemotePort is the remote port. Zero is a wildcard.
	RemotePort uint16

	// LocalPort is the local port. Zero is a wildcard.
	LocalPort uint16
}

// Spec is a validated sampling target.
type Spec struct {
	Predicate Predicate

	// Duration bounds the sampling run. Zero means unbounded.
	Duration time.Duration
}

// Build validates the user supplied selectors. Empty or zero selectors are
// wildcards. An empty durationSeconds means that sampling runs until it is
// cancelled; otherwise it must be a non-negative integer.
func Build(remoteIP string, remotePort, localPort int, durationSeconds string) (Spec, error) {
	var spec Spec
	if ip := strings.TrimSpace(remoteIP); ip != "" {
		addr, err := netip.ParseAddr(strings.Trim(ip, "[]"))
		if err != nil {
			return Spec{}, fmt.Errorf("%w: remote IP %q: %v", ErrInvalidArgument, remoteIP, err)
		}
		// ss matches IPv4 peers of dual stack sockets by their v4 address.
		spec.Predicate.RemoteIP = addr.Unmap()
	}
	for _, p := range []struct {
		name  string
		value int
		dst   *uint16
	}{
		{"remote port", remotePort, &spec.Predicate.RemotePort},
		{"local port", localPort, &spec.Predicate.LocalPort},
	} {
		if p.value < 0 || p.value > 65535 {
			return Spec{}, fmt.Errorf("%w: %s %d out of range", ErrInvalidArgument, p.name, p.value)
		}
		*p.dst = uint16(p.value)
	}
	d, err := ParseDuration(durationSeconds)
	if err != nil {
		return Spec{}, err
	}
	spec.Duration = d
	return spec, nil
}

// ParseDuration parses a whole number of seconds. The empty string and "0"
// both mean unbounded.
func ParseDuration(seconds string) (time.Duration, error) {
	seconds = strings.TrimSpace(seconds)
	if seconds == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(seconds, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q is not an integer number of seconds", ErrInvalidArgument, seconds)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: duration %d is negative", ErrInvalidArgument, n)
	}
	return time.Duration(n) * time.Second, nil
}

// IsWildcard returns whether the predicate matches every connection.
func (p Predicate) IsWildcard() bool {
	return !p.RemoteIP.IsValid() && p.RemotePort == 0 && p.LocalPort == 0
}

func (p Predicate) conditions() [][]string {
	var conds [][]string
	if p.RemoteIP.IsValid() {
		addr := p.RemoteIP.String()
		if p.RemoteIP.Is6() {
			addr = "[" + addr + "]"
		}
		conds = append(conds, []string{"dst", addr})
	}
	if p.RemotePort != 0 {
		conds = append(conds, []string{"dport", "=", ":" + strconv.Itoa(int(p.RemotePort))})
	}
	if p.LocalPort != 0 {
		conds = append(conds, []string{"sport", "=", ":" + strconv.Itoa(int(p.LocalPort))})
	}
	return conds
}

// Args returns the predicate as ss filter arguments. Each argument is a
// separate argv entry, so no shell quoting is involved. A single condition
// is passed as is; several conditions are each grouped in parentheses and
// joined with "and".
func (p Predicate) Args() []string {
	conds := p.conditions()
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	}
	var args []string
	for i, c := range conds {
		if i > 0 {
			args = append(args, "and")
		}
		args = append(args, "(")
		args = append(args, c...)
		args = append(args, ")")
	}
	return args
}

// String returns the predicate as it would be typed in a shell, with the
// grouping parentheses escaped.
func (p Predicate) String() string {
	args := p.Args()
	for i, a := range args {
		if a == "(" || a == ")" {
			args[i] = `\` + a
		}
	}
	return strings.Join(args, " ")
}

// Match evaluates the predicate in-process against a connection's local and
// remote endpoints.
func (p Predicate) Match(local, remote netip.AddrPort) bool {
	if p.RemoteIP.IsValid() && remote.Addr().Unmap() != p.RemoteIP {
		return false
	}
	if p.RemotePort != 0 && remote.Port() != p.RemotePort {
		return false
	}
	if p.LocalPort != 0 && local.Port() != p.LocalPort {
		return false
	}
	return true
}
