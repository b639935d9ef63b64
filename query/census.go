package query

import (
	"net/netip"

	"github.com/m-lab/sstrace/filter"
	"github.com/prometheus/procfs"
)

// ProcCensus counts sockets in /proc/net/tcp and /proc/net/tcp6.
type ProcCensus struct {
	fs procfs.FS
}

// NewProcCensus returns a ProcCensus reading from the given proc mount.
func NewProcCensus(procPath string) (*ProcCensus, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, err
	}
	return &ProcCensus{fs: fs}, nil
}

// Count returns the number of TCP sockets, in any state, that p matches.
func (c *ProcCensus) Count(p filter.Predicate) (int, error) {
	v4, err := c.fs.NetTCP()
	if err != nil {
		return 0, err
	}
	// tcp6 is absent on hosts with IPv6 disabled.
	v6, _ := c.fs.NetTCP6()
	n := 0
	for _, lines := range []procfs.NetTCP{v4, v6} {
		for _, l := range lines {
			local, ok1 := netip.AddrFromSlice(l.LocalAddr)
			remote, ok2 := netip.AddrFromSlice(l.RemAddr)
			if !ok1 || !ok2 {
				continue
			}
			if p.Match(
				netip.AddrPortFrom(local.Unmap(), uint16(l.LocalPort)),
				netip.AddrPortFrom(remote.Unmap(), uint16(l.RemPort)),
			) {
				n++
			}
		}
	}
	return n, nil
}
