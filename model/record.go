package model

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/m-lab/sstrace/metadata"
)

// Endpoint is one side of a connection as printed by ss.
type Endpoint struct {
	// Addr is the address without brackets, including the zone when ss
	// prints one (e.g. "fe80::1%eth0"). It may be "*" for wildcards.
	Addr string `json:"addr"`

	// Port is the numeric port. Zero stands for the "*" wildcard.
	Port int `json:"port"`
}

// String returns the endpoint in ss notation.
func (e Endpoint) String() string {
	port := "*"
	if e.Port != 0 {
		port = strconv.Itoa(e.Port)
	}
	if !strings.Contains(e.Addr, ":") {
		return e.Addr + ":" + port
	}
	addr, zone, found := strings.Cut(e.Addr, "%")
	if found {
		return "[" + addr + "]%" + zone + ":" + port
	}
	return "[" + addr + "]:" + port
}

// AddrPort returns the endpoint as a netip.AddrPort with IPv4-mapped IPv6
// addresses unmapped. The second return value is false for wildcards or
// unparseable addresses.
func (e Endpoint) AddrPort() (netip.AddrPort, bool) {
	addr, err := netip.ParseAddr(e.Addr)
	if err != nil {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(e.Port)), true
}

// Timer describes the socket timer shown by `ss -o`.
type Timer struct {
	// Name is one of "on", "keepalive", "timewait", "persist" or "unknown".
	Name string `json:"name"`

	// RemainingMs is the time left before the timer fires. It is negative
	// for timers that already expired.
	RemainingMs int64 `json:"remaining_ms"`

	// Retransmits is the number of retransmissions (or probes).
	Retransmits int64 `json:"retransmits"`
}

// SkMem contains the socket memory counters shown by `ss -m`, in bytes.
type SkMem struct {
	RmemAlloc  int64 `json:"rmem_alloc"`
	RcvBuf     int64 `json:"rcv_buf"`
	WmemAlloc  int64 `json:"wmem_alloc"`
	SndBuf     int64 `json:"snd_buf"`
	FwdAlloc   int64 `json:"fwd_alloc"`
	WmemQueued int64 `json:"wmem_queued"`
	OptMem     int64 `json:"opt_mem"`
	Backlog    int64 `json:"backlog"`
	Drops      int64 `json:"drops"`
}

// ConnectionRecord is one decoded connection within a Sample.
//
// All numeric fields use fixed units: durations are milliseconds, rates are
// bits per second, sizes are bytes, windows are MSS units. A field that ss
// did not print is zero; ss omits zero valued fields the same way.
type ConnectionRecord struct {
	// Summary columns.
	State  string   `json:"state,omitempty"`
	RecvQ  int64    `json:"recv_q"`
	SendQ  int64    `json:"send_q"`
	Local  Endpoint `json:"local"`
	Remote Endpoint `json:"remote"`

	Timer *Timer   `json:"timer,omitempty"`
	Flags []string `json:"flags,omitempty"`

	// Extended info (`ss -e`).
	UID    int64  `json:"uid,omitempty"`
	Inode  int64  `json:"inode,omitempty"`
	Cookie string `json:"cookie,omitempty"`
	UUID   string `json:"uuid,omitempty"`

	SkMem *SkMem `json:"skmem,omitempty"`

	CongestionAlgorithm CongestionAlgorithm `json:"congestion_algorithm"`
	CongestionName      string              `json:"congestion_name,omitempty"`
	BBR                 *BBRParams          `json:"bbr,omitempty"`
	Cubic               *CubicParams        `json:"cubic,omitempty" bigquery:"-"`

	WscaleLocal  int64   `json:"wscale_local"`
	WscaleRemote int64   `json:"wscale_remote"`
	RTO          float64 `json:"rto_ms"`
	Backoff      int64   `json:"backoff"`
	RTT          float64 `json:"rtt_ms"`
	RTTVar       float64 `json:"rtt_var_ms"`
	ATO          float64 `json:"ato_ms"`
	MSS          int64   `json:"mss"`
	PMTU         int64   `json:"pmtu"`
	RcvMSS       int64   `json:"rcvmss"`
	AdvMSS       int64   `json:"advmss"`
	Cwnd         int64   `json:"cwnd"`
	Ssthresh     int64   `json:"ssthresh"`

	BytesSent     int64 `json:"bytes_sent"`
	BytesRetrans  int64 `json:"bytes_retrans"`
	BytesAcked    int64 `json:"bytes_acked"`
	BytesReceived int64 `json:"bytes_received"`
	SegsOut       int64 `json:"segs_out"`
	SegsIn        int64 `json:"segs_in"`
	DataSegsOut   int64 `json:"data_segs_out"`
	DataSegsIn    int64 `json:"data_segs_in"`

	SendBps          int64 `json:"send_bps"`
	LastSnd          int64 `json:"lastsnd_ms"`
	LastRcv          int64 `json:"lastrcv_ms"`
	LastAck          int64 `json:"lastack_ms"`
	PacingRateBps    int64 `json:"pacing_rate_bps"`
	MaxPacingRateBps int64 `json:"max_pacing_rate_bps"`
	DeliveryRateBps  int64 `json:"delivery_rate_bps"`
	Delivered        int64 `json:"delivered"`
	DeliveredCE      int64 `json:"delivered_ce"`

	BusyMs          int64 `json:"busy_ms"`
	RwndLimitedMs   int64 `json:"rwnd_limited_ms"`
	SndbufLimitedMs int64 `json:"sndbuf_limited_ms"`

	Unacked      int64   `json:"unacked"`
	Retrans      int64   `json:"retrans"`
	RetransTotal int64   `json:"retrans_total"`
	Lost         int64   `json:"lost"`
	Sacked       int64   `json:"sacked"`
	DsackDups    int64   `json:"dsack_dups"`
	Fackets      int64   `json:"fackets"`
	Reordering   int64   `json:"reordering"`
	ReordSeen    int64   `json:"reord_seen"`
	RcvRTT       float64 `json:"rcv_rtt_ms"`
	RcvSpace     int64   `json:"rcv_space"`
	RcvSsthresh  int64   `json:"rcv_ssthresh"`
	Notsent      int64   `json:"notsent"`
	MinRTT       float64 `json:"minrtt_ms"`
	RcvOooPack   int64   `json:"rcv_ooopack"`
	SndWnd       int64   `json:"snd_wnd"`
	RcvWnd       int64   `json:"rcv_wnd"`

	// ExtraFields holds keys that have no dedicated field but that were
	// explicitly accepted, in input order. A bare word has an empty Value.
	ExtraFields []metadata.NameValue `json:"extra_fields,omitempty"`
}

// HasFlag returns whether the given option flag (e.g. "sack") was set.
func (r *ConnectionRecord) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
