package model

import (
	"math"

	"github.com/m-lab/tcp-info/inetdiag"
)

// The BBRParams struct contains the BBR state reported by ss.
type BBRParams struct {
	// BW is the max-filtered bandwidth estimate in bits per second.
	BW int64 `json:"bw_bps"`

	// MinRTT is the min-filtered RTT in milliseconds.
	MinRTT float64 `json:"mrtt_ms"`

	// PacingGain is the current pacing gain.
	PacingGain float64 `json:"pacing_gain"`

	// CwndGain is the current cwnd gain.
	CwndGain float64 `json:"cwnd_gain"`
}

// ToInetDiag converts to the kernel representation used by tcp-info, where
// bandwidth is in bytes per second, the RTT in microseconds and the gains
// are fixed point values shifted left by 8 bits.
func (b *BBRParams) ToInetDiag() inetdiag.BBRInfo {
	return inetdiag.BBRInfo{
		BW:         b.BW / 8,
		MinRTT:     uint32(math.Round(b.MinRTT * 1000)),
		PacingGain: uint32(math.Round(b.PacingGain * 256)),
		CwndGain:   uint32(math.Round(b.CwndGain * 256)),
	}
}

// The CubicParams struct marks a CUBIC connection. The kernel does not
// export CUBIC internals through inet_diag, so ss prints none; the generic
// window fields of the record (Cwnd, Ssthresh) carry the CUBIC state.
type CubicParams struct{}
