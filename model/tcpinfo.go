package model

import (
	"math"

	"github.com/m-lab/tcp-info/tcp"
)

// Option bits of tcpi_options, see include/uapi/linux/tcp.h.
const (
	optTimestamps = 1
	optSack       = 2
	optWscale     = 4
	optECN        = 8
	optECNSeen    = 16
	optSynData    = 32
)

func usec(ms float64) uint32 {
	return uint32(math.Round(ms * 1000))
}

// ToLinuxTCPInfo returns the subset of TCP_INFO that ss exposes, in the
// kernel units used by github.com/m-lab/tcp-info. This lets sstrace output
// be compared with tcp-info archives. Fields ss does not print stay zero.
func (r *ConnectionRecord) ToLinuxTCPInfo() tcp.LinuxTCPInfo {
	var opts uint8
	for flag, bit := range map[string]uint8{
		"ts":       optTimestamps,
		"sack":     optSack,
		"ecn":      optECN,
		"ecnseen":  optECNSeen,
		"fastopen": optSynData,
	} {
		if r.HasFlag(flag) {
			opts |= bit
		}
	}
	if r.WscaleLocal != 0 || r.WscaleRemote != 0 {
		opts |= optWscale
	}
	var appLimited uint8
	if r.HasFlag("app_limited") {
		appLimited = 1
	}
	info := tcp.LinuxTCPInfo{
		Backoff:    uint8(r.Backoff),
		Options:    opts,
		WScale:     uint8(r.WscaleLocal&0xf) | uint8(r.WscaleRemote&0xf)<<4,
		AppLimited: appLimited,

		RTO:    usec(r.RTO),
		ATO:    usec(r.ATO),
		SndMSS: uint32(r.MSS),
		RcvMSS: uint32(r.RcvMSS),

		Unacked: uint32(r.Unacked),
		Sacked:  uint32(r.Sacked),
		Lost:    uint32(r.Lost),
		Retrans: uint32(r.Retrans),
		Fackets: uint32(r.Fackets),

		LastDataSent: uint32(r.LastSnd),
		LastDataRecv: uint32(r.LastRcv),
		LastAckRecv:  uint32(r.LastAck),

		PMTU:        uint32(r.PMTU),
		RcvSsThresh: uint32(r.RcvSsthresh),
		RTT:         usec(r.RTT),
		RTTVar:      usec(r.RTTVar),
		SndSsThresh: uint32(r.Ssthresh),
		SndCwnd:     uint32(r.Cwnd),
		AdvMSS:      uint32(r.AdvMSS),
		Reordering:  uint32(r.Reordering),

		RcvRTT:   usec(r.RcvRTT),
		RcvSpace: uint32(r.RcvSpace),

		TotalRetrans: uint32(r.RetransTotal),

		PacingRate:    r.PacingRateBps / 8,
		MaxPacingRate: r.MaxPacingRateBps / 8,

		BytesAcked:    r.BytesAcked,
		BytesReceived: r.BytesReceived,
		SegsOut:       int32(r.SegsOut),
		SegsIn:        int32(r.SegsIn),

		NotsentBytes: uint32(r.Notsent),
		MinRTT:       usec(r.MinRTT),
		DataSegsIn:   uint32(r.DataSegsIn),
		DataSegsOut:  uint32(r.DataSegsOut),

		DeliveryRate: r.DeliveryRateBps / 8,

		BusyTime:      r.BusyMs * 1000,
		RWndLimited:   r.RwndLimitedMs * 1000,
		SndBufLimited: r.SndbufLimitedMs * 1000,

		Delivered:   uint32(r.Delivered),
		DeliveredCE: uint32(r.DeliveredCE),

		BytesSent:    r.BytesSent,
		BytesRetrans: r.BytesRetrans,
		DSackDups:    uint32(r.DsackDups),
		ReordSeen:    uint32(r.ReordSeen),
	}
	return info
}
