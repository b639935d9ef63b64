package model

import (
	"testing"
)

func TestConnectionRecord_ToLinuxTCPInfo(t *testing.T) {
	r := &ConnectionRecord{
		Flags:           []string{"ts", "sack", "app_limited"},
		WscaleLocal:     6,
		WscaleRemote:    10,
		RTO:             237,
		RTT:             36.788,
		RTTVar:          3.994,
		MinRTT:          30.236,
		Cwnd:            42,
		PacingRateBps:   8000,
		DeliveryRateBps: 16000,
		BusyMs:          12,
		SegsOut:         7,
	}
	info := r.ToLinuxTCPInfo()
	if info.RTO != 237000 {
		t.Errorf("RTO = %d, want 237000", info.RTO)
	}
	if info.RTT != 36788 || info.RTTVar != 3994 {
		t.Errorf("RTT/RTTVar = %d/%d, want 36788/3994", info.RTT, info.RTTVar)
	}
	if info.MinRTT != 30236 {
		t.Errorf("MinRTT = %d, want 30236", info.MinRTT)
	}
	if info.WScale != 6|10<<4 {
		t.Errorf("WScale = %#x, want %#x", info.WScale, 6|10<<4)
	}
	if info.Options != optTimestamps|optSack|optWscale {
		t.Errorf("Options = %#x", info.Options)
	}
	if info.AppLimited != 1 {
		t.Error("AppLimited should be set")
	}
	if info.PacingRate != 1000 || info.DeliveryRate != 2000 {
		t.Errorf("rates = %d/%d, want bytes per second", info.PacingRate, info.DeliveryRate)
	}
	if info.BusyTime != 12000 {
		t.Errorf("BusyTime = %d, want usec", info.BusyTime)
	}
	if info.SndCwnd != 42 || info.SegsOut != 7 {
		t.Errorf("SndCwnd/SegsOut = %d/%d", info.SndCwnd, info.SegsOut)
	}
}

func TestBBRParams_ToInetDiag(t *testing.T) {
	b := &BBRParams{
		BW:         4762104,
		MinRTT:     30.236,
		PacingGain: 2.88672,
		CwndGain:   2,
	}
	d := b.ToInetDiag()
	if d.BW != 595263 {
		t.Errorf("BW = %d, want 595263", d.BW)
	}
	if d.MinRTT != 30236 {
		t.Errorf("MinRTT = %d, want 30236", d.MinRTT)
	}
	if d.PacingGain != 739 {
		t.Errorf("PacingGain = %d, want 739", d.PacingGain)
	}
	if d.CwndGain != 512 {
		t.Errorf("CwndGain = %d, want 512", d.CwndGain)
	}
}

func TestClassifyAlgorithm(t *testing.T) {
	tests := []struct {
		name  string
		want  CongestionAlgorithm
		known bool
	}{
		{"bbr", AlgorithmBBR, true},
		{" BBR ", AlgorithmBBR, true},
		{"Cubic", AlgorithmCubic, true},
		{"dctcp", AlgorithmOther, true},
		{"rto", "", false},
	}
	for _, tt := range tests {
		got, ok := ClassifyAlgorithm(tt.name)
		if got != tt.want || ok != tt.known {
			t.Errorf("ClassifyAlgorithm(%q) = %q, %v; want %q, %v", tt.name, got, ok, tt.want, tt.known)
		}
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		ep     Endpoint
		str    string
		mapped string
	}{
		{Endpoint{Addr: "::ffff:140.82.23.101", Port: 5202}, "[::ffff:140.82.23.101]:5202", "140.82.23.101:5202"},
		{Endpoint{Addr: "10.0.0.1", Port: 22}, "10.0.0.1:22", "10.0.0.1:22"},
		{Endpoint{Addr: "fe80::1%eth0", Port: 443}, "[fe80::1]%eth0:443", "[fe80::1%eth0]:443"},
	}
	for _, tt := range tests {
		if got := tt.ep.String(); got != tt.str {
			t.Errorf("String() = %q, want %q", got, tt.str)
		}
		ap, ok := tt.ep.AddrPort()
		if !ok || ap.String() != tt.mapped {
			t.Errorf("AddrPort() = %v, %v; want %q", ap, ok, tt.mapped)
		}
	}
	if _, ok := (Endpoint{Addr: "*", Port: 0}).AddrPort(); ok {
		t.Error("wildcard should not convert to AddrPort")
	}
}
