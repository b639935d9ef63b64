package ssparse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/m-lab/sstrace/model"
	"github.com/m-lab/uuid"
)

type rec = model.ConnectionRecord

// syntax describes how a key and its value are laid out.
type syntax int

const (
	// colon is "key:value".
	colon syntax = iota
	// spaced is "key value", i.e. the value is the next token.
	spaced
)

// field describes one known ss key. parse decodes the value into the
// record; format renders it back and returns "" when the field is absent.
type field struct {
	key    string
	syntax syntax
	socket bool
	parse  func(r *rec, value string) error
	format func(r *rec) string
}

func intField(key string, get func(r *rec) *int64) field {
	return field{
		key: key,
		parse: func(r *rec, v string) error {
			n, err := parseInt(v)
			*get(r) = n
			return err
		},
		format: func(r *rec) string {
			if n := *get(r); n != 0 {
				return strconv.FormatInt(n, 10)
			}
			return ""
		},
	}
}

func msField(key string, get func(r *rec) *float64) field {
	return field{
		key: key,
		parse: func(r *rec, v string) error {
			f, err := parseFloat(v)
			*get(r) = f
			return err
		},
		format: func(r *rec) string {
			if f := *get(r); f != 0 {
				return formatFloat(f)
			}
			return ""
		},
	}
}

func rateField(key string, get func(r *rec) *int64) field {
	return field{
		key:    key,
		syntax: spaced,
		parse: func(r *rec, v string) error {
			n, err := parseRate(v)
			*get(r) = n
			return err
		},
		format: func(r *rec) string {
			if n := *get(r); n != 0 {
				return formatRate(n)
			}
			return ""
		},
	}
}

// limitedField decodes "12ms(3.4%)". The percentage is the share of busy
// time and is recomputed from BusyMs when formatting.
func limitedField(key string, get func(r *rec) *int64) field {
	return field{
		key: key,
		parse: func(r *rec, v string) error {
			ms, pct, ok := strings.Cut(v, "(")
			if !ok || !strings.HasSuffix(pct, "%)") {
				return fmt.Errorf("%w: want Nms(P%%)", errSyntax)
			}
			if _, err := parseFloat(strings.TrimSuffix(pct, "%)")); err != nil {
				return err
			}
			n, err := parseMs(ms)
			*get(r) = n
			return err
		},
		format: func(r *rec) string {
			n := *get(r)
			if n == 0 {
				return ""
			}
			pct := 0.0
			if r.BusyMs > 0 {
				pct = float64(n) * 100 / float64(r.BusyMs)
			}
			return fmt.Sprintf("%dms(%.1f%%)", n, pct)
		},
	}
}

// pairField decodes "a<sep>b" into two values.
func pairField[T int64 | float64](key, sep string, conv func(string) (T, error), render func(T) string, a, b func(r *rec) *T) field {
	return field{
		key: key,
		parse: func(r *rec, v string) error {
			parts, err := splitN(v, sep, 2)
			if err != nil {
				return err
			}
			if *a(r), err = conv(parts[0]); err != nil {
				return err
			}
			*b(r), err = conv(parts[1])
			return err
		},
		format: func(r *rec) string {
			if *a(r) == 0 && *b(r) == 0 {
				return ""
			}
			return render(*a(r)) + sep + render(*b(r))
		},
	}
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

func parseTimer(r *rec, v string) error {
	inner, err := unparen(v)
	if err != nil {
		return err
	}
	parts, err := splitN(inner, ",", 3)
	if err != nil {
		return err
	}
	t := &model.Timer{Name: parts[0]}
	if t.Name == "" {
		return fmt.Errorf("%w: empty timer name", errSyntax)
	}
	if t.RemainingMs, err = parseTimerMs(parts[1]); err != nil {
		return err
	}
	if t.Retransmits, err = parseInt(parts[2]); err != nil {
		return err
	}
	r.Timer = t
	return nil
}

func formatTimer(r *rec) string {
	if r.Timer == nil {
		return ""
	}
	return fmt.Sprintf("(%s,%s,%d)", r.Timer.Name, formatTimerMs(r.Timer.RemainingMs), r.Timer.Retransmits)
}

// parseCookie decodes the socket cookie printed by `ss -e` as sk:<hex> and
// derives the M-Lab connection UUID from it.
func parseCookie(r *rec, v string) error {
	cookie, err := strconv.ParseUint(v, 16, 64)
	if err != nil {
		return err
	}
	r.Cookie = v
	r.UUID = uuid.FromCookie(cookie)
	return nil
}

// skmemKeys lists the `ss -m` counters in print order. Kernels before 4.x
// do not report drops, so "d" may be missing.
var skmemKeys = []struct {
	prefix string
	get    func(m *model.SkMem) *int64
}{
	{"r", func(m *model.SkMem) *int64 { return &m.RmemAlloc }},
	{"rb", func(m *model.SkMem) *int64 { return &m.RcvBuf }},
	{"t", func(m *model.SkMem) *int64 { return &m.WmemAlloc }},
	{"tb", func(m *model.SkMem) *int64 { return &m.SndBuf }},
	{"f", func(m *model.SkMem) *int64 { return &m.FwdAlloc }},
	{"w", func(m *model.SkMem) *int64 { return &m.WmemQueued }},
	{"o", func(m *model.SkMem) *int64 { return &m.OptMem }},
	{"bl", func(m *model.SkMem) *int64 { return &m.Backlog }},
	{"d", func(m *model.SkMem) *int64 { return &m.Drops }},
}

func parseSkMem(r *rec, v string) error {
	inner, err := unparen(v)
	if err != nil {
		return err
	}
	m := &model.SkMem{}
	for _, item := range strings.Split(inner, ",") {
		i := strings.IndexFunc(item, func(c rune) bool { return c >= '0' && c <= '9' })
		if i <= 0 {
			return fmt.Errorf("%w: skmem item %q", errSyntax, item)
		}
		prefix := item[:i]
		found := false
		for _, k := range skmemKeys {
			if k.prefix == prefix {
				if *k.get(m), err = parseInt(item[i:]); err != nil {
					return err
				}
				found = true
				break
			}
		}
		if !found {
			return &UnknownFieldError{Field: "skmem." + prefix}
		}
	}
	r.SkMem = m
	return nil
}

func formatSkMem(r *rec) string {
	if r.SkMem == nil {
		return ""
	}
	items := make([]string, 0, len(skmemKeys))
	for _, k := range skmemKeys {
		items = append(items, k.prefix+formatInt(*k.get(r.SkMem)))
	}
	return "(" + strings.Join(items, ",") + ")"
}

// parseBBR decodes bbr:(bw:<rate>,mrtt:<ms>[,pacing_gain:<g>][,cwnd_gain:<g>]).
func parseBBR(r *rec, v string) error {
	inner, err := unparen(v)
	if err != nil {
		return err
	}
	b := &model.BBRParams{}
	seen := map[string]bool{}
	for _, item := range strings.Split(inner, ",") {
		key, val, ok := strings.Cut(item, ":")
		if !ok {
			return fmt.Errorf("%w: bbr item %q", errSyntax, item)
		}
		if seen[key] {
			return fmt.Errorf("%w: duplicate bbr item %q", errSyntax, key)
		}
		seen[key] = true
		switch key {
		case "bw":
			b.BW, err = parseRate(val)
		case "mrtt":
			b.MinRTT, err = parseFloat(val)
		case "pacing_gain":
			b.PacingGain, err = parseFloat(val)
		case "cwnd_gain":
			b.CwndGain, err = parseFloat(val)
		default:
			return &UnknownFieldError{Field: "bbr." + key}
		}
		if err != nil {
			return err
		}
	}
	if !seen["bw"] || !seen["mrtt"] {
		return fmt.Errorf("%w: bbr requires bw and mrtt", errArity)
	}
	switch r.CongestionAlgorithm {
	case model.AlgorithmCubic, model.AlgorithmOther:
		return fmt.Errorf("%w: bbr parameters on a %s connection", errSyntax, r.CongestionName)
	}
	r.BBR = b
	return nil
}

func formatBBR(r *rec) string {
	if r.BBR == nil {
		return ""
	}
	s := "(bw:" + formatRate(r.BBR.BW) + ",mrtt:" + formatFloat(r.BBR.MinRTT)
	if r.BBR.PacingGain != 0 {
		s += ",pacing_gain:" + formatFloat(r.BBR.PacingGain)
	}
	if r.BBR.CwndGain != 0 {
		s += ",cwnd_gain:" + formatFloat(r.BBR.CwndGain)
	}
	return s + ")"
}

func parseBusy(r *rec, v string) error {
	n, err := parseMs(v)
	r.BusyMs = n
	return err
}

func formatBusy(r *rec) string {
	if r.BusyMs == 0 {
		return ""
	}
	return formatInt(r.BusyMs) + "ms"
}

// parsePacing decodes "pacing_rate <rate>[/<max rate>]".
func parsePacing(r *rec, v string) error {
	cur, max, hasMax := strings.Cut(v, "/")
	var err error
	if r.PacingRateBps, err = parseRate(cur); err != nil {
		return err
	}
	if hasMax {
		r.MaxPacingRateBps, err = parseRate(max)
	}
	return err
}

func formatPacing(r *rec) string {
	if r.PacingRateBps == 0 && r.MaxPacingRateBps == 0 {
		return ""
	}
	s := formatRate(r.PacingRateBps)
	if r.MaxPacingRateBps != 0 {
		s += "/" + formatRate(r.MaxPacingRateBps)
	}
	return s
}

// fields lists every known key in the order ss prints them. Socket level
// keys come before the option flags and the congestion control name, info
// keys after.
var fields = []field{
	{key: "timer", socket: true, parse: parseTimer, format: formatTimer},
	withSocket(intField("uid", func(r *rec) *int64 { return &r.UID })),
	withSocket(intField("ino", func(r *rec) *int64 { return &r.Inode })),
	{key: "sk", socket: true, parse: parseCookie, format: func(r *rec) string { return r.Cookie }},
	{key: "skmem", socket: true, parse: parseSkMem, format: formatSkMem},

	pairField("wscale", ",", parseInt, formatInt,
		func(r *rec) *int64 { return &r.WscaleLocal }, func(r *rec) *int64 { return &r.WscaleRemote }),
	msField("rto", func(r *rec) *float64 { return &r.RTO }),
	intField("backoff", func(r *rec) *int64 { return &r.Backoff }),
	pairField("rtt", "/", parseFloat, formatFloat,
		func(r *rec) *float64 { return &r.RTT }, func(r *rec) *float64 { return &r.RTTVar }),
	msField("ato", func(r *rec) *float64 { return &r.ATO }),
	intField("mss", func(r *rec) *int64 { return &r.MSS }),
	intField("pmtu", func(r *rec) *int64 { return &r.PMTU }),
	intField("rcvmss", func(r *rec) *int64 { return &r.RcvMSS }),
	intField("advmss", func(r *rec) *int64 { return &r.AdvMSS }),
	intField("cwnd", func(r *rec) *int64 { return &r.Cwnd }),
	intField("ssthresh", func(r *rec) *int64 { return &r.Ssthresh }),
	intField("bytes_sent", func(r *rec) *int64 { return &r.BytesSent }),
	intField("bytes_retrans", func(r *rec) *int64 { return &r.BytesRetrans }),
	intField("bytes_acked", func(r *rec) *int64 { return &r.BytesAcked }),
	intField("bytes_received", func(r *rec) *int64 { return &r.BytesReceived }),
	intField("segs_out", func(r *rec) *int64 { return &r.SegsOut }),
	intField("segs_in", func(r *rec) *int64 { return &r.SegsIn }),
	intField("data_segs_out", func(r *rec) *int64 { return &r.DataSegsOut }),
	intField("data_segs_in", func(r *rec) *int64 { return &r.DataSegsIn }),
	{key: "bbr", parse: parseBBR, format: formatBBR},
	rateField("send", func(r *rec) *int64 { return &r.SendBps }),
	intField("lastsnd", func(r *rec) *int64 { return &r.LastSnd }),
	intField("lastrcv", func(r *rec) *int64 { return &r.LastRcv }),
	intField("lastack", func(r *rec) *int64 { return &r.LastAck }),
	{key: "pacing_rate", syntax: spaced, parse: parsePacing, format: formatPacing},
	rateField("delivery_rate", func(r *rec) *int64 { return &r.DeliveryRateBps }),
	intField("delivered", func(r *rec) *int64 { return &r.Delivered }),
	intField("delivered_ce", func(r *rec) *int64 { return &r.DeliveredCE }),
	{key: "busy", parse: parseBusy, format: formatBusy},
	limitedField("rwnd_limited", func(r *rec) *int64 { return &r.RwndLimitedMs }),
	limitedField("sndbuf_limited", func(r *rec) *int64 { return &r.SndbufLimitedMs }),
	intField("unacked", func(r *rec) *int64 { return &r.Unacked }),
	pairField("retrans", "/", parseInt, formatInt,
		func(r *rec) *int64 { return &r.Retrans }, func(r *rec) *int64 { return &r.RetransTotal }),
	intField("lost", func(r *rec) *int64 { return &r.Lost }),
	intField("sacked", func(r *rec) *int64 { return &r.Sacked }),
	intField("dsack_dups", func(r *rec) *int64 { return &r.DsackDups }),
	intField("fackets", func(r *rec) *int64 { return &r.Fackets }),
	intField("reordering", func(r *rec) *int64 { return &r.Reordering }),
	intField("reord_seen", func(r *rec) *int64 { return &r.ReordSeen }),
	msField("rcv_rtt", func(r *rec) *float64 { return &r.RcvRTT }),
	intField("rcv_space", func(r *rec) *int64 { return &r.RcvSpace }),
	intField("rcv_ssthresh", func(r *rec) *int64 { return &r.RcvSsthresh }),
	intField("notsent", func(r *rec) *int64 { return &r.Notsent }),
	msField("minrtt", func(r *rec) *float64 { return &r.MinRTT }),
	intField("rcv_ooopack", func(r *rec) *int64 { return &r.RcvOooPack }),
	intField("snd_wnd", func(r *rec) *int64 { return &r.SndWnd }),
	intField("rcv_wnd", func(r *rec) *int64 { return &r.RcvWnd }),
}

func withSocket(f field) field {
	f.socket = true
	return f
}

// flags lists the bare option words. They are kept in input order.
var flags = map[string]bool{
	"ts":          true,
	"sack":        true,
	"ecn":         true,
	"ecnseen":     true,
	"fastopen":    true,
	"app_limited": true,
	"bidir":       true,
}

var fieldsByKey = func() map[string]*field {
	m := make(map[string]*field, len(fields))
	for i := range fields {
		m[fields[i].key] = &fields[i]
	}
	return m
}()
