package model

import "strings"

// CongestionAlgorithm selects which algorithm-specific block of a
// ConnectionRecord is populated.
type CongestionAlgorithm string

// Congestion control variants.
const (
	AlgorithmNone  = CongestionAlgorithm("none")
	AlgorithmBBR   = CongestionAlgorithm("bbr")
	AlgorithmCubic = CongestionAlgorithm("cubic")
	AlgorithmOther = CongestionAlgorithm("other")
)

// knownAlgorithms lists the congestion control modules shipped with Linux
// that ss may print as a bare word.
var knownAlgorithms = map[string]CongestionAlgorithm{
	"bbr":       AlgorithmBBR,
	"bbr2":      AlgorithmBBR,
	"bbr3":      AlgorithmBBR,
	"cubic":     AlgorithmCubic,
	"bic":       AlgorithmOther,
	"cdg":       AlgorithmOther,
	"dctcp":     AlgorithmOther,
	"highspeed": AlgorithmOther,
	"htcp":      AlgorithmOther,
	"hybla":     AlgorithmOther,
	"illinois":  AlgorithmOther,
	"lp":        AlgorithmOther,
	"nv":        AlgorithmOther,
	"reno":      AlgorithmOther,
	"scalable":  AlgorithmOther,
	"vegas":     AlgorithmOther,
	"veno":      AlgorithmOther,
	"westwood":  AlgorithmOther,
	"yeah":      AlgorithmOther,
}

// NormalizeAlgorithmName trims and lower-cases a congestion control name.
func NormalizeAlgorithmName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ClassifyAlgorithm returns the variant for the given congestion control
// name and whether the name is a known Linux congestion control module.
func ClassifyAlgorithm(name string) (CongestionAlgorithm, bool) {
	a, ok := knownAlgorithms[NormalizeAlgorithmName(name)]
	return a, ok
}
