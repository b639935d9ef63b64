// Package ssparse decodes the text printed by `ss -tinmoe` into
// ConnectionRecords and renders records back into that text.
package ssparse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/m-lab/sstrace/metadata"
	"github.com/m-lab/sstrace/model"
)

// DefaultExtraFields lists the ss keys that are accepted without a dedicated
// record field. They are stored verbatim in ConnectionRecord.ExtraFields.
var DefaultExtraFields = []string{
	"users",
	"cgroup",
	"tos",
	"tclass",
	"class_id",
	"qack",
	"dctcp",
	"fwmark",
	"rehash",
	// Shutdown state markers printed by `ss -e`.
	"<->",
	"<--",
	"-->",
	"---",
}

// Parser decodes ss output. The zero value rejects every key without a
// dedicated field; use NewParser to accept the default extras.
type Parser struct {
	extra map[string]bool
}

// NewParser returns a Parser accepting DefaultExtraFields plus the given
// keys as extra fields.
func NewParser(extra ...string) *Parser {
	p := &Parser{extra: map[string]bool{}}
	for _, k := range DefaultExtraFields {
		p.extra[k] = true
	}
	for _, k := range extra {
		if k = strings.TrimSpace(k); k != "" {
			p.extra[k] = true
		}
	}
	return p
}

// Parse decodes all connections contained in raw. Empty output yields no
// records and no error. The first segment that fails to decode aborts the
// parse and its error is returned; callers keep raw verbatim in that case.
func (p *Parser) Parse(raw string) ([]model.ConnectionRecord, error) {
	var records []model.ConnectionRecord
	for _, segment := range Split(raw) {
		r, err := p.ParseSegment(segment)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, nil
}

// ParseSegment decodes the text of a single connection.
func (p *Parser) ParseSegment(segment string) (*model.ConnectionRecord, error) {
	tokens := tokenize(segment)
	r := &model.ConnectionRecord{CongestionAlgorithm: model.AlgorithmNone}
	rest, err := parseSummary(r, tokens)
	if err != nil {
		return nil, &MalformedFieldError{Field: "summary", Value: strings.Join(tokens, " "), RawSegment: segment, Err: err}
	}
	seen := map[string]bool{}
	for i := 0; i < len(rest); i++ {
		tok := rest[i]
		key, value, hasValue := strings.Cut(tok, ":")
		f, known := fieldsByKey[key]
		switch {
		case !hasValue && flags[tok]:
			r.Flags = append(r.Flags, tok)
			continue
		case !hasValue && r.CongestionName == "" && isAlgorithm(tok):
			r.CongestionName = model.NormalizeAlgorithmName(tok)
			r.CongestionAlgorithm, _ = model.ClassifyAlgorithm(tok)
			if r.BBR != nil && r.CongestionAlgorithm != model.AlgorithmBBR {
				return nil, &MalformedFieldError{Field: "bbr", Value: tok, RawSegment: segment,
					Err: fmt.Errorf("%w: bbr parameters on a %s connection", errSyntax, tok)}
			}
			continue
		case known && f.syntax == spaced && !hasValue:
			if i+1 >= len(rest) {
				return nil, &MalformedFieldError{Field: key, RawSegment: segment, Err: errArity}
			}
			i++
			value = rest[i]
		case known && f.syntax == colon && hasValue:
		case known:
			return nil, &MalformedFieldError{Field: key, Value: tok, RawSegment: segment,
				Err: fmt.Errorf("%w: %s written in the wrong form", errSyntax, key)}
		case p.extra[key]:
			r.ExtraFields = append(r.ExtraFields, metadata.NameValue{Name: key, Value: value})
			continue
		default:
			return nil, &UnknownFieldError{Field: key, RawSegment: segment}
		}
		if seen[key] {
			return nil, &MalformedFieldError{Field: key, Value: value, RawSegment: segment,
				Err: fmt.Errorf("%w: duplicate field", errSyntax)}
		}
		seen[key] = true
		if err := f.parse(r, value); err != nil {
			var u *UnknownFieldError
			if errors.As(err, &u) {
				u.RawSegment = segment
				return nil, u
			}
			return nil, &MalformedFieldError{Field: key, Value: value, RawSegment: segment, Err: err}
		}
	}
	if r.BBR != nil && r.CongestionName == "" {
		r.CongestionAlgorithm = model.AlgorithmBBR
	}
	if r.CongestionAlgorithm == model.AlgorithmCubic {
		r.Cubic = &model.CubicParams{}
	}
	return r, nil
}

func isAlgorithm(word string) bool {
	_, ok := model.ClassifyAlgorithm(word)
	return ok
}

// parseSummary decodes "[State] Recv-Q Send-Q Local Peer" and returns the
// remaining tokens.
func parseSummary(r *model.ConnectionRecord, tokens []string) ([]string, error) {
	if len(tokens) > 0 && states[tokens[0]] {
		r.State = tokens[0]
		tokens = tokens[1:]
	}
	if len(tokens) < 4 {
		return nil, fmt.Errorf("%w: short summary", errArity)
	}
	var err error
	if r.RecvQ, err = parseInt(tokens[0]); err != nil {
		return nil, err
	}
	if r.SendQ, err = parseInt(tokens[1]); err != nil {
		return nil, err
	}
	if r.Local, err = parseEndpoint(tokens[2]); err != nil {
		return nil, err
	}
	if r.Remote, err = parseEndpoint(tokens[3]); err != nil {
		return nil, err
	}
	return tokens[4:], nil
}

// parseEndpoint decodes "10.0.0.1:22", "[::1]:22", "[fe80::1]%eth0:22" or
// "*:*".
func parseEndpoint(s string) (model.Endpoint, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return model.Endpoint{}, fmt.Errorf("%w: endpoint %q has no port", errSyntax, s)
	}
	addr, port := s[:i], s[i+1:]
	ep := model.Endpoint{}
	if port != "*" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return model.Endpoint{}, err
		}
		ep.Port = int(n)
	}
	if strings.HasPrefix(addr, "[") {
		end := strings.Index(addr, "]")
		if end < 0 {
			return model.Endpoint{}, fmt.Errorf("%w: endpoint %q", errSyntax, s)
		}
		zone := addr[end+1:]
		addr = addr[1:end]
		if zone != "" {
			addr += zone
		}
	}
	if addr == "" {
		return model.Endpoint{}, fmt.Errorf("%w: endpoint %q has no address", errSyntax, s)
	}
	ep.Addr = addr
	return ep, nil
}
