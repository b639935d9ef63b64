package ssparse

import (
	"strconv"
	"strings"

	"github.com/m-lab/sstrace/model"
)

// Format renders r in the single-line form ss prints for one connection.
// Zero valued fields are omitted, so Parse(Format(r)) yields r for every
// record produced by Parse.
func Format(r *model.ConnectionRecord) string {
	parts := make([]string, 0, 64)
	if r.State != "" {
		parts = append(parts, r.State)
	}
	parts = append(parts,
		strconv.FormatInt(r.RecvQ, 10),
		strconv.FormatInt(r.SendQ, 10),
		r.Local.String(),
		r.Remote.String(),
	)
	appendFields := func(socket bool) {
		for i := range fields {
			f := &fields[i]
			if f.socket != socket {
				continue
			}
			v := f.format(r)
			if v == "" {
				continue
			}
			if f.syntax == spaced {
				parts = append(parts, f.key, v)
			} else {
				parts = append(parts, f.key+":"+v)
			}
		}
	}
	appendFields(true)
	parts = append(parts, r.Flags...)
	if r.CongestionName != "" {
		parts = append(parts, r.CongestionName)
	}
	appendFields(false)
	for _, nv := range r.ExtraFields {
		if nv.Value == "" {
			parts = append(parts, nv.Name)
		} else {
			parts = append(parts, nv.Name+":"+nv.Value)
		}
	}
	return strings.Join(parts, " ")
}
