package disposition

import (
	"callcenter/internal/calls"
	"callcenter/internal/sessions"
)

// ComputeDelta returns the signed counter change for moving a call from old (nil when the call
// had no disposition) to next. Counters touched by both sides net out and are omitted, so
// old == next yields an empty delta.
func ComputeDelta(old *calls.Disposition, next calls.Disposition) sessions.Delta {
	d := sessions.Delta{}
	if old != nil {
		for _, c := range sessions.CountersFor(*old) {
			d[c]--
		}
	}
	for _, c := range sessions.CountersFor(next) {
		d[c]++
	}
	for c, v := range d {
		if v == 0 {
			delete(d, c)
		}
	}
	return d
}

// Invert negates every entry; applying d then Invert(d) is a no-op.
func Invert(d sessions.Delta) sessions.Delta {
	out := make(sessions.Delta, len(d))
	for c, v := range d {
		out[c] = -v
	}
	return out
}
