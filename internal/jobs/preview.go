package jobs

import (
	"time"
)

// Preview returns up to n upcoming run times of def when registered at from.
// Interval occurrences follow the timer's re-arm rule; fixed-count jobs stop
// after Times runs.
func Preview(def Def, from time.Time, n int, loc *time.Location) ([]time.Time, error) {
	e, err := compile(newParser(), def, nopLogger)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}
	if def.Times != 0 && n > int(def.Times) {
		n = int(def.Times)
	}
	out := make([]time.Time, 0, n)
	at := from
	for len(out) < n {
		switch e.spec.Kind {
		case SpecInterval:
			at = at.Add(e.spec.Every)
		default:
			at = e.sched.Next(at.In(loc))
			if at.IsZero() {
				return out, nil
			}
		}
		out = append(out, at)
	}
	return out, nil
}
