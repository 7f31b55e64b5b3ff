package recurrence

import (
	"iter"
	"time"

	"github.com/samber/mo"
	"github.com/teambition/rrule-go"
)

// Occurrences validates d and w and returns the lazy sequence of occurrences
// of d inside w, in ascending start order.
//
// The sequence is restartable: every range over it regenerates the values
// from the anchor. Generation stops at the first start past w.To, so nothing
// beyond the window is ever produced.
func Occurrences(d Descriptor, w Window) (iter.Seq[Occurrence], error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	dur := d.duration()

	if !d.Recurring {
		return func(yield func(Occurrence) bool) {
			if w.Contains(d.AnchorStart) {
				yield(makeOccurrence(d.AnchorStart, dur))
			}
		}, nil
	}

	opt, err := d.Frequency.ruleOption(d.AnchorStart, w.To)
	if err != nil {
		return nil, err
	}
	// Fail now rather than inside the iterator.
	if _, err := rrule.NewRRule(opt); err != nil {
		return nil, err
	}

	// rrule works at second precision; carry the remainder over so the first
	// occurrence is exactly the anchor.
	frac := d.AnchorStart.Sub(d.AnchorStart.Truncate(time.Second))

	return func(yield func(Occurrence) bool) {
		// Anchors after the window can never produce anything.
		if d.AnchorStart.After(w.To) {
			return
		}
		r, err := rrule.NewRRule(opt)
		if err != nil {
			return
		}
		next := r.Iterator()
		for {
			t, ok := next()
			if !ok {
				return
			}
			t = t.Add(frac)
			if t.After(w.To) {
				return
			}
			if t.Before(w.From) {
				continue
			}
			if !yield(makeOccurrence(t, dur)) {
				return
			}
		}
	}, nil
}

// Expand is the materialized form of Occurrences. It returns an empty,
// non-nil slice when nothing falls in the window.
func Expand(d Descriptor, w Window) ([]Occurrence, error) {
	return ExpandLimit(d, w, 0)
}

// ExpandLimit is Expand stopped after limit occurrences. A limit of zero or
// less means no limit.
func ExpandLimit(d Descriptor, w Window, limit int) ([]Occurrence, error) {
	seq, err := Occurrences(d, w)
	if err != nil {
		return nil, err
	}
	out := make([]Occurrence, 0)
	for occ := range seq {
		out = append(out, occ)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func makeOccurrence(start time.Time, dur mo.Option[time.Duration]) Occurrence {
	occ := Occurrence{Start: start, End: mo.None[time.Time]()}
	if d, ok := dur.Get(); ok {
		occ.End = mo.Some(start.Add(d))
	}
	return occ
}
