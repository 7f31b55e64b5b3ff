package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"
)

var (
	// ErrInvalidWindow is returned for a window with a missing bound or with
	// From after To.
	ErrInvalidWindow = errors.New("recurrence: invalid window")
	// ErrInvalidRecurrenceFrequency is returned when a recurring descriptor
	// carries a missing or unknown frequency.
	ErrInvalidRecurrenceFrequency = errors.New("recurrence: invalid recurrence frequency")
	// ErrMissingAnchor is returned when the descriptor has no start timestamp.
	ErrMissingAnchor = errors.New("recurrence: missing anchor start")
	// ErrInvalidDuration is returned when the anchor ends before it starts.
	ErrInvalidDuration = errors.New("recurrence: anchor end before anchor start")
)

// Descriptor is the recurrence-relevant part of a promotion.
type Descriptor struct {
	// AnchorStart is the original start; every occurrence is computed from it.
	AnchorStart time.Time
	// AnchorEnd is the original end, if any. Its distance from AnchorStart is
	// the duration applied to every occurrence.
	AnchorEnd mo.Option[time.Time]

	Recurring bool
	// Frequency is only consulted when Recurring is true.
	Frequency Frequency
}

// Validate reports whether the descriptor can be expanded.
func (d Descriptor) Validate() error {
	if d.AnchorStart.IsZero() {
		return ErrMissingAnchor
	}
	if end, ok := d.AnchorEnd.Get(); ok && end.Before(d.AnchorStart) {
		return fmt.Errorf("%w: start=%s end=%s", ErrInvalidDuration,
			d.AnchorStart.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if d.Recurring && !d.Frequency.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRecurrenceFrequency, string(d.Frequency))
	}
	return nil
}

// duration returns the fixed occurrence length, if the anchor has an end.
func (d Descriptor) duration() mo.Option[time.Duration] {
	end, ok := d.AnchorEnd.Get()
	if !ok {
		return mo.None[time.Duration]()
	}
	return mo.Some(end.Sub(d.AnchorStart))
}

// Window is an inclusive [From, To] range of instants.
type Window struct {
	From time.Time
	To   time.Time
}

// DateWindow builds a window covering the calendar days from..to (both
// inclusive) in loc. A nil loc means time.Local.
func DateWindow(from, to time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.Local
	}
	from = from.In(loc)
	to = to.In(loc)
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
	return Window{From: start, To: end}
}

// Validate rejects windows with a zero bound or an inverted range.
func (w Window) Validate() error {
	if w.From.IsZero() || w.To.IsZero() {
		return fmt.Errorf("%w: both bounds are required", ErrInvalidWindow)
	}
	if w.From.After(w.To) {
		return fmt.Errorf("%w: from %s is after to %s", ErrInvalidWindow,
			w.From.Format(time.RFC3339), w.To.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether t lies within the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// Occurrence is one projected instance of a descriptor.
type Occurrence struct {
	Start time.Time
	// End is unset when the anchor has no end.
	End mo.Option[time.Time]
}
