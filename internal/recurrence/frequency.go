package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Frequency is the named repeat interval of a recurring promotion.
type Frequency string

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
	Annually Frequency = "annually"
)

// Frequencies lists every supported frequency in ascending interval order.
var Frequencies = []Frequency{Daily, Weekly, Biweekly, Monthly, Annually}

var frequencyAliases = map[string]Frequency{
	"daily":       Daily,
	"weekly":      Weekly,
	"biweekly":    Biweekly,
	"fortnightly": Biweekly,
	"monthly":     Monthly,
	"annually":    Annually,
	"yearly":      Annually,
}

// ParseFrequency maps a stored or user-supplied name to a Frequency.
// Matching ignores case and surrounding whitespace.
func ParseFrequency(s string) (Frequency, error) {
	f, ok := frequencyAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecurrenceFrequency, s)
	}
	return f, nil
}

// Valid reports whether f is one of the canonical frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Biweekly, Monthly, Annually:
		return true
	}
	return false
}

func (f Frequency) String() string {
	return string(f)
}

// ruleOption builds the rrule anchored at anchor for f, bounded by until.
// rrule-go caps an unbounded rule a few centuries after its start, so the
// bound is always set.
//
// Monthly anchors on day 29-31 and annual anchors on Feb 29 are expressed as
// "last matching day of the period" so that short months clamp to their
// final day instead of being skipped, which is what a plain RFC 5545 rule
// would do.
func (f Frequency) ruleOption(anchor, until time.Time) (rrule.ROption, error) {
	opt := rrule.ROption{Dtstart: anchor, Until: until, Interval: 1}

	switch f {
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekly:
		opt.Freq = rrule.WEEKLY
	case Biweekly:
		opt.Freq = rrule.WEEKLY
		opt.Interval = 2
	case Monthly:
		opt.Freq = rrule.MONTHLY
		if day := anchor.Day(); day > 28 {
			opt.Bymonthday = daysFrom(28, day)
			opt.Bysetpos = []int{-1}
		}
	case Annually:
		opt.Freq = rrule.YEARLY
		if anchor.Month() == time.February && anchor.Day() == 29 {
			opt.Bymonth = []int{int(time.February)}
			opt.Bymonthday = []int{28, 29}
			opt.Bysetpos = []int{-1}
		}
	default:
		return rrule.ROption{}, fmt.Errorf("%w: %q", ErrInvalidRecurrenceFrequency, string(f))
	}

	return opt, nil
}

func daysFrom(first, last int) []int {
	days := make([]int, 0, last-first+1)
	for d := first; d <= last; d++ {
		days = append(days, d)
	}
	return days
}
