package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "promocal/internal/log"
	"promocal/internal/recurrence"
)

// ErrUnsupportedRule marks an RRULE that has no promotion frequency
// equivalent, e.g. COUNT, UNTIL, BYxxx lists or an INTERVAL other than
// 1 (or 2 for weekly).
var ErrUnsupportedRule = errors.New("unsupported recurrence rule")

// Draft is a promotion read from a feed, ready to be upserted.
type Draft struct {
	UID         string
	Summary     string
	Description string
	Location    string

	Start time.Time
	End   *time.Time

	Recurring bool
	Frequency recurrence.Frequency
}

// ParsePromotions maps the VEVENTs of body to drafts. Floating times (no
// TZID, no Z suffix) are read in loc. Events without UID or DTSTART, and
// events whose RRULE is unsupported, are logged and skipped.
func ParsePromotions(feed Feed, body []byte, loc *time.Location) ([]Draft, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.ID, err)
	}

	drafts := make([]Draft, 0)
	for _, ev := range cal.Events() {
		d, err := parseEvent(ev, loc)
		if err != nil {
			appLog.Warn("feed event skipped",
				"feed_id", feed.ID,
				"uid", propertyValue(ev, ical.ComponentPropertyUniqueId),
				"error", err.Error(),
			)
			continue
		}
		drafts = append(drafts, d)
	}

	appLog.Debug("feed parsed", "feed_id", feed.ID, "events", len(drafts))
	return drafts, nil
}

func parseEvent(ev *ical.VEvent, loc *time.Location) (Draft, error) {
	d := Draft{
		UID:         propertyValue(ev, ical.ComponentPropertyUniqueId),
		Summary:     propertyValue(ev, ical.ComponentPropertySummary),
		Description: propertyValue(ev, ical.ComponentPropertyDescription),
		Location:    propertyValue(ev, ical.ComponentPropertyLocation),
	}
	if d.UID == "" {
		return d, errors.New("missing UID")
	}

	start, err := ev.GetStartAt()
	if err != nil {
		return d, fmt.Errorf("DTSTART: %w", err)
	}
	d.Start = inFeedLocation(ev.GetProperty(ical.ComponentPropertyDtStart), start, loc)

	if end, err := ev.GetEndAt(); err == nil {
		end = inFeedLocation(ev.GetProperty(ical.ComponentPropertyDtEnd), end, loc)
		if end.Before(d.Start) {
			return d, recurrence.ErrInvalidDuration
		}
		d.End = &end
	}

	if raw := propertyValue(ev, ical.ComponentPropertyRrule); raw != "" {
		f, err := ruleFrequency(raw)
		if err != nil {
			return d, err
		}
		d.Recurring = true
		d.Frequency = f
	}
	return d, nil
}

// ruleFrequency maps an RRULE value onto a promotion frequency.
func ruleFrequency(raw string) (recurrence.Frequency, error) {
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnsupportedRule, raw, err)
	}
	if opt.Count != 0 || !opt.Until.IsZero() ||
		len(opt.Bysetpos) > 0 || len(opt.Bymonth) > 0 || len(opt.Bymonthday) > 0 ||
		len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 || len(opt.Byweekday) > 0 ||
		len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 ||
		len(opt.Byeaster) > 0 {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedRule, raw)
	}

	interval := opt.Interval
	if interval == 0 {
		interval = 1
	}
	switch {
	case opt.Freq == rrule.DAILY && interval == 1:
		return recurrence.Daily, nil
	case opt.Freq == rrule.WEEKLY && interval == 1:
		return recurrence.Weekly, nil
	case opt.Freq == rrule.WEEKLY && interval == 2:
		return recurrence.Biweekly, nil
	case opt.Freq == rrule.MONTHLY && interval == 1:
		return recurrence.Monthly, nil
	case opt.Freq == rrule.YEARLY && interval == 1:
		return recurrence.Annually, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedRule, raw)
}

// inFeedLocation re-reads a floating time in loc; the parser would
// otherwise use the process's local zone.
func inFeedLocation(prop *ical.IANAProperty, t time.Time, loc *time.Location) time.Time {
	if prop == nil {
		return t
	}
	if _, ok := prop.ICalParameters["TZID"]; ok || strings.HasSuffix(prop.Value, "Z") {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

func propertyValue(ev *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ev.GetProperty(p); prop != nil {
		return strings.TrimSpace(prop.Value)
	}
	return ""
}
