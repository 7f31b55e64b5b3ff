package ics

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"promocal/internal/model"
)

const defaultProductID = "-//promocal//promotions//EN"

// EncodeOptions describes the calendar wrapping exported occurrences.
type EncodeOptions struct {
	// Name is published as X-WR-CALNAME when set.
	Name      string
	ProductID string
	// Stamp is written as DTSTAMP of every event. Zero means now.
	Stamp time.Time
}

// Encode writes occurrences as a VCALENDAR with one VEVENT each. The UID of
// an event is "<promotion id>/<instance key>" so clients keep recurring
// instances apart.
func Encode(w io.Writer, occurrences []model.PromotionOccurrence, opts EncodeOptions) error {
	if opts.ProductID == "" {
		opts.ProductID = defaultProductID
	}
	if opts.Stamp.IsZero() {
		opts.Stamp = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetProductId(opts.ProductID)
	cal.SetMethod(ical.MethodPublish)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	for _, occ := range occurrences {
		ev := cal.AddEvent(occ.PromotionID + "/" + occ.InstanceKey)
		ev.SetDtStampTime(opts.Stamp)
		ev.SetStartAt(occ.Start)
		if occ.End != nil {
			ev.SetEndAt(*occ.End)
		}
		ev.SetSummary(occ.Title)
		if occ.Description != "" {
			ev.SetDescription(occ.Description)
		}
		if occ.StoreName != "" {
			ev.SetLocation(occ.StoreName)
		}
		if occ.Latitude != 0 || occ.Longitude != 0 {
			ical.SetGeo(ev, occ.Latitude, occ.Longitude)
		}
	}

	return cal.SerializeTo(w)
}
