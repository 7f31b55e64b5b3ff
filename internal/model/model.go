package model

import (
	"time"

	"github.com/samber/mo"

	"promocal/internal/recurrence"
)

// City groups stores; listings are requested per city.
type City struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Store is the shop a promotion belongs to.
type Store struct {
	ID        string  `json:"id"`
	CityID    string  `json:"cityId"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Contact   string  `json:"contact"`
	MenuURL   string  `json:"menuUrl"`
	Website   string  `json:"website"`
	Instagram string  `json:"instagram"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Promotion is a promotion record as handed out by a promotion source,
// already localized to the requested locale.
type Promotion struct {
	ID      string
	StoreID string
	// ExternalUID is set for promotions imported from a store's ICS feed.
	ExternalUID string

	StoreName      string
	StoreLatitude  float64
	StoreLongitude float64

	Title       string
	Description string

	StartsAt time.Time
	EndsAt   *time.Time

	Recurring bool
	// Frequency is the raw stored value; it is validated on expansion so
	// that bad rows surface as errors instead of silently disappearing.
	Frequency string
}

// Descriptor converts the record into the input of the occurrence expander.
func (p Promotion) Descriptor() recurrence.Descriptor {
	d := recurrence.Descriptor{
		AnchorStart: p.StartsAt,
		AnchorEnd:   mo.None[time.Time](),
		Recurring:   p.Recurring,
	}
	if p.EndsAt != nil {
		d.AnchorEnd = mo.Some(*p.EndsAt)
	}
	if p.Recurring {
		if f, err := recurrence.ParseFrequency(p.Frequency); err == nil {
			d.Frequency = f
		} else {
			// Keep the raw value so validation reports what was stored.
			d.Frequency = recurrence.Frequency(p.Frequency)
		}
	}
	return d
}

// PromotionOccurrence is one dated instance of a promotion, tagged with the
// parent's metadata. It is derived per request and never stored.
type PromotionOccurrence struct {
	PromotionID string     `json:"promotionId"`
	StoreID     string     `json:"storeId"`
	StoreName   string     `json:"storeName"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Recurring   bool       `json:"recurring"`
	Frequency   string     `json:"frequency,omitempty"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`

	// InstanceKey uniquely identifies the occurrence within its promotion,
	// derived from the start time.
	InstanceKey string `json:"instanceKey"`
}

// NewPromotionOccurrence projects one expanded occurrence of p.
func NewPromotionOccurrence(p Promotion, occ recurrence.Occurrence, loc *time.Location) PromotionOccurrence {
	if loc == nil {
		loc = time.Local
	}
	start := occ.Start.In(loc)
	out := PromotionOccurrence{
		PromotionID: p.ID,
		StoreID:     p.StoreID,
		StoreName:   p.StoreName,
		Title:       p.Title,
		Description: p.Description,
		Recurring:   p.Recurring,
		Start:       start,
		Latitude:    p.StoreLatitude,
		Longitude:   p.StoreLongitude,
		InstanceKey: start.UTC().Format(time.RFC3339Nano),
	}
	if p.Recurring {
		out.Frequency = p.Descriptor().Frequency.String()
	}
	if end, ok := occ.End.Get(); ok {
		e := end.In(loc)
		out.End = &e
	}
	return out
}
