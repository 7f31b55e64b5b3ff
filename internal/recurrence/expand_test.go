package recurrence

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func starts(occs []Occurrence) []time.Time {
	out := make([]time.Time, 0, len(occs))
	for _, o := range occs {
		out = append(out, o.Start)
	}
	return out
}

func TestExpand_Frequencies(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	january := DateWindow(day(2024, 1, 1), day(2024, 1, 31), time.UTC)

	tests := []struct {
		name     string
		desc     Descriptor
		window   Window
		expected []time.Time
	}{
		{
			name:   "weekly over january",
			desc:   Descriptor{AnchorStart: anchor, Recurring: true, Frequency: Weekly},
			window: january,
			expected: []time.Time{
				time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
				time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC),
				time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
				time.Date(2024, 1, 22, 10, 0, 0, 0, time.UTC),
				time.Date(2024, 1, 29, 10, 0, 0, 0, time.UTC),
			},
		},
		{
			name:   "biweekly over january",
			desc:   Descriptor{AnchorStart: anchor, Recurring: true, Frequency: Biweekly},
			window: january,
			expected: []time.Time{
				time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
				time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
				time.Date(2024, 1, 29, 10, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "daily across a month boundary",
			desc: Descriptor{
				AnchorStart: time.Date(2024, 1, 30, 18, 30, 0, 0, time.UTC),
				Recurring:   true,
				Frequency:   Daily,
			},
			window: DateWindow(day(2024, 1, 1), day(2024, 2, 2), time.UTC),
			expected: []time.Time{
				time.Date(2024, 1, 30, 18, 30, 0, 0, time.UTC),
				time.Date(2024, 1, 31, 18, 30, 0, 0, time.UTC),
				time.Date(2024, 2, 1, 18, 30, 0, 0, time.UTC),
				time.Date(2024, 2, 2, 18, 30, 0, 0, time.UTC),
			},
		},
		{
			name: "monthly on day 31 clamps in a leap year",
			desc: Descriptor{
				AnchorStart: time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC),
				Recurring:   true,
				Frequency:   Monthly,
			},
			window: DateWindow(day(2024, 2, 1), day(2024, 4, 30), time.UTC),
			expected: []time.Time{
				time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC),
				time.Date(2024, 3, 31, 9, 0, 0, 0, time.UTC),
				time.Date(2024, 4, 30, 9, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "monthly on day 31 clamps in a common year",
			desc: Descriptor{
				AnchorStart: time.Date(2023, 1, 31, 9, 0, 0, 0, time.UTC),
				Recurring:   true,
				Frequency:   Monthly,
			},
			window: DateWindow(day(2023, 2, 1), day(2023, 2, 28), time.UTC),
			expected: []time.Time{
				time.Date(2023, 2, 28, 9, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "monthly on day 30 keeps the 30th where it exists",
			desc: Descriptor{
				AnchorStart: time.Date(2024, 1, 30, 9, 0, 0, 0, time.UTC),
				Recurring:   true,
				Frequency:   Monthly,
			},
			window: DateWindow(day(2024, 1, 1), day(2024, 3, 31), time.UTC),
			expected: []time.Time{
				time.Date(2024, 1, 30, 9, 0, 0, 0, time.UTC),
				time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC),
				time.Date(2024, 3, 30, 9, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "monthly on an early day",
			desc: Descriptor{
				AnchorStart: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
				Recurring:   true,
				Frequency:   Monthly,
			},
			window: DateWindow(day(2024, 1, 1), day(2024, 3, 31), time.UTC),
			expected: []time.Time{
				time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
				time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC),
				time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "annually on leap day",
			desc: Descriptor{
				AnchorStart: time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC),
				Recurring:   true,
				Frequency:   Annually,
			},
			window: DateWindow(day(2024, 1, 1), day(2028, 12, 31), time.UTC),
			expected: []time.Time{
				time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC),
				time.Date(2025, 2, 28, 8, 0, 0, 0, time.UTC),
				time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC),
				time.Date(2027, 2, 28, 8, 0, 0, 0, time.UTC),
				time.Date(2028, 2, 29, 8, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "annually on an ordinary date",
			desc: Descriptor{
				AnchorStart: time.Date(2022, 11, 25, 0, 0, 0, 0, time.UTC),
				Recurring:   true,
				Frequency:   Annually,
			},
			window: DateWindow(day(2023, 1, 1), day(2024, 12, 31), time.UTC),
			expected: []time.Time{
				time.Date(2023, 11, 25, 0, 0, 0, 0, time.UTC),
				time.Date(2024, 11, 25, 0, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "anchor long before the window",
			desc: Descriptor{
				AnchorStart: time.Date(2023, 1, 2, 10, 0, 0, 0, time.UTC),
				Recurring:   true,
				Frequency:   Weekly,
			},
			window: january,
			expected: []time.Time{
				time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
				time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC),
				time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
				time.Date(2024, 1, 22, 10, 0, 0, 0, time.UTC),
				time.Date(2024, 1, 29, 10, 0, 0, 0, time.UTC),
			},
		},
		{
			name:     "window entirely before anchor",
			desc:     Descriptor{AnchorStart: anchor, Recurring: true, Frequency: Daily},
			window:   DateWindow(day(2023, 12, 1), day(2023, 12, 31), time.UTC),
			expected: []time.Time{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			occs, err := Expand(tt.desc, tt.window)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, starts(occs))
		})
	}
}

func TestExpand_NonRecurring(t *testing.T) {
	anchor := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		window Window
		count  int
	}{
		{"anchor inside", DateWindow(day(2024, 1, 1), day(2024, 1, 31), time.UTC), 1},
		{"anchor on from bound", Window{From: anchor, To: anchor.Add(time.Hour)}, 1},
		{"anchor on to bound", Window{From: anchor.Add(-time.Hour), To: anchor}, 1},
		{"anchor after window", DateWindow(day(2023, 12, 1), day(2023, 12, 31), time.UTC), 0},
		{"anchor before window", DateWindow(day(2024, 2, 1), day(2024, 2, 29), time.UTC), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Frequency is ignored for non-recurring descriptors, even when bogus.
			d := Descriptor{AnchorStart: anchor, Frequency: "every-blue-moon"}
			occs, err := Expand(d, tt.window)
			require.NoError(t, err)
			require.Len(t, occs, tt.count)
			if tt.count == 1 {
				assert.Equal(t, anchor, occs[0].Start)
			}
		})
	}
}

func TestExpand_Errors(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	window := DateWindow(day(2024, 1, 1), day(2024, 1, 31), time.UTC)

	tests := []struct {
		name   string
		desc   Descriptor
		window Window
		target error
	}{
		{
			name:   "inverted window",
			desc:   Descriptor{AnchorStart: anchor, Recurring: true, Frequency: Weekly},
			window: Window{From: day(2024, 2, 1), To: day(2024, 1, 1)},
			target: ErrInvalidWindow,
		},
		{
			name:   "zero window",
			desc:   Descriptor{AnchorStart: anchor},
			window: Window{},
			target: ErrInvalidWindow,
		},
		{
			name:   "missing anchor",
			desc:   Descriptor{Recurring: true, Frequency: Weekly},
			window: window,
			target: ErrMissingAnchor,
		},
		{
			name:   "recurring without frequency",
			desc:   Descriptor{AnchorStart: anchor, Recurring: true},
			window: window,
			target: ErrInvalidRecurrenceFrequency,
		},
		{
			name:   "recurring with unknown frequency",
			desc:   Descriptor{AnchorStart: anchor, Recurring: true, Frequency: "hourly"},
			window: window,
			target: ErrInvalidRecurrenceFrequency,
		},
		{
			name: "end before start",
			desc: Descriptor{
				AnchorStart: anchor,
				AnchorEnd:   mo.Some(anchor.Add(-time.Minute)),
			},
			window: window,
			target: ErrInvalidDuration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			occs, err := Expand(tt.desc, tt.window)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
			assert.Nil(t, occs)

			seq, err := Occurrences(tt.desc, tt.window)
			assert.ErrorIs(t, err, tt.target)
			assert.Nil(t, seq)
		})
	}
}

func TestExpand_EndFollowsAnchorDuration(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	window := DateWindow(day(2024, 1, 1), day(2024, 1, 14), time.UTC)

	withEnd := Descriptor{
		AnchorStart: anchor,
		AnchorEnd:   mo.Some(anchor.Add(2*time.Hour + 30*time.Minute)),
		Recurring:   true,
		Frequency:   Weekly,
	}
	occs, err := Expand(withEnd, window)
	require.NoError(t, err)
	require.Len(t, occs, 2)
	for _, o := range occs {
		end, ok := o.End.Get()
		require.True(t, ok)
		assert.Equal(t, 2*time.Hour+30*time.Minute, end.Sub(o.Start))
	}

	withoutEnd := withEnd
	withoutEnd.AnchorEnd = mo.None[time.Time]()
	occs, err = Expand(withoutEnd, window)
	require.NoError(t, err)
	require.Len(t, occs, 2)
	for _, o := range occs {
		assert.False(t, o.End.IsPresent())
	}
}

func TestExpand_Idempotent(t *testing.T) {
	d := Descriptor{
		AnchorStart: time.Date(2024, 1, 31, 20, 0, 0, 0, time.UTC),
		AnchorEnd:   mo.Some(time.Date(2024, 1, 31, 22, 0, 0, 0, time.UTC)),
		Recurring:   true,
		Frequency:   Monthly,
	}
	w := DateWindow(day(2024, 1, 1), day(2024, 12, 31), time.UTC)

	first, err := Expand(d, w)
	require.NoError(t, err)
	second, err := Expand(d, w)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	seq, err := Occurrences(d, w)
	require.NoError(t, err)
	var a, b []Occurrence
	for o := range seq {
		a = append(a, o)
	}
	for o := range seq {
		b = append(b, o)
	}
	assert.Equal(t, first, a)
	assert.Equal(t, a, b)
}

func TestExpand_StrictlyAscending(t *testing.T) {
	anchor := time.Date(2023, 5, 31, 7, 15, 0, 0, time.UTC)
	w := DateWindow(day(2023, 6, 1), day(2026, 6, 1), time.UTC)

	for _, f := range Frequencies {
		t.Run(string(f), func(t *testing.T) {
			occs, err := Expand(Descriptor{AnchorStart: anchor, Recurring: true, Frequency: f}, w)
			require.NoError(t, err)
			require.NotEmpty(t, occs)
			for i := 1; i < len(occs); i++ {
				assert.True(t, occs[i-1].Start.Before(occs[i].Start),
					"occurrence %d (%s) not before %d (%s)", i-1, occs[i-1].Start, i, occs[i].Start)
			}
			for _, o := range occs {
				assert.True(t, w.Contains(o.Start))
				assert.False(t, o.Start.Before(anchor))
			}
		})
	}
}

func TestOccurrences_LazyOverHugeWindow(t *testing.T) {
	d := Descriptor{
		AnchorStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Recurring:   true,
		Frequency:   Daily,
	}
	w := Window{From: day(2024, 6, 1), To: day(3024, 1, 1)}

	seq, err := Occurrences(d, w)
	require.NoError(t, err)

	var got []time.Time
	for o := range seq {
		got = append(got, o.Start)
		if len(got) == 3 {
			break
		}
	}
	assert.Equal(t, []time.Time{day(2024, 6, 1), day(2024, 6, 2), day(2024, 6, 3)}, got)
}

func TestOccurrences_AnchorAfterWindowProducesNothing(t *testing.T) {
	d := Descriptor{
		AnchorStart: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		Recurring:   true,
		Frequency:   Weekly,
	}
	seq, err := Occurrences(d, DateWindow(day(2024, 1, 1), day(2024, 12, 31), time.UTC))
	require.NoError(t, err)
	for range seq {
		t.Fatal("expected no occurrences")
	}
}

func TestExpand_KeepsWallClockAcrossDST(t *testing.T) {
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)

	d := Descriptor{
		AnchorStart: time.Date(2024, 3, 25, 10, 0, 0, 0, warsaw),
		Recurring:   true,
		Frequency:   Weekly,
	}
	occs, err := Expand(d, DateWindow(day(2024, 3, 25), day(2024, 4, 2), warsaw))
	require.NoError(t, err)
	require.Len(t, occs, 2)

	for _, o := range occs {
		local := o.Start.In(warsaw)
		assert.Equal(t, 10, local.Hour())
		assert.Equal(t, 0, local.Minute())
	}
	// 2024-03-31 moves clocks forward by an hour.
	assert.Equal(t, 7*24*time.Hour-time.Hour, occs[1].Start.Sub(occs[0].Start))
}

func TestExpand_SubSecondAnchor(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 10, 0, 0, 500_000_000, time.UTC)
	occs, err := Expand(
		Descriptor{AnchorStart: anchor, Recurring: true, Frequency: Weekly},
		DateWindow(day(2024, 1, 1), day(2024, 1, 8), time.UTC),
	)
	require.NoError(t, err)
	require.Len(t, occs, 2)
	assert.Equal(t, anchor, occs[0].Start)
	assert.Equal(t, anchor.AddDate(0, 0, 7), occs[1].Start)
}

func TestDateWindow(t *testing.T) {
	w := DateWindow(time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC), time.Date(2024, 1, 31, 1, 0, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, day(2024, 1, 1), w.From)
	assert.Equal(t, day(2024, 2, 1).Add(-time.Nanosecond), w.To)
	assert.NoError(t, w.Validate())
	assert.True(t, w.Contains(time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)))
	assert.False(t, w.Contains(day(2024, 2, 1)))
}

func TestExpand_WindowCenturiesAfterAnchor(t *testing.T) {
	anchor := day(2024, 1, 1)
	w := DateWindow(day(2320, 1, 1), day(2320, 1, 31), time.UTC)

	tests := []struct {
		freq Frequency
		step int // days between occurrences, 0 for calendar steps
	}{
		{Daily, 1},
		{Weekly, 7},
		{Biweekly, 14},
		{Monthly, 0},
		{Annually, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.freq), func(t *testing.T) {
			occs, err := Expand(Descriptor{AnchorStart: anchor, Recurring: true, Frequency: tt.freq}, w)
			require.NoError(t, err)
			require.NotEmpty(t, occs)
			for _, o := range occs {
				assert.True(t, w.Contains(o.Start), o.Start.String())
				if tt.step > 0 {
					days := int(o.Start.Sub(anchor).Hours() / 24)
					assert.Zero(t, days%tt.step, o.Start.String())
				}
			}
			if tt.step == 0 {
				assert.Equal(t, []time.Time{day(2320, 1, 1)}, starts(occs))
			}
		})
	}

	occs, err := Expand(
		Descriptor{AnchorStart: day(1950, 1, 1), Recurring: true, Frequency: Daily},
		DateWindow(day(2300, 1, 1), day(2300, 1, 3), time.UTC),
	)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(2300, 1, 1), day(2300, 1, 2), day(2300, 1, 3)}, starts(occs))
}
