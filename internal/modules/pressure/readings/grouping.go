package readings

import (
	"slices"
	"sync"
	"time"

	"bplog/internal/modules/pressure/types"
)

const (
	morningFrom = 7
	morningTo   = 12
	eveningFrom = 21
)

type stamped struct {
	local time.Time
	r     *types.Reading
}

// Zone picks the wall clock a reading is grouped and shown in.
type Zone struct {
	// Fixed, when set, converts every reading.
	Fixed *time.Location
	// Fallback is used for readings whose local_tz is empty or unknown.
	// When nil those readings keep their recorded offset.
	Fallback *time.Location
}

// WallClock returns r's time in Fixed, else in its own local_tz, else in
// Fallback.
func (z Zone) WallClock(r types.Reading) time.Time {
	if z.Fixed != nil {
		return r.Time.In(z.Fixed)
	}
	if loc := lookupZone(r.LocalTZ); loc != nil {
		return r.Time.In(loc)
	}
	if z.Fallback != nil {
		return r.Time.In(z.Fallback)
	}
	return r.Time
}

var zoneCache sync.Map // name -> *time.Location, nil for unknown names

func lookupZone(name string) *time.Location {
	if name == "" {
		return nil
	}
	if v, ok := zoneCache.Load(name); ok {
		return v.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = nil
	}
	zoneCache.Store(name, loc)
	return loc
}

// GroupByDay buckets readings by the calendar date of their wall clock in z
// and picks the first reading in [07:00,12:00) as morning and the first at or
// after 21:00 as evening. Days are returned in ascending order.
func GroupByDay(rs []types.Reading, z Zone) []types.Day {
	byDate := make(map[string][]stamped)
	for i := range rs {
		local := z.WallClock(rs[i])
		date := local.Format(time.DateOnly)
		byDate[date] = append(byDate[date], stamped{local: local, r: &rs[i]})
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	slices.Sort(dates)

	days := make([]types.Day, 0, len(dates))
	for _, date := range dates {
		items := byDate[date]
		slices.SortStableFunc(items, func(a, b stamped) int { return a.local.Compare(b.local) })

		day := types.Day{Date: date}
		for _, it := range items {
			h := it.local.Hour()
			switch {
			case day.Morning == nil && h >= morningFrom && h < morningTo:
				r := *it.r
				day.Morning = &r
			case day.Evening == nil && h >= eveningFrom:
				r := *it.r
				day.Evening = &r
			}
		}
		days = append(days, day)
	}
	return days
}

// Highlights maps the keys of every morning and evening reading to its slot.
type Highlights map[string]types.Slot

func NewHighlights(days []types.Day) Highlights {
	h := make(Highlights, 2*len(days))
	for _, d := range days {
		if d.Morning != nil {
			h[d.Morning.Key()] = types.SlotMorning
		}
	}
	for _, d := range days {
		if d.Evening != nil {
			if _, ok := h[d.Evening.Key()]; !ok {
				h[d.Evening.Key()] = types.SlotEvening
			}
		}
	}
	return h
}

// Classify returns the slot of r, SlotOther when it is not highlighted.
func (h Highlights) Classify(r types.Reading) types.Slot {
	return h[r.Key()]
}
