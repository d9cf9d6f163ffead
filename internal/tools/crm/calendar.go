package crm

import (
	"context"
	"fmt"
	"time"
)

// Working hours for viewings, local to Deps.Location
const (
	dayStartHour     = 9
	dayEndHour       = 18
	afternoonHour    = 13
	defaultLookahead = 7
	defaultViewing   = 60 * time.Minute
	proposedSlots    = 3
)

// Period is a half-open busy interval
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Calendar reports busy time for an agent calendar
type Calendar interface {
	BusyPeriods(ctx context.Context, calendarID string, from, to time.Time) ([]Period, error)
}

// AvailableSlots walks weekdays in [from, to) and returns hourly slots of the
// given length inside working hours that start after now and overlap no busy
// period.
func AvailableSlots(from, to time.Time, length time.Duration, busy []Period, now time.Time, loc *time.Location) []Period {
	if loc == nil {
		loc = time.UTC
	}
	var slots []Period
	from = from.In(loc)
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	for ; day.Before(to); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(), dayStartHour, 0, 0, 0, loc)
		closeAt := time.Date(day.Year(), day.Month(), day.Day(), dayEndHour, 0, 0, 0, loc)
		for start := open; !start.Add(length).After(closeAt); start = start.Add(time.Hour) {
			slot := Period{Start: start, End: start.Add(length)}
			if !slot.Start.After(now) || overlaps(slot, busy) {
				continue
			}
			slots = append(slots, slot)
		}
	}
	return slots
}

func overlaps(slot Period, busy []Period) bool {
	for _, b := range busy {
		if slot.Start.Before(b.End) && slot.End.After(b.Start) {
			return true
		}
	}
	return false
}

// SelectDiverse picks at most count slots, one per day in order, alternating
// a morning preference with an afternoon one.
func SelectDiverse(slots []Period, count int) []Period {
	var days []string
	byDay := map[string][]Period{}
	for _, s := range slots {
		key := s.Start.Format("2006-01-02")
		if _, ok := byDay[key]; !ok {
			days = append(days, key)
		}
		byDay[key] = append(byDay[key], s)
	}

	var out []Period
	for i := 0; i < count && i < len(days); i++ {
		daySlots := byDay[days[i]]
		chosen := daySlots[0]
		wantAfternoon := i%2 == 1
		for _, s := range daySlots {
			if (s.Start.Hour() >= afternoonHour) == wantAfternoon {
				chosen = s
				break
			}
		}
		out = append(out, chosen)
	}
	return out
}

func (c *catalog) checkAvailability(ctx context.Context, args map[string]any) (any, error) {
	if err := required(args, "calendar_id"); err != nil {
		return nil, err
	}
	days := integer(args, "days")
	if days <= 0 {
		days = defaultLookahead
	}
	length := defaultViewing
	if m := integer(args, "duration_minutes"); m > 0 {
		length = time.Duration(m) * time.Minute
	}

	now := c.Now().In(c.Location)
	from := now
	to := now.AddDate(0, 0, days)

	var busy []Period
	if c.Calendar != nil {
		var err error
		busy, err = c.Calendar.BusyPeriods(ctx, str(args, "calendar_id"), from, to)
		if err != nil {
			return nil, fmt.Errorf("load busy periods: %w", err)
		}
	}
	all := AvailableSlots(from, to, length, busy, now, c.Location)
	return map[string]any{
		"total_available": len(all),
		"proposed":        SelectDiverse(all, proposedSlots),
	}, nil
}
