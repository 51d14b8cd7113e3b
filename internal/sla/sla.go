package sla

import (
	"math"
	"time"
)

// Hours is a business window expressed in seconds after local midnight.
type Hours struct {
	StartSec int
	EndSec   int
}

// Calendar is a weekly business-hours calendar evaluated in a fixed location.
// Weekdays without an entry in Hours are closed.
type Calendar struct {
	Location *time.Location
	Hours    map[time.Weekday]Hours
}

// UTCOffset is the fixed offset the portal calendar is evaluated in (UTC-3).
const UTCOffset = -3 * 60 * 60

// DefaultCalendar returns the portal calendar: Monday to Thursday 08:00-18:00,
// Friday 08:00-17:00, weekends closed. There is no holiday calendar.
func DefaultCalendar() *Calendar {
	long := Hours{StartSec: 8 * 3600, EndSec: 18 * 3600}
	return &Calendar{
		Location: time.FixedZone("UTC-3", UTCOffset),
		Hours: map[time.Weekday]Hours{
			time.Monday:    long,
			time.Tuesday:   long,
			time.Wednesday: long,
			time.Thursday:  long,
			time.Friday:    {StartSec: 8 * 3600, EndSec: 17 * 3600},
		},
	}
}

// window returns the business window of the day containing t. ok is false when
// the weekday is closed. next is the following local midnight.
func (c *Calendar) window(t time.Time) (start, end, next time.Time, ok bool) {
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.Location)
	next = dayStart.AddDate(0, 0, 1)
	hrs, ok := c.Hours[dayStart.Weekday()]
	if !ok || hrs.EndSec <= hrs.StartSec {
		return time.Time{}, time.Time{}, next, false
	}
	start = dayStart.Add(time.Duration(hrs.StartSec) * time.Second)
	end = dayStart.Add(time.Duration(hrs.EndSec) * time.Second)
	return start, end, next, true
}

// BusinessDuration returns the business time elapsed between start and end.
// The result is zero when end is not after start.
func (c *Calendar) BusinessDuration(start, end time.Time) time.Duration {
	if !end.After(start) {
		return 0
	}
	start = start.In(c.Location)
	end = end.In(c.Location)
	total := time.Duration(0)
	cur := start
	for cur.Before(end) {
		bhStart, bhEnd, next, ok := c.window(cur)
		if !ok {
			cur = next
			continue
		}
		if cur.Before(bhStart) {
			cur = bhStart
		}
		if !cur.Before(bhEnd) {
			cur = next
			continue
		}
		e := minTime(end, bhEnd)
		if e.After(cur) {
			total += e.Sub(cur)
		}
		cur = e
		if cur.Equal(bhEnd) {
			cur = next
		}
	}
	return total
}

// BusinessMinutesBetween returns the business minutes between start and end,
// rounded to the nearest whole minute.
func (c *Calendar) BusinessMinutesBetween(start, end time.Time) int {
	d := c.BusinessDuration(start, end)
	return int(math.Round(d.Minutes()))
}

// AddBusinessMinutes returns the instant lying exactly minutes of business time
// after start. When the budget runs out exactly at the end of a window the
// result is the start of the next window.
func (c *Calendar) AddBusinessMinutes(start time.Time, minutes int) time.Time {
	if minutes <= 0 {
		return start
	}
	remaining := time.Duration(minutes) * time.Minute
	cur := start.In(c.Location)
	for {
		bhStart, bhEnd, next, ok := c.window(cur)
		if !ok {
			cur = next
			continue
		}
		if cur.Before(bhStart) {
			cur = bhStart
		}
		if !cur.Before(bhEnd) {
			cur = next
			continue
		}
		avail := bhEnd.Sub(cur)
		if remaining < avail {
			return cur.Add(remaining)
		}
		// an exhausted budget falls through to the next window start
		remaining -= avail
		cur = next
	}
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
