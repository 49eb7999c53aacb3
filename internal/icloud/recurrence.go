package icloud

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

// maxOccurrences caps the expansion of a single event.
const maxOccurrences = 5000

type span struct {
	start, end time.Time
}

// overlaps reports whether the span intersects [start, end). A zero-length
// span counts when it starts inside the range.
func (s span) overlaps(start, end time.Time) bool {
	return s.start.Before(end) && (s.end.After(start) || !s.start.Before(start))
}

func eventSpan(ev ical.Event) (span, error) {
	start, err := ev.DateTimeStart(time.Local)
	if err != nil {
		return span{}, fmt.Errorf("parse DTSTART: %w", err)
	}
	end, err := ev.DateTimeEnd(time.Local)
	if err != nil {
		return span{}, fmt.Errorf("parse DTEND: %w", err)
	}
	return span{start: start, end: end}, nil
}

// occurrences returns the spans of ev that overlap [start, end), and whether
// ev carries a recurrence rule. Each occurrence keeps the DTEND-DTSTART
// duration of the first one.
func occurrences(ev ical.Event, start, end time.Time) ([]span, bool, error) {
	first, err := eventSpan(ev)
	if err != nil {
		return nil, false, err
	}

	set, err := recurrenceSet(ev.Props, first.start)
	if err != nil {
		return nil, false, err
	}
	if set == nil {
		if first.overlaps(start, end) {
			return []span{first}, false, nil
		}
		return nil, false, nil
	}

	dur := first.end.Sub(first.start)
	var out []span
	for _, t := range set.Between(start.Add(-dur), end, true) {
		sp := span{start: t, end: t.Add(dur)}
		if !sp.overlaps(start, end) {
			continue
		}
		out = append(out, sp)
		if len(out) == maxOccurrences {
			break
		}
	}
	return out, true, nil
}

// recurrenceSet builds the RRULE, RDATE and EXDATE set of an event starting
// at dtStart, or returns nil when the event does not recur.
func recurrenceSet(props ical.Props, dtStart time.Time) (*rrule.Set, error) {
	opt, err := props.RecurrenceRule()
	if err != nil {
		return nil, fmt.Errorf("parse RRULE: %w", err)
	}
	if opt == nil {
		return nil, nil
	}
	opt.Dtstart = dtStart
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("build RRULE: %w", err)
	}

	set := &rrule.Set{}
	set.RRule(rule)

	exdates, err := dateList(props, ical.PropExceptionDates, dtStart.Location())
	if err != nil {
		return nil, err
	}
	for _, t := range exdates {
		set.ExDate(t)
	}
	rdates, err := dateList(props, ical.PropRecurrenceDates, dtStart.Location())
	if err != nil {
		return nil, err
	}
	for _, t := range rdates {
		set.RDate(t)
	}
	return set, nil
}

// dateList parses every value of the multi-valued date property name.
// PERIOD values are skipped.
func dateList(props ical.Props, name string, loc *time.Location) ([]time.Time, error) {
	var out []time.Time
	for _, p := range props.Values(name) {
		if p.ValueType() == ical.ValuePeriod {
			continue
		}
		for _, v := range strings.Split(p.Value, ",") {
			single := p
			single.Value = strings.TrimSpace(v)
			t, err := single.DateTime(loc)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", name, err)
			}
			out = append(out, t)
		}
	}
	return out, nil
}
