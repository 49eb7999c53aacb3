package icloud

import (
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/teambition/rrule-go"
)

var now = time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

func dailyStandup(uid string, first time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, "Standup")
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now)
	ve.Props.SetDateTime(ical.PropDateTimeStart, first)
	ve.Props.SetDateTime(ical.PropDateTimeEnd, first.Add(30*time.Minute))
	ve.Props.SetRecurrenceRule(&rrule.ROption{Freq: rrule.DAILY})
	return ve
}

func TestRecurringEventExpandsIntoRange(t *testing.T) {
	first := time.Date(2026, 10, 11, 9, 0, 0, 0, time.UTC)
	obj := caldav.CalendarObject{Path: "/cal/work/standup.ics", Data: encodeObject(t, dailyStandup("standup", first))}

	events, err := fromCalendarObject("/cal/work/", obj, now, now.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("fromCalendarObject: %v", err)
	}
	if len(events) != 7 {
		t.Fatalf("got %d occurrences, want 7", len(events))
	}
	for i, e := range events {
		want := time.Date(2026, 10, 18+i, 9, 0, 0, 0, time.UTC)
		if !e.StartTime.Equal(want) {
			t.Errorf("occurrence %d starts %v, want %v", i, e.StartTime, want)
		}
		if e.EndTime.Sub(e.StartTime) != 30*time.Minute {
			t.Errorf("occurrence %d lasts %v", i, e.EndTime.Sub(e.StartTime))
		}
		if e.Title != "Standup" || e.ID != obj.Path {
			t.Errorf("occurrence %d = %q handle %q", i, e.Title, e.ID)
		}
	}
}

func TestRecurringEventHonorsExceptionsAndOverrides(t *testing.T) {
	first := time.Date(2026, 10, 11, 9, 0, 0, 0, time.UTC)
	master := dailyStandup("standup", first)
	exdate := ical.NewProp(ical.PropExceptionDates)
	exdate.SetDateTime(time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC))
	master.Props.Add(exdate)

	moved := ical.NewComponent(ical.CompEvent)
	moved.Props.SetText(ical.PropUID, "standup")
	moved.Props.SetText(ical.PropSummary, "Standup (moved)")
	moved.Props.SetDateTime(ical.PropDateTimeStamp, now)
	moved.Props.SetDateTime(ical.PropRecurrenceID, time.Date(2026, 10, 21, 9, 0, 0, 0, time.UTC))
	moved.Props.SetDateTime(ical.PropDateTimeStart, time.Date(2026, 10, 21, 15, 0, 0, 0, time.UTC))
	moved.Props.SetDateTime(ical.PropDateTimeEnd, time.Date(2026, 10, 21, 16, 0, 0, 0, time.UTC))

	obj := caldav.CalendarObject{Path: "/cal/work/standup.ics", Data: encodeObject(t, master, moved)}
	events, err := fromCalendarObject("/cal/work/", obj, now, now.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("fromCalendarObject: %v", err)
	}

	var got []string
	for _, e := range events {
		got = append(got, e.Title+"@"+e.StartTime.UTC().Format("01-02T15:04"))
	}
	want := []string{
		"Standup@10-18T09:00",
		"Standup@10-19T09:00",
		"Standup (moved)@10-21T15:00",
		"Standup@10-22T09:00",
		"Standup@10-23T09:00",
		"Standup@10-24T09:00",
	}
	if len(got) != len(want) {
		t.Fatalf("occurrences = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("occurrence %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestOngoingOccurrenceOverlapsRange(t *testing.T) {
	// The 07:45 occurrence is still running at 08:00.
	first := time.Date(2026, 10, 11, 7, 45, 0, 0, time.UTC)
	obj := caldav.CalendarObject{Path: "/cal/work/early.ics", Data: encodeObject(t, dailyStandup("early", first))}

	events, err := fromCalendarObject("/cal/work/", obj, now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("fromCalendarObject: %v", err)
	}
	if len(events) != 1 || !events[0].StartTime.Equal(time.Date(2026, 10, 18, 7, 45, 0, 0, time.UTC)) {
		t.Errorf("events = %+v", events)
	}
}

func TestSingleEventOutsideRangeIsDropped(t *testing.T) {
	ve := dailyStandup("once", time.Date(2026, 10, 11, 9, 0, 0, 0, time.UTC))
	ve.Props.Del(ical.PropRecurrenceRule)

	events, err := fromCalendarObject("/cal/work/", caldav.CalendarObject{Path: "/cal/work/once.ics", Data: encodeObject(t, ve)}, now, now.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("fromCalendarObject: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %+v, want none", events)
	}
}
