package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"calmirror/internal/models"
	"calmirror/internal/settings"
	"calmirror/internal/store"
)

var errInaccessible = errors.New("calendar not found")

// fakeCalendar is an in-memory Calendar Gateway.
type fakeCalendar struct {
	mu       sync.Mutex
	events   map[string][]*models.Event
	failing  map[string]bool
	nextID   int
	calls    int
	onEvents func(calendarID string)
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: make(map[string][]*models.Event), failing: make(map[string]bool)}
}

func (f *fakeCalendar) Events(_ context.Context, calendarID string, start, end time.Time) ([]*models.Event, error) {
	f.mu.Lock()
	f.calls++
	hook := f.onEvents
	f.mu.Unlock()

	if hook != nil {
		hook(calendarID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[calendarID] {
		return nil, errInaccessible
	}
	var out []*models.Event
	for _, e := range f.events[calendarID] {
		if e.StartTime.Before(end) && e.EndTime.After(start) {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, calendarID string, event *models.Event) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing[calendarID] {
		return nil, errInaccessible
	}
	f.nextID++
	c := *event
	c.ID = fmt.Sprintf("ev-%d", f.nextID)
	c.CalendarID = calendarID
	f.events[calendarID] = append(f.events[calendarID], &c)
	out := c
	return &out, nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, event *models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	list := f.events[event.CalendarID]
	for i, e := range list {
		if e.ID == event.ID {
			f.events[event.CalendarID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("event %s not found in %s", event.ID, event.CalendarID)
}

// add stores an event directly, bypassing the call counter.
func (f *fakeCalendar) add(calendarID, title string, start time.Time, d time.Duration) *models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	e := &models.Event{
		ID:          fmt.Sprintf("ev-%d", f.nextID),
		CalendarID:  calendarID,
		Title:       title,
		Description: "about " + title,
		Location:    "room",
		StartTime:   start,
		EndTime:     start.Add(d),
	}
	f.events[calendarID] = append(f.events[calendarID], e)
	return e
}

func (f *fakeCalendar) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// titles returns "title@start" for every event in calendarID, sorted.
func (f *fakeCalendar) titles(calendarID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events[calendarID] {
		out = append(out, e.Title+"@"+e.StartTime.Format("01-02T15:04"))
	}
	sort.Strings(out)
	return out
}

func (f *fakeCalendar) find(calendarID, title string) *models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events[calendarID] {
		if e.Title == title {
			return e
		}
	}
	return nil
}

var testNow = time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveConfig(t *testing.T, st *store.Store, cfg *settings.Config) {
	t.Helper()
	if err := settings.Save(context.Background(), st, cfg); err != nil {
		t.Fatalf("save settings: %v", err)
	}
}

func enabledConfig(sources []string, dests ...string) *settings.Config {
	cfg := settings.Default()
	cfg.Enabled = true
	cfg.SourceCalendarIDs = sources
	for _, d := range dests {
		cfg.Destinations = append(cfg.Destinations, settings.Destination{ID: d, MirrorExternalNames: true})
	}
	return cfg
}

func newTestSyncer(cal *fakeCalendar, st *store.Store, opts Options) *Syncer {
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	return NewSyncer(slog.New(slog.NewTextHandler(io.Discard, nil)), cal, st, opts)
}
