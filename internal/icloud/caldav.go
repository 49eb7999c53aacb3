package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"time"

	"calmirror/internal/models"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

const (
	// DefaultEndpoint is the iCloud CalDAV endpoint.
	DefaultEndpoint = "https://caldav.icloud.com/"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "calmirror/1.0")
	return t.Transport.RoundTrip(req)
}

// CalDAVClient is a client for interacting with a CalDAV server (iCloud by default).
// Calendars are identified by their collection path on the server.
type CalDAVClient struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	logger       *slog.Logger
}

// NewClient creates a new CalDAVClient for endpoint.
func NewClient(logger *slog.Logger, endpoint, username, password string) (*CalDAVClient, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	transport := &customTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport, Timeout: 60 * time.Second}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	webdavClient, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	return &CalDAVClient{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		logger:       logger,
	}, nil
}

// ListCalendars discovers the user's calendars.
func (c *CalDAVClient) ListCalendars(ctx context.Context) ([]models.Calendar, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendars: %w", err)
	}

	out := make([]models.Calendar, 0, len(calendars))
	for _, cal := range calendars {
		out = append(out, models.Calendar{ID: cal.Path, Name: cal.Name})
	}
	return out, nil
}

// Events returns the events in the calendar at calendarPath overlapping [start, end).
func (c *CalDAVClient) Events(ctx context.Context, calendarPath string, start, end time.Time) ([]*models.Event, error) {
	c.logger.Debug("Querying CalDAV events", "calendar", calendarPath, "start", start, "end", end)

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name: ical.CompEvent,
				Props: []string{
					ical.PropUID,
					ical.PropSummary,
					ical.PropDescription,
					ical.PropLocation,
					ical.PropDateTimeStart,
					ical.PropDateTimeEnd,
					ical.PropDuration,
					ical.PropRecurrenceRule,
					ical.PropRecurrenceDates,
					ical.PropExceptionDates,
					ical.PropRecurrenceID,
				},
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start.UTC(),
				End:   end.UTC(),
			}},
		},
	}

	objects, err := c.caldavClient.QueryCalendar(ctx, calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar %s: %w", calendarPath, err)
	}

	var events []*models.Event
	for _, obj := range objects {
		evs, err := fromCalendarObject(calendarPath, obj, start, end)
		if err != nil {
			c.logger.Warn("Skipping unreadable calendar object", "path", obj.Path, "error", err)
			continue
		}
		events = append(events, evs...)
	}
	return events, nil
}

// CreateEvent writes event as a new calendar object under calendarPath.
func (c *CalDAVClient) CreateEvent(ctx context.Context, calendarPath string, event *models.Event) (*models.Event, error) {
	uid := GenerateUID()
	c.logger.Debug("Creating CalDAV event", "eventTitle", event.Title, "uid", uid)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//calmirror//EN")
	cal.Children = append(cal.Children, toICal(event, uid, time.Now()))

	objectPath := path.Join(calendarPath, uid+".ics")
	if _, err := c.caldavClient.PutCalendarObject(ctx, objectPath, cal); err != nil {
		return nil, fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}

	out := *event
	out.ID = objectPath
	out.CalendarID = calendarPath
	return &out, nil
}

// DeleteEvent removes the calendar object holding event.
func (c *CalDAVClient) DeleteEvent(ctx context.Context, event *models.Event) error {
	if err := c.webdavClient.RemoveAll(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to delete %s: %w", event.ID, err)
	}
	return nil
}

// toICal converts an internal Event model to an ical.Component (VEvent).
func toICal(event *models.Event, uid string, stamp time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, event.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	if event.AllDay {
		ve.Props.SetDate(ical.PropDateTimeStart, event.StartTime)
		ve.Props.SetDate(ical.PropDateTimeEnd, event.EndTime)
	} else {
		ve.Props.SetDateTime(ical.PropDateTimeStart, event.StartTime.UTC())
		ve.Props.SetDateTime(ical.PropDateTimeEnd, event.EndTime.UTC())
	}

	if event.Description != "" {
		ve.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		ve.Props.SetText(ical.PropLocation, event.Location)
	}
	return ve
}

// fromCalendarObject converts the VEVENTs in obj to the occurrences that
// overlap [start, end). Recurring events are expanded into one Event per
// occurrence, with RECURRENCE-ID overrides replacing the occurrence they
// name. Every occurrence shares the object path as its handle, so deleting
// any of them removes the whole object.
func fromCalendarObject(calendarPath string, obj caldav.CalendarObject, start, end time.Time) ([]*models.Event, error) {
	if obj.Data == nil {
		return nil, fmt.Errorf("object has no calendar data")
	}

	var masters []ical.Event
	overrides := make(map[int64]ical.Event)
	for _, ev := range obj.Data.Events() {
		if p := ev.Props.Get(ical.PropRecurrenceID); p != nil {
			rid, err := p.DateTime(time.Local)
			if err != nil {
				return nil, fmt.Errorf("parse RECURRENCE-ID: %w", err)
			}
			overrides[rid.Unix()] = ev
			continue
		}
		masters = append(masters, ev)
	}

	var out []*models.Event
	for _, ev := range masters {
		spans, recurring, err := occurrences(ev, start, end)
		if err != nil {
			return nil, err
		}
		for _, sp := range spans {
			if _, ok := overrides[sp.start.Unix()]; ok && recurring {
				continue
			}
			out = append(out, toEvent(calendarPath, obj.Path, ev, sp))
		}
	}
	for _, ev := range overrides {
		sp, err := eventSpan(ev)
		if err != nil {
			return nil, err
		}
		if sp.overlaps(start, end) {
			out = append(out, toEvent(calendarPath, obj.Path, ev, sp))
		}
	}

	slices.SortFunc(out, func(a, b *models.Event) int { return a.StartTime.Compare(b.StartTime) })
	return out, nil
}

func toEvent(calendarPath, objectPath string, ev ical.Event, sp span) *models.Event {
	e := &models.Event{
		ID:         objectPath,
		CalendarID: calendarPath,
		StartTime:  sp.start,
		EndTime:    sp.end,
	}
	if p := ev.Props.Get(ical.PropDateTimeStart); p != nil && p.ValueType() == ical.ValueDate {
		e.AllDay = true
	}
	e.Title, _ = ev.Props.Text(ical.PropSummary)
	e.Description, _ = ev.Props.Text(ical.PropDescription)
	e.Location, _ = ev.Props.Text(ical.PropLocation)
	return e
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}
