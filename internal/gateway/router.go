// Package gateway routes calendar operations to the backend that owns each calendar.
//
// Calendar ids without a registered scheme belong to the default backend
// (Google Calendar). Ids of the form "<scheme>:<local id>" belong to the
// backend registered under that scheme, e.g. "caldav:/1234/calendars/home/".
// Events keep the routed id in CalendarID, so an event returned by Events
// can be passed straight back to DeleteEvent.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"calmirror/internal/models"
)

// CalDAVScheme is the id prefix used for CalDAV calendars.
const CalDAVScheme = "caldav"

// ErrNoBackend is returned for a calendar id no backend is configured for.
var ErrNoBackend = errors.New("no calendar backend configured")

// Backend is a calendar provider.
type Backend interface {
	ListCalendars(ctx context.Context) ([]models.Calendar, error)
	Events(ctx context.Context, calendarID string, start, end time.Time) ([]*models.Event, error)
	CreateEvent(ctx context.Context, calendarID string, event *models.Event) (*models.Event, error)
	DeleteEvent(ctx context.Context, event *models.Event) error
}

// Router dispatches to backends by calendar id scheme.
type Router struct {
	logger   *slog.Logger
	fallback Backend
	schemes  map[string]Backend
}

// NewRouter creates a Router whose unprefixed ids go to fallback, which may be nil.
func NewRouter(logger *slog.Logger, fallback Backend) *Router {
	return &Router{logger: logger, fallback: fallback, schemes: make(map[string]Backend)}
}

// Register routes ids prefixed with "<scheme>:" to b.
func (r *Router) Register(scheme string, b Backend) {
	r.schemes[scheme] = b
}

func (r *Router) route(id string) (Backend, string, error) {
	if scheme, local, ok := strings.Cut(id, ":"); ok {
		if b, found := r.schemes[scheme]; found {
			return b, local, nil
		}
	}
	if r.fallback == nil {
		return nil, "", fmt.Errorf("%w for calendar %q", ErrNoBackend, id)
	}
	return r.fallback, id, nil
}

// ListCalendars merges the calendars of every backend, sorted by name.
// A failing backend is logged and skipped; its error is returned alongside
// the calendars that could be listed.
func (r *Router) ListCalendars(ctx context.Context) ([]models.Calendar, error) {
	var (
		all  []models.Calendar
		errs []error
	)

	if r.fallback != nil {
		cals, err := r.fallback.ListCalendars(ctx)
		if err != nil {
			r.logger.Error("Could not list calendars", "backend", "default", "error", err)
			errs = append(errs, err)
		}
		all = append(all, cals...)
	}

	schemes := make([]string, 0, len(r.schemes))
	for s := range r.schemes {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)

	for _, s := range schemes {
		cals, err := r.schemes[s].ListCalendars(ctx)
		if err != nil {
			r.logger.Error("Could not list calendars", "backend", s, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s, err))
			continue
		}
		for _, c := range cals {
			c.ID = s + ":" + c.ID
			all = append(all, c)
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return strings.ToLower(all[i].Name) < strings.ToLower(all[j].Name) })
	return all, errors.Join(errs...)
}

// Events lists the events of calendarID overlapping [start, end).
func (r *Router) Events(ctx context.Context, calendarID string, start, end time.Time) ([]*models.Event, error) {
	b, local, err := r.route(calendarID)
	if err != nil {
		return nil, err
	}
	events, err := b.Events(ctx, local, start, end)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		e.CalendarID = calendarID
	}
	return events, nil
}

// CreateEvent creates event in calendarID.
func (r *Router) CreateEvent(ctx context.Context, calendarID string, event *models.Event) (*models.Event, error) {
	b, local, err := r.route(calendarID)
	if err != nil {
		return nil, err
	}
	created, err := b.CreateEvent(ctx, local, event)
	if err != nil {
		return nil, err
	}
	created.CalendarID = calendarID
	return created, nil
}

// DeleteEvent deletes an event previously returned by Events or CreateEvent.
func (r *Router) DeleteEvent(ctx context.Context, event *models.Event) error {
	b, local, err := r.route(event.CalendarID)
	if err != nil {
		return err
	}
	handle := *event
	handle.CalendarID = local
	return b.DeleteEvent(ctx, &handle)
}
