package syncer

import (
	"context"
	"log/slog"
	"time"

	"calmirror/internal/models"
	"calmirror/internal/settings"
)

// busyTitle replaces the source title in destinations that do not mirror
// external event names.
const busyTitle = "Busy"

// run holds the state of one sync run. Source calendars are read at most
// once per run and reused for every destination.
type run struct {
	s          *Syncer
	cfg        *settings.Config
	res        *Result
	start, end time.Time

	sources map[string][]*models.Event
	failed  map[string]bool
}

func (s *Syncer) newRun(cfg *settings.Config, res *Result) *run {
	start, end := cfg.Window(res.StartedAt)
	s.logger.Info("Computed sync window.", "start", start, "end", end,
		"sources", len(cfg.SourceCalendarIDs), "destinations", len(cfg.Destinations), "prefix", cfg.ClonePrefix)
	return &run{
		s:       s,
		cfg:     cfg,
		res:     res,
		start:   start,
		end:     end,
		sources: make(map[string][]*models.Event),
		failed:  make(map[string]bool),
	}
}

// full rebuilds every destination from every source.
func (r *run) full(ctx context.Context) {
	for _, dest := range r.cfg.Destinations {
		r.rebuild(ctx, dest, r.cfg.SourceCalendarIDs)
	}
}

// targeted rebuilds every destination from sourceID alone. Clones that came
// from other sources are deleted too and are not regenerated: a clone
// carries no record of the calendar it was copied from.
func (r *run) targeted(ctx context.Context, sourceID string) {
	for _, dest := range r.cfg.Destinations {
		if dest.ID == sourceID {
			continue
		}
		r.rebuild(ctx, dest, []string{sourceID})
	}
}

// rebuild deletes the clones in dest that start inside the window, then
// recreates them from the current events of sourceIDs. Organic events are
// never touched.
func (r *run) rebuild(ctx context.Context, dest settings.Destination, sourceIDs []string) {
	logger := r.s.logger.With("destination", dest.ID)

	existing, err := r.s.calendar.Events(ctx, dest.ID, r.start, r.end)
	if err != nil {
		logger.Error("Cannot access destination calendar, skipping.", "error", err)
		r.res.addError("destination %s: %v", dest.ID, err)
		return
	}

	for _, e := range existing {
		if !r.cfg.IsClone(e.Title) || !r.inWindow(e.StartTime) {
			continue
		}
		r.delete(ctx, logger, e)
	}

	for _, sourceID := range sourceIDs {
		if sourceID == dest.ID {
			continue
		}
		events, ok := r.sourceEvents(ctx, sourceID)
		if !ok {
			continue
		}
		for _, e := range events {
			r.create(ctx, logger, dest, cloneOf(e, dest, r.cfg.ClonePrefix))
		}
	}
}

// sourceEvents returns the cloneable events of sourceID: those starting in
// the window whose titles are not themselves clones.
func (r *run) sourceEvents(ctx context.Context, sourceID string) ([]*models.Event, bool) {
	if r.failed[sourceID] {
		return nil, false
	}
	if events, ok := r.sources[sourceID]; ok {
		return events, true
	}

	all, err := r.s.calendar.Events(ctx, sourceID, r.start, r.end)
	if err != nil {
		r.s.logger.Error("Cannot access source calendar, skipping.", "source", sourceID, "error", err)
		r.res.addError("source %s: %v", sourceID, err)
		r.failed[sourceID] = true
		return nil, false
	}

	var events []*models.Event
	for _, e := range all {
		if r.cfg.IsClone(e.Title) || !r.inWindow(e.StartTime) {
			continue
		}
		events = append(events, e)
	}
	r.s.logger.Debug("Fetched source events.", "source", sourceID, "fetched", len(all), "cloneable", len(events))
	r.sources[sourceID] = events
	return events, true
}

func (r *run) delete(ctx context.Context, logger *slog.Logger, e *models.Event) {
	if r.s.dryRun {
		logger.Info("[DRY RUN] Would delete clone", "title", e.Title, "start", e.StartTime)
		r.res.Deleted++
		return
	}
	if err := r.s.calendar.DeleteEvent(ctx, e); err != nil {
		logger.Error("Failed to delete clone", "title", e.Title, "error", err)
		r.res.addError("delete %q from %s: %v", e.Title, e.CalendarID, err)
		return
	}
	r.res.Deleted++
}

func (r *run) create(ctx context.Context, logger *slog.Logger, dest settings.Destination, clone *models.Event) {
	if r.s.dryRun {
		logger.Info("[DRY RUN] Would create clone", "title", clone.Title, "start", clone.StartTime)
		r.res.Created++
		return
	}
	if _, err := r.s.calendar.CreateEvent(ctx, dest.ID, clone); err != nil {
		logger.Error("Failed to create clone", "title", clone.Title, "error", err)
		r.res.addError("create %q in %s: %v", clone.Title, dest.ID, err)
		return
	}
	logger.Info("Cloned event", "title", clone.Title)
	r.res.Created++
}

func (r *run) inWindow(t time.Time) bool {
	return !t.Before(r.start) && t.Before(r.end)
}

// cloneOf builds the clone of source for dest.
func cloneOf(source *models.Event, dest settings.Destination, prefix string) *models.Event {
	clone := &models.Event{
		StartTime: source.StartTime,
		EndTime:   source.EndTime,
		AllDay:    source.AllDay,
	}
	if dest.MirrorExternalNames {
		clone.Title = prefix + source.Title
		clone.Description = source.Description
		clone.Location = source.Location
	} else {
		clone.Title = prefix + busyTitle
	}
	return clone
}
