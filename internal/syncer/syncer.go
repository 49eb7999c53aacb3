package syncer

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"calmirror/internal/models"
	"calmirror/internal/settings"

	"github.com/google/uuid"
)

const (
	// GuardKey is the store key holding the run-in-progress guard.
	GuardKey = "syncInProgress"

	// DefaultStaleAfter is how long a run may hold the guard before another
	// run is allowed to take it over.
	DefaultStaleAfter = 30 * time.Minute
)

// Calendar is the Calendar Gateway the syncer reads from and writes to.
type Calendar interface {
	Events(ctx context.Context, calendarID string, start, end time.Time) ([]*models.Event, error)
	CreateEvent(ctx context.Context, calendarID string, event *models.Event) (*models.Event, error)
	DeleteEvent(ctx context.Context, event *models.Event) error
}

// Store is the Configuration Store: settings plus the persisted run guard.
type Store interface {
	settings.Getter
	settings.Setter
	TryAcquire(ctx context.Context, key, owner string, now time.Time, staleAfter time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

// Hint names the calendar whose change triggered a run.
type Hint struct {
	CalendarID string
}

// Options tunes a Syncer. The zero value is usable.
type Options struct {
	DryRun     bool
	StaleAfter time.Duration
	Now        func() time.Time
}

// Syncer mirrors events from source calendars into destination calendars.
type Syncer struct {
	logger     *slog.Logger
	calendar   Calendar
	store      Store
	dryRun     bool
	staleAfter time.Duration
	now        func() time.Time
}

// NewSyncer creates a new Syncer.
func NewSyncer(logger *slog.Logger, calendar Calendar, store Store, opts Options) *Syncer {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{
		logger:     logger,
		calendar:   calendar,
		store:      store,
		dryRun:     opts.DryRun,
		staleAfter: opts.StaleAfter,
		now:        opts.Now,
	}
}

// RunSync performs one sync run. When hint names one of the configured
// source calendars only that calendar's clones are rebuilt; otherwise every
// destination is rebuilt from every source.
//
// At most one run proceeds at a time across every process sharing the
// store; a concurrent call returns StatusAlreadyRunning without touching
// any calendar. RunSync never panics and never returns an error: every
// failure is reported in the Result.
func (s *Syncer) RunSync(ctx context.Context, hint *Hint) (res *Result) {
	res = &Result{StartedAt: s.now(), DryRun: s.dryRun}
	defer func() { res.FinishedAt = s.now() }()

	owner := uuid.New().String()
	acquired, err := s.store.TryAcquire(ctx, GuardKey, owner, res.StartedAt, s.staleAfter)
	if err != nil {
		s.logger.Error("Could not acquire sync guard", "error", err)
		res.finish(StatusFailed, "Could not acquire sync guard: %v", err)
		return res
	}
	if !acquired {
		s.logger.Info("Sync already in progress, skipping.")
		res.finish(StatusAlreadyRunning, "A sync run is already in progress; skipped.")
		return res
	}
	defer s.release(ctx, owner)
	defer s.recoverInto(res)

	s.logger.Info("Starting sync cycle.", "dryRun", s.dryRun)

	cfg, ok := s.loadConfig(ctx, res)
	if !ok {
		return res
	}
	if !cfg.Enabled {
		s.logger.Info("Sync is disabled, aborting.")
		res.finish(StatusNoop, "Sync is disabled.")
		return res
	}
	if err := cfg.Validate(); err != nil {
		s.logger.Error("Invalid sync configuration", "error", err)
		res.finish(StatusConfigError, "%v", err)
		return res
	}
	if cfg.ClonePrefix == "" {
		s.logger.Warn("Clone prefix is empty; every event in a destination calendar will be treated as a clone.")
	}

	r := s.newRun(cfg, res)
	switch {
	case hint != nil && hint.CalendarID != "" && cfg.IsSource(hint.CalendarID):
		res.Mode = ModeTargeted
		s.logger.Info("Sync triggered by a source calendar.", "calendarID", hint.CalendarID)
		r.targeted(ctx, hint.CalendarID)
	default:
		if hint != nil && hint.CalendarID != "" {
			s.logger.Info("Change hint is not a source calendar, running full sync.", "calendarID", hint.CalendarID)
		}
		res.Mode = ModeFull
		r.full(ctx)
	}

	if !s.dryRun {
		if err := settings.RecordSync(ctx, s.store, s.now()); err != nil {
			s.logger.Error("Failed to record last sync time", "error", err)
			res.addError("record last sync time: %v", err)
		}
	}

	res.finish(StatusSuccess, "Sync finished (%s): %d clones deleted, %d created, %d errors.",
		res.Mode, res.Deleted, res.Created, len(res.Errors))
	s.logger.Info("Sync cycle finished.", "mode", res.Mode, "deleted", res.Deleted, "created", res.Created, "errors", len(res.Errors))
	return res
}

// loadConfig reads the settings for this run, reporting failures in res.
func (s *Syncer) loadConfig(ctx context.Context, res *Result) (*settings.Config, bool) {
	cfg, err := settings.Load(ctx, s.store)
	if errors.Is(err, settings.ErrInvalid) {
		s.logger.Error("Invalid sync configuration", "error", err)
		res.finish(StatusConfigError, "%v", err)
		return nil, false
	}
	if err != nil {
		s.logger.Error("Could not load sync configuration", "error", err)
		res.finish(StatusFailed, "Could not load sync configuration: %v", err)
		return nil, false
	}
	return cfg, true
}

func (s *Syncer) release(ctx context.Context, owner string) {
	if err := s.store.Release(context.WithoutCancel(ctx), GuardKey, owner); err != nil {
		s.logger.Error("Failed to release sync guard", "error", err)
	}
}

func (s *Syncer) recoverInto(res *Result) {
	if p := recover(); p != nil {
		s.logger.Error("Sync run panicked", "panic", p, "stack", string(debug.Stack()))
		res.finish(StatusFailed, "Sync run failed unexpectedly: %v", p)
	}
}
