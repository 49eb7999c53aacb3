package syncer

import (
	"context"
)

// CleanupBeyondWindow deletes the clones that a shrink of the sync window
// from oldDays to newDays leaves stranded: those starting in
// [now+newDays, now+oldDays). Nothing is recreated, and clones inside the
// new window are left alone.
//
// Cleanup does not take the run guard and does not require sync to be
// enabled. Like RunSync it reports every failure in the Result.
func (s *Syncer) CleanupBeyondWindow(ctx context.Context, oldDays, newDays int) (res *Result) {
	res = &Result{StartedAt: s.now(), Mode: ModeCleanup, DryRun: s.dryRun}
	defer func() { res.FinishedAt = s.now() }()
	defer s.recoverInto(res)

	if oldDays < 0 || newDays < 0 {
		res.finish(StatusConfigError, "Window sizes must not be negative (old %d, new %d).", oldDays, newDays)
		return res
	}
	if newDays >= oldDays {
		res.finish(StatusNoop, "Sync window did not shrink (%d -> %d days); nothing to clean up.", oldDays, newDays)
		return res
	}

	cfg, ok := s.loadConfig(ctx, res)
	if !ok {
		return res
	}
	if len(cfg.Destinations) == 0 {
		s.logger.Info("No destination calendars configured for cleanup.")
		res.finish(StatusNoop, "No destination calendars configured.")
		return res
	}

	now := res.StartedAt
	from, to := now.AddDate(0, 0, newDays), now.AddDate(0, 0, oldDays)
	s.logger.Info("Cleaning clones beyond the sync window.", "from", from, "to", to)

	// The run helper supplies delete and window checks over [from, to).
	r := &run{s: s, cfg: cfg, res: res, start: from, end: to}
	for _, dest := range cfg.Destinations {
		logger := s.logger.With("destination", dest.ID)

		events, err := s.calendar.Events(ctx, dest.ID, from, to)
		if err != nil {
			logger.Error("Cannot access destination calendar for cleanup, skipping.", "error", err)
			res.addError("destination %s: %v", dest.ID, err)
			continue
		}
		for _, e := range events {
			if cfg.IsClone(e.Title) && r.inWindow(e.StartTime) {
				r.delete(ctx, logger, e)
			}
		}
	}

	res.finish(StatusSuccess, "Cleanup finished: %d clones deleted, %d errors.", res.Deleted, len(res.Errors))
	s.logger.Info("Cleanup finished.", "deleted", res.Deleted, "errors", len(res.Errors))
	return res
}
