package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"calmirror/internal/gateway"
	"calmirror/internal/google"
	"calmirror/internal/notify"
	"calmirror/internal/scheduler"
	"calmirror/internal/settings"
	"calmirror/internal/store"
	"calmirror/internal/syncer"

	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Sync on a schedule and whenever a source calendar reports a change.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: ":8080", EnvVars: []string{"CALMIRROR_LISTEN"}},
			&cli.StringFlag{Name: "schedule", Value: "@hourly", EnvVars: []string{"CALMIRROR_SCHEDULE"}, Usage: "Cron schedule for full syncs."},
			&cli.StringFlag{Name: "public-url", EnvVars: []string{"CALMIRROR_PUBLIC_URL"}, Usage: "Externally reachable base URL; enables Google push notifications."},
			&cli.DurationFlag{Name: "watch-ttl", Value: 7 * 24 * time.Hour, Usage: "Lifetime requested for push channels."},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			st, err := store.Open(c.String("db"))
			if err != nil {
				return err
			}
			defer st.Close()

			cals, gClient, err := openGateway(c, logger)
			if err != nil {
				return err
			}
			s := syncer.NewSyncer(logger, cals, st, syncer.Options{})

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched := scheduler.New(logger, s)
			if err := sched.Add(ctx, c.String("schedule")); err != nil {
				return err
			}

			handler := notify.NewHandler(ctx, logger, s)

			var watcher *google.Watcher
			if base := c.String("public-url"); base != "" && gClient != nil {
				address := strings.TrimRight(base, "/") + "/notify"
				watcher, err = google.NewWatcher(gClient, address, c.Duration("watch-ttl"))
				if err != nil {
					return fmt.Errorf("invalid --watch-ttl: %w", err)
				}
				handler.AcceptChannels(watcher)
				watch := func(ctx context.Context) { watchSources(ctx, logger, st, watcher) }
				watch(ctx)
				// Channels expire; renew them well before they do.
				if err := sched.AddFunc(ctx, scheduler.Every(watcher.RenewInterval()), "watch", watch); err != nil {
					return err
				}
			}

			mux := http.NewServeMux()
			handler.Routes(mux)
			srv := &http.Server{
				Addr:              c.String("listen"),
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Listening for change notifications.", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			res := s.RunSync(ctx, nil)
			logger.Info("Initial sync finished.", "status", res.Status, "summary", res.Summary)
			sched.Start()

			select {
			case <-ctx.Done():
			case err = <-errCh:
				err = fmt.Errorf("notification server failed: %w", err)
			}

			logger.Info("Shutting down.")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Error("Failed to shut down server", "error", serr)
			}
			sched.Stop()
			handler.Wait()
			if watcher != nil {
				if serr := watcher.StopAll(shutdownCtx); serr != nil {
					logger.Error("Failed to stop push channels", "error", serr)
				}
			}
			return err
		},
	}
}

// watchSources keeps one push channel open per Google source calendar so
// that changes to it trigger a targeted sync. Channels of calendars that are
// no longer sources are stopped.
func watchSources(ctx context.Context, logger *slog.Logger, st *store.Store, watcher *google.Watcher) {
	cfg, err := settings.Load(ctx, st)
	if err != nil {
		logger.Error("Failed to load settings for push channels", "error", err)
		return
	}
	var ids []string
	for _, id := range cfg.SourceCalendarIDs {
		if !strings.HasPrefix(id, gateway.CalDAVScheme+":") {
			ids = append(ids, id)
		}
	}
	if err := watcher.Sync(ctx, ids); err != nil {
		logger.Error("Failed to refresh push channels", "error", err)
		return
	}
	logger.Info("Watching calendars for changes.", "count", len(ids))
}
