package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"calmirror/internal/settings"
	"calmirror/internal/store"
	"calmirror/internal/syncer"

	"github.com/urfave/cli/v2"
)

func settingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show and change the sync settings.",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print every setting.",
				Action: func(c *cli.Context) error {
					return withStore(c, func(st *store.Store) error {
						cfg, err := settings.Load(c.Context, st)
						if err != nil {
							return err
						}
						for _, key := range settings.Keys {
							v, err := cfg.Value(key)
							if err != nil {
								return err
							}
							fmt.Printf("%s=%s\n", key, v)
						}
						return nil
					})
				},
			},
			{
				Name:      "get",
				Usage:     "Print one setting.",
				ArgsUsage: "KEY",
				Action: func(c *cli.Context) error {
					key, err := settingKey(c.Args().First())
					if err != nil {
						return err
					}
					return withStore(c, func(st *store.Store) error {
						cfg, err := settings.Load(c.Context, st)
						if err != nil {
							return err
						}
						v, err := cfg.Value(key)
						if err != nil {
							return err
						}
						fmt.Println(v)
						return nil
					})
				},
			},
			{
				Name:      "set",
				Usage:     "Change one setting. Lowering numDaysOut removes clones beyond the new window.",
				ArgsUsage: "KEY VALUE",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("usage: settings set KEY VALUE")
					}
					key, err := settingKey(c.Args().Get(0))
					if err != nil {
						return err
					}
					logger := newLogger(c)
					return withStore(c, func(st *store.Store) error {
						oldDays := storedDaysAhead(c.Context, logger, st)

						cfg := settings.Default()
						if err := cfg.Set(key, c.Args().Get(1)); err != nil {
							return err
						}
						v, err := cfg.Value(key)
						if err != nil {
							return err
						}
						if err := st.Set(c.Context, key, v); err != nil {
							return err
						}
						logger.Info("Setting saved.", "key", key, "value", v)

						if key == settings.KeyDaysAhead {
							return shrinkWindow(c, logger, st, oldDays, cfg.DaysAhead)
						}
						return nil
					})
				},
			},
			{
				Name:      "import",
				Usage:     "Replace the settings with a YAML document.",
				ArgsUsage: "FILE",
				Action: func(c *cli.Context) error {
					data, err := os.ReadFile(c.Args().First())
					if err != nil {
						return fmt.Errorf("failed to read settings file: %w", err)
					}
					cfg, err := settings.ParseFile(data)
					if err != nil {
						return err
					}
					if err := cfg.Validate(); err != nil {
						return err
					}
					logger := newLogger(c)
					return withStore(c, func(st *store.Store) error {
						oldDays := storedDaysAhead(c.Context, logger, st)
						if err := settings.Save(c.Context, st, cfg); err != nil {
							return err
						}
						logger.Info("Settings imported.", "sources", len(cfg.SourceCalendarIDs), "destinations", len(cfg.Destinations))
						return shrinkWindow(c, logger, st, oldDays, cfg.DaysAhead)
					})
				},
			},
			{
				Name:  "export",
				Usage: "Print the settings as a YAML document.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write to this file instead of stdout."},
				},
				Action: func(c *cli.Context) error {
					return withStore(c, func(st *store.Store) error {
						cfg, err := settings.Load(c.Context, st)
						if err != nil {
							return err
						}
						data, err := settings.MarshalFile(cfg)
						if err != nil {
							return err
						}
						if out := c.String("output"); out != "" {
							return os.WriteFile(out, data, 0o644)
						}
						_, err = os.Stdout.Write(data)
						return err
					})
				},
			},
		},
	}
}

func withStore(c *cli.Context, fn func(st *store.Store) error) error {
	st, err := store.Open(c.String("db"))
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func settingKey(key string) (string, error) {
	if !slices.Contains(settings.Keys, key) {
		return "", fmt.Errorf("%w: unknown setting %q, want one of %v", settings.ErrInvalid, key, settings.Keys)
	}
	return key, nil
}

// storedDaysAhead returns the window length currently in the store, or the
// default when it is unset or unreadable.
func storedDaysAhead(ctx context.Context, logger *slog.Logger, st *store.Store) int {
	cfg := settings.Default()
	v, ok, err := st.Get(ctx, settings.KeyDaysAhead)
	if err != nil || !ok {
		return cfg.DaysAhead
	}
	if err := cfg.Set(settings.KeyDaysAhead, v); err != nil {
		logger.Warn("Ignoring stored window length.", "error", err)
	}
	return cfg.DaysAhead
}

// shrinkWindow removes clones stranded beyond a window that got shorter.
func shrinkWindow(c *cli.Context, logger *slog.Logger, st *store.Store, oldDays, newDays int) error {
	if newDays >= oldDays {
		return nil
	}
	cals, err := openCalendars(c, logger)
	if err != nil {
		logger.Warn("Window shrank but no calendar account is configured; run 'cleanup' later.",
			"oldDays", oldDays, "newDays", newDays, "error", err)
		return nil
	}
	s := syncer.NewSyncer(logger, cals, st, syncer.Options{})
	return report(s.CleanupBeyondWindow(c.Context, oldDays, newDays))
}
