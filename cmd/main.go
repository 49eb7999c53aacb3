package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"calmirror/internal/gateway"
	"calmirror/internal/google"
	"calmirror/internal/icloud"
	"calmirror/internal/scheduler"
	"calmirror/internal/settings"
	"calmirror/internal/store"
	"calmirror/internal/syncer"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "calmirror",
		Usage: "Mirror events from source calendars into destination calendars as prefixed clones.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Value: "calmirror.db", EnvVars: []string{"CALMIRROR_DB"}, Usage: "Path of the settings database."},
			&cli.StringFlag{Name: "log-level", Value: "info", EnvVars: []string{"LOG_LEVEL"}, Usage: "One of debug, info, warn, error."},
			&cli.StringFlag{Name: "log-file", EnvVars: []string{"LOG_FILE"}, Usage: "Also write logs to this file, rotated by size."},
			&cli.StringFlag{Name: "google-client-id", EnvVars: []string{"GOOGLE_CLIENT_ID"}},
			&cli.StringFlag{Name: "google-client-secret", EnvVars: []string{"GOOGLE_CLIENT_SECRET"}},
			&cli.StringFlag{Name: "google-account", Value: "default", EnvVars: []string{"GOOGLE_ACCOUNT"}, Usage: "Name of the saved Google token to use."},
			&cli.StringFlag{Name: "caldav-endpoint", Value: icloud.DefaultEndpoint, EnvVars: []string{"CALDAV_ENDPOINT"}},
			&cli.StringFlag{Name: "caldav-username", EnvVars: []string{"CALDAV_USERNAME"}},
			&cli.StringFlag{Name: "caldav-password", EnvVars: []string{"CALDAV_PASSWORD"}},
		},
		Commands: []*cli.Command{
			authCommand(),
			calendarsCommand(),
			syncCommand(),
			cleanupCommand(),
			settingsCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			logger.Info("Starting Google authentication flow.")

			config, err := google.GetOAuthConfigForAuthFlow(c.String("google-client-id"), c.String("google-client-secret"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, config, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Printf("Enter a name for this account (default %q): ", c.String("google-account"))
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)
			if accountName == "" {
				accountName = c.String("google-account")
			}
			tokenFile := "token-" + accountName + ".json"

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the calendars of every configured account.",
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			st, err := store.Open(c.String("db"))
			if err != nil {
				return err
			}
			defer st.Close()

			cfg, err := settings.Load(c.Context, st)
			if err != nil {
				return err
			}
			cals, err := openCalendars(c, logger)
			if err != nil {
				return err
			}

			list, err := cals.ListCalendars(c.Context)
			if err != nil && len(list) == 0 {
				return fmt.Errorf("failed to list calendars: %w", err)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tROLE")
			for _, cal := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", cal.ID, cal.Name, role(cfg, cal.ID))
			}
			return tw.Flush()
		},
	}
}

func role(cfg *settings.Config, id string) string {
	var roles []string
	if cfg.IsSource(id) {
		roles = append(roles, "source")
	}
	if slices.ContainsFunc(cfg.Destinations, func(d settings.Destination) bool { return d.ID == id }) {
		roles = append(roles, "destination")
	}
	return strings.Join(roles, ",")
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run the calendar synchronization process.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Run the sync cycle once and exit. Overrides --watch and --schedule."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be synced without making changes."},
			&cli.StringFlag{Name: "calendar", Usage: "Only rebuild clones of this source calendar."},
			&cli.IntFlag{Name: "watch", Value: 300, Usage: "Run sync every N seconds."},
			&cli.StringFlag{Name: "schedule", Usage: "Run sync on a cron schedule, e.g. \"*/15 * * * *\". Overrides --watch."},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			if c.Bool("dry-run") {
				logger.Info("Performing a dry run. No changes will be made.")
			}

			st, err := store.Open(c.String("db"))
			if err != nil {
				return err
			}
			defer st.Close()

			cals, err := openCalendars(c, logger)
			if err != nil {
				return err
			}
			s := syncer.NewSyncer(logger, cals, st, syncer.Options{DryRun: c.Bool("dry-run")})

			var hint *syncer.Hint
			if id := c.String("calendar"); id != "" {
				hint = &syncer.Hint{CalendarID: id}
			}

			spec, err := cycleSchedule(c.Bool("once"), c.String("schedule"), c.IsSet("watch"), c.Int("watch"))
			if err != nil {
				return err
			}
			if spec == "" {
				logger.Info("Running a single sync cycle.")
				return report(s.RunSync(c.Context, hint))
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched := scheduler.New(logger, s)
			if err := sched.Add(ctx, spec); err != nil {
				return err
			}
			logger.Info("Starting watcher.", "schedule", spec)
			_ = report(s.RunSync(ctx, hint))
			sched.Start()
			<-ctx.Done()
			sched.Stop()
			logger.Info("Watcher stopped.")
			return nil
		},
	}
}

// cycleSchedule picks the scheduler spec for the sync command. An empty spec
// means a single cycle, which is the default without --watch or --schedule.
func cycleSchedule(once bool, schedule string, watchSet bool, watchSeconds int) (string, error) {
	switch {
	case once:
		return "", nil
	case schedule != "":
		return schedule, nil
	case !watchSet:
		return "", nil
	case watchSeconds <= 0:
		return "", fmt.Errorf("--watch must be a positive number of seconds, got %d", watchSeconds)
	}
	return scheduler.Every(time.Duration(watchSeconds) * time.Second), nil
}

func cleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Delete clones left beyond a window that shrank from --old-days to --new-days.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "old-days", Required: true},
			&cli.IntFlag{Name: "new-days", Required: true},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be deleted without making changes."},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			st, err := store.Open(c.String("db"))
			if err != nil {
				return err
			}
			defer st.Close()

			cals, err := openCalendars(c, logger)
			if err != nil {
				return err
			}
			s := syncer.NewSyncer(logger, cals, st, syncer.Options{DryRun: c.Bool("dry-run")})
			return report(s.CleanupBeyondWindow(c.Context, c.Int("old-days"), c.Int("new-days")))
		},
	}
}

// report prints the run summary and turns failed runs into an error for the exit status.
func report(res *syncer.Result) error {
	fmt.Println(res.Summary)
	for _, e := range res.Errors {
		fmt.Println("  " + e)
	}
	switch res.Status {
	case syncer.StatusConfigError, syncer.StatusFailed:
		return fmt.Errorf("%s: %s", res.Status, res.Summary)
	}
	return nil
}

// openCalendars builds the calendar gateway from whichever accounts are configured.
func openCalendars(c *cli.Context, logger *slog.Logger) (*gateway.Router, error) {
	router, _, err := openGateway(c, logger)
	return router, err
}

// openGateway is openCalendars that also returns the Google client, when
// one is configured, for registering push channels.
func openGateway(c *cli.Context, logger *slog.Logger) (*gateway.Router, *google.CalendarClient, error) {
	var (
		fallback gateway.Backend
		gClient  *google.CalendarClient
	)

	account := c.String("google-account")
	accounts, err := google.GetTokenAccounts()
	if err != nil {
		return nil, nil, fmt.Errorf("could not look up google accounts: %w", err)
	}
	if slices.Contains(accounts, account) {
		gClient, err = google.NewClient(c.Context, logger, c.String("google-client-id"), c.String("google-client-secret"), account)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create google client for account %s: %w", account, err)
		}
		fallback = gClient
		logger.Debug("Initialized Google client.", "account", account)
	}

	router := gateway.NewRouter(logger, fallback)

	if user := c.String("caldav-username"); user != "" {
		dav, err := icloud.NewClient(logger, c.String("caldav-endpoint"), user, c.String("caldav-password"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create caldav client: %w", err)
		}
		router.Register(gateway.CalDAVScheme, dav)
		logger.Debug("Initialized CalDAV client.", "endpoint", c.String("caldav-endpoint"))
	}

	if fallback == nil && c.String("caldav-username") == "" {
		return nil, nil, fmt.Errorf("%w: run the 'auth' command or set CALDAV_USERNAME", gateway.ErrNoBackend)
	}
	return router, gClient, nil
}

func newLogger(c *cli.Context) *slog.Logger {
	return setupLogger(c.String("log-level"), c.String("log-file"))
}

func setupLogger(level, file string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if file != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
		})
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: logLevel}))
}
