package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pbaille/hwsync/internal/api"
	"github.com/pbaille/hwsync/internal/calendar"
	"github.com/pbaille/hwsync/internal/closures"
	"github.com/pbaille/hwsync/internal/config"
	"github.com/pbaille/hwsync/internal/domain"
	"github.com/pbaille/hwsync/internal/extractor"
	"github.com/pbaille/hwsync/internal/fetcher"
	"github.com/pbaille/hwsync/internal/logger"
	"github.com/pbaille/hwsync/internal/reconcile"
	"github.com/pbaille/hwsync/internal/resolver"
	"github.com/pbaille/hwsync/internal/splitter"
	"github.com/pbaille/hwsync/internal/store"
	"github.com/spf13/cobra"
)

var (
	v       = config.New()
	envFile string
	cfg     *config.Config
	log     *slog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "hwsync",
		Short:         "Sync a class timetable into a homework list",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(v, envFile)
			if err != nil {
				return err
			}
			log = logger.New(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.String("db", "", "SQLite database path")
	flags.String("driver", "", "store driver: sqlite or postgres")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	_ = v.BindPFlag("db", flags.Lookup("db"))
	_ = v.BindPFlag("driver", flags.Lookup("driver"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))

	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(checkCmd(true))
	rootCmd.AddCommand(checkCmd(false))
	rootCmd.AddCommand(pruneCmd())
	rootCmd.AddCommand(closuresCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func getStore(ctx context.Context) (store.Store, error) {
	if cfg.Driver != store.DriverPostgres {
		// Ensure directory exists
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	return store.Open(ctx, cfg.Driver, cfg.DSN())
}

func today() time.Time {
	return calendar.Today(time.Now(), cfg.Location)
}

func newSource() (fetcher.Source, error) {
	if err := cfg.ValidateSource(); err != nil {
		return nil, err
	}
	if cfg.Source == config.SourceFile {
		return fetcher.File{Path: cfg.HTMLFile}, nil
	}
	return fetcher.NewCanvas(cfg.CanvasDomain, cfg.CourseID, cfg.CanvasToken), nil
}

func newSplitter() splitter.Splitter {
	if cfg.AnthropicAPIKey == "" {
		return splitter.PassThrough{}
	}
	s, err := splitter.NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	if err != nil {
		log.Warn("announcement splitting disabled", "error", err)
		return splitter.PassThrough{}
	}
	return s
}

func newEngine(st store.Store) (*reconcile.Engine, error) {
	src, err := newSource()
	if err != nil {
		return nil, err
	}
	return &reconcile.Engine{
		Source:        src,
		Extractor:     extractor.New(cfg.NoHomeworkMarker),
		Closures:      closures.New(st, cfg.ClosureLookbackDays, cfg.ClosureLookaheadDays, log),
		Resolver:      resolver.New(cfg.MaxSchoolDayIterations),
		Splitter:      newSplitter(),
		Repo:          st,
		Scope:         domain.Scope{OwnerID: cfg.StudentID, Source: domain.SourceCanvas},
		RetentionDays: cfg.RetentionDays,
		TitleMaxLen:   cfg.TitleMaxLen,
		Location:      cfg.Location,
		Logger:        log,
	}, nil
}

func syncCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch the timetable and replace the stored homework",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				cfg.Source = config.SourceFile
				cfg.HTMLFile = file
			}

			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			eng, err := newEngine(s)
			if err != nil {
				return err
			}

			res, err := eng.Run(ctx)
			if err != nil {
				return err
			}

			if res.Skipped {
				fmt.Println("Nothing to sync: no announcements found.")
				return nil
			}
			fmt.Printf("Announcements: %d, resolved: %d, after dedup: %d\n", res.Announcements, res.Resolved, res.Collapsed)
			fmt.Printf("Inserted %d (%d kept their check-off), deleted %d, pruned %d\n", res.Inserted, res.Preserved, res.Deleted, res.Pruned)
			if res.Failed > 0 {
				fmt.Printf("%d writes failed, see log\n", res.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the timetable from a saved HTML file")
	return cmd
}

func listCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List homework due soon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			from := today()
			recs, err := s.ListHomeworkDue(ctx, cfg.StudentID, from, from.AddDate(0, 0, days))
			if err != nil {
				return err
			}

			if len(recs) == 0 {
				fmt.Println("No homework due. Use 'hwsync sync' to refresh.")
				return nil
			}

			for _, r := range recs {
				mark := " "
				if r.CheckedOff {
					mark = "x"
				}
				fmt.Printf("%s  [%s] %s  %-14s %s\n", shortID(r.ID), mark, r.DateDue.Format("Mon 01/02"), r.Subject, truncate(r.Title, 60))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 7, "number of days ahead to show")
	return cmd
}

func checkCmd(checked bool) *cobra.Command {
	use, short := "check [id]", "Mark homework as done"
	if !checked {
		use, short = "uncheck [id]", "Mark homework as not done"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := strings.TrimSpace(args[0])
			if prefix == "" {
				return errors.New("id is required")
			}

			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			rec, err := s.FindHomework(ctx, cfg.StudentID, prefix)
			if err != nil {
				return err
			}
			if err := s.SetCheckedOff(ctx, rec.ID, checked, time.Now()); err != nil {
				return err
			}

			verb := "Checked"
			if !checked {
				verb = "Unchecked"
			}
			fmt.Printf("%s %s  %s: %s\n", verb, shortID(rec.ID), rec.Subject, truncate(rec.Title, 60))
			return nil
		},
	}
}

func pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete homework due before the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			before := today().AddDate(0, 0, -cfg.RetentionDays)
			n, err := s.PruneHomework(ctx, cfg.StudentID, before)
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d items due before %s\n", n, calendar.Format(before))
			return nil
		},
	}
}

func closuresCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "closures",
		Short: "Manage no-school days",
	}

	var days int
	list := &cobra.Command{
		Use:   "list",
		Short: "List upcoming no-school days",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			from := today()
			events, err := s.ListSchoolEvents(ctx, from, from.AddDate(0, 0, days), domain.EventTypeNoSchool)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("No closures scheduled.")
				return nil
			}
			for _, ev := range events {
				fmt.Printf("%s  %s\n", ev.EventDate.Format("Mon 2006-01-02"), ev.Title)
			}
			return nil
		},
	}
	list.Flags().IntVarP(&days, "days", "d", 60, "number of days ahead to show")

	add := &cobra.Command{
		Use:   "add [YYYY-MM-DD] [title]",
		Short: "Add a no-school day",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := calendar.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid date %q: %w", args[0], err)
			}

			ctx := cmd.Context()
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			ev, err := s.AddSchoolEvent(ctx, domain.SchoolEvent{
				EventDate: date,
				EventType: domain.EventTypeNoSchool,
				Title:     strings.Join(args[1:], " "),
			})
			if err != nil {
				return err
			}
			fmt.Printf("Added closure %s: %s\n", calendar.Format(ev.EventDate), ev.Title)
			return nil
		},
	}

	cmd.AddCommand(list, add)
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the homework feed server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			opts := api.Options{
				Addr:     cfg.Addr,
				OwnerID:  cfg.StudentID,
				Location: cfg.Location,
				Logger:   log,
			}
			if eng, err := newEngine(s); err != nil {
				log.Warn("POST /sync disabled", "error", err)
			} else {
				opts.Syncer = eng
			}

			err = api.New(s, opts).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringP("addr", "a", "", "server address (default :8080)")
	_ = v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
