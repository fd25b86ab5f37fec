package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/curtbushko/zoom-mirror/internal/config"
	"github.com/curtbushko/zoom-mirror/internal/directory"
	"github.com/curtbushko/zoom-mirror/internal/download"
	"github.com/curtbushko/zoom-mirror/internal/email"
	"github.com/curtbushko/zoom-mirror/internal/filename"
	"github.com/curtbushko/zoom-mirror/internal/logging"
	"github.com/curtbushko/zoom-mirror/internal/metrics"
	"github.com/curtbushko/zoom-mirror/internal/processor"
	"github.com/curtbushko/zoom-mirror/internal/retry"
	"github.com/curtbushko/zoom-mirror/internal/tracking"
	"github.com/curtbushko/zoom-mirror/internal/users"
	"github.com/curtbushko/zoom-mirror/internal/zoom"
)

var (
	// Version information - will be set during build
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const defaultConfigFile = "config.yaml"

// cliOptions holds the global flags of one command tree
type cliOptions struct {
	configFile string
	outputDir  string
	members    []string
	interval   time.Duration
	verbose    bool
}

// buildRootCommand creates and configures the root command
func buildRootCommand() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "zoom-mirror",
		Short: "Mirror Zoom cloud recordings to a local folder tree",
		Long: `zoom-mirror connects to the Zoom API and mirrors every member's cloud
recordings into a local folder tree organized by member, month and day.

Each run re-scans a trailing window of days, downloads what is missing,
replaces files whose size does not match, and leaves verified files alone.
Running it again is always safe.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runSync(ctx, cmd, cfg, opts)
		},
	}

	rootCmd.AddCommand(createListCommand(opts))
	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand(opts))

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "configuration file path (default: config.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&opts.outputDir, "output-dir", "", "local root folder (overrides config)")
	rootCmd.PersistentFlags().StringArrayVar(&opts.members, "member", nil, "only sync this member email (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "verbose logging")
	rootCmd.Flags().DurationVar(&opts.interval, "interval", 0, "repeat the sync at this interval until interrupted (0 = run once)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if opts.interval < 0 {
			return fmt.Errorf("interval must be positive or 0, got: %v", opts.interval)
		}
		for _, member := range opts.members {
			if !email.IsValidEmail(member) {
				return fmt.Errorf("invalid email format for --member: %s", member)
			}
		}
		return nil
	}

	return rootCmd
}

// createListCommand creates the list subcommand
func createListCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List members and their recordings in the sync window",
		Long:  "Enumerate members and their recording sessions for the configured lookback window without downloading anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			listings, err := a.orchestrator.List(ctx)
			printListings(cmd, listings)
			return err
		},
	}
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display version, commit, and build information for zoom-mirror",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("zoom-mirror version %s\n", version)
			cmd.Printf("Commit: %s\n", commit)
			cmd.Printf("Build date: %s\n", buildDate)
		},
	}
}

// createConfigCommand creates the config help subcommand and its show child
func createConfigCommand(opts *cliOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show configuration file structure",
		Long:  "Display the configuration file structure, defaults and environment variables",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(configHelp)
		},
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  "Load the configuration file, environment and flags, then print the result with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			redacted := *cfg
			if redacted.Zoom.ClientSecret != "" {
				redacted.Zoom.ClientSecret = "REDACTED"
			}

			data, err := yaml.Marshal(&redacted)
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}
			cmd.Print(string(data))
			return nil
		},
	})

	return configCmd
}

// loadConfig resolves the config file, loads it and applies flag overrides
func loadConfig(opts *cliOptions) (*config.Config, error) {
	path := opts.configFile
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("%w\n\nRun 'zoom-mirror config' to see the configuration structure, or set ZOOM_ACCOUNT_ID, ZOOM_CLIENT_ID and ZOOM_CLIENT_SECRET", err)
	}

	if opts.outputDir != "" {
		cfg.Download.OutputDir = opts.outputDir
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// app is the wired object graph for one process
type app struct {
	orchestrator *processor.Orchestrator
	recorder     *metrics.Recorder
	filter       users.ActiveUserManager
	logger       logging.Logger
	metricsFile  string
}

// newApp wires config, logging, the Zoom client and the sync engine
func newApp(cfg *config.Config, opts *cliOptions) (*app, error) {
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.SetDefaultLogger(logger)

	location, err := cfg.Sync.Location()
	if err != nil {
		logger.Close()
		return nil, err
	}

	recorder := metrics.NewRecorder()

	auth := zoom.NewServerToServerAuth(cfg.Zoom)
	client := zoom.NewClient(cfg.Zoom.BaseURL, auth, zoom.WithLogger(logger))
	pacer := zoom.NewPacer(cfg.Sync.PageDelay())
	enumeratorOpts := []zoom.EnumeratorOption{
		zoom.WithEnumeratorLogger(logger),
		zoom.WithPageObserver(recorder),
	}
	memberLister := zoom.NewUserEnumerator(client, pacer, zoom.PaginationConfig{
		PageSize: cfg.Sync.UserPageSize,
		MaxPages: cfg.Sync.MaxUserPages,
	}, enumeratorOpts...)
	recordingLister := zoom.NewRecordingEnumerator(client, pacer, zoom.PaginationConfig{
		PageSize: cfg.Sync.RecordingPageSize,
		MaxPages: cfg.Sync.MaxRecordingPages,
	}, retry.RateLimitPolicy(cfg.Sync.RateLimitCooldown()), enumeratorOpts...)

	downloads := download.NewDownloadManager(download.ConfigFromSettings(cfg.Download), auth,
		download.WithLogger(logger),
		download.WithObserver(recorder),
	)

	planner, err := directory.NewPathPlanner(directory.PlannerConfig{
		BaseDirectory: cfg.Download.OutputDir,
		Location:      location,
	}, filename.NewFileSanitizer(filename.FileSanitizerOptions{}))
	if err != nil {
		logger.Close()
		return nil, err
	}

	filter, err := users.NewActiveUserManager(users.ActiveUserConfig{
		FilePath:  cfg.ActiveUsers.File,
		Members:   opts.members,
		WatchFile: cfg.ActiveUsers.Watch && opts.interval > 0,
		Logger:    logger,
	})
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("failed to load active users: %w", err)
	}

	orchestratorOpts := []processor.Option{
		processor.WithUserFilter(filter),
		processor.WithMetrics(recorder),
		processor.WithLogger(logger),
	}
	if cfg.Report.CSVFile != "" {
		reporter, err := tracking.NewCSVReporter(cfg.Report.CSVFile)
		if err != nil {
			filter.Close()
			logger.Close()
			return nil, fmt.Errorf("failed to open report: %w", err)
		}
		orchestratorOpts = append(orchestratorOpts, processor.WithTracker(reporter))
	}

	orchestrator := processor.NewOrchestrator(memberLister, recordingLister, downloads, planner,
		processor.OrchestratorConfig{
			Lookback:          cfg.Sync.Lookback(),
			CaptionExtensions: cfg.Download.CaptionExtensions,
		}, orchestratorOpts...)

	return &app{
		orchestrator: orchestrator,
		recorder:     recorder,
		filter:       filter,
		logger:       logger,
		metricsFile:  cfg.Metrics.Textfile,
	}, nil
}

// Close releases the watcher and log file
func (a *app) Close() {
	a.filter.Close()
	a.logger.Close()
}

// writeMetrics exports the registry when a textfile path is configured
func (a *app) writeMetrics() {
	if a.metricsFile == "" {
		return
	}
	if err := a.recorder.WriteTextfile(a.metricsFile); err != nil {
		a.logger.Warn("Failed to write metrics textfile %s: %v", a.metricsFile, err)
	}
}

// runSync performs one run, or repeats runs every interval until ctx is done
func runSync(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts *cliOptions) error {
	a, err := newApp(cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	for {
		summary, err := a.orchestrator.Run(ctx)
		a.writeMetrics()
		if summary != nil {
			printSummary(cmd, summary)
		}

		if ctx.Err() != nil {
			if opts.interval > 0 {
				cmd.Printf("Interrupted, stopping\n")
				return nil
			}
			return ctx.Err()
		}
		if opts.interval == 0 {
			return err
		}
		if err != nil {
			a.logger.Error("Sync run failed, retrying in %v: %v", opts.interval, err)
		}

		timer := time.NewTimer(opts.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			cmd.Printf("Interrupted, stopping\n")
			return nil
		case <-timer.C:
		}
	}
}

// printSummary displays the outcome of one run
func printSummary(cmd *cobra.Command, summary *processor.RunSummary) {
	cmd.Printf("\nRun %s (%s to %s)\n", summary.RunID,
		summary.From.Format(zoom.DateFormat), summary.To.Format(zoom.DateFormat))
	cmd.Printf("Members: %d processed, %d failed, %d total\n",
		summary.ProcessedMembers, summary.FailedMembers, summary.TotalMembers)
	cmd.Printf("Files: %d downloaded, %d archived, %d errors\n",
		summary.TotalDownloaded, summary.TotalArchived, summary.TotalErrors)
	if summary.SkippedMeetings > 0 || summary.PrunedDirs > 0 {
		cmd.Printf("Meetings skipped: %d, empty folders removed: %d\n", summary.SkippedMeetings, summary.PrunedDirs)
	}
	cmd.Printf("Duration: %v\n", summary.Duration.Round(time.Millisecond))

	if summary.TotalErrors > 0 {
		cmd.Printf("\nFailed files:\n")
		for _, record := range summary.Records {
			if record.Status == tracking.StatusError {
				cmd.Printf("   - %s %s: %v\n", record.User, record.FileName, record.Err)
			}
		}
	}
	for _, member := range summary.MemberResults {
		if member.Err != nil {
			cmd.Printf("   ! %s: %v\n", member.Email, member.Err)
		}
	}
}

// printListings displays the inventory produced by the list subcommand
func printListings(cmd *cobra.Command, listings []processor.MemberListing) {
	for _, listing := range listings {
		cmd.Printf("%s (%d sessions)\n", listing.Member.Email, len(listing.Recordings))
		if listing.Err != nil {
			var enumErr *zoom.EnumerationError
			if errors.As(listing.Err, &enumErr) {
				cmd.Printf("   error on page %d: %v\n", enumErr.Page, enumErr.Err)
			} else {
				cmd.Printf("   error: %v\n", listing.Err)
			}
			continue
		}
		for _, session := range listing.Recordings {
			var size int64
			for _, file := range session.RecordingFiles {
				size += file.FileSize
			}
			cmd.Printf("   %s  %s  %d files, %d bytes\n",
				session.StartTime.Format(time.RFC3339), session.Topic, len(session.RecordingFiles), size)
		}
	}
}

const configHelp = `Configuration File Structure (config.yaml):

ZOOM API CONFIGURATION (Required):
=================================
zoom:
  account_id: "your_zoom_account_id"       # Account ID of the Server-to-Server OAuth app
  client_id: "your_zoom_client_id"         # Client ID of the Server-to-Server OAuth app
  client_secret: "your_zoom_client_secret" # Client Secret of the Server-to-Server OAuth app
  base_url: "https://api.zoom.us/v2"       # Zoom API base URL (default: https://api.zoom.us/v2)
  token_url: "https://zoom.us/oauth/token" # OAuth token endpoint
  token_refresh_margin_seconds: 300        # Refresh the token this long before it expires

# REQUIRED SCOPES: recording:read:admin, user:read:admin

DOWNLOAD CONFIGURATION:
======================
download:
  output_dir: "./downloads"        # Local root folder (default: ./downloads)
  retry_attempts: 5                # Attempts per file (default: 5)
  retry_delay_ms: 0                # Pause between attempts (default: 0)
  timeout_seconds: 3600            # Per-attempt timeout (default: 3600)
  caption_extensions: ["vtt"]      # Extensions exempt from size checks (default: vtt)
  circuit_breaker:
    enabled: false                 # Stop hammering a failing download host (default: false)
    failure_threshold: 10          # Consecutive failures before opening (default: 10)
    cooldown_seconds: 120          # Time before a trial request (default: 120)

SYNC CONFIGURATION:
==================
sync:
  lookback_days: 32                # Trailing window re-scanned on every run (default: 32)
  user_page_size: 300              # Members per page (default: 300)
  recording_page_size: 300         # Sessions per page (default: 300)
  page_delay_ms: 500               # Pause between page requests (default: 500)
  max_user_pages: 4000             # Page cap for the member listing
  max_recording_pages: 2000        # Page cap per member
  rate_limit_cooldown_seconds: 60  # Sleep after HTTP 429 before retrying the page
  timezone: "UTC"                  # Zone used for month and day folders (default: UTC)

LOGGING CONFIGURATION:
=====================
logging:
  level: "info"                    # debug, info, warn, error (default: info)
  file: ""                         # Optional log file
  console: true                    # Console output (default: true)
  json_format: false               # JSON log lines (default: false)

OPTIONAL OUTPUTS:
================
active_users:
  file: "./active_users.txt"       # One member email per line; # starts a comment
  watch: true                      # Reload the file on change while running with --interval
report:
  csv_file: "./report.csv"         # Append user,file_name,recording_id,date_time,status rows
metrics:
  textfile: "./zoom_mirror.prom"   # Prometheus textfile written after every run

ENVIRONMENT VARIABLES:
=====================
  ZOOM_ACCOUNT_ID, ZOOM_CLIENT_ID, ZOOM_CLIENT_SECRET
  ZOOM_BASE_URL, ZOOM_TOKEN_URL
  DOWNLOAD_OUTPUT_DIR, SYNC_LOOKBACK_DAYS

DIRECTORY STRUCTURE:
==================
downloads/
└── member@example.com/
    └── 2024_03_Marzo/
        └── 05-03-2024_Martes/
            ├── Weekly Sync 1 shared_screen abc123.mp4
            └── Weekly Sync 1 closed_caption abc124.vtt

EXAMPLE USAGE:
=============
  zoom-mirror --config config.yaml
  zoom-mirror --member alice@example.com --verbose
  zoom-mirror --interval 24h
  zoom-mirror list
  zoom-mirror config show
`

func main() {
	rootCmd := buildRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
