package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/airframesio/sf-file-export/cmd/salesforce"
)

// Exit codes
const (
	exitOK        = 0
	exitFailure   = 1
	exitPartial   = 2
	exitCancelled = 130
)

// ErrAlreadyRunning is returned when another export holds the PID file
var ErrAlreadyRunning = errors.New("another export is already running")

var (
	// Version information - set via ldflags during build
	// Example: go build -ldflags "-X github.com/airframesio/sf-file-export/cmd.Version=1.2.3"
	Version = "dev" // Default to "dev" if not set during build

	// signalContext is set by main() before Cobra initialization
	signalContext context.Context

	cfgFile    string
	exportType string
	envFile    string
	debug      bool
	logFormat  string
	logLevel   string

	logger *slog.Logger
)

// legacyKeys maps keys of the [salesforce] ini section to their flat names
var legacyKeys = map[string]string{
	"salesforce.batch_size": "batch_size",
	"salesforce.loglevel":   "log_level",
	"salesforce.output_dir": "output_dir",
}

// SetSignalContext stores the signal-aware context created in main()
// This must be called before Execute() to ensure proper signal handling
func SetSignalContext(ctx context.Context) {
	signalContext = ctx
}

// textOnlyHandler is a custom slog handler that outputs human-readable text
// without key=value pairs, suitable for interactive terminal usage
type textOnlyHandler struct {
	opts   slog.HandlerOptions
	writer io.Writer
}

func newTextOnlyHandler(w io.Writer, opts *slog.HandlerOptions) *textOnlyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &textOnlyHandler{
		opts:   *opts,
		writer: w,
	}
}

func (h *textOnlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *textOnlyHandler) Handle(_ context.Context, r slog.Record) error {
	// Format: YYYY-MM-DD HH:MM:SS LEVEL message
	timestamp := r.Time.Format("2006-01-02 15:04:05")
	_, err := fmt.Fprintf(h.writer, "%s %s %s\n", timestamp, r.Level.String(), r.Message)
	return err
}

func (h *textOnlyHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	// Attributes are not rendered in text-only mode
	return h
}

func (h *textOnlyHandler) WithGroup(_ string) slog.Handler {
	return h
}

// parseLogLevel also accepts the WARNING and CRITICAL names found in ini files
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: '%s'", ErrLogLevelInvalid, level)
	}
}

// initLogger initializes the slog logger based on debug flag, level and log format
func initLogger(isDebug bool, level slog.Level, format string, w io.Writer) {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	if isDebug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "logfmt":
		// logfmt uses slog.TextHandler which outputs key=value pairs
		handler = slog.NewTextHandler(w, opts)
	default: // "text" or anything else
		handler = newTextOnlyHandler(w, opts)
	}

	logger = slog.New(handler)
}

var rootCmd = &cobra.Command{
	Use:     "sf-file-export",
	Version: Version,
	Short:   "📎 Export Salesforce files (ContentVersion) to local storage",
	Long: titleStyle.Render("Salesforce File Export") + `

A CLI tool to export the files attached to Salesforce records.
Resolves every ContentDocument linked to the records selected by a SOQL query,
writes a files.csv mapping, and downloads the latest version of each file in
parallel. Optionally compresses payloads and mirrors them to S3.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// Show help when no subcommand is specified
		_ = cmd.Help()
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the files linked to a set of parent records",
	Long: `Export the files linked to the parent records selected by --query.
The query must return record Ids, e.g. "SELECT Id FROM Account WHERE Type = 'Customer'".`,
	Run: func(_ *cobra.Command, _ []string) {
		os.Exit(runExport())
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(exportCmd)

	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sf-file-export.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load into the environment (default is .env if present)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output (disables the TUI)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, logfmt, json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warning, error)")
	rootCmd.PersistentFlags().Bool("dry-run", false, "resolve and list files without downloading")

	flags := exportCmd.Flags()
	flags.StringVarP(&exportType, "type", "t", "", "read settings from download-<type>.ini in the working directory")
	flags.StringP("query", "q", "", "SOQL returning the Ids of the parent records (required)")
	flags.StringP("output-dir", "o", "", "output directory for files and files.csv (required)")
	flags.String("base-query", "", "override the ContentVersion metadata query")
	flags.Int("batch-size", 100, "ids per metadata query (1-2000)")
	flags.Int("workers", runtime.NumCPU(), "number of parallel downloads")
	flags.String("dialect", string(DialectAuto), "filename rules: auto, windows, posix")
	flags.String("compression", "none", "compression type: zstd, lz4, gzip, none")
	flags.Int("compression-level", 0, "compression level (zstd: 1-22, lz4/gzip: 1-9, 0: default)")
	flags.String("report-format", "jsonl", "run report format: jsonl, csv, parquet, none")

	flags.String("username", "", "Salesforce username")
	flags.String("password", "", "Salesforce password")
	flags.String("security-token", "", "Salesforce security token")
	flags.String("domain", "", "My Domain prefix (e.g. acme for acme.my.salesforce.com)")
	flags.Bool("sandbox", false, "log in to a sandbox (test.salesforce.com)")
	flags.String("access-token", "", "pre-issued OAuth access token (skips login)")
	flags.String("instance-url", "", "instance URL for --access-token, e.g. https://acme.my.salesforce.com")
	flags.String("api-version", salesforce.DefaultAPIVersion, "Salesforce API version")

	flags.String("s3-endpoint", "", "S3-compatible endpoint URL (empty for AWS)")
	flags.String("s3-bucket", "", "mirror exported files to this S3 bucket")
	flags.String("s3-access-key", "", "S3 access key")
	flags.String("s3-secret-key", "", "S3 secret key")
	flags.String("s3-region", "us-east-1", "S3 region")
	flags.String("s3-path-template", DefaultPathTemplate, "S3 key template with placeholders: {file}, {run}, {YYYY}, {MM}, {DD}, {HH}")

	// Note: We don't use MarkFlagRequired because it checks before viper loads the config file.
	// Instead, validation happens in config.Validate() which runs after all config sources are loaded.

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("dry_run", rootCmd.PersistentFlags().Lookup("dry-run"))

	bindings := map[string]string{
		"query":                     "query",
		"output_dir":                "output-dir",
		"base_query":                "base-query",
		"batch_size":                "batch-size",
		"workers":                   "workers",
		"dialect":                   "dialect",
		"compression":               "compression",
		"compression_level":         "compression-level",
		"report_format":             "report-format",
		"salesforce.username":       "username",
		"salesforce.password":       "password",
		"salesforce.security_token": "security-token",
		"salesforce.domain":         "domain",
		"salesforce.sandbox":        "sandbox",
		"salesforce.access_token":   "access-token",
		"salesforce.instance_url":   "instance-url",
		"salesforce.api_version":    "api-version",
		"s3.endpoint":               "s3-endpoint",
		"s3.bucket":                 "s3-bucket",
		"s3.access_key":             "s3-access-key",
		"s3.secret_key":             "s3-secret-key",
		"s3.region":                 "s3-region",
		"s3.path_template":          "s3-path-template",
	}
	for key, flag := range bindings {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func initConfig() {
	if envFile != "" {
		cobra.CheckErr(godotenv.Load(envFile))
	} else {
		// A missing .env is not an error
		_ = godotenv.Load()
	}

	explicit := cfgFile != "" || exportType != ""
	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case exportType != "":
		viper.SetConfigFile("download-" + strings.TrimSpace(exportType) + ".ini")
	default:
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sf-file-export")
	}

	viper.SetEnvPrefix("SFEXPORT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if explicit {
			cobra.CheckErr(fmt.Errorf("failed to read config file: %w", err))
		}
		return
	}
	applyLegacyKeys(viper.GetViper())
}

// applyLegacyKeys lets existing download-<type>.ini files keep
// working: [salesforce] batch_size, loglevel and connect_to_sandbox
func applyLegacyKeys(v *viper.Viper) {
	for legacy, key := range legacyKeys {
		if v.InConfig(legacy) && !v.InConfig(key) {
			v.SetDefault(key, v.Get(legacy))
		}
	}
	if v.InConfig("salesforce.connect_to_sandbox") && !v.InConfig("salesforce.sandbox") {
		v.SetDefault("salesforce.sandbox", v.GetBool("salesforce.connect_to_sandbox"))
	}
}

// loadConfig builds a Config from every configuration source
func loadConfig(v *viper.Viper) *Config {
	return &Config{
		Debug:            v.GetBool("debug"),
		LogFormat:        v.GetString("log_format"),
		LogLevel:         v.GetString("log_level"),
		DryRun:           v.GetBool("dry_run"),
		Workers:          v.GetInt("workers"),
		BatchSize:        v.GetInt("batch_size"),
		OutputDir:        v.GetString("output_dir"),
		Query:            v.GetString("query"),
		BaseQuery:        v.GetString("base_query"),
		Dialect:          v.GetString("dialect"),
		Compression:      v.GetString("compression"),
		CompressionLevel: v.GetInt("compression_level"),
		ReportFormat:     v.GetString("report_format"),
		Salesforce: SalesforceConfig{
			Username:      v.GetString("salesforce.username"),
			Password:      v.GetString("salesforce.password"),
			SecurityToken: v.GetString("salesforce.security_token"),
			Domain:        v.GetString("salesforce.domain"),
			Sandbox:       v.GetBool("salesforce.sandbox"),
			AccessToken:   v.GetString("salesforce.access_token"),
			InstanceURL:   v.GetString("salesforce.instance_url"),
			APIVersion:    v.GetString("salesforce.api_version"),
		},
		S3: S3Config{
			Endpoint:     v.GetString("s3.endpoint"),
			Bucket:       v.GetString("s3.bucket"),
			AccessKey:    v.GetString("s3.access_key"),
			SecretKey:    v.GetString("s3.secret_key"),
			Region:       v.GetString("s3.region"),
			PathTemplate: v.GetString("s3.path_template"),
		},
	}
}

// connect establishes the session every worker shares
func connect(ctx context.Context, cfg SalesforceConfig) (*salesforce.Client, error) {
	var (
		session salesforce.Session
		err     error
	)
	if cfg.UsesToken() {
		session, err = salesforce.NewSessionFromToken(cfg.InstanceURL, cfg.AccessToken)
	} else {
		session, err = salesforce.Login(ctx, salesforce.LoginOptions{
			Username:      cfg.Username,
			Password:      cfg.Password,
			SecurityToken: cfg.SecurityToken,
			Domain:        cfg.LoginDomain(),
			APIVersion:    cfg.APIVersion,
		})
	}
	if err != nil {
		return nil, err
	}
	return salesforce.NewClient(session, salesforce.Options{APIVersion: cfg.APIVersion}), nil
}

func runExport() (code int) {
	// Add panic recovery to catch any unexpected crashes
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n❌ PANIC: %v\n", r)
			code = exitFailure
		}
	}()

	config := loadConfig(viper.GetViper())

	level, levelErr := parseLogLevel(config.LogLevel)
	initLogger(config.Debug, level, config.LogFormat, os.Stdout)

	logger.Info("")
	logger.Info(fmt.Sprintf("🚀 Salesforce File Export v%s", Version))
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	logger.Debug("Validating configuration...")
	if levelErr != nil {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", levelErr.Error()))
		return exitFailure
	}
	if err := config.Validate(); err != nil {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		return exitFailure
	}
	logger.Debug("Configuration validated successfully")

	announceUpdate(context.Background(), newUpdateChecker(), 2*time.Second)

	if pid, err := ReadPIDFile(); err == nil && pid != os.Getpid() && IsProcessRunning(pid) {
		logger.Error(fmt.Sprintf("❌ %v (pid %d)", ErrAlreadyRunning, pid))
		return exitFailure
	}
	if err := WritePIDFile(); err != nil {
		logger.Warn(fmt.Sprintf("⚠️  Could not write PID file: %v", err))
	}
	defer func() {
		_ = RemovePIDFile()
	}()

	taskInfo := &TaskInfo{
		PID:         os.Getpid(),
		StartTime:   time.Now(),
		Query:       config.Query,
		OutputDir:   config.OutputDir,
		CurrentTask: "Starting export",
	}
	_ = WriteTaskInfo(taskInfo)
	defer func() {
		_ = RemoveTaskFile()
	}()

	// Use the signal context created in main() before Cobra initialization
	ctx := signalContext
	if ctx == nil {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
	}

	if config.Salesforce.UsesToken() {
		logger.Info(fmt.Sprintf("Using access token for %s", config.Salesforce.InstanceURL))
	} else {
		logger.Info(fmt.Sprintf("Username: %s", config.Salesforce.Username))
		logger.Info(fmt.Sprintf("Signing in at: https://%s.salesforce.com", config.Salesforce.LoginDomain()))
	}
	logger.Info(fmt.Sprintf("Output directory: %s", config.OutputDir))

	var (
		summary *Summary
		err     error
	)
	if config.Debug {
		logger.Info("Running in debug mode - TUI disabled for better log visibility")
		summary, err = runExportDirect(ctx, config, taskInfo)
	} else {
		summary, err = runExportWithTUI(ctx, config, level, taskInfo)
	}

	if summary != nil {
		summary.Log(logger)
	}

	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("")
		logger.Info("⚠️  Export cancelled by user")
		return exitCancelled
	case err != nil:
		logger.Error(fmt.Sprintf("❌ Export failed: %s", err.Error()))
		return exitFailure
	case summary != nil && summary.Err() != nil:
		logger.Warn(fmt.Sprintf("⚠️  Export completed with %d failed downloads and %d skipped batches",
			summary.Failed(), summary.SkippedBatches()))
		return exitPartial
	}

	logger.Info("")
	logger.Info("✅ Export completed successfully!")
	return exitOK
}

func runExportDirect(ctx context.Context, config *Config, taskInfo *TaskInfo) (*Summary, error) {
	logger.Debug("Connecting to Salesforce...")
	client, err := connect(ctx, config.Salesforce)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	logger.Info(fmt.Sprintf("✅ Connected to %s", client.Session().InstanceHost))

	return NewExporter(config, client, logger, WithTaskInfo(taskInfo)).Run(ctx)
}

// runExportWithTUI runs the export behind the progress display. Log lines go
// to a file in the state directory so they do not corrupt the screen.
func runExportWithTUI(ctx context.Context, config *Config, level slog.Level, taskInfo *TaskInfo) (*Summary, error) {
	logPath := filepath.Join(GetStateDir(), "last-run.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	defer logFile.Close()

	fmt.Fprintln(os.Stderr, infoStyle.Render("💡 Detailed log: "+logPath))
	initLogger(false, level, config.LogFormat, logFile)
	defer initLogger(false, level, config.LogFormat, os.Stdout)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// CRITICAL: Disable Bubble Tea's signal handler so the signal context keeps working
	program := tea.NewProgram(newProgressModel(cancel), tea.WithoutSignalHandler(), tea.WithAltScreen())

	type runResult struct {
		summary *Summary
		err     error
	}
	results := make(chan runResult, 1)

	go func() {
		program.Send(phaseMsg{phase: PhaseConnecting, message: "Connecting to Salesforce..."})
		client, err := connect(ctx, config.Salesforce)
		if err != nil {
			err = fmt.Errorf("failed to connect: %w", err)
			program.Send(runErrMsg{err: err})
			results <- runResult{err: err}
			return
		}
		logger.Info(fmt.Sprintf("✅ Connected to %s", client.Session().InstanceHost))
		program.Send(messageMsg(fmt.Sprintf("✅ Connected to %s", client.Session().InstanceHost)))

		summary, err := NewExporter(config, client, logger, WithProgram(program), WithTaskInfo(taskInfo)).Run(ctx)
		if err != nil {
			program.Send(runErrMsg{err: err})
		}
		results <- runResult{summary: summary, err: err}
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-results
		return nil, fmt.Errorf("error running progress display: %w", err)
	}

	// The user may have quit early; the cancelled run still reports back
	result := <-results
	return result.summary, result.err
}
