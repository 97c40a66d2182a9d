package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/core/config"
	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/core/runner"
	"github.com/abdul-hamid-achik/hitscript/packages/db"
	"github.com/abdul-hamid-achik/hitscript/packages/handlers"
	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"github.com/abdul-hamid-achik/hitscript/packages/logging"
	"github.com/abdul-hamid-achik/hitscript/packages/metrics"
	"github.com/abdul-hamid-achik/hitscript/packages/notify"
	"github.com/abdul-hamid-achik/hitscript/packages/output"
	"github.com/abdul-hamid-achik/hitscript/packages/snapshot"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var runCmd = &cobra.Command{
	Use:   "run <file|directory>...",
	Short: "Run hitscript scripts",
	Long: `Run the scripts in the given files and directories, in order.

Examples:
  hitscript run users.yaml
  hitscript run users.yaml --env staging
  hitscript run ./scenarios/ --continue-on-failure -o junit --output-file report.xml
  hitscript run users.yaml --var userId=42 --var 'tags=[a, b]'
  hitscript run ./scenarios/ --record-db results.db --max-p95 250ms
  hitscript run users.yaml --dry-run
  hitscript run ./scenarios/ --notify recovery --slack-webhook https://hooks.slack.com/services/...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommand,
}

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond
)

var (
	envFlag               string
	envFileFlag           string
	configFlag            string
	varFlags              []string
	verboseFlag           int // 0=off, 1=-v, 2=-vv
	quietFlag             bool
	noColorFlag           bool
	outputFlag            string
	outputFileFlag        string
	continueOnFailureFlag bool
	continueOnErrorFlag   bool
	timeoutFlag           string
	watchFlag             bool
	proxyFlag             string
	insecureFlag          bool
	rateLimitFlag         float64
	recordDBFlag          string
	maxP95Flag            string
	maxP99Flag            string
	dryRunFlag            bool
	updateSnapshotsFlag   bool
	notifyFlag            string
	slackWebhookFlag      string
	teamsWebhookFlag      string
)

func init() {
	// Core flags
	runCmd.Flags().StringVarP(&envFlag, "env", "e", getEnvString("HITSCRIPT_ENV", ""), "Config environment to use (env: HITSCRIPT_ENV)")
	runCmd.Flags().StringVar(&envFileFlag, "env-file", getEnvString("HITSCRIPT_ENV_FILE", ""), "Path to .env file loaded into the script environment (env: HITSCRIPT_ENV_FILE)")
	runCmd.Flags().StringVar(&configFlag, "config", getEnvString("HITSCRIPT_CONFIG", ""), "Path to config file (env: HITSCRIPT_CONFIG)")
	runCmd.Flags().StringArrayVar(&varFlags, "var", nil, "Set a script variable as name=value; values are YAML (repeatable)")

	// Output flags
	runCmd.Flags().CountVarP(&verboseFlag, "verbose", "v", "Verbose output (-v, -vv for more detail)")
	runCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", getEnvBool("HITSCRIPT_QUIET", false), "Only log errors (env: HITSCRIPT_QUIET)")
	runCmd.Flags().BoolVar(&noColorFlag, "no-color", getEnvBool("HITSCRIPT_NO_COLOR", false), "Disable colored output (env: HITSCRIPT_NO_COLOR)")
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", getEnvString("HITSCRIPT_OUTPUT", ""), "Output format: console, json, junit, tap (env: HITSCRIPT_OUTPUT)")
	runCmd.Flags().StringVar(&outputFileFlag, "output-file", getEnvString("HITSCRIPT_OUTPUT_FILE", ""), "Write output to file (default: stdout) (env: HITSCRIPT_OUTPUT_FILE)")

	// Execution flags
	runCmd.Flags().BoolVar(&continueOnFailureFlag, "continue-on-failure", getEnvBool("HITSCRIPT_CONTINUE_ON_FAILURE", false), "Record failed validations and keep going (env: HITSCRIPT_CONTINUE_ON_FAILURE)")
	runCmd.Flags().BoolVar(&continueOnErrorFlag, "continue-on-error", getEnvBool("HITSCRIPT_CONTINUE_ON_ERROR", false), "Record runtime errors and keep going (env: HITSCRIPT_CONTINUE_ON_ERROR)")
	runCmd.Flags().StringVar(&timeoutFlag, "timeout", getEnvString("HITSCRIPT_TIMEOUT", ""), "Request timeout (e.g., 30s, 1m) (env: HITSCRIPT_TIMEOUT)")
	runCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Load scripts and show what would run without sending requests")
	runCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Watch files for changes and re-run")
	runCmd.Flags().Float64Var(&rateLimitFlag, "rate-limit", getEnvFloat("HITSCRIPT_RATE_LIMIT", 0), "Maximum requests per second, 0 for no limit (env: HITSCRIPT_RATE_LIMIT)")

	// Network flags
	runCmd.Flags().StringVar(&proxyFlag, "proxy", getEnvString("HITSCRIPT_PROXY", ""), "Proxy URL for HTTP requests (env: HITSCRIPT_PROXY)")
	runCmd.Flags().BoolVarP(&insecureFlag, "insecure", "k", getEnvBool("HITSCRIPT_INSECURE", false), "Disable SSL certificate validation (env: HITSCRIPT_INSECURE)")

	// Results flags
	runCmd.Flags().StringVar(&recordDBFlag, "record-db", getEnvString("HITSCRIPT_RECORD_DB", ""), "Record results to a SQLite database (env: HITSCRIPT_RECORD_DB)")
	runCmd.Flags().StringVar(&maxP95Flag, "max-p95", getEnvString("HITSCRIPT_MAX_P95", ""), "Fail when p95 latency exceeds this duration (env: HITSCRIPT_MAX_P95)")
	runCmd.Flags().StringVar(&maxP99Flag, "max-p99", getEnvString("HITSCRIPT_MAX_P99", ""), "Fail when p99 latency exceeds this duration (env: HITSCRIPT_MAX_P99)")
	runCmd.Flags().BoolVar(&updateSnapshotsFlag, "update-snapshots", false, "Write snapshot handler files instead of comparing against them")

	// Notification flags
	runCmd.Flags().StringVar(&notifyFlag, "notify", getEnvString("HITSCRIPT_NOTIFY", ""), "When to notify: always, failure, success, recovery (env: HITSCRIPT_NOTIFY)")
	runCmd.Flags().StringVar(&slackWebhookFlag, "slack-webhook", getEnvString("HITSCRIPT_SLACK_WEBHOOK", ""), "Slack incoming webhook URL (env: HITSCRIPT_SLACK_WEBHOOK)")
	runCmd.Flags().StringVar(&teamsWebhookFlag, "teams-webhook", getEnvString("HITSCRIPT_TEAMS_WEBHOOK", ""), "Microsoft Teams webhook URL (env: HITSCRIPT_TEAMS_WEBHOOK)")
}

// Environment variable helpers
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func initLogging() {
	level := logging.LevelWarn
	switch {
	case quietFlag:
		level = logging.LevelError
	case verboseFlag >= 2:
		level = logging.LevelTrace
	case verboseFlag == 1:
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, os.Stderr)
}

// runSettings is what every run of the command shares, watch re-runs included.
type runSettings struct {
	config      *config.Config
	envName     string
	environment map[string]string
	vars        map[string]any
	thresholds  metrics.Thresholds
}

func loadSettings() (*runSettings, error) {
	fileConfig, err := config.LoadConfig(configFlag)
	if err != nil {
		return nil, err
	}
	overrides, err := flagOverrides()
	if err != nil {
		return nil, err
	}
	cfg := fileConfig.Merge(overrides)

	envName := envFlag
	if envName == "" {
		envName = cfg.DefaultEnvironment
	}
	dotEnvFiles := slices.Clone(cfg.EnvFiles)
	if envFileFlag != "" {
		dotEnvFiles = append(dotEnvFiles, envFileFlag)
	}
	environment, err := env.LoadEnvironment(env.Options{
		Name:         envName,
		Environments: cfg.Environments,
		DotEnvFiles:  dotEnvFiles,
	})
	if err != nil {
		return nil, err
	}

	vars, err := parseVars(varFlags)
	if err != nil {
		return nil, err
	}

	thresholds, err := parseThresholds(maxP95Flag, maxP99Flag)
	if err != nil {
		return nil, err
	}

	logging.Debug("Run", "environment %q with %d variables", envName, len(environment))
	return &runSettings{config: cfg, envName: envName, environment: environment, vars: vars, thresholds: thresholds}, nil
}

// flagOverrides turns the flags into a config layered over the file config.
func flagOverrides() (*config.Config, error) {
	o := &config.Config{
		Proxy:     proxyFlag,
		RateLimit: rateLimitFlag,
		RecordDB:  recordDBFlag,
	}
	if timeoutFlag != "" {
		d, err := time.ParseDuration(timeoutFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout value %q: %w (use format like 30s, 1m, 500ms)", timeoutFlag, err)
		}
		o.Timeout = int(d.Milliseconds())
	}
	if insecureFlag {
		o.ValidateSSL = config.BoolPtr(false)
	}
	if continueOnFailureFlag {
		o.ContinueOnFailure = config.BoolPtr(true)
	}
	if continueOnErrorFlag {
		o.ContinueOnError = config.BoolPtr(true)
	}
	if verboseFlag > 0 {
		o.Verbose = config.BoolPtr(true)
	}
	if noColorFlag || quietFlag {
		o.NoColor = config.BoolPtr(true)
	}
	if outputFlag != "" {
		o.Reporters = []string{strings.ToLower(outputFlag)}
	}
	if notifyFlag != "" || slackWebhookFlag != "" || teamsWebhookFlag != "" {
		o.Notify = &config.NotifyConfig{On: notifyFlag, SlackWebhook: slackWebhookFlag, TeamsWebhook: teamsWebhookFlag}
	}
	return o, nil
}

// parseVars reads name=value pairs. Values decode as YAML so numbers, bools,
// lists and maps keep their type; an empty value is the empty string.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q: expected name=value", pair)
		}
		if raw == "" {
			vars[name] = ""
			continue
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		vars[name] = parser.Normalize(v)
	}
	return vars, nil
}

func parseThresholds(p95, p99 string) (metrics.Thresholds, error) {
	var t metrics.Thresholds
	var err error
	if p95 != "" {
		if t.P95, err = time.ParseDuration(p95); err != nil {
			return t, fmt.Errorf("invalid --max-p95 %q: %w", p95, err)
		}
	}
	if p99 != "" {
		if t.P99, err = time.ParseDuration(p99); err != nil {
			return t, fmt.Errorf("invalid --max-p99 %q: %w", p99, err)
		}
	}
	return t, nil
}

// buildFormatter creates the formatters for the configured reporters. The
// console reporter writes to out or --output-file; file reporters write
// into the config's outputDir when one is set.
func buildFormatter(cfg *config.Config, out io.Writer) (output.Formatter, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	if outputFileFlag != "" {
		f, err := os.Create(outputFileFlag)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot create output file: %w", err)
		}
		closers = append(closers, f)
		out = f
	}

	reporters := cfg.Reporters
	if len(reporters) == 0 {
		reporters = []string{"console"}
	}

	formatters := make([]output.Formatter, 0, len(reporters))
	for _, name := range reporters {
		w := out
		if name != "console" && cfg.OutputDir != "" && len(reporters) > 1 {
			if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("cannot create output directory: %w", err)
			}
			f, err := os.Create(filepath.Join(cfg.OutputDir, "hitscript"+output.Extension(name)))
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("cannot create report file: %w", err)
			}
			closers = append(closers, f)
			w = f
		}

		f, err := output.New(name, output.Options{Writer: w, Verbose: cfg.GetVerbose(), NoColor: cfg.GetNoColor()})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		formatters = append(formatters, f)
	}

	if len(formatters) == 1 {
		return formatters[0], closeAll, nil
	}
	return output.NewMultiFormatter(formatters...), closeAll, nil
}

// buildNotifier returns nil when no webhook is configured.
func buildNotifier(cfg *config.NotifyConfig) (*notify.Manager, error) {
	if cfg == nil {
		return nil, nil
	}
	on, err := notify.ParseNotifyOn(cfg.On)
	if err != nil {
		return nil, err
	}
	m := notify.NewManager(on)
	if cfg.SlackWebhook != "" {
		var opts []notify.SlackOption
		if cfg.SlackChannel != "" {
			opts = append(opts, notify.WithSlackChannel(cfg.SlackChannel))
		}
		m.AddNotifier(notify.NewSlackNotifier(cfg.SlackWebhook, opts...))
	}
	if cfg.TeamsWebhook != "" {
		m.AddNotifier(notify.NewTeamsNotifier(cfg.TeamsWebhook))
	}
	if m.Len() == 0 {
		return nil, nil
	}
	return m, nil
}

// runOutcome tallies one pass over the files.
type runOutcome struct {
	passed           int
	failed           int
	loadErrors       int
	networkErrors    int
	thresholdsFailed bool
	duration         time.Duration
	runs             []*runner.RunResult
}

func (o runOutcome) exitCode() int {
	switch {
	case o.loadErrors > 0:
		return ExitParseError
	case o.networkErrors > 0:
		return ExitNetworkError
	case o.failed > 0 || o.thresholdsFailed:
		return ExitTestFailure
	}
	return ExitSuccess
}

func runCommand(cmd *cobra.Command, args []string) error {
	initLogging()

	settings, err := loadSettings()
	if err != nil {
		return &exitError{code: ExitConfigError, err: err}
	}

	files, err := collectFiles(args)
	if err != nil {
		return &exitError{code: ExitUsageError, err: err}
	}
	if len(files) == 0 {
		return &exitError{code: ExitUsageError, err: fmt.Errorf("no script files found")}
	}

	if dryRunFlag {
		return dryRun(cmd.OutOrStdout(), files)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := settings.config
	var store *db.Store
	if cfg.RecordDB != "" {
		store, err = db.OpenStore(ctx, cfg.RecordDB)
		if err != nil {
			return &exitError{code: ExitConfigError, err: fmt.Errorf("opening results database: %w", err)}
		}
		defer store.Close()
	}

	rec := newRecorder(ctx, store)
	opts := []runner.Option{
		runner.WithTransport(http.NewClient(cfg.ClientOptions()...)),
		runner.WithObserver(rec.observe),
	}
	if updateSnapshotsFlag {
		opts = append(opts, runner.WithHandler("snapshot", handlers.NewSnapshotHandler(snapshot.NewStore(true))))
	}
	r := runner.NewRunner(&runner.Config{
		ContinueOnFailure: cfg.GetContinueOnFailure(),
		ContinueOnError:   cfg.GetContinueOnError(),
		Environment:       settings.environment,
		Vars:              settings.vars,
	}, opts...)

	notifier, err := buildNotifier(cfg.Notify)
	if err != nil {
		return &exitError{code: ExitConfigError, err: err}
	}
	sendNotification := func(outcome runOutcome) {
		if notifier == nil {
			return
		}
		summary := notify.Summarize(settings.envName, outcome.duration, outcome.runs...)
		if err := notifier.Notify(context.WithoutCancel(ctx), summary); err != nil {
			logging.Error("Notify", err, "notification failed")
		}
	}

	formatter, closeOutput, err := buildFormatter(cfg, cmd.OutOrStdout())
	if err != nil {
		return &exitError{code: ExitUsageError, err: err}
	}

	outcome, err := execute(ctx, files, r, rec, formatter, settings.thresholds)
	closeOutput()
	if err != nil {
		return err
	}
	sendNotification(outcome)

	if !watchFlag {
		if code := outcome.exitCode(); code != ExitSuccess {
			return &exitError{code: code}
		}
		return nil
	}

	return watch(ctx, cmd.OutOrStdout(), args, func() {
		files, err := collectFiles(args)
		if err != nil {
			logging.Error("Watch", err, "cannot collect files")
			return
		}
		formatter, closeOutput, err := buildFormatter(cfg, cmd.OutOrStdout())
		if err != nil {
			logging.Error("Watch", err, "cannot create formatter")
			return
		}
		defer closeOutput()
		outcome, err := execute(ctx, files, r, rec, formatter, settings.thresholds)
		if err != nil {
			logging.Error("Watch", err, "run failed")
			return
		}
		sendNotification(outcome)
	})
}

// execute runs every file once and reports through formatter.
func execute(ctx context.Context, files []string, r *runner.Runner, rec *recorder, formatter output.Formatter, thresholds metrics.Thresholds) (runOutcome, error) {
	var outcome runOutcome
	rec.reset()
	formatter.FormatHeader(version)
	start := time.Now()

	for _, file := range files {
		if ctx.Err() != nil {
			logging.Warn("Run", "interrupted, skipping remaining files")
			break
		}

		script, err := parser.ParseFile(file)
		if err != nil {
			formatter.FormatError(err)
			outcome.loadErrors++
			continue
		}

		logging.Debug("Run", "running %s", file)
		rec.begin(script)
		result, err := r.Run(ctx, script)
		rec.finish(result)
		formatter.FormatResult(result)
		outcome.runs = append(outcome.runs, result)

		outcome.passed += result.Passed
		outcome.failed += result.Failed
		if err != nil {
			var se *parser.StructuralError
			if errors.As(err, &se) {
				outcome.loadErrors++
			}
		}
		if networkFailure(result) {
			outcome.networkErrors++
		}
	}
	outcome.duration = time.Since(start)

	summary := rec.metrics.Summary()
	if lf, ok := formatter.(output.LatencyFormatter); ok && summary.Requests > 0 {
		lf.FormatLatency(summary)
	}
	for _, t := range summary.Evaluate(thresholds) {
		if !t.Passed {
			outcome.thresholdsFailed = true
			formatter.FormatError(fmt.Errorf("latency %s %s exceeds %s", t.Name, t.Actual, t.Expected))
		}
	}

	if flushable, ok := formatter.(output.Flushable); ok {
		if err := flushable.Flush(outcome.duration); err != nil {
			return outcome, fmt.Errorf("error writing output: %w", err)
		}
	}
	return outcome, nil
}

// networkFailure reports whether any request in the run never got a
// response. Interrupts do not count.
func networkFailure(result *runner.RunResult) bool {
	isNet := func(err error) bool {
		if err == nil || errors.Is(err, context.Canceled) {
			return false
		}
		var ne net.Error
		return errors.As(err, &ne)
	}
	if isNet(result.Err) {
		return true
	}
	for _, res := range result.Results {
		if isNet(res.Err) {
			return true
		}
	}
	return false
}

// dryRun loads each script and everything it references, then prints the
// step tree instead of running it.
func dryRun(w io.Writer, files []string) error {
	failed := false
	for _, file := range files {
		script, err := parser.ParseFile(file)
		if err != nil {
			fmt.Fprintf(w, "Error in %s: %v\n", file, err)
			failed = true
			continue
		}
		fmt.Fprintf(w, "Would run: %s", file)
		if script.Name != "" {
			fmt.Fprintf(w, " (%s)", script.Name)
		}
		fmt.Fprintln(w)
		printStepTree(w, script.Steps, 1)

		for _, ref := range referencedScripts(script) {
			if _, err := parser.ParseFile(ref); err != nil {
				fmt.Fprintf(w, "Error in %s: %v\n", ref, err)
				failed = true
			}
		}
	}
	if failed {
		return &exitError{code: ExitParseError}
	}
	return nil
}

// watch re-runs rerun whenever a script under args changes, until ctx ends.
func watch(ctx context.Context, w io.Writer, args []string, rerun func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	watchedDirs := make(map[string]bool)
	for _, arg := range args {
		root := arg
		if info, err := os.Stat(arg); err == nil && !info.IsDir() {
			root = filepath.Dir(arg)
		}
		_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() && !watchedDirs[path] {
				if err := watcher.Add(path); err != nil {
					logging.Warn("Watch", "cannot watch %s: %v", path, err)
				}
				watchedDirs[path] = true
			}
			return nil
		})
	}

	fmt.Fprintf(w, "\nWatching for changes... (press Ctrl+C to stop)\n\n")

	var (
		mu            sync.Mutex
		debounceTimer *time.Timer
	)
	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !isScriptFile(event.Name) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			name := event.Name
			debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintf(w, "\n\nFile changed: %s\nRe-running...\n\n", name)
				rerun()
				fmt.Fprintf(w, "\nWatching for changes... (press Ctrl+C to stop)\n")
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("Watch", err, "watcher error")
		}
	}
}
