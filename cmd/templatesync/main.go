package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/schaermu/templatesync/internal/config"
	"github.com/schaermu/templatesync/internal/git"
	"github.com/schaermu/templatesync/internal/github"
	"github.com/schaermu/templatesync/internal/manifest"
	"github.com/schaermu/templatesync/internal/report"
	"github.com/schaermu/templatesync/internal/sync"
	"github.com/schaermu/templatesync/internal/tree"
	"github.com/schaermu/templatesync/internal/version"
)

var (
	// Set by goreleaser
	buildVersion = "dev"
	commit       = "none"
	date         = "unknown"

	// Global flags
	cfgFile      string
	logLevel     string
	logFormat    string
	projectDir   string
	manifestFile string

	// Sync flags
	target     string
	dryRun     bool
	ciMode     bool
	stagingDir string
	reportFile string

	// Finalize flags
	finalizeVersion string
)

// timeNow is replaced in tests
var timeNow = time.Now

// githubOutputEnv names the file GitHub Actions collects step outputs from.
const githubOutputEnv = "GITHUB_OUTPUT"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "templatesync: %s\n", singleLine(err))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "templatesync",
	Short: "Pull upstream template improvements into a project",
	Long: `templatesync keeps a repository created from a template in step with later
template releases without losing local customizations.

It reads the project's template manifest, resolves the requested template
version, renders the template with the project's variables and compares the
result with the project tree. Excluded and user-owned paths are never touched.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the project with a template version",
	Long: `Sync resolves the target version (latest release tag by default), fetches the
template subtree, substitutes the manifest variables and classifies every file
as added, modified, deleted, unchanged or excluded.

Without --dry-run the changes are applied to the project and the manifest is
finalized with the new version.`,
	RunE: runSync,
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Record a template version in the manifest",
	Long: `Finalize rewrites template_version and synced_at in the manifest, keeping
every other field. Use it after a change request built from a staged tree has
been merged.`,
	RunE: runFinalize,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "templatesync %s\n", buildVersion)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional, defaults apply when unset)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&projectDir, "project-dir", "", "project directory (default is the current directory)")
	rootCmd.PersistentFlags().StringVar(&manifestFile, "manifest", "", "manifest path, relative to the project directory (default .template-state.json)")

	// Sync command flags
	syncCmd.Flags().StringVar(&target, "target", version.Latest, "template version: latest, HEAD, a tag, a branch or a commit")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	syncCmd.Flags().BoolVar(&ciMode, "ci", false, "print machine-readable key=value output and append it to $GITHUB_OUTPUT")
	syncCmd.Flags().StringVar(&stagingDir, "staging-dir", "", "keep the rendered template tree in this directory (absent or empty, outside the project)")
	syncCmd.Flags().StringVar(&reportFile, "report-file", "", "write a markdown report to this file")

	// Finalize command flags
	finalizeCmd.Flags().StringVar(&finalizeVersion, "version", "", "template version to record")
	_ = finalizeCmd.MarkFlagRequired("version")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(finalizeCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger(cmd.ErrOrStderr())

	// Load configuration
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	token, err := cfg.Token()
	if err != nil {
		return err
	}

	// Create dependencies
	gitClient := git.NewShellClient(cfg.Auth.SSHKeyFile, token)
	remote, err := newRemote(cfg, token)
	if err != nil {
		return err
	}

	opts := sync.Options{
		Target:     target,
		DryRun:     dryRun,
		StagingDir: cfg.Paths.StagingDir,
	}
	if stagingDir != "" {
		if opts.StagingDir, err = filepath.Abs(stagingDir); err != nil {
			return err
		}
	}

	// Create sync engine
	engine := sync.NewEngine(cfg, gitClient, remote, logger, opts)

	// Run sync
	outcome, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	return writeReports(cmd.OutOrStdout(), outcome.Report)
}

func runFinalize(cmd *cobra.Command, args []string) error {
	logger := setupLogger(cmd.ErrOrStderr())

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// A broken manifest is reported before it is rewritten.
	if _, err := manifest.Load(cfg.ManifestPath()); err != nil {
		return err
	}

	m, err := manifest.Finalize(cfg.ManifestPath(), finalizeVersion, timeNow())
	if err != nil {
		return err
	}

	logger.Info("manifest finalized",
		"path", cfg.ManifestPath(),
		"template_version", m.TemplateVersion,
		"synced_at", m.SyncedAt)
	return nil
}

// newRemote selects the ref query backend. A nil remote lets the engine
// query through git.
func newRemote(cfg *config.Config, token string) (version.Remote, error) {
	if cfg.Upstream.Resolver != config.ResolverGitHub {
		return nil, nil
	}
	client, err := github.NewClient(nil, cfg.Upstream.GitHubAPIURL, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	return client, nil
}

// writeReports prints the report for the selected mode and writes the
// optional markdown file.
func writeReports(stdout io.Writer, r *report.Report) error {
	mode := report.Human
	if ciMode {
		mode = report.Machine
	}

	out, err := r.Generate(mode)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(stdout, out); err != nil {
		return err
	}

	if ciMode {
		if path := os.Getenv(githubOutputEnv); path != "" {
			if err := appendFile(path, out); err != nil {
				return fmt.Errorf("failed to write %s: %w", githubOutputEnv, err)
			}
		}
	}

	if reportFile != "" {
		doc, err := r.Generate(report.Markdown)
		if err != nil {
			return err
		}
		if err := tree.WriteFile(reportFile, []byte(doc), 0644); err != nil {
			return fmt.Errorf("failed to write report file: %w", err)
		}
	}

	return nil
}

func appendFile(path, content string) (err error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	_, err = f.WriteString(content)
	return err
}

func setupLogger(w io.Writer) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format. Logs go to stderr, stdout carries
	// the reports.
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		logger.Info("loading configuration", "path", cfgFile)

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
	}

	// Flags override the file
	if projectDir != "" {
		cfg.Paths.ProjectDir = projectDir
	}
	if manifestFile != "" {
		cfg.Paths.Manifest = manifestFile
	}

	abs, err := filepath.Abs(cfg.Paths.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	cfg.Paths.ProjectDir = abs

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// A project-local .env may provide GITHUB_TOKEN. Variables already set
	// in the environment win.
	if err := godotenv.Load(filepath.Join(cfg.Paths.ProjectDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	logger.Debug("configuration loaded",
		"project_dir", cfg.Paths.ProjectDir,
		"manifest", cfg.ManifestPath(),
		"base_url", cfg.Upstream.BaseURL,
		"resolver", cfg.Upstream.Resolver,
		"auth", cfg.AuthMethod())

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// singleLine flattens multi-line errors such as captured git output.
func singleLine(err error) string {
	return strings.Join(strings.Fields(err.Error()), " ")
}
