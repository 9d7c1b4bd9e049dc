package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/schaermu/templatesync/internal/classify"
	"github.com/schaermu/templatesync/internal/config"
	"github.com/schaermu/templatesync/internal/exclude"
	"github.com/schaermu/templatesync/internal/fetch"
	"github.com/schaermu/templatesync/internal/git"
	"github.com/schaermu/templatesync/internal/infra"
	"github.com/schaermu/templatesync/internal/manifest"
	"github.com/schaermu/templatesync/internal/report"
	"github.com/schaermu/templatesync/internal/substitute"
	"github.com/schaermu/templatesync/internal/tree"
	"github.com/schaermu/templatesync/internal/version"
)

// ErrUnsafeStagingDir rejects a staging override the engine must not
// populate or remove.
var ErrUnsafeStagingDir = errors.New("unsafe staging directory")

// Options controls a single run
type Options struct {
	// Target is the version request, "latest" when empty.
	Target string
	// DryRun computes and reports without touching the project.
	DryRun bool
	// StagingDir overrides the staged tree location. It must be absent or
	// empty and lie outside the project; it is removed when the run fails
	// and kept when it succeeds.
	StagingDir string
	// TempRoot is the parent of engine-created directories; empty uses
	// the system default.
	TempRoot string
}

// Engine orchestrates the sync process
type Engine struct {
	cfg      *config.Config
	resolver *version.Resolver
	fetcher  *fetch.Fetcher
	logger   *slog.Logger
	opts     Options
	now      func() time.Time
}

// NewEngine creates a new sync engine. A nil remote answers ref queries
// through gitClient.
func NewEngine(cfg *config.Config, gitClient git.Client, remote version.Remote, logger *slog.Logger, opts Options) *Engine {
	if remote == nil {
		remote = version.NewGitRemote(gitClient, cfg.Upstream.BaseURL)
	}
	if opts.Target == "" {
		opts.Target = version.Latest
	}
	backoff := git.Backoff(cfg.Network.RetrySteps, cfg.Network.RetryInitial)

	return &Engine{
		cfg:      cfg,
		resolver: version.NewResolver(remote, logger, backoff),
		fetcher: fetch.New(gitClient, fetch.Options{
			BaseURL:     cfg.Upstream.BaseURL,
			TemplateDir: cfg.Upstream.TemplateDir,
			ExtraPaths:  infra.Paths,
			Backoff:     backoff,
		}, logger),
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// Run executes the complete sync process: load the manifest, resolve the
// target, fetch and render the template into a staged tree, classify it
// against the project and, unless this is a dry run, apply the result and
// finalize the manifest.
func (e *Engine) Run(ctx context.Context) (outcome *Outcome, err error) {
	runID := uuid.NewString()
	logger := e.logger.With("run_id", runID)

	// Configuration errors surface before any network or filesystem work.
	manifestPath := e.cfg.ManifestPath()
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}
	logger = logger.With("upstream", m.UpstreamRepo)

	classifier, err := classify.New(classify.Options{
		Matcher:    exclude.New(m.SyncExclusions),
		InfraPaths: infra.Paths,
	})
	if err != nil {
		return nil, err
	}

	if e.opts.StagingDir != "" {
		if err := checkStagingDir(e.opts.StagingDir, e.cfg.Paths.ProjectDir); err != nil {
			return nil, err
		}
	}

	logger.Info("starting sync",
		"target", e.opts.Target,
		"current_version", m.TemplateVersion,
		"dry_run", e.opts.DryRun)

	netCtx, cancel := context.WithTimeout(ctx, e.cfg.Network.Timeout)
	defer cancel()

	resolved, err := e.resolver.Resolve(netCtx, e.opts.Target, m.UpstreamRepo)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve version %q: %w", e.opts.Target, err)
	}
	logger.Info("resolved version", "requested", resolved.Requested, "ref", resolved.Ref, "kind", resolved.Kind)

	st, err := e.acquireStaging()
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, st.release(err == nil))
	}()

	checkout, err := e.fetcher.Fetch(netCtx, resolved.Ref, m.UpstreamRepo, st.workDir)
	if err != nil {
		return nil, err
	}
	cancel()

	if err := substitute.Apply(checkout.TemplateDir, st.stagedDir, m.Variables); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}
	copied, err := infra.Copy(checkout.Root, st.stagedDir)
	if err != nil {
		return nil, fmt.Errorf("failed to copy sync infrastructure: %w", err)
	}
	logger.Debug("staged template", "dir", st.stagedDir, "infra", copied)

	result, err := classifier.Classify(st.stagedDir, e.cfg.Paths.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to classify files: %w", err)
	}

	logger.Info("classification",
		"added", len(result.Added),
		"modified", len(result.Modified),
		"deleted", len(result.Deleted),
		"unchanged", len(result.Unchanged),
		"excluded", len(result.Excluded))

	outcome = &Outcome{
		RunID:    runID,
		Resolved: resolved,
		Commit:   checkout.Commit,
		Result:   result,
		Report: report.New(result, report.Meta{
			Upstream:       m.UpstreamRepo,
			CurrentVersion: m.TemplateVersion,
			TargetVersion:  resolved.Ref,
			Commit:         checkout.Commit,
		}),
		Manifest: m,
	}
	if st.keep {
		outcome.StagedDir = st.stagedDir
	}

	plan, err := buildPlan(result, st.stagedDir, e.cfg.Paths.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync plan: %w", err)
	}

	// check for dry-run mode
	if e.opts.DryRun {
		e.logPlanDetails(logger, plan)
		logger.Info("dry-run complete, no changes applied")
		return outcome, nil
	}

	// An interrupted run leaves the project untouched. Once applying
	// starts it runs to completion.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sync interrupted before apply: %w", err)
	}

	if !plan.Empty() {
		if err := checkPlan(plan); err != nil {
			return nil, fmt.Errorf("refusing to apply sync plan: %w", err)
		}
		if err := e.applyPlan(logger, plan); err != nil {
			return nil, fmt.Errorf("failed to apply sync plan: %w", err)
		}
		outcome.Applied = true
	}

	if resolved.Ref != m.TemplateVersion || outcome.Applied {
		updated, err := manifest.Finalize(manifestPath, resolved.Ref, e.now())
		if err != nil {
			return nil, fmt.Errorf("failed to finalize manifest: %w", err)
		}
		outcome.Manifest = updated
		logger.Info("manifest finalized", "template_version", updated.TemplateVersion)
	}

	logger.Info("sync completed successfully", "applied", outcome.Applied)
	return outcome, nil
}

// staging owns the directories of one run
type staging struct {
	workDir   string // engine-created, always removed
	stagedDir string
	keep      bool // stagedDir is a caller override kept on success
}

func (e *Engine) acquireStaging() (*staging, error) {
	workDir, err := os.MkdirTemp(e.opts.TempRoot, "templatesync-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	st := &staging{workDir: workDir, stagedDir: filepath.Join(workDir, "staged")}
	if e.opts.StagingDir != "" {
		st.stagedDir = e.opts.StagingDir
		st.keep = true
	}
	if err := os.MkdirAll(st.stagedDir, 0755); err != nil {
		return nil, multierr.Append(
			fmt.Errorf("failed to create staging directory: %w", err),
			os.RemoveAll(workDir))
	}
	return st, nil
}

// release removes the run's directories. A staging override survives a
// successful run so a later step can consume it.
func (s *staging) release(success bool) error {
	err := os.RemoveAll(s.workDir)
	if s.keep && !success {
		err = multierr.Append(err, os.RemoveAll(s.stagedDir))
	}
	if err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	return nil
}

// checkStagingDir rejects an override that is, contains or lies inside the
// project, and one that already holds files. Removing it on failure then
// only ever removes what this run wrote.
func checkStagingDir(dir, projectDir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve staging directory: %w", err)
	}
	absProject, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("failed to resolve project directory: %w", err)
	}

	if _, err := tree.RelativePath(absProject, absDir); err == nil {
		return fmt.Errorf("%w: %s is inside the project %s", ErrUnsafeStagingDir, absDir, absProject)
	}
	if _, err := tree.RelativePath(absDir, absProject); err == nil {
		return fmt.Errorf("%w: %s contains the project %s", ErrUnsafeStagingDir, absDir, absProject)
	}

	entries, err := os.ReadDir(absDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("%w: %v", ErrUnsafeStagingDir, err)
	case len(entries) > 0:
		return fmt.Errorf("%w: %s is not empty", ErrUnsafeStagingDir, absDir)
	}
	return nil
}

// buildPlan turns a classification into file operations
func buildPlan(result *classify.Result, stagedDir, projectDir string) (*Plan, error) {
	plan := &Plan{
		Add:    make([]FileOp, 0, len(result.Added)),
		Update: make([]FileOp, 0, len(result.Modified)),
		Delete: make([]FileOp, 0, len(result.Deleted)),
	}

	op := func(rel string, withSource bool) FileOp {
		fileOp := FileOp{
			RelPath:  rel,
			DestPath: filepath.Join(projectDir, filepath.FromSlash(rel)),
		}
		if withSource {
			fileOp.SourcePath = filepath.Join(stagedDir, filepath.FromSlash(rel))
		}
		return fileOp
	}

	for _, rel := range result.Added {
		plan.Add = append(plan.Add, op(rel, true))
	}
	for _, rel := range result.Modified {
		plan.Update = append(plan.Update, op(rel, true))
	}
	for _, rel := range result.Deleted {
		plan.Delete = append(plan.Delete, op(rel, false))
	}

	for _, ops := range [][]FileOp{plan.Add, plan.Update, plan.Delete} {
		for _, o := range ops {
			if _, err := tree.RelativePath(projectDir, o.DestPath); err != nil {
				return nil, err
			}
		}
	}
	return plan, nil
}

// checkPlan verifies every destination before the first write, so a
// directory or file in the way fails the run with the project untouched.
// Apply itself is atomic per file only.
func checkPlan(plan *Plan) error {
	for _, ops := range [][]FileOp{plan.Add, plan.Update, plan.Delete} {
		for _, op := range ops {
			info, err := os.Lstat(op.DestPath)
			switch {
			case errors.Is(err, os.ErrNotExist):
				// A missing parent is created on copy. A file standing in
				// for a parent directory shows up as ENOTDIR below.
			case err != nil:
				return fmt.Errorf("%s: %w", op.RelPath, err)
			case info.IsDir():
				return fmt.Errorf("%s: destination is a directory", op.RelPath)
			}
		}
	}
	return nil
}

// applyPlan executes the sync plan
func (e *Engine) applyPlan(logger *slog.Logger, plan *Plan) error {
	// Add new files
	for _, op := range plan.Add {
		logger.Info("adding file", "path", op.RelPath)
		if err := tree.CopyFile(op.SourcePath, op.DestPath); err != nil {
			return fmt.Errorf("failed to add file %s: %w", op.RelPath, err)
		}
	}

	// Update existing files
	for _, op := range plan.Update {
		logger.Info("updating file", "path", op.RelPath)
		if err := tree.CopyFile(op.SourcePath, op.DestPath); err != nil {
			return fmt.Errorf("failed to update file %s: %w", op.RelPath, err)
		}
	}

	// Delete removed files
	for _, op := range plan.Delete {
		logger.Info("deleting file", "path", op.RelPath)
		if err := os.Remove(op.DestPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete file %s: %w", op.RelPath, err)
		}
		removeEmptyParents(filepath.Dir(op.DestPath), e.cfg.Paths.ProjectDir)
	}

	return nil
}

// removeEmptyParents removes dir and its ancestors below stop while they
// are empty.
func removeEmptyParents(dir, stop string) {
	stop = filepath.Clean(stop)
	for dir = filepath.Clean(dir); dir != stop && len(dir) > len(stop); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			// Not empty, or already gone.
			if !errors.Is(err, os.ErrNotExist) {
				return
			}
		}
	}
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(logger *slog.Logger, plan *Plan) {
	for _, op := range plan.Add {
		logger.Info("[dry-run] would add", "path", op.RelPath)
	}
	for _, op := range plan.Update {
		logger.Info("[dry-run] would update", "path", op.RelPath)
	}
	for _, op := range plan.Delete {
		logger.Info("[dry-run] would delete", "path", op.RelPath)
	}
}
