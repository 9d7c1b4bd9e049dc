package sync

import (
	"github.com/schaermu/templatesync/internal/classify"
	"github.com/schaermu/templatesync/internal/manifest"
	"github.com/schaermu/templatesync/internal/report"
	"github.com/schaermu/templatesync/internal/version"
)

// Outcome describes a completed run
type Outcome struct {
	RunID    string
	Resolved version.Resolved
	Commit   string // fetched upstream commit
	Result   *classify.Result
	Report   *report.Report
	// StagedDir is the kept staged tree; empty when it was removed.
	StagedDir string
	// Applied is true when the project tree was updated.
	Applied bool
	// Manifest is the rewritten manifest after a finalize, otherwise the
	// manifest the run started from.
	Manifest *manifest.Manifest
}

// Plan represents the file operations that bring the project tree in line
// with the staged tree
type Plan struct {
	Add    []FileOp
	Update []FileOp
	Delete []FileOp
}

// Empty reports whether the plan has no operations
func (p *Plan) Empty() bool {
	return len(p.Add)+len(p.Update)+len(p.Delete) == 0
}

// FileOp represents a file operation
type FileOp struct {
	RelPath    string // project-relative, slash separated
	SourcePath string // absolute path in the staged tree, empty for deletes
	DestPath   string // absolute path in the project
}
