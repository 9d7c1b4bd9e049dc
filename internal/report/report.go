// Package report renders classification results for people, for CI steps
// and for change request descriptions.
package report

import (
	"fmt"
	"strings"

	"github.com/schaermu/templatesync/internal/classify"
)

// Mode selects a rendering.
type Mode string

const (
	Human    Mode = "human"
	Machine  Mode = "machine"
	Markdown Mode = "markdown"
)

// ParseMode converts a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case Human, Machine, Markdown:
		return m, nil
	}
	return "", fmt.Errorf("unknown report mode %q (want human, machine or markdown)", s)
}

// detailsThreshold is the list length above which markdown sections are
// collapsed.
const detailsThreshold = 20

// Meta describes the sync the report belongs to.
type Meta struct {
	Upstream       string
	CurrentVersion string
	TargetVersion  string
	// Commit is the fetched upstream commit, if known.
	Commit string
}

// Report is an immutable view of one classification.
type Report struct {
	meta   Meta
	result classify.Result
}

// New creates a report. The result is copied.
func New(result *classify.Result, meta Meta) *Report {
	r := &Report{meta: meta}
	if result != nil {
		r.result = classify.Result{
			Added:     append([]string(nil), result.Added...),
			Modified:  append([]string(nil), result.Modified...),
			Deleted:   append([]string(nil), result.Deleted...),
			Unchanged: append([]string(nil), result.Unchanged...),
			Excluded:  append([]string(nil), result.Excluded...),
		}
	}
	return r
}

// HasChanges is true when anything is added, modified or deleted.
func (r *Report) HasChanges() bool {
	return r.result.HasChanges()
}

// Count returns the number of paths in a category.
func (r *Report) Count(c classify.Category) int {
	return len(r.result.Paths(c))
}

// Generate renders the report in the given mode.
func (r *Report) Generate(mode Mode) (string, error) {
	switch mode {
	case Human:
		return r.human(), nil
	case Machine:
		return r.machine(), nil
	case Markdown:
		return r.markdown(), nil
	}
	return "", fmt.Errorf("unknown report mode %q", mode)
}

type section struct {
	category classify.Category
	title    string
	marker   string
}

var summaryRows = []section{
	{category: classify.Added, title: "Added"},
	{category: classify.Modified, title: "Modified"},
	{category: classify.Deleted, title: "Deleted"},
	{category: classify.Unchanged, title: "Unchanged"},
	{category: classify.Excluded, title: "Excluded"},
}

// sections lists the categories rendered with their paths. Unchanged is
// only ever counted.
var sections = []section{
	{classify.Added, "Added", "+"},
	{classify.Modified, "Modified", "~"},
	{classify.Deleted, "Deleted", "-"},
	{classify.Excluded, "Excluded", "!"},
}

func (r *Report) human() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Template sync: %s\n", r.meta.Upstream)
	fmt.Fprintf(&b, "  current version: %s\n", orUnknown(r.meta.CurrentVersion))
	fmt.Fprintf(&b, "  target version:  %s\n", orUnknown(r.meta.TargetVersion))
	if r.meta.Commit != "" {
		fmt.Fprintf(&b, "  commit:          %s\n", r.meta.Commit)
	}
	fmt.Fprintf(&b, "\n%d added, %d modified, %d deleted, %d unchanged, %d excluded\n",
		r.Count(classify.Added), r.Count(classify.Modified), r.Count(classify.Deleted),
		r.Count(classify.Unchanged), r.Count(classify.Excluded))

	for _, s := range sections {
		paths := r.result.Paths(s.category)
		if len(paths) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s (%d):\n", s.title, len(paths))
		for _, p := range paths {
			fmt.Fprintf(&b, "  %s %s\n", s.marker, p)
		}
	}

	if !r.HasChanges() {
		fmt.Fprintf(&b, "\nUp to date: no template changes to apply.\n")
	}
	return b.String()
}

func (r *Report) machine() string {
	var b strings.Builder
	fmt.Fprintf(&b, "has_changes=%t\n", r.HasChanges())
	fmt.Fprintf(&b, "added_count=%d\n", r.Count(classify.Added))
	fmt.Fprintf(&b, "modified_count=%d\n", r.Count(classify.Modified))
	fmt.Fprintf(&b, "deleted_count=%d\n", r.Count(classify.Deleted))
	fmt.Fprintf(&b, "unchanged_count=%d\n", r.Count(classify.Unchanged))
	fmt.Fprintf(&b, "excluded_count=%d\n", r.Count(classify.Excluded))
	fmt.Fprintf(&b, "upstream=%s\n", oneLine(r.meta.Upstream))
	fmt.Fprintf(&b, "current_version=%s\n", oneLine(r.meta.CurrentVersion))
	fmt.Fprintf(&b, "target_version=%s\n", oneLine(r.meta.TargetVersion))
	return b.String()
}

func (r *Report) markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Template sync: %s\n\n", r.meta.Upstream)
	fmt.Fprintf(&b, "Updates the template from `%s` to `%s`", orUnknown(r.meta.CurrentVersion), orUnknown(r.meta.TargetVersion))
	if r.meta.Commit != "" {
		fmt.Fprintf(&b, " (commit `%s`)", r.meta.Commit)
	}
	b.WriteString(".\n\n")

	b.WriteString("| Category | Files |\n")
	b.WriteString("|----------|------:|\n")
	for _, row := range summaryRows {
		fmt.Fprintf(&b, "| %s | %d |\n", row.title, r.Count(row.category))
	}

	for _, s := range sections {
		paths := r.result.Paths(s.category)
		if len(paths) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n\n", s.title)
		if s.category == classify.Excluded {
			b.WriteString("Matched `sync_exclusions` and left untouched.\n\n")
		}
		collapse := len(paths) > detailsThreshold
		if collapse {
			fmt.Fprintf(&b, "<details>\n<summary>%d files</summary>\n\n", len(paths))
		}
		for _, p := range paths {
			fmt.Fprintf(&b, "- `%s`\n", p)
		}
		if collapse {
			b.WriteString("\n</details>\n")
		}
	}

	if !r.HasChanges() {
		b.WriteString("\nThe project is up to date with the template.\n")
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// oneLine keeps values from breaking the key=value format.
func oneLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
