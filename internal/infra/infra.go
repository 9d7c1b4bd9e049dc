// Package infra copies the sync tool's own entry points from the upstream
// repository into the staged tree. They are copied verbatim, never
// substituted, which is how the tool updates itself.
package infra

import (
	"fmt"
	"path/filepath"

	"github.com/schaermu/templatesync/internal/tree"
)

// Paths are the infrastructure files relative to the repository root.
var Paths = []string{
	".github/workflows/template-sync.yml",
	"scripts/template-sync.sh",
}

// Copy copies every infrastructure file present in upstreamRoot to the same
// relative location below outputDir, preserving its mode. Missing sources
// are skipped. The copied paths are returned.
func Copy(upstreamRoot, outputDir string) ([]string, error) {
	var copied []string
	for _, rel := range Paths {
		src := filepath.Join(upstreamRoot, filepath.FromSlash(rel))
		ok, err := tree.Exists(src)
		if err != nil {
			return copied, fmt.Errorf("failed to stat %s: %w", rel, err)
		}
		if !ok {
			continue
		}
		if err := tree.CopyFile(src, filepath.Join(outputDir, filepath.FromSlash(rel))); err != nil {
			return copied, fmt.Errorf("failed to copy %s: %w", rel, err)
		}
		copied = append(copied, rel)
	}
	return copied, nil
}
