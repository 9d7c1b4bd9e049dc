// Package substitute renders a fetched template tree with the variables
// stored in the manifest.
//
// Substitution is a set of per-file rules that rewrite individual fields in
// place. Values are always encoded as JSON string literals, which are also
// valid YAML double-quoted scalars, and are spliced in literally so their
// content can never be read as pattern syntax. Every rewritten file is
// parsed again before it is written; a result that no longer parses is an
// error rather than a corrupted staged file.
package substitute

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/templatesync/internal/manifest"
	"github.com/schaermu/templatesync/internal/tree"
)

// DefaultModel removes the model field instead of pinning a model.
const DefaultModel = "default"

// Template-relative paths of the files that carry variables.
const (
	SettingsPath      = ".claude/settings.json"
	SerenaProjectPath = ".serena/project.yml"
	TaskmasterPath    = ".taskmaster/config.json"
)

type format int

const (
	formatJSON format = iota
	formatYAML
)

type rule struct {
	path   string
	format format
	render func(content []byte, vars map[string]string) ([]byte, error)
}

var rules = []rule{
	{path: SettingsPath, format: formatJSON, render: renderSettings},
	{path: SerenaProjectPath, format: formatYAML, render: renderSerenaProject},
	{path: TaskmasterPath, format: formatJSON, render: renderTaskmaster},
}

// Apply copies the template tree into stagedDir and rewrites the files that
// carry variables. The result is byte-reproducible for the same input.
func Apply(templateDir, stagedDir string, vars map[string]string) error {
	files, err := tree.DiscoverFiles(templateDir)
	if err != nil {
		return fmt.Errorf("failed to discover template files: %w", err)
	}

	for _, src := range files {
		rel, err := tree.RelativePath(templateDir, src)
		if err != nil {
			return err
		}
		if err := tree.CopyFile(src, filepath.Join(stagedDir, filepath.FromSlash(rel))); err != nil {
			return fmt.Errorf("failed to stage %s: %w", rel, err)
		}
	}

	for _, r := range rules {
		if err := applyRule(stagedDir, r, vars); err != nil {
			return err
		}
	}
	return nil
}

func applyRule(stagedDir string, r rule, vars map[string]string) error {
	path := filepath.Join(stagedDir, filepath.FromSlash(r.path))
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	out, err := Render(r.path, content, vars)
	if err != nil {
		return err
	}
	if bytes.Equal(out, content) {
		return nil
	}
	return tree.WriteFile(path, out, info.Mode().Perm())
}

// Render applies the rule for the template-relative path rel to content.
// Files without a rule are returned unchanged.
func Render(rel string, content []byte, vars map[string]string) ([]byte, error) {
	for _, r := range rules {
		if r.path != rel {
			continue
		}
		out, err := r.render(content, vars)
		if err != nil {
			return nil, fmt.Errorf("failed to substitute %s: %w", rel, err)
		}
		if err := validate(r.format, content, out); err != nil {
			return nil, fmt.Errorf("substitution corrupted %s: %w", rel, err)
		}
		return out, nil
	}
	return content, nil
}

func renderSettings(content []byte, vars map[string]string) ([]byte, error) {
	model := vars[manifest.VarModel]
	switch model {
	case "":
		return content, nil
	case DefaultModel:
		return removeJSONField(content, "model"), nil
	default:
		return setJSONField(content, "model", model), nil
	}
}

func renderSerenaProject(content []byte, vars map[string]string) ([]byte, error) {
	out := setYAMLScalar(content, "project_name", vars[manifest.VarProjectName])
	if langs := splitList(vars[manifest.VarLanguages]); len(langs) > 0 {
		out = setYAMLList(out, "languages", langs)
	}
	if prompt := vars[manifest.VarSerenaInitialPrompt]; prompt != "" {
		out = setYAMLScalar(out, "initial_prompt", prompt)
	}
	return out, nil
}

func renderTaskmaster(content []byte, vars map[string]string) ([]byte, error) {
	out := setJSONField(content, "projectName", vars[manifest.VarProjectName])
	if lang := vars[manifest.VarResponseLanguage]; lang != "" {
		out = setJSONField(out, "responseLanguage", lang)
	}
	return out, nil
}

// splitList splits a comma-separated list, dropping blank entries.
func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// quote encodes s as a JSON string literal. Quotes, backslashes and control
// characters including line terminators are escaped.
func quote(s string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(s)
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

func validate(f format, before, after []byte) error {
	switch f {
	case formatJSON:
		// Templates may carry comments; strict templates must stay strict.
		if json.Valid(before) && !json.Valid(after) {
			return fmt.Errorf("result is not valid JSON")
		}
		if !json.Valid(jsonc.ToJSON(after)) {
			return fmt.Errorf("result is not valid JSON")
		}
	case formatYAML:
		var doc yaml.Node
		if err := yaml.Unmarshal(after, &doc); err != nil {
			return fmt.Errorf("result is not valid YAML: %w", err)
		}
	}
	return nil
}
