package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/schaermu/templatesync/internal/tree"
)

// SchemaVersion is the only manifest schema this engine understands.
const SchemaVersion = "1"

// DefaultFileName is the manifest location relative to the project root.
const DefaultFileName = ".template-state.json"

// Fixed variable keys. Every manifest must carry all of them, possibly empty.
const (
	VarProjectName         = "PROJECT_NAME"
	VarLanguages           = "LANGUAGES"
	VarModel               = "CC_MODEL"
	VarSerenaInitialPrompt = "SERENA_INITIAL_PROMPT"
	VarResponseLanguage    = "TM_RESPONSE_LANGUAGE"
)

// VariableKeys lists the fixed variable keys in a stable order.
var VariableKeys = []string{
	VarProjectName,
	VarLanguages,
	VarModel,
	VarSerenaInitialPrompt,
	VarResponseLanguage,
}

var (
	ErrManifestNotFound         = errors.New("manifest not found")
	ErrInvalidEncoding          = errors.New("manifest is not valid JSON")
	ErrMissingField             = errors.New("manifest field missing")
	ErrUnsupportedSchemaVersion = errors.New("unsupported manifest schema version")
	ErrInvalidUpstreamFormat    = errors.New("upstream_repo must have the form owner/repo")
	ErrInvalidExclusionType     = errors.New("sync_exclusions must be an array of strings")
)

var upstreamPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// Manifest is the persisted record of the last synced template version and
// the variables used to render it.
type Manifest struct {
	SchemaVersion   string            `json:"schema_version"`
	UpstreamRepo    string            `json:"upstream_repo"`
	TemplateVersion string            `json:"template_version"`
	SyncedAt        time.Time         `json:"synced_at"`
	Variables       map[string]string `json:"variables"`
	SyncExclusions  []string          `json:"sync_exclusions,omitempty"`
}

// Variable returns the value of a variable, empty when unset.
func (m *Manifest) Variable(key string) string {
	return m.Variables[key]
}

// Load reads and validates the manifest at path. Validation runs in two
// phases: a structural parse into raw fields, then semantic checks.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return Parse(data)
}

// Parse validates manifest content.
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: top-level value must be an object", ErrInvalidEncoding)
	}

	return validate(raw)
}

func validate(raw map[string]json.RawMessage) (*Manifest, error) {
	m := &Manifest{}

	// Schema version first: nothing else is meaningful under an unknown schema.
	schema, ok := present(raw, "schema_version")
	if !ok {
		return nil, fmt.Errorf("%w: schema_version", ErrMissingField)
	}
	if err := json.Unmarshal(schema, &m.SchemaVersion); err != nil || m.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: %s (supported: %q)", ErrUnsupportedSchemaVersion, string(schema), SchemaVersion)
	}

	for _, field := range []struct {
		name string
		dst  *string
	}{
		{"upstream_repo", &m.UpstreamRepo},
		{"template_version", &m.TemplateVersion},
	} {
		if err := stringField(raw, field.name, field.dst); err != nil {
			return nil, err
		}
	}

	var syncedAt string
	if err := stringField(raw, "synced_at", &syncedAt); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339, syncedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: synced_at %q is not an RFC 3339 timestamp", ErrInvalidEncoding, syncedAt)
	}
	m.SyncedAt = ts

	vars, ok := present(raw, "variables")
	if !ok {
		return nil, fmt.Errorf("%w: variables", ErrMissingField)
	}
	if err := json.Unmarshal(vars, &m.Variables); err != nil || m.Variables == nil {
		return nil, fmt.Errorf("%w: variables must be an object of strings", ErrInvalidEncoding)
	}
	for _, key := range VariableKeys {
		if _, ok := m.Variables[key]; !ok {
			return nil, fmt.Errorf("%w: variables.%s", ErrMissingField, key)
		}
	}

	if !upstreamPattern.MatchString(m.UpstreamRepo) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUpstreamFormat, m.UpstreamRepo)
	}

	if excl, ok := present(raw, "sync_exclusions"); ok {
		if err := json.Unmarshal(excl, &m.SyncExclusions); err != nil {
			return nil, fmt.Errorf("%w: got %s", ErrInvalidExclusionType, string(excl))
		}
	}

	return m, nil
}

// present returns the raw value of a field, treating JSON null as absent.
func present(raw map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	v, ok := raw[name]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

func stringField(raw map[string]json.RawMessage, name string, dst *string) error {
	v, ok := present(raw, name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("%w: %s must be a string", ErrInvalidEncoding, name)
	}
	return nil
}

// Finalize records a completed sync: it rewrites the manifest at path with the
// new template version and timestamp. Fields this engine does not know about
// are carried over untouched. The manifest is validated before it is
// rewritten and the write is atomic.
func Finalize(path, version string, now time.Time) (*Manifest, error) {
	if version == "" {
		return nil, fmt.Errorf("finalize: version must not be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEncoding, path)
	}
	if _, err := validate(raw); err != nil {
		return nil, err
	}

	syncedAt := now.UTC().Truncate(time.Second).Format(time.RFC3339)
	for name, value := range map[string]string{
		"template_version": version,
		"synced_at":        syncedAt,
	} {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", name, err)
		}
		raw[name] = encoded
	}

	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	out = append(out, '\n')

	perm := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	if err := tree.WriteFile(path, out, perm); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	return validate(raw)
}
