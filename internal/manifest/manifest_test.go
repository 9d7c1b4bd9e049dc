package manifest

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const validManifest = `{
  "schema_version": "1",
  "upstream_repo": "acme/claude-template",
  "template_version": "v1.2.0",
  "synced_at": "2026-01-02T03:04:05Z",
  "variables": {
    "PROJECT_NAME": "demo",
    "LANGUAGES": "python,typescript",
    "CC_MODEL": "default",
    "SERENA_INITIAL_PROMPT": "",
    "TM_RESPONSE_LANGUAGE": ""
  },
  "sync_exclusions": [".claude/commands/cove/*"]
}`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// mutate decodes the valid manifest, applies fn and re-encodes it.
func mutate(t *testing.T, fn func(m map[string]any)) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(validManifest), &m))
	fn(m)
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return string(data)
}

func TestLoad(t *testing.T) {
	path := writeManifest(t, validManifest)

	m, err := Load(path)
	require.NoError(t, err)

	if m.UpstreamRepo != "acme/claude-template" {
		t.Errorf("UpstreamRepo = %q", m.UpstreamRepo)
	}
	if m.TemplateVersion != "v1.2.0" {
		t.Errorf("TemplateVersion = %q", m.TemplateVersion)
	}
	if !m.SyncedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("SyncedAt = %v", m.SyncedAt)
	}
	if m.Variable(VarModel) != "default" {
		t.Errorf("CC_MODEL = %q", m.Variable(VarModel))
	}
	if len(m.SyncExclusions) != 1 || m.SyncExclusions[0] != ".claude/commands/cove/*" {
		t.Errorf("SyncExclusions = %v", m.SyncExclusions)
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, ErrManifestNotFound) {
		t.Fatalf("expected ErrManifestNotFound, got %v", err)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "not json",
			content: "schema_version: 1",
			wantErr: ErrInvalidEncoding,
		},
		{
			name:    "array top level",
			content: "[]",
			wantErr: ErrInvalidEncoding,
		},
		{
			name:    "json null",
			content: "null",
			wantErr: ErrInvalidEncoding,
		},
		{
			name:    "unsupported schema",
			content: mutate(t, func(m map[string]any) { m["schema_version"] = "2" }),
			wantErr: ErrUnsupportedSchemaVersion,
		},
		{
			name:    "numeric schema",
			content: mutate(t, func(m map[string]any) { m["schema_version"] = 1 }),
			wantErr: ErrUnsupportedSchemaVersion,
		},
		{
			name:    "missing schema",
			content: mutate(t, func(m map[string]any) { delete(m, "schema_version") }),
			wantErr: ErrMissingField,
		},
		{
			name:    "missing upstream",
			content: mutate(t, func(m map[string]any) { delete(m, "upstream_repo") }),
			wantErr: ErrMissingField,
		},
		{
			name:    "null template version",
			content: mutate(t, func(m map[string]any) { m["template_version"] = nil }),
			wantErr: ErrMissingField,
		},
		{
			name:    "missing variables",
			content: mutate(t, func(m map[string]any) { delete(m, "variables") }),
			wantErr: ErrMissingField,
		},
		{
			name: "missing fixed variable key",
			content: mutate(t, func(m map[string]any) {
				delete(m["variables"].(map[string]any), VarModel)
			}),
			wantErr: ErrMissingField,
		},
		{
			name: "non-string variable",
			content: mutate(t, func(m map[string]any) {
				m["variables"].(map[string]any)[VarProjectName] = 42
			}),
			wantErr: ErrInvalidEncoding,
		},
		{
			name:    "bad timestamp",
			content: mutate(t, func(m map[string]any) { m["synced_at"] = "yesterday" }),
			wantErr: ErrInvalidEncoding,
		},
		{
			name:    "upstream without owner",
			content: mutate(t, func(m map[string]any) { m["upstream_repo"] = "claude-template" }),
			wantErr: ErrInvalidUpstreamFormat,
		},
		{
			name:    "upstream as url",
			content: mutate(t, func(m map[string]any) { m["upstream_repo"] = "https://github.com/acme/x" }),
			wantErr: ErrInvalidUpstreamFormat,
		},
		{
			name:    "exclusions as string",
			content: mutate(t, func(m map[string]any) { m["sync_exclusions"] = ".claude/*" }),
			wantErr: ErrInvalidExclusionType,
		},
		{
			name:    "exclusions with numbers",
			content: mutate(t, func(m map[string]any) { m["sync_exclusions"] = []any{".claude/*", 3} }),
			wantErr: ErrInvalidExclusionType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParse_EmptyValuesAndOptionalExclusions(t *testing.T) {
	content := mutate(t, func(m map[string]any) {
		delete(m, "sync_exclusions")
		vars := m["variables"].(map[string]any)
		for k := range vars {
			vars[k] = ""
		}
	})

	m, err := Parse([]byte(content))
	require.NoError(t, err)
	if m.SyncExclusions != nil {
		t.Errorf("SyncExclusions = %v, want nil", m.SyncExclusions)
	}
	for _, key := range VariableKeys {
		if v, ok := m.Variables[key]; !ok || v != "" {
			t.Errorf("variable %s = %q (present=%v), want empty and present", key, v, ok)
		}
	}

	empty := mutate(t, func(m map[string]any) { m["sync_exclusions"] = []any{} })
	_, err = Parse([]byte(empty))
	require.NoError(t, err)
}

func TestFinalize(t *testing.T) {
	content := mutate(t, func(m map[string]any) { m["setup_profile"] = map[string]any{"wizard": "v3"} })
	path := writeManifest(t, content)

	now := time.Date(2026, 10, 19, 12, 30, 45, 999, time.FixedZone("CEST", 2*3600))
	m, err := Finalize(path, "v1.3.0", now)
	require.NoError(t, err)

	if m.TemplateVersion != "v1.3.0" {
		t.Errorf("TemplateVersion = %q", m.TemplateVersion)
	}
	if !m.SyncedAt.Equal(time.Date(2026, 10, 19, 10, 30, 45, 0, time.UTC)) {
		t.Errorf("SyncedAt = %v", m.SyncedAt)
	}

	reloaded, err := Load(path)
	require.NoError(t, err)
	if reloaded.TemplateVersion != "v1.3.0" {
		t.Errorf("persisted TemplateVersion = %q", reloaded.TemplateVersion)
	}
	if reloaded.Variable(VarLanguages) != "python,typescript" {
		t.Errorf("variables not preserved: %v", reloaded.Variables)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	if !strings.Contains(string(data), `"setup_profile"`) {
		t.Error("unknown field setup_profile was dropped")
	}
}

func TestFinalize_RejectsInvalid(t *testing.T) {
	path := writeManifest(t, mutate(t, func(m map[string]any) { m["schema_version"] = "9" }))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = Finalize(path, "v2.0.0", time.Now())
	if !errors.Is(err, ErrUnsupportedSchemaVersion) {
		t.Fatalf("expected ErrUnsupportedSchemaVersion, got %v", err)
	}

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	if string(before) != string(after) {
		t.Error("manifest modified despite validation failure")
	}

	_, err = Finalize(path, "", time.Now())
	if err == nil {
		t.Error("expected error for empty version")
	}
}
