package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()

	content := `
paths:
  project_dir: "/work/project"
  staging_dir: "/tmp/staging"

upstream:
  base_url: "git@github.com:"
  template_dir: "templates/base"
  resolver: "git"

auth:
  ssh_key_file: "/home/user/.ssh/key"

network:
  timeout: 90s
  retry_steps: 2
  retry_initial: 500ms
`

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Verify loaded values
	if cfg.Upstream.BaseURL != "git@github.com:" {
		t.Errorf("expected base URL git@github.com:, got %s", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.TemplateDir != "templates/base" {
		t.Errorf("expected template dir templates/base, got %s", cfg.Upstream.TemplateDir)
	}
	if cfg.Network.Timeout != 90*time.Second {
		t.Errorf("expected timeout 90s, got %s", cfg.Network.Timeout)
	}
	if cfg.Network.RetryInitial != 500*time.Millisecond {
		t.Errorf("expected retry_initial 500ms, got %s", cfg.Network.RetryInitial)
	}
	if cfg.Network.RetrySteps != 2 {
		t.Errorf("expected retry_steps 2, got %d", cfg.Network.RetrySteps)
	}
	if got := cfg.ManifestPath(); got != "/work/project/.template-state.json" {
		t.Errorf("expected manifest below project dir, got %s", got)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("paths: [not, a, map"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("expected error for malformed YAML")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("upstream:\n  resolver: svn\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(invalid); err == nil {
		t.Error("expected validation error for unknown resolver")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "github resolver",
			mutate:  func(c *Config) { c.Upstream.Resolver = ResolverGitHub },
			wantErr: false,
		},
		{
			name:    "unknown resolver",
			mutate:  func(c *Config) { c.Upstream.Resolver = "svn" },
			wantErr: true,
		},
		{
			name:    "absolute template dir",
			mutate:  func(c *Config) { c.Upstream.TemplateDir = "/template" },
			wantErr: true,
		},
		{
			name:    "template dir escaping the repository",
			mutate:  func(c *Config) { c.Upstream.TemplateDir = "../template" },
			wantErr: true,
		},
		{
			name:    "zero retry steps",
			mutate:  func(c *Config) { c.Network.RetrySteps = 0 },
			wantErr: true,
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Network.Timeout = -time.Second },
			wantErr: true,
		},
		{
			name: "both ssh key and https token set",
			mutate: func(c *Config) {
				c.Auth.SSHKeyFile = "/key"
				c.Auth.HTTPSTokenFile = "/token"
			},
			wantErr: true,
		},
		{
			name:    "ssh key with https base url",
			mutate:  func(c *Config) { c.Auth.SSHKeyFile = "/key" },
			wantErr: true,
		},
		{
			name: "ssh key with ssh base url",
			mutate: func(c *Config) {
				c.Upstream.BaseURL = "ssh://git@github.com"
				c.Auth.SSHKeyFile = "/key"
			},
			wantErr: false,
		},
		{
			name: "https token with ssh base url",
			mutate: func(c *Config) {
				c.Upstream.BaseURL = "git@github.com:"
				c.Auth.HTTPSTokenFile = "/token"
			},
			wantErr: true,
		},
		{
			name:    "empty base url",
			mutate:  func(c *Config) { c.Upstream.BaseURL = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Paths.ProjectDir != "." {
		t.Errorf("expected project dir ., got %s", cfg.Paths.ProjectDir)
	}
	if cfg.Paths.Manifest != ".template-state.json" {
		t.Errorf("expected default manifest, got %s", cfg.Paths.Manifest)
	}
	if cfg.Upstream.BaseURL != DefaultBaseURL {
		t.Errorf("expected base URL %s, got %s", DefaultBaseURL, cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.TemplateDir != DefaultTemplateDir {
		t.Errorf("expected template dir %s, got %s", DefaultTemplateDir, cfg.Upstream.TemplateDir)
	}
	if cfg.Upstream.Resolver != ResolverGit {
		t.Errorf("expected git resolver, got %s", cfg.Upstream.Resolver)
	}
	if cfg.Network.Timeout != DefaultTimeout || cfg.Network.RetrySteps != DefaultRetrySteps || cfg.Network.RetryInitial != DefaultRetryInitial {
		t.Errorf("unexpected network defaults: %+v", cfg.Network)
	}
	if cfg.Paths.StagingDir != "" {
		t.Errorf("expected no staging dir override, got %s", cfg.Paths.StagingDir)
	}
}

func TestManifestPath(t *testing.T) {
	tests := []struct {
		name       string
		projectDir string
		manifest   string
		want       string
	}{
		{"relative", "/work/p", ".template-state.json", "/work/p/.template-state.json"},
		{"nested relative", "/work/p", "config/state.json", "/work/p/config/state.json"},
		{"absolute", "/work/p", "/etc/state.json", "/etc/state.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Paths: PathsConfig{ProjectDir: tt.projectDir, Manifest: tt.manifest}}
			if got := cfg.ManifestPath(); got != tt.want {
				t.Errorf("ManifestPath() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestToken(t *testing.T) {
	t.Setenv(TokenEnv, "from-env")

	cfg := Default()
	token, err := cfg.Token()
	if err != nil {
		t.Fatal(err)
	}
	if token != "from-env" {
		t.Errorf("expected env token, got %q", token)
	}
	if cfg.AuthMethod() != "https-env" {
		t.Errorf("expected https-env auth, got %s", cfg.AuthMethod())
	}

	tokenFile := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenFile, []byte("  from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg.Auth.HTTPSTokenFile = tokenFile
	token, err = cfg.Token()
	if err != nil {
		t.Fatal(err)
	}
	if token != "from-file" {
		t.Errorf("expected file token, got %q", token)
	}
	if cfg.AuthMethod() != "https" {
		t.Errorf("expected https auth, got %s", cfg.AuthMethod())
	}

	cfg.Auth.HTTPSTokenFile = filepath.Join(t.TempDir(), "missing")
	if _, err := cfg.Token(); err == nil {
		t.Error("expected error for missing token file")
	}
}

func TestAuthMethod(t *testing.T) {
	t.Setenv(TokenEnv, "")

	tests := []struct {
		name string
		auth AuthConfig
		want string
	}{
		{"ssh", AuthConfig{SSHKeyFile: "/key"}, "ssh"},
		{"https", AuthConfig{HTTPSTokenFile: "/token"}, "https"},
		{"none", AuthConfig{}, "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Auth: tt.auth}
			if got := cfg.AuthMethod(); got != tt.want {
				t.Errorf("AuthMethod() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsHTTPSAndIsSSH(t *testing.T) {
	tests := []struct {
		url       string
		wantHTTPS bool
		wantSSH   bool
	}{
		{"https://github.com", true, false},
		{"git@github.com:", false, true},
		{"ssh://git@github.com", false, true},
		{"http://example.com", false, false},
		{"/srv/git", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			cfg := &Config{Upstream: UpstreamConfig{BaseURL: tt.url}}
			if got := cfg.IsHTTPS(); got != tt.wantHTTPS {
				t.Errorf("IsHTTPS() = %v, want %v", got, tt.wantHTTPS)
			}
			if got := cfg.IsSSH(); got != tt.wantSSH {
				t.Errorf("IsSSH() = %v, want %v", got, tt.wantSSH)
			}
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEMPLATESYNC_TEST_HOME", "/home/testuser")
	t.Setenv("TEMPLATESYNC_TEST_HOST", "git.example.com")

	cfg := &Config{
		Paths: PathsConfig{
			ProjectDir: "$TEMPLATESYNC_TEST_HOME/project",
			StagingDir: "${TEMPLATESYNC_TEST_HOME}/staging",
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://$TEMPLATESYNC_TEST_HOST",
		},
		Auth: AuthConfig{
			HTTPSTokenFile: "$TEMPLATESYNC_TEST_HOME/.token",
		},
	}
	cfg.expandEnv()

	if cfg.Paths.ProjectDir != "/home/testuser/project" {
		t.Errorf("ProjectDir = %s", cfg.Paths.ProjectDir)
	}
	if cfg.Paths.StagingDir != "/home/testuser/staging" {
		t.Errorf("StagingDir = %s", cfg.Paths.StagingDir)
	}
	if cfg.Upstream.BaseURL != "https://git.example.com" {
		t.Errorf("BaseURL = %s", cfg.Upstream.BaseURL)
	}
	if cfg.Auth.HTTPSTokenFile != "/home/testuser/.token" {
		t.Errorf("HTTPSTokenFile = %s", cfg.Auth.HTTPSTokenFile)
	}
}
