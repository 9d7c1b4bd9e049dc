package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/templatesync/internal/manifest"
)

// ResolverKind selects how upstream refs are queried
type ResolverKind string

const (
	ResolverGit    ResolverKind = "git"
	ResolverGitHub ResolverKind = "github"
)

// Defaults
const (
	DefaultBaseURL      = "https://github.com"
	DefaultTemplateDir  = "template"
	DefaultTimeout      = 5 * time.Minute
	DefaultRetrySteps   = 4
	DefaultRetryInitial = 2 * time.Second
)

// TokenEnv is the environment variable consulted when no token file is set.
const TokenEnv = "GITHUB_TOKEN"

// Config represents the complete templatesync configuration
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Auth     AuthConfig     `yaml:"auth"`
	Network  NetworkConfig  `yaml:"network"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	ProjectDir string `yaml:"project_dir"`
	// Manifest is resolved relative to ProjectDir unless absolute.
	Manifest string `yaml:"manifest"`
	// StagingDir, when set, receives the staged tree and is kept after a
	// successful run.
	StagingDir string `yaml:"staging_dir"`
}

// UpstreamConfig configures where the template repository lives
type UpstreamConfig struct {
	// BaseURL is prefixed to the manifest's owner/repo to form the clone URL.
	BaseURL     string       `yaml:"base_url"`
	TemplateDir string       `yaml:"template_dir"`
	Resolver    ResolverKind `yaml:"resolver"`
	// GitHubAPIURL overrides the REST endpoint for the github resolver.
	GitHubAPIURL string `yaml:"github_api_url"`
}

// AuthConfig configures Git authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// NetworkConfig bounds the network phase
type NetworkConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	RetrySteps   int           `yaml:"retry_steps"`
	RetryInitial time.Duration `yaml:"retry_initial"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Paths.ProjectDir = os.ExpandEnv(c.Paths.ProjectDir)
	c.Paths.Manifest = os.ExpandEnv(c.Paths.Manifest)
	c.Paths.StagingDir = os.ExpandEnv(c.Paths.StagingDir)
	c.Upstream.BaseURL = os.ExpandEnv(c.Upstream.BaseURL)
	c.Upstream.TemplateDir = os.ExpandEnv(c.Upstream.TemplateDir)
	c.Upstream.GitHubAPIURL = os.ExpandEnv(c.Upstream.GitHubAPIURL)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Paths.ProjectDir == "" {
		c.Paths.ProjectDir = "."
	}
	if c.Paths.Manifest == "" {
		c.Paths.Manifest = manifest.DefaultFileName
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultBaseURL
	}
	if c.Upstream.TemplateDir == "" {
		c.Upstream.TemplateDir = DefaultTemplateDir
	}
	if c.Upstream.Resolver == "" {
		c.Upstream.Resolver = ResolverGit
	}
	if c.Network.Timeout == 0 {
		c.Network.Timeout = DefaultTimeout
	}
	if c.Network.RetrySteps == 0 {
		c.Network.RetrySteps = DefaultRetrySteps
	}
	if c.Network.RetryInitial == 0 {
		c.Network.RetryInitial = DefaultRetryInitial
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate upstream
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if filepath.IsAbs(c.Upstream.TemplateDir) || strings.HasPrefix(filepath.Clean(c.Upstream.TemplateDir), "..") {
		return fmt.Errorf("upstream.template_dir must be a path inside the repository: %s", c.Upstream.TemplateDir)
	}
	switch c.Upstream.Resolver {
	case ResolverGit, ResolverGitHub:
		// valid
	default:
		return fmt.Errorf("invalid upstream.resolver: %s (must be git or github)", c.Upstream.Resolver)
	}

	// Validate network
	if c.Network.Timeout < 0 {
		return fmt.Errorf("network.timeout must not be negative")
	}
	if c.Network.RetrySteps < 1 {
		return fmt.Errorf("network.retry_steps must be at least 1")
	}
	if c.Network.RetryInitial < 0 {
		return fmt.Errorf("network.retry_initial must not be negative")
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	// Validate auth: when auth is configured, the URL scheme must match
	if c.Auth.SSHKeyFile != "" && !c.IsSSH() {
		return fmt.Errorf("auth.ssh_key_file is set but upstream.base_url does not use an SSH scheme (git@ or ssh://)")
	}
	if c.Auth.HTTPSTokenFile != "" && !c.IsHTTPS() {
		return fmt.Errorf("auth.https_token_file is set but upstream.base_url does not use HTTPS scheme")
	}

	return nil
}

// ManifestPath returns the manifest location
func (c *Config) ManifestPath() string {
	if filepath.IsAbs(c.Paths.Manifest) {
		return c.Paths.Manifest
	}
	return filepath.Join(c.Paths.ProjectDir, c.Paths.Manifest)
}

// Token returns the HTTPS token from the token file, falling back to the
// GITHUB_TOKEN environment variable. An empty token means anonymous access.
func (c *Config) Token() (string, error) {
	if c.Auth.HTTPSTokenFile == "" {
		return os.Getenv(TokenEnv), nil
	}
	data, err := os.ReadFile(c.Auth.HTTPSTokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	if os.Getenv(TokenEnv) != "" {
		return "https-env"
	}
	return "none"
}

// IsHTTPS returns true if the upstream base URL uses HTTPS
func (c *Config) IsHTTPS() bool {
	return strings.HasPrefix(c.Upstream.BaseURL, "https://")
}

// IsSSH returns true if the upstream base URL uses SSH
func (c *Config) IsSSH() bool {
	return strings.HasPrefix(c.Upstream.BaseURL, "git@") || strings.HasPrefix(c.Upstream.BaseURL, "ssh://")
}
