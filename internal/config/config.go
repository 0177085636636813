package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Backend selects the implementation used to talk to source repositories
type Backend string

const (
	BackendShell Backend = "shell"
	BackendGoGit Backend = "go-git"
)

const (
	// LocalFileName is looked up at the work-tree root when no --config is given
	LocalFileName = ".git-fetch-file.yaml"

	// xdgFileName is the per-user config file below $XDG_CONFIG_HOME
	xdgFileName = "git-fetch-file/config.yaml"

	DefaultManifest = ".git-remote-files"
	DefaultCacheDir = ".git/fetch-file-cache"
	DefaultTempDir  = ".git/fetch-file-temp"
)

// Config represents the complete git-fetch-file configuration
type Config struct {
	Paths  PathsConfig  `yaml:"paths"`
	Fetch  FetchConfig  `yaml:"fetch"`
	Auth   AuthConfig   `yaml:"auth"`
	Commit CommitConfig `yaml:"commit"`

	// root is the work tree the relative paths are resolved against
	root string
}

// PathsConfig configures where durable and scratch state lives.
// Relative paths are resolved against the work-tree root.
type PathsConfig struct {
	Manifest string `yaml:"manifest"`
	CacheDir string `yaml:"cache_dir"`
	TempDir  string `yaml:"temp_dir"`
}

// FetchConfig configures pull behavior
type FetchConfig struct {
	Jobs    int     `yaml:"jobs"`
	Backend Backend `yaml:"backend"`
}

// AuthConfig configures Git authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// CommitConfig configures the auto-commit collaborator
type CommitConfig struct {
	Auto bool `yaml:"auto"`
}

// Default returns the built-in configuration rooted at root
func Default(root string) *Config {
	cfg := &Config{root: root}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path, root string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.root = root

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Discover locates the configuration for the work tree at root.
// An explicit path always wins; otherwise the work-tree local file and then the
// XDG config file are tried. It returns the path that was used, or "" when the
// built-in defaults apply.
func Discover(explicit, root string) (*Config, string, error) {
	if explicit != "" {
		cfg, err := Load(explicit, root)
		return cfg, explicit, err
	}

	local := filepath.Join(root, LocalFileName)
	if _, err := os.Stat(local); err == nil {
		cfg, err := Load(local, root)
		return cfg, local, err
	}

	if userFile, err := xdg.SearchConfigFile(xdgFileName); err == nil {
		cfg, err := Load(userFile, root)
		return cfg, userFile, err
	}

	return Default(root), "", nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Paths.Manifest = os.ExpandEnv(c.Paths.Manifest)
	c.Paths.CacheDir = os.ExpandEnv(c.Paths.CacheDir)
	c.Paths.TempDir = os.ExpandEnv(c.Paths.TempDir)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Paths.Manifest == "" {
		c.Paths.Manifest = DefaultManifest
	}
	if c.Paths.CacheDir == "" {
		c.Paths.CacheDir = DefaultCacheDir
	}
	if c.Paths.TempDir == "" {
		c.Paths.TempDir = DefaultTempDir
	}
	if c.Fetch.Backend == "" {
		c.Fetch.Backend = BackendShell
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.Manifest) == "" {
		return errors.New("paths.manifest is required")
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		return errors.New("paths.cache_dir is required")
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		return errors.New("paths.temp_dir is required")
	}

	if c.Fetch.Jobs < 0 {
		return fmt.Errorf("fetch.jobs must not be negative: %d", c.Fetch.Jobs)
	}

	switch c.Fetch.Backend {
	case BackendShell, BackendGoGit:
		// valid
	default:
		return fmt.Errorf("invalid fetch.backend: %s (must be shell or go-git)", c.Fetch.Backend)
	}

	return nil
}

// Root returns the work-tree root the configuration is bound to
func (c *Config) Root() string {
	return c.root
}

// ManifestPath returns the absolute path of the manifest file
func (c *Config) ManifestPath() string {
	return c.resolve(c.Paths.Manifest)
}

// CacheDir returns the absolute path of the change-detection cache
func (c *Config) CacheDir() string {
	return c.resolve(c.Paths.CacheDir)
}

// TempDir returns the absolute path under which snapshots are materialized
func (c *Config) TempDir() string {
	return c.resolve(c.Paths.TempDir)
}

// AuthMethod returns a description of the configured auth methods
func (c *Config) AuthMethod() string {
	switch {
	case c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "":
		return "ssh+https"
	case c.Auth.SSHKeyFile != "":
		return "ssh"
	case c.Auth.HTTPSTokenFile != "":
		return "https"
	}
	return "none"
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) || c.root == "" {
		return p
	}
	return filepath.Join(c.root, p)
}
