package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adrg/xdg"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// isolateXDG points the XDG lookup at empty temporary directories.
func isolateXDG(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_CONFIG_DIRS", filepath.Join(home, "etc"))
	xdg.Reload()
	t.Cleanup(xdg.Reload)
	return filepath.Join(home, "config")
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, t.TempDir(), "config.yaml", `
paths:
  manifest: "tracked-files"
  cache_dir: "/var/cache/fetch-file"

fetch:
  jobs: 4
  backend: "go-git"

auth:
  ssh_key_file: "/home/user/.ssh/key"

commit:
  auto: true
`)

	cfg, err := Load(path, root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Fetch.Jobs != 4 {
		t.Errorf("expected jobs 4, got %d", cfg.Fetch.Jobs)
	}
	if cfg.Fetch.Backend != BackendGoGit {
		t.Errorf("expected backend go-git, got %s", cfg.Fetch.Backend)
	}
	if !cfg.Commit.Auto {
		t.Error("expected commit.auto to be true")
	}
	if got, want := cfg.ManifestPath(), filepath.Join(root, "tracked-files"); got != want {
		t.Errorf("ManifestPath() = %s, want %s", got, want)
	}
	if got := cfg.CacheDir(); got != "/var/cache/fetch-file" {
		t.Errorf("CacheDir() = %s, want absolute path untouched", got)
	}
	if got, want := cfg.TempDir(), filepath.Join(root, DefaultTempDir); got != want {
		t.Errorf("TempDir() = %s, want default %s", got, want)
	}
	if cfg.AuthMethod() != "ssh" {
		t.Errorf("AuthMethod() = %s, want ssh", cfg.AuthMethod())
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("FETCH_FILE_TOKEN_DIR", "/run/secrets")
	path := writeConfig(t, t.TempDir(), "config.yaml", `
auth:
  https_token_file: "${FETCH_FILE_TOKEN_DIR}/token"
`)

	cfg, err := Load(path, t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Auth.HTTPSTokenFile != "/run/secrets/token" {
		t.Errorf("expected expanded token path, got %s", cfg.Auth.HTTPSTokenFile)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml"), dir); err == nil {
		t.Error("expected error for missing file")
	}

	bad := writeConfig(t, dir, "bad.yaml", "fetch: [unterminated")
	if _, err := Load(bad, dir); err == nil {
		t.Error("expected error for malformed YAML")
	}

	invalid := writeConfig(t, dir, "invalid.yaml", "fetch:\n  backend: svn\n")
	if _, err := Load(invalid, dir); err == nil {
		t.Error("expected validation error for unknown backend")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "go-git backend", mutate: func(c *Config) { c.Fetch.Backend = BackendGoGit }},
		{name: "both auth methods", mutate: func(c *Config) {
			c.Auth.SSHKeyFile = "/key"
			c.Auth.HTTPSTokenFile = "/token"
		}},
		{name: "negative jobs", mutate: func(c *Config) { c.Fetch.Jobs = -1 }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Fetch.Backend = "hg" }, wantErr: true},
		{name: "blank manifest", mutate: func(c *Config) { c.Paths.Manifest = "  " }, wantErr: true},
		{name: "blank cache dir", mutate: func(c *Config) { c.Paths.CacheDir = " " }, wantErr: true},
		{name: "blank temp dir", mutate: func(c *Config) { c.Paths.TempDir = " " }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("/work")
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDiscover(t *testing.T) {
	t.Run("explicit path wins", func(t *testing.T) {
		isolateXDG(t)
		root := t.TempDir()
		writeConfig(t, root, LocalFileName, "fetch:\n  jobs: 2\n")
		explicit := writeConfig(t, t.TempDir(), "explicit.yaml", "fetch:\n  jobs: 7\n")

		cfg, used, err := Discover(explicit, root)
		if err != nil {
			t.Fatal(err)
		}
		if used != explicit || cfg.Fetch.Jobs != 7 {
			t.Errorf("Discover used %s (jobs %d), want %s (jobs 7)", used, cfg.Fetch.Jobs, explicit)
		}
	})

	t.Run("work-tree file", func(t *testing.T) {
		isolateXDG(t)
		root := t.TempDir()
		local := writeConfig(t, root, LocalFileName, "fetch:\n  jobs: 2\n")

		cfg, used, err := Discover("", root)
		if err != nil {
			t.Fatal(err)
		}
		if used != local || cfg.Fetch.Jobs != 2 {
			t.Errorf("Discover used %s (jobs %d), want %s (jobs 2)", used, cfg.Fetch.Jobs, local)
		}
	})

	t.Run("xdg file", func(t *testing.T) {
		configHome := isolateXDG(t)
		userFile := writeConfig(t, configHome, xdgFileName, "fetch:\n  jobs: 3\n")

		cfg, used, err := Discover("", t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if used != userFile || cfg.Fetch.Jobs != 3 {
			t.Errorf("Discover used %s (jobs %d), want %s (jobs 3)", used, cfg.Fetch.Jobs, userFile)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		isolateXDG(t)
		root := t.TempDir()

		cfg, used, err := Discover("", root)
		if err != nil {
			t.Fatal(err)
		}
		if used != "" {
			t.Errorf("expected no config file, got %s", used)
		}
		if got, want := cfg.ManifestPath(), filepath.Join(root, DefaultManifest); got != want {
			t.Errorf("ManifestPath() = %s, want %s", got, want)
		}
		if cfg.Fetch.Backend != BackendShell {
			t.Errorf("expected shell backend by default, got %s", cfg.Fetch.Backend)
		}
	})
}
