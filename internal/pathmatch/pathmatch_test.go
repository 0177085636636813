package pathmatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIsPattern(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{path: "README.md", want: false},
		{path: "docs/guide.md", want: false},
		{path: "*.md", want: true},
		{path: "file?.txt", want: true},
		{path: "src/[ab].go", want: true},
		{path: "{a,b}.yaml", want: true},
	}

	for _, tt := range tests {
		if got := IsPattern(tt.path); got != tt.want {
			t.Errorf("IsPattern(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{pattern: "*.md", path: "README.md", want: true},
		{pattern: "*.md", path: "docs/guide.md", want: true},
		{pattern: "docs/*.md", path: "docs/api/ref.md", want: true},
		{pattern: "docs/*.md", path: "src/main.go", want: false},
		{pattern: "*.MD", path: "README.md", want: false},
		{pattern: "file?.txt", path: "file1.txt", want: true},
		{pattern: "file?.txt", path: "file10.txt", want: false},
		{pattern: "src/[ab].go", path: "src/a.go", want: true},
		{pattern: "src/[ab].go", path: "src/c.go", want: false},
		{pattern: "src/[!ab].go", path: "src/c.go", want: true},
		{pattern: "{cmd,pkg}/*.go", path: "pkg/x/y.go", want: true},
		{pattern: "README.md", path: "README.md", want: true},
		{pattern: "README.md", path: "docs/README.md", want: false},
	}

	for _, tt := range tests {
		m, err := Compile(tt.pattern)
		if err != nil {
			t.Fatalf("Compile(%q): %v", tt.pattern, err)
		}
		if got := m.Match(tt.path); got != tt.want {
			t.Errorf("%q.Match(%q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestCompile_Invalid(t *testing.T) {
	if _, err := Compile("src/[ab.go"); err == nil {
		t.Error("expected error for unterminated character class")
	}
}

func TestFilter(t *testing.T) {
	paths := []string{"src/b.go", "README.md", "src/a.go", "docs/x.md"}

	got, err := Filter("src/*.go", paths)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"src/a.go", "src/b.go"}, got); diff != "" {
		t.Errorf("Filter() mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"README.md":             "readme",
		".github/ci.yml":        "ci",
		".git/config":           "should be ignored",
		"docs/guide.md":         "guide",
		"docs/api/reference.md": "ref",
	}
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := Discover(dir)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{".github/ci.yml", "README.md", "docs/api/reference.md", "docs/guide.md"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Discover() mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscover_MissingDir(t *testing.T) {
	got, err := Discover(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("expected no error for missing dir, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no files, got %v", got)
	}
}
