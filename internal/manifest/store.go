package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

func init() {
	// git-config style "key = value" without column alignment
	ini.PrettyFormat = false
	ini.PrettyEqual = true
}

var loadOptions = ini.LoadOptions{
	// URLs and comments may contain '#' and ';'
	IgnoreInlineComment: true,
}

// Manifest is the ordered set of tracked entries
type Manifest struct {
	entries []*Entry
	// foreign holds sections that do not describe a file, written back as-is
	foreign []section
}

type section struct {
	name   string
	fields []Field
}

// Entries returns the entries in file order
func (m *Manifest) Entries() []*Entry {
	return m.entries
}

// Len returns the number of entries
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Lookup returns the entry for path
func (m *Manifest) Lookup(path string) (*Entry, bool) {
	path = NormalizePath(path)
	for _, e := range m.entries {
		if e.Path == path {
			return e, true
		}
	}
	return nil, false
}

// Upsert replaces the entry with the same path or appends e
func (m *Manifest) Upsert(e *Entry) {
	for i, existing := range m.entries {
		if existing.Path == e.Path {
			if e.section == "" {
				e.section = existing.section
			}
			m.entries[i] = e
			return
		}
	}
	m.entries = append(m.entries, e)
}

// Remove deletes the entry for path and reports whether one existed
func (m *Manifest) Remove(path string) (*Entry, bool) {
	path = NormalizePath(path)
	for i, e := range m.entries {
		if e.Path == path {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return e, true
		}
	}
	return nil, false
}

// Store persists a Manifest at a fixed path
type Store struct {
	path string
}

// NewStore creates a store for the manifest file at path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the manifest file path
func (s *Store) Path() string {
	return s.path
}

// Load reads the manifest. A missing file is an empty manifest.
func (s *Store) Load() (*Manifest, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes manifest content
func Parse(data []byte) (*Manifest, error) {
	f, err := ini.LoadSources(loadOptions, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	m := &Manifest{}
	for _, sec := range f.Sections() {
		name := sec.Name()
		if name == ini.DefaultSection && len(sec.Keys()) == 0 {
			continue
		}

		path, headerSource := parseSection(name)
		if path == "" {
			m.foreign = append(m.foreign, section{name: name, fields: keyFields(sec)})
			continue
		}

		e := &Entry{
			Path:    NormalizePath(path),
			Source:  headerSource,
			section: name,
		}
		for _, k := range sec.Keys() {
			e.setField(k.Name(), k.Value())
		}
		m.entries = append(m.entries, e)
	}

	return m, nil
}

// Save writes the manifest atomically
func (s *Store) Save(m *Manifest) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".git-remote-files-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return nil
}

// Encode renders the manifest, ending in exactly one newline
func (m *Manifest) Encode() ([]byte, error) {
	f := ini.Empty(loadOptions)

	for _, e := range m.entries {
		if err := writeSection(f, e.Section(), e.fields()); err != nil {
			return nil, err
		}
	}
	for _, s := range m.foreign {
		if err := writeSection(f, s.name, s.fields); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	out := strings.TrimRight(buf.String(), "\n")
	if out == "" {
		return nil, nil
	}
	return []byte(out + "\n"), nil
}

func writeSection(f *ini.File, name string, fields []Field) error {
	sec, err := f.NewSection(name)
	if err != nil {
		return fmt.Errorf("failed to encode section [%s]: %w", name, err)
	}
	for _, fld := range fields {
		if _, err := sec.NewKey(fld.Key, fld.Value); err != nil {
			return fmt.Errorf("failed to encode %s in [%s]: %w", fld.Key, name, err)
		}
	}
	return nil
}

func keyFields(sec *ini.Section) []Field {
	keys := sec.Keys()
	fields := make([]Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, Field{k.Name(), k.Value()})
	}
	return fields
}
