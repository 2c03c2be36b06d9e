package b23bot

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/BurntSushi/toml"
)

// Document is the persisted configuration file.
type Document struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	AccessToken string   `toml:"access_token,omitempty"`
	Root        []int64  `toml:"root"`
	Admin       []int64  `toml:"admin"`
	Plugins     []string `toml:"plugins"` // load order
}

func (d Document) clone() Document {
	d.Root = slices.Clone(d.Root)
	d.Admin = slices.Clone(d.Admin)
	d.Plugins = slices.Clone(d.Plugins)
	return d
}

// normalize drops duplicate ids and names and replaces nil lists so the
// encoder always writes every key.
func (d *Document) normalize() {
	d.Root = dedupe(d.Root)
	d.Admin = dedupe(d.Admin)
	d.Plugins = dedupe(d.Plugins)
}

func dedupe[T comparable](in []T) []T {
	out := make([]T, 0, len(in))
	seen := make(map[T]struct{}, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// ConfigStore owns the persisted document. Every mutation is written to
// disk before the in-memory copy changes.
type ConfigStore struct {
	path string

	mu  sync.RWMutex
	doc Document
}

// OpenStore reads the document at path.
func OpenStore(path string) (*ConfigStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var doc Document
	if _, err := toml.Decode(string(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	doc.normalize()
	return &ConfigStore{path: path, doc: doc}, nil
}

// CreateStore writes doc to path and returns a store over it.
func CreateStore(path string, doc Document) (*ConfigStore, error) {
	doc = doc.clone()
	doc.normalize()
	if err := writeDocument(path, doc); err != nil {
		return nil, err
	}
	return &ConfigStore{path: path, doc: doc}, nil
}

// Path returns the file backing the store.
func (s *ConfigStore) Path() string { return s.path }

// Snapshot returns a copy of the current document.
func (s *ConfigStore) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.clone()
}

// Update applies fn to a copy of the document and persists it. The
// in-memory document only changes once the write succeeded; an error from
// fn or from the write leaves everything as it was.
func (s *ConfigStore) Update(fn func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	if err := fn(&next); err != nil {
		return err
	}
	next.normalize()
	if err := writeDocument(s.path, next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

// IsRoot reports whether id is a root identity.
func (s *ConfigStore) IsRoot(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.doc.Root, id)
}

// IsAdmin reports whether id is an admin. Roots are implicitly admins.
func (s *ConfigStore) IsAdmin(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.doc.Admin, id) || slices.Contains(s.doc.Root, id)
}

// Roots returns the root identities.
func (s *ConfigStore) Roots() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.doc.Root)
}

// Plugins returns the enabled plugin names in load order.
func (s *ConfigStore) Plugins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.doc.Plugins)
}

// PluginEnabled reports whether name is in the persisted plugin list.
func (s *ConfigStore) PluginEnabled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.doc.Plugins, name)
}

// AddRoot persists id as a root. It reports false if id already was one.
func (s *ConfigStore) AddRoot(id int64) (bool, error) {
	added := false
	err := s.Update(func(d *Document) error {
		if slices.Contains(d.Root, id) {
			return nil
		}
		d.Root = append(d.Root, id)
		added = true
		return nil
	})
	return added, err
}

// AddAdmin persists id as an admin. It reports false if id already was one.
func (s *ConfigStore) AddAdmin(id int64) (bool, error) {
	added := false
	err := s.Update(func(d *Document) error {
		if slices.Contains(d.Admin, id) {
			return nil
		}
		d.Admin = append(d.Admin, id)
		added = true
		return nil
	})
	return added, err
}

func writeDocument(path string, doc Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	return nil
}
