package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goplugin "plugin"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/pluginhost/internal/config"
)

// LibraryEntry maps a plugin id to an exported factory symbol in a shared object
// built with `go build -buildmode=plugin`.
type LibraryEntry struct {
	ID      string `yaml:"id"`
	Library string `yaml:"library"`
	Symbol  string `yaml:"symbol"`
	// Blake3 is the hex digest the library must match before it is opened.
	Blake3 string `yaml:"blake3,omitempty"`
}

// LibraryManifest is the plugins.yaml file co-located with the host executable.
type LibraryManifest struct {
	Plugins []LibraryEntry `yaml:"plugins"`
}

// LoadLibraryManifest reads and validates a library manifest.
func LoadLibraryManifest(path string) (*LibraryManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read library manifest: %w", err)
	}

	var m LibraryManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse library manifest %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(m.Plugins))
	for i := range m.Plugins {
		e := &m.Plugins[i]
		e.ID = strings.TrimSpace(e.ID)
		e.Library = strings.TrimSpace(e.Library)
		e.Symbol = strings.TrimSpace(e.Symbol)
		e.Blake3 = strings.ToLower(strings.TrimSpace(e.Blake3))

		if e.ID == "" {
			return nil, fmt.Errorf("library manifest entry %d: id is required", i)
		}
		if e.Library == "" {
			return nil, fmt.Errorf("library manifest entry %q: library is required", e.ID)
		}
		if e.Symbol == "" {
			return nil, fmt.Errorf("library manifest entry %q: symbol is required", e.ID)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("library manifest: duplicate id %q", e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return &m, nil
}

// LibraryLoader resolves plugin ids that are not linked into the host binary.
// Libraries must live inside dir; a path that escapes it is rejected.
type LibraryLoader struct {
	dir      string
	entries  map[string]LibraryEntry
	mu       sync.Mutex
	open     func(path string) (symbolLookup, error)
	verifier func(path, hash string) error
}

type symbolLookup interface {
	Lookup(name string) (goplugin.Symbol, error)
}

// NewLibraryLoader builds a loader from the manifest at manifestPath. Relative
// library paths resolve against the manifest's directory. A missing manifest
// yields a loader that knows no ids.
func NewLibraryLoader(manifestPath string) (*LibraryLoader, error) {
	l := &LibraryLoader{
		dir:     filepath.Dir(manifestPath),
		entries: make(map[string]LibraryEntry),
		open: func(path string) (symbolLookup, error) {
			return goplugin.Open(path)
		},
		verifier: config.VerifyFileHash,
	}

	m, err := LoadLibraryManifest(manifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return l, nil
		}
		return nil, err
	}
	for _, e := range m.Plugins {
		l.entries[e.ID] = e
	}
	return l, nil
}

// Has reports whether id is listed in the manifest.
func (l *LibraryLoader) Has(id string) bool {
	_, ok := l.entries[id]
	return ok
}

// Load opens the library for id and calls its factory symbol. The symbol must be
// a `func() any` or `func() (any, error)` returning a Plugin.
func (l *LibraryLoader) Load(id string) (Plugin, error) {
	e, ok := l.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
	}

	path, err := l.resolvePath(e.Library)
	if err != nil {
		return nil, err
	}
	if e.Blake3 != "" {
		if err := l.verifier(path, e.Blake3); err != nil {
			return nil, fmt.Errorf("verify library for %q: %w", id, err)
		}
	}

	// plugin.Open is not documented as safe for concurrent first opens.
	l.mu.Lock()
	lib, err := l.open(path)
	l.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open library %s: %w", e.Library, err)
	}

	sym, err := lib.Lookup(e.Symbol)
	if err != nil {
		return nil, fmt.Errorf("lookup %s in %s: %w", e.Symbol, e.Library, err)
	}

	var v any
	switch f := sym.(type) {
	case func() any:
		v = f()
	case *func() any:
		v = (*f)()
	case func() (any, error):
		if v, err = f(); err != nil {
			return nil, err
		}
	case *func() (any, error):
		if v, err = (*f)(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("symbol %s in %s has unsupported type %T", e.Symbol, e.Library, sym)
	}

	p, ok := v.(Plugin)
	if !ok {
		return nil, fmt.Errorf("symbol %s in %s returned %T, not a plugin", e.Symbol, e.Library, v)
	}
	return p, nil
}

func (l *LibraryLoader) resolvePath(lib string) (string, error) {
	path := lib
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.dir, path)
	}
	path = filepath.Clean(path)

	base, err := filepath.Abs(l.dir)
	if err != nil {
		return "", fmt.Errorf("resolve library dir: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve library path: %w", err)
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("library %s is outside %s", lib, l.dir)
	}
	return abs, nil
}
