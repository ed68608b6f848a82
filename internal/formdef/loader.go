// Package formdef loads the form template and its validation rules.
package formdef

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"formpilot/internal/logging"
	"formpilot/internal/schema"
)

//go:embed defaults/form.json defaults/form_val.json
var defaults embed.FS

const (
	defaultTemplateFile = "defaults/form.json"
	defaultRulesFile    = "defaults/form_val.json"
)

// Definition is one loaded template and rules pair.
type Definition struct {
	Template *schema.Tree
	Rules    *schema.Tree
	LoadedAt time.Time
}

// Loader caches a Definition and reloads it on demand or, with Watch, when
// the files change.
type Loader struct {
	mu           sync.RWMutex
	templatePath string
	rulesPath    string
	def          Definition
	reloads      int
	failures     int

	watchMu sync.Mutex
	watcher *watcher
}

// NewLoader loads the definition once. An empty path selects the built-in
// default for that file.
func NewLoader(templatePath, rulesPath string) (*Loader, error) {
	l := &Loader{templatePath: templatePath, rulesPath: rulesPath}
	def, err := l.load()
	if err != nil {
		return nil, err
	}
	l.def = def
	logging.Form("Form definition loaded (template=%s, rules=%s, fields=%d)",
		describe(templatePath), describe(rulesPath), leafCount(def.Template))
	return l, nil
}

// Template returns a fresh copy of the template.
func (l *Loader) Template() *schema.Tree {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.def.Template.Clone()
}

// Rules returns the validation rules. Callers must not modify them.
func (l *Loader) Rules() *schema.Tree {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.def.Rules
}

// Definition returns the current definition; the template is a copy.
func (l *Loader) Definition() Definition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Definition{Template: l.def.Template.Clone(), Rules: l.def.Rules, LoadedAt: l.def.LoadedAt}
}

// Reloads counts successful reloads since creation.
func (l *Loader) Reloads() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reloads
}

// Paths returns the configured template and rules paths.
func (l *Loader) Paths() (template, rules string) {
	return l.templatePath, l.rulesPath
}

// ReloadFailures reports how many reloads were rejected.
func (l *Loader) ReloadFailures() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.failures
}

// Reload rereads both files. On error the previous definition is kept.
func (l *Loader) Reload() error {
	def, err := l.load()
	if err != nil {
		l.mu.Lock()
		l.failures++
		l.mu.Unlock()
		return err
	}
	l.mu.Lock()
	l.def = def
	l.reloads++
	l.mu.Unlock()
	logging.Form("Form definition reloaded (%d fields)", leafCount(def.Template))
	return nil
}

func (l *Loader) load() (Definition, error) {
	tmpl, err := readTree(l.templatePath, defaultTemplateFile)
	if err != nil {
		return Definition{}, fmt.Errorf("failed to load form template: %w", err)
	}
	if tmpl.Len() == 0 {
		return Definition{}, errors.New("form template has no fields")
	}
	rules, err := readTree(l.rulesPath, defaultRulesFile)
	if err != nil {
		return Definition{}, fmt.Errorf("failed to load validation rules: %w", err)
	}
	return Definition{Template: tmpl, Rules: rules, LoadedAt: time.Now()}, nil
}

// LoadFile parses one JSON form file.
func LoadFile(path string) (*schema.Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tree, err := schema.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tree, nil
}

func readTree(path, fallback string) (*schema.Tree, error) {
	if path != "" {
		return LoadFile(path)
	}
	data, err := defaults.ReadFile(fallback)
	if err != nil {
		return nil, err
	}
	return schema.Parse(data)
}

// WriteDefaults writes the built-in template and rules into dir, leaving
// existing files alone. It returns the paths written.
func WriteDefaults(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var written []string
	for _, name := range []string{defaultTemplateFile, defaultRulesFile} {
		dst := filepath.Join(dir, filepath.Base(name))
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		data, err := defaults.ReadFile(name)
		if err != nil {
			return written, err
		}
		if err := os.WriteFile(dst, data, 0644); err != nil {
			return written, err
		}
		written = append(written, dst)
	}
	return written, nil
}

func describe(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}

func leafCount(t *schema.Tree) int {
	_, total := t.Leaves()
	return total
}
