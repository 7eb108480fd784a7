// Package prompt resolves processor prompt templates with user-override
// precedence and substitutes the issue number into the loaded text.
package prompt

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/patrickmn/go-cache"

	"github.com/imploid/imploid/internal/config"
	"github.com/imploid/imploid/internal/model"
)

// issueToken is replaced with the decimal issue number in loaded templates.
const issueToken = "${issueNumber}"

// NotFoundError reports that no candidate template file exists.
type NotFoundError struct {
	Name       string
	Candidates []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("prompt %q not found; tried: %s", e.Name, strings.Join(e.Candidates, ", "))
}

// Loader resolves and caches prompt templates. Templates are cached by
// absolute path for the process lifetime; edits require a restart.
type Loader struct {
	userDir  string
	defaults fs.FS
	cache    *cache.Cache
}

// NewLoader creates a loader reading overrides from userDir and falling back
// to the embedded defaults filesystem.
func NewLoader(userDir string, defaults fs.FS) *Loader {
	return &Loader{
		userDir:  userDir,
		defaults: defaults,
		cache:    cache.New(cache.NoExpiration, cache.NoExpiration),
	}
}

// Load resolves the template for (processor, override), reads it, and
// substitutes the issue number. An empty override selects the processor's
// default template.
func (l *Loader) Load(processor model.ProcessorName, issueNumber int, override string) (string, error) {
	text, err := l.loadTemplate(processor, override)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(text, issueToken, strconv.Itoa(issueNumber)), nil
}

func (l *Loader) loadTemplate(processor model.ProcessorName, override string) (string, error) {
	displayName := override
	if displayName == "" {
		displayName = string(processor) + "-default"
	}

	// Absolute and home-prefixed overrides name one exact file.
	if override != "" && (filepath.IsAbs(override) || strings.HasPrefix(override, "~")) {
		path, err := config.ExpandPath(override)
		if err != nil {
			return "", err
		}
		if filepath.Ext(path) == "" {
			path += ".md"
		}
		text, ok := l.readFile(path)
		if !ok {
			return "", &NotFoundError{Name: displayName, Candidates: []string{path}}
		}
		return text, nil
	}

	name := displayName + ".md"
	userPath := filepath.Join(l.userDir, name)

	var candidates []string
	candidates = append(candidates, userPath)
	if text, ok := l.readFile(userPath); ok {
		return text, nil
	}

	if l.defaults != nil {
		candidates = append(candidates, "embedded:"+name)
		if text, ok := l.readDefault(name); ok {
			return text, nil
		}
	}

	return "", &NotFoundError{Name: displayName, Candidates: candidates}
}

func (l *Loader) readFile(path string) (string, bool) {
	if cached, ok := l.cache.Get(path); ok {
		return cached.(string), true
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	text := string(data)
	l.cache.Set(path, text, cache.NoExpiration)
	return text, true
}

func (l *Loader) readDefault(name string) (string, bool) {
	key := "embedded:" + name
	if cached, ok := l.cache.Get(key); ok {
		return cached.(string), true
	}
	data, err := fs.ReadFile(l.defaults, name)
	if err != nil {
		return "", false
	}
	text := string(data)
	l.cache.Set(key, text, cache.NoExpiration)
	return text, true
}
