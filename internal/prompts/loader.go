// Package prompts loads markdown prompt templates from a directory.
package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"dev.ragsuite.platform/internal/domain"
)

// Loader reads prompt templates by file name. Contents are cached after
// the first read; prompt files do not change while a service runs.
type Loader struct {
	dir string

	mu    sync.RWMutex
	cache map[string]string
}

func NewLoader(dir string) *Loader {
	return &Loader{
		dir:   dir,
		cache: make(map[string]string),
	}
}

// Load returns the trimmed contents of a .md prompt file.
func (l *Loader) Load(name string) (string, error) {
	if !strings.HasSuffix(name, ".md") {
		return "", domain.Validationf("Prompt names must use .md extension")
	}

	l.mu.RLock()
	cached, ok := l.cache[name]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	raw, err := os.ReadFile(filepath.Join(l.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", domain.Validationf("Prompt file not found: %s", name)
		}
		return "", err
	}
	contents := strings.TrimSpace(string(raw))

	l.mu.Lock()
	l.cache[name] = contents
	l.mu.Unlock()
	return contents, nil
}
