// Package langs caches the executable language set and maps filenames to
// language descriptors.
package langs

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/runplane/runplane/internal/provider"
)

// extensionNames maps well-known file extensions to runtime language names
// for languages whose alias lists do not include the extension itself.
var extensionNames = map[string]string{
	"py":  "python",
	"js":  "javascript",
	"mjs": "javascript",
	"ts":  "typescript",
	"rb":  "ruby",
	"rs":  "rust",
	"kt":  "kotlin",
	"cs":  "csharp",
	"cc":  "c++",
	"cpp": "c++",
	"hs":  "haskell",
	"pl":  "perl",
}

type Registry struct {
	Lister provider.RuntimeLister
	Logger *log.Logger

	mu        sync.RWMutex
	languages []provider.LanguageDescriptor
}

// Load fetches the supported-language list and replaces the cached set
// wholesale. A failed fetch leaves the previous set untouched.
func (r *Registry) Load(ctx context.Context) error {
	if r.Lister == nil {
		return fmt.Errorf("language registry has no runtime lister")
	}
	descriptors, err := r.Lister.Runtimes(ctx)
	if err != nil {
		if r.Logger != nil {
			r.Logger.Warn("language list fetch failed", "error", err)
		}
		return fmt.Errorf("fetch language list: %w", err)
	}

	r.mu.Lock()
	r.languages = descriptors
	r.mu.Unlock()

	if r.Logger != nil {
		r.Logger.Debug("language list loaded", "count", len(descriptors))
	}
	return nil
}

// Languages returns a copy of the cached descriptor set.
func (r *Registry) Languages() []provider.LanguageDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]provider.LanguageDescriptor(nil), r.languages...)
}

// Lookup finds a descriptor by language name or alias. The zero descriptor
// means no match.
func (r *Registry) Lookup(language string) provider.LanguageDescriptor {
	needle := strings.ToLower(strings.TrimSpace(language))
	if needle == "" {
		return provider.LanguageDescriptor{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, lang := range r.languages {
		if strings.EqualFold(lang.Name, needle) {
			return lang
		}
		for _, alias := range lang.Aliases {
			if strings.EqualFold(alias, needle) {
				return lang
			}
		}
	}
	return provider.LanguageDescriptor{}
}

// DetectByFilename maps a filename extension to a language descriptor. The
// extension is matched against each language's alias list first, then against
// the derived extension-name table; first match wins. No match returns the
// zero descriptor.
func (r *Registry) DetectByFilename(name string) provider.LanguageDescriptor {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return provider.LanguageDescriptor{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, lang := range r.languages {
		for _, alias := range lang.Aliases {
			if strings.EqualFold(alias, ext) {
				return lang
			}
		}
	}
	if mapped, ok := extensionNames[ext]; ok {
		for _, lang := range r.languages {
			if strings.EqualFold(lang.Name, mapped) {
				return lang
			}
		}
	}
	for _, lang := range r.languages {
		if strings.EqualFold(lang.Name, ext) {
			return lang
		}
	}
	return provider.LanguageDescriptor{}
}
