// Package localization resolves notice keys to user-facing text. The
// catalogs are JSON objects, one file per language, compiled into the
// binary.
package localization

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// DefaultLanguage is consulted when a key is missing in the requested language.
const DefaultLanguage = "en"

//go:embed locales/*.json
var catalogs embed.FS

type catalog map[string]string

// Localizer is read-only after construction and safe for concurrent use.
type Localizer struct {
	catalogs map[string]catalog
}

// New loads the embedded catalogs.
func New() (*Localizer, error) {
	sub, err := fs.Sub(catalogs, "locales")
	if err != nil {
		return nil, err
	}
	return NewLocalizer(sub)
}

// NewLocalizer loads every <lang>.json file at the root of fsys.
func NewLocalizer(fsys fs.FS) (*Localizer, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read catalogs: %w", err)
	}

	l := &Localizer{catalogs: make(map[string]catalog)}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".json" {
			continue
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog %s: %w", name, err)
		}
		var c catalog
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to parse catalog %s: %w", name, err)
		}
		l.catalogs[strings.TrimSuffix(name, ".json")] = c
	}
	return l, nil
}

// Languages returns the loaded language codes, sorted.
func (l *Localizer) Languages() []string {
	langs := make([]string, 0, len(l.catalogs))
	for lang := range l.catalogs {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// GetString returns the text for key in lang, then in DefaultLanguage, and
// finally the key itself.
func (l *Localizer) GetString(lang, key string) string {
	if s, ok := l.catalogs[lang][key]; ok {
		return s
	}
	if s, ok := l.catalogs[DefaultLanguage][key]; ok {
		return s
	}
	return key
}

// Format looks up key and formats it with args.
func (l *Localizer) Format(lang, key string, args ...any) string {
	s := l.GetString(lang, key)
	if len(args) == 0 {
		return s
	}
	return fmt.Sprintf(s, args...)
}
