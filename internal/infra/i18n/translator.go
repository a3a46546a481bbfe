// File: internal/infra/i18n/translator.go
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

const defaultLang = "en"

// Translator resolves message keys for a single language.
type Translator struct {
	lang         string
	translations map[string]string
}

// NewTranslator loads locales/<langCode>.yaml from the given filesystem.
func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	filePath := path.Join("locales", langCode+".yaml")
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("read translation file %s: %w", filePath, err)
	}
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("parse translation file %s: %w", filePath, err)
	}
	return &Translator{lang: langCode, translations: translations}, nil
}

// T resolves key, formatting args into the message when given. Unknown keys
// come back verbatim so a missing translation shows up on the page instead
// of an empty string.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

func (t *Translator) Lang() string { return t.lang }

// Bundle holds one Translator per supported language and picks one from an
// Accept-Language header.
type Bundle struct {
	translators map[string]*Translator
}

// NewBundle loads every language from the embedded locales. The default
// language must be among them.
func NewBundle(fsys fs.FS, langs ...string) (*Bundle, error) {
	if len(langs) == 0 {
		langs = []string{defaultLang}
	}
	b := &Bundle{translators: make(map[string]*Translator, len(langs))}
	for _, lang := range langs {
		tr, err := NewTranslator(fsys, lang)
		if err != nil {
			return nil, err
		}
		b.translators[lang] = tr
	}
	if _, ok := b.translators[defaultLang]; !ok {
		return nil, fmt.Errorf("default language %q not loaded", defaultLang)
	}
	return b, nil
}

// Pick returns the translator for the first supported language in an
// Accept-Language header, falling back to the default. Quality weights are
// ignored; order of appearance decides.
func (b *Bundle) Pick(acceptLanguage string) *Translator {
	for _, part := range strings.Split(acceptLanguage, ",") {
		tag := strings.TrimSpace(part)
		if i := strings.Index(tag, ";"); i >= 0 {
			tag = tag[:i]
		}
		// "de-DE" matches the "de" translator.
		if i := strings.Index(tag, "-"); i >= 0 {
			tag = tag[:i]
		}
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tr, ok := b.translators[tag]; ok {
			return tr
		}
	}
	return b.translators[defaultLang]
}
