package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Message IDs for grading feedback.
const (
	MsgCorrect     = "FeedbackCorrect"
	MsgIncorrect   = "FeedbackIncorrect"
	MsgPartial     = "FeedbackPartial"
	MsgNoAnswer    = "FeedbackNoAnswer"
	MsgUnknownType = "FeedbackUnknownType"
	MsgAIDefault   = "FeedbackAIDefault"
)

// Catalog holds the translation bundle for feedback messages.
type Catalog struct {
	bundle   *i18n.Bundle
	fallback string
}

// New loads the embedded locale files. defaultLang is used when an exam
// does not specify a language.
func New(defaultLang string) (*Catalog, error) {
	tag, err := language.Parse(defaultLang)
	if err != nil {
		return nil, fmt.Errorf("parse language %q: %w", defaultLang, err)
	}

	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, e.Name()); err != nil {
			return nil, fmt.Errorf("parse locale file %s: %w", e.Name(), err)
		}
		slog.Debug("loaded locale file", "file", e.Name())
	}

	return &Catalog{bundle: bundle, fallback: tag.String()}, nil
}

// Localizer returns a localizer for lang, falling back to the default language.
func (c *Catalog) Localizer(lang string) *i18n.Localizer {
	if lang == "" {
		return i18n.NewLocalizer(c.bundle, c.fallback)
	}
	return i18n.NewLocalizer(c.bundle, lang, c.fallback)
}

// T translates a message by ID.
func (c *Catalog) T(lang, msgID string) string {
	return c.Td(lang, msgID, nil)
}

// Td translates a message by ID with template data.
func (c *Catalog) Td(lang, msgID string, data map[string]any) string {
	s, err := c.Localizer(lang).Localize(&i18n.LocalizeConfig{
		MessageID:    msgID,
		TemplateData: data,
	})
	if err != nil {
		slog.Warn("missing translation", "id", msgID, "lang", lang, "error", err)
		return msgID
	}
	return s
}
