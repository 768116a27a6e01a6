package notify

import (
	"embed"
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"

	"github.com/mmeshcher/event-lottery/internal/model"
)

//go:embed active.*.toml
var localeFS embed.FS

var localeFiles = []string{"active.en.toml", "active.fr.toml"}

// Translator формирует тексты уведомлений на основе бандла go-i18n.
type Translator struct {
	bundle          *i18n.Bundle
	defaultLanguage language.Tag
}

// NewTranslator загружает встроенные файлы сообщений. Неизвестная локаль
// по умолчанию заменяется английской.
func NewTranslator(defaultLocale string) (*Translator, error) {
	tag, err := language.Parse(defaultLocale)
	if err != nil {
		tag = language.English
	}

	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	for _, file := range localeFiles {
		if _, err := bundle.LoadMessageFileFS(localeFS, file); err != nil {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	return &Translator{
		bundle:          bundle,
		defaultLanguage: tag,
	}, nil
}

// Render возвращает текст уведомления указанного типа для мероприятия.
// Если перевода нет ни для locale, ни для локали по умолчанию, возвращается ошибка.
func (t *Translator) Render(locale string, kind model.NotificationKind, eventTitle string) (string, error) {
	languages := make([]string, 0, 2)
	if locale != "" {
		languages = append(languages, locale)
	}
	languages = append(languages, t.defaultLanguage.String())

	localizer := i18n.NewLocalizer(t.bundle, languages...)
	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    string(kind),
		TemplateData: map[string]any{"Title": eventTitle},
	})
	if err != nil {
		return "", fmt.Errorf("localize %s: %w", kind, err)
	}
	return msg, nil
}
