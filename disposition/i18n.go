package disposition

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/matcontt/tindercam/internal/domain"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localesFS embed.FS

// DefaultLanguage is the language of every message unless asked otherwise.
const DefaultLanguage = "es"

var (
	bundle    *i18n.Bundle
	languages = []string{"es", "en"}
)

func init() {
	bundle = i18n.NewBundle(language.Spanish)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)
	for _, lang := range languages {
		if _, err := bundle.LoadMessageFileFS(localesFS, "locales/"+lang+".json"); err != nil {
			panic(fmt.Sprintf("while loading locale %s: %v", lang, err))
		}
	}
}

// SupportedLanguage reports whether a message catalog exists for lang.
func SupportedLanguage(lang string) bool {
	tag, err := language.Parse(lang)
	if err != nil {
		return false
	}
	base, _ := tag.Base()
	for _, l := range languages {
		if base.String() == l {
			return true
		}
	}
	return false
}

// Translator renders user facing messages in one language preference list.
type Translator struct {
	localizer *i18n.Localizer
}

func NewTranslator(langs ...string) *Translator {
	return &Translator{localizer: i18n.NewLocalizer(bundle, append(langs, DefaultLanguage)...)}
}

// TranslatorFromRequest honors the Accept-Language header, falling back to
// fallback.
func TranslatorFromRequest(r *http.Request, fallback string) *Translator {
	var langs []string
	if tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language")); err == nil {
		for _, tag := range tags {
			langs = append(langs, tag.String())
		}
	}
	return NewTranslator(append(langs, fallback)...)
}

type translatorKey struct{}

func WithTranslator(ctx context.Context, t *Translator) context.Context {
	return context.WithValue(ctx, translatorKey{}, t)
}

// TranslatorFromContext returns the translator stored in ctx, or one for the
// default language.
func TranslatorFromContext(ctx context.Context) *Translator {
	if t, ok := ctx.Value(translatorKey{}).(*Translator); ok {
		return t
	}
	return NewTranslator()
}

// T translates messageID. Unknown ids are returned unchanged.
func (t *Translator) T(messageID string, data ...map[string]any) string {
	cfg := &i18n.LocalizeConfig{MessageID: messageID}
	if len(data) > 0 {
		cfg.TemplateData = data[0]
	}
	msg, err := t.localizer.Localize(cfg)
	if err != nil {
		return messageID
	}
	return msg
}

// GalleryCounter renders "N / 15 fotos guardadas".
func (t *Translator) GalleryCounter(c domain.Counts) string {
	return t.T("gallery_counter", map[string]any{"Count": c.Gallery, "Capacity": c.GalleryCapacity})
}

func (t *Translator) TrashCounter(c domain.Counts) string {
	return t.T("trash_counter", map[string]any{"Count": c.Trash, "Capacity": c.TrashCapacity})
}

// Alert is a localized notice for the user.
type Alert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// AlertFor returns the notice shown for signal, nil when the signal needs none.
func (t *Translator) AlertFor(signal Signal, c domain.Counts) *Alert {
	capacity := map[string]any{"Capacity": c.GalleryCapacity}
	switch signal {
	case SignalGalleryFull:
		return &Alert{Title: t.T("gallery_full_title"), Body: t.T("gallery_full_body", capacity)}
	case SignalTrashEviction:
		return &Alert{Title: t.T("trash_full_title"), Body: t.T("trash_full_body")}
	case SignalCaptureFailed:
		return t.CaptureErrorAlert()
	default:
		return nil
	}
}

// CaptureRefusedAlert is shown when capture is gated by a full gallery.
func (t *Translator) CaptureRefusedAlert(c domain.Counts) *Alert {
	return &Alert{
		Title: t.T("gallery_full_title"),
		Body:  t.T("gallery_full_capture", map[string]any{"Capacity": c.GalleryCapacity}),
	}
}

func (t *Translator) CaptureErrorAlert() *Alert {
	return &Alert{Title: t.T("capture_error_title"), Body: t.T("capture_error_body")}
}
