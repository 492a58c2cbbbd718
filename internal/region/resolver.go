// Package region определяет коммерческий регион запроса: рынок, валюту и язык.
package region

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmeshcher/storefront-core/internal/model"
)

// ErrUnsupportedLocale возвращается для локали вне поддерживаемого набора.
var ErrUnsupportedLocale = errors.New("unsupported locale")

const (
	// LocaleCookie хранит выбранную пользователем локаль.
	LocaleCookie = "locale"
	// CurrencyCookie хранит выбранную пользователем валюту.
	CurrencyCookie = "currency"
)

type options struct {
	currency string
}

// Option настраивает разрешение региона.
type Option func(*options)

// WithCurrency переопределяет валюту рынка. Валюта вне поддерживаемого набора игнорируется.
func WithCurrency(code string) Option {
	return func(o *options) {
		o.currency = strings.ToUpper(strings.TrimSpace(code))
	}
}

// Resolve строит регион для локали.
func Resolve(locale string, opts ...Option) (model.Region, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	entry, ok := localeTable[locale]
	if !ok {
		return model.Region{}, fmt.Errorf("%w: %q", ErrUnsupportedLocale, locale)
	}

	market, ok := Market(entry.market)
	if !ok {
		return model.Region{}, fmt.Errorf("market %q for locale %q missing from catalog", entry.market, locale)
	}
	language, ok := Language(entry.language)
	if !ok {
		return model.Region{}, fmt.Errorf("language %q for locale %q missing from catalog", entry.language, locale)
	}

	if o.currency != "" && IsSupportedCurrency(o.currency) {
		market.Currency = o.currency
	}

	return model.Region{Market: market, Language: language}, nil
}

// FromRequest определяет регион по cookie локали, затем по Accept-Language, иначе по fallback.
func FromRequest(r *http.Request, fallback string) (model.Region, error) {
	locale := fallback
	if c, err := r.Cookie(LocaleCookie); err == nil && isSupportedLocale(c.Value) {
		locale = c.Value
	} else if l := preferredLocale(r.Header.Get("Accept-Language")); l != "" {
		locale = l
	}

	var opts []Option
	if c, err := r.Cookie(CurrencyCookie); err == nil {
		opts = append(opts, WithCurrency(c.Value))
	}

	return Resolve(locale, opts...)
}

func isSupportedLocale(locale string) bool {
	_, ok := localeTable[locale]
	return ok
}

// preferredLocale выбирает первую поддерживаемую локаль из заголовка Accept-Language.
// Веса q не учитываются, порядок в заголовке считается порядком предпочтения.
func preferredLocale(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if isSupportedLocale(tag) {
			return tag
		}
	}
	return ""
}
