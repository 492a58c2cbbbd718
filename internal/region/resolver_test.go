package region

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	type want struct {
		market   string
		currency string
		language string
		channel  string
	}

	tests := []struct {
		name     string
		locale   string
		currency string
		want     want
	}{
		{
			name:   "kyrgyz locale without override",
			locale: "ky-KG",
			want:   want{market: "kg", currency: "KGS", language: "ky-KG", channel: "channel-kg"},
		},
		{
			name:     "supported override replaces currency",
			locale:   "ru-KG",
			currency: "USD",
			want:     want{market: "kg", currency: "USD", language: "ru-KG", channel: "channel-kg"},
		},
		{
			name:     "lower-case override is normalised",
			locale:   "kk-KZ",
			currency: "rub",
			want:     want{market: "kz", currency: "RUB", language: "kk-KZ", channel: "channel-kz"},
		},
		{
			name:     "unsupported override falls back to market default",
			locale:   "en-US",
			currency: "EUR",
			want:     want{market: "us", currency: "USD", language: "en-US", channel: "channel-us"},
		},
		{
			name:     "empty override keeps default",
			locale:   "ru-RU",
			currency: "",
			want:     want{market: "ru", currency: "RUB", language: "ru-RU", channel: "channel-ru"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Resolve(tt.locale, WithCurrency(tt.currency))
			require.NoError(t, err)

			assert.Equal(t, tt.want.market, r.Market.ID)
			assert.Equal(t, tt.want.currency, r.Market.Currency)
			assert.Equal(t, tt.want.language, r.Language.Locale)
			assert.Equal(t, tt.want.channel, r.Channel())
		})
	}
}

func TestResolve_UnsupportedLocale(t *testing.T) {
	_, err := Resolve("fr-FR")
	if !errors.Is(err, ErrUnsupportedLocale) {
		t.Fatalf("expected ErrUnsupportedLocale, got %v", err)
	}
}

func TestResolve_DoesNotLeakCatalogState(t *testing.T) {
	first, err := Resolve("ky-KG", WithCurrency("USD"))
	require.NoError(t, err)

	first.Market.SupportedLanguages[0] = "mutated"
	first.Market.Name = "mutated"

	second, err := Resolve("ky-KG")
	require.NoError(t, err)
	assert.Equal(t, "KGS", second.Market.Currency)
	assert.Equal(t, "ky-KG", second.Market.SupportedLanguages[0])
	assert.Equal(t, "Кыргызстан", second.Market.Name)
}

func TestCatalogConsistency(t *testing.T) {
	for _, locale := range Locales() {
		r, err := Resolve(locale)
		require.NoError(t, err, locale)
		assert.True(t, IsSupportedCurrency(r.Market.Currency), "default currency of %s", r.Market.ID)
		assert.Contains(t, r.Market.SupportedLanguages, r.Language.ID)
	}
}

func localeGen() gopter.Gen {
	values := make([]interface{}, 0, len(localeTable))
	for _, l := range Locales() {
		values = append(values, l)
	}
	return gen.OneConstOf(values...)
}

func currencyGen() gopter.Gen {
	values := []interface{}{""}
	for _, c := range SupportedCurrencies() {
		values = append(values, c)
	}
	return gen.OneGenOf(gen.OneConstOf(values...), gen.AlphaString())
}

func TestResolveProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("resolve is deterministic and returns independent values", prop.ForAll(
		func(locale, currency string) bool {
			a, errA := Resolve(locale, WithCurrency(currency))
			b, errB := Resolve(locale, WithCurrency(currency))
			if errA != nil || errB != nil {
				return false
			}
			if !reflect.DeepEqual(a, b) {
				return false
			}
			a.Market.SupportedLanguages[0] = "changed"
			return b.Market.SupportedLanguages[0] != "changed"
		},
		localeGen(),
		currencyGen(),
	))

	properties.Property("unsupported currency falls back to the market default", prop.ForAll(
		func(locale, currency string) bool {
			r, err := Resolve(locale, WithCurrency(currency))
			if err != nil {
				return false
			}
			def, _ := Market(localeTable[locale].market)
			return r.Market.Currency == def.Currency
		},
		localeGen(),
		gen.AlphaString().SuchThat(func(s string) bool {
			return !IsSupportedCurrency(strings.ToUpper(strings.TrimSpace(s)))
		}),
	))

	properties.TestingRun(t)
}

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name         string
		cookies      []*http.Cookie
		acceptLang   string
		wantLocale   string
		wantCurrency string
	}{
		{
			name:         "fallback",
			wantLocale:   "ky-KG",
			wantCurrency: "KGS",
		},
		{
			name:         "accept-language picks first supported tag",
			acceptLang:   "fr-FR, ru-RU;q=0.8, en-US;q=0.5",
			wantLocale:   "ru-RU",
			wantCurrency: "RUB",
		},
		{
			name:         "cookie wins over header",
			cookies:      []*http.Cookie{{Name: LocaleCookie, Value: "en-US"}},
			acceptLang:   "ru-RU",
			wantLocale:   "en-US",
			wantCurrency: "USD",
		},
		{
			name: "currency cookie override",
			cookies: []*http.Cookie{
				{Name: LocaleCookie, Value: "ru-KG"},
				{Name: CurrencyCookie, Value: "RUB"},
			},
			wantLocale:   "ru-KG",
			wantCurrency: "RUB",
		},
		{
			name:         "unsupported locale cookie is ignored",
			cookies:      []*http.Cookie{{Name: LocaleCookie, Value: "xx-XX"}},
			wantLocale:   "ky-KG",
			wantCurrency: "KGS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for _, c := range tt.cookies {
				req.AddCookie(c)
			}
			if tt.acceptLang != "" {
				req.Header.Set("Accept-Language", tt.acceptLang)
			}

			r, err := FromRequest(req, "ky-KG")
			require.NoError(t, err)
			assert.Equal(t, tt.wantLocale, r.Language.Locale)
			assert.Equal(t, tt.wantCurrency, r.Market.Currency)
		})
	}
}
