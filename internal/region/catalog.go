package region

import (
	"sort"

	"github.com/mmeshcher/storefront-core/internal/model"
)

// supportedCurrencies — глобальный набор валют, в которых витрина умеет показывать цены.
var supportedCurrencies = map[string]struct{}{
	"KGS": {},
	"KZT": {},
	"RUB": {},
	"USD": {},
}

var markets = map[string]model.Market{
	"kg": {
		ID:                 "kg",
		Name:               "Кыргызстан",
		Channel:            "channel-kg",
		Currency:           "KGS",
		CountryCode:        "KG",
		Continent:          "Asia",
		DefaultLanguage:    "ky-KG",
		SupportedLanguages: []string{"ky-KG", "ru-KG", "en-KG"},
	},
	"kz": {
		ID:                 "kz",
		Name:               "Казахстан",
		Channel:            "channel-kz",
		Currency:           "KZT",
		CountryCode:        "KZ",
		Continent:          "Asia",
		DefaultLanguage:    "kk-KZ",
		SupportedLanguages: []string{"kk-KZ", "ru-KZ"},
	},
	"ru": {
		ID:                 "ru",
		Name:               "Россия",
		Channel:            "channel-ru",
		Currency:           "RUB",
		CountryCode:        "RU",
		Continent:          "Europe",
		DefaultLanguage:    "ru-RU",
		SupportedLanguages: []string{"ru-RU"},
	},
	"us": {
		ID:                 "us",
		Name:               "United States",
		Channel:            "channel-us",
		Currency:           "USD",
		CountryCode:        "US",
		Continent:          "North America",
		DefaultLanguage:    "en-US",
		SupportedLanguages: []string{"en-US"},
	},
}

var languages = map[string]model.Language{
	"ky-KG": {ID: "ky-KG", Code: "KY_KG", Locale: "ky-KG", Name: "Кыргызча"},
	"ru-KG": {ID: "ru-KG", Code: "RU_KG", Locale: "ru-KG", Name: "Русский (Кыргызстан)"},
	"en-KG": {ID: "en-KG", Code: "EN_KG", Locale: "en-KG", Name: "English (Kyrgyzstan)"},
	"kk-KZ": {ID: "kk-KZ", Code: "KK_KZ", Locale: "kk-KZ", Name: "Қазақша"},
	"ru-KZ": {ID: "ru-KZ", Code: "RU_KZ", Locale: "ru-KZ", Name: "Русский (Казахстан)"},
	"ru-RU": {ID: "ru-RU", Code: "RU_RU", Locale: "ru-RU", Name: "Русский"},
	"en-US": {ID: "en-US", Code: "EN_US", Locale: "en-US", Name: "English"},
}

type localeEntry struct {
	market   string
	language string
}

// localeTable сопоставляет локаль рынку и языку.
var localeTable = map[string]localeEntry{
	"ky-KG": {market: "kg", language: "ky-KG"},
	"ru-KG": {market: "kg", language: "ru-KG"},
	"en-KG": {market: "kg", language: "en-KG"},
	"kk-KZ": {market: "kz", language: "kk-KZ"},
	"ru-KZ": {market: "kz", language: "ru-KZ"},
	"ru-RU": {market: "ru", language: "ru-RU"},
	"en-US": {market: "us", language: "en-US"},
}

// IsSupportedCurrency сообщает, входит ли валюта в глобальный набор.
func IsSupportedCurrency(code string) bool {
	_, ok := supportedCurrencies[code]
	return ok
}

// SupportedCurrencies возвращает отсортированный список поддерживаемых валют.
func SupportedCurrencies() []string {
	res := make([]string, 0, len(supportedCurrencies))
	for c := range supportedCurrencies {
		res = append(res, c)
	}
	sort.Strings(res)
	return res
}

// Locales возвращает отсортированный список поддерживаемых локалей.
func Locales() []string {
	res := make([]string, 0, len(localeTable))
	for l := range localeTable {
		res = append(res, l)
	}
	sort.Strings(res)
	return res
}

// Market возвращает копию записи рынка по идентификатору.
func Market(id string) (model.Market, bool) {
	m, ok := markets[id]
	if !ok {
		return model.Market{}, false
	}
	m.SupportedLanguages = append([]string(nil), m.SupportedLanguages...)
	return m, true
}

// Language возвращает запись языка по идентификатору.
func Language(id string) (model.Language, bool) {
	l, ok := languages[id]
	return l, ok
}
