package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeKey struct{}
type countryKey struct{}

var (
	LocaleKey  = localeKey{}
	CountryKey = countryKey{}
)

// CountryLookup resolves the ISO country code of an IP address.
type CountryLookup func(ip string) (string, error)

// Locales are the dialogue languages the scenario writers support. The first
// entry is the last resort.
var Locales = []language.Tag{language.English, language.French, language.Indonesian}

var matcher = language.NewMatcher(Locales)

// countryHeaders are set by CDNs and load balancers in front of the API.
var countryHeaders = []string{"X-Country-Code", "X-IP-Country", "CF-IPCountry", "X-Appengine-Country"}

// regionLocale picks a dialogue language for requests that only reveal where
// they come from.
var regionLocale = map[string]string{
	"ID": "id",
	"FR": "fr", "BE": "fr", "LU": "fr", "MC": "fr", "SN": "fr", "CI": "fr",
}

// I18N negotiates the dialogue locale and resolves the requester country,
// storing both in the request context.
func I18N(defaultLocale string, lookup CountryLookup) func(http.Handler) http.Handler {
	fallback, ok := NormalizeLocale(defaultLocale)
	if !ok {
		fallback = Locales[0].String()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			country := requestCountry(r, lookup)
			locale := requestLocale(r, country, fallback)

			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			if country != "" {
				ctx = context.WithValue(ctx, CountryKey, country)
			}
			w.Header().Set("Content-Language", locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestLocale prefers an explicit X-Locale, then Accept-Language, then the
// language of the requester's country.
func requestLocale(r *http.Request, country, fallback string) string {
	if v, ok := NormalizeLocale(r.Header.Get("X-Locale")); ok {
		return v
	}
	if tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language")); err == nil {
		if v, ok := match(tags...); ok {
			return v
		}
	}
	if v, ok := regionLocale[country]; ok {
		return v
	}
	return fallback
}

func requestCountry(r *http.Request, lookup CountryLookup) string {
	for _, h := range countryHeaders {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return strings.ToUpper(v)
		}
	}
	for _, h := range []string{"X-Locale", "Accept-Language"} {
		if region := explicitRegion(r.Header.Get(h)); region != "" {
			return region
		}
	}
	if lookup == nil {
		return ""
	}
	code, err := lookup(clientAddr(r))
	if err != nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

// explicitRegion returns the region subtag written in the most preferred
// range of a locale header; regions a tag would only imply are ignored.
func explicitRegion(header string) string {
	tags, _, err := language.ParseAcceptLanguage(strings.ReplaceAll(header, "_", "-"))
	if err != nil {
		return ""
	}
	for _, tag := range tags {
		if region, conf := tag.Region(); conf == language.Exact {
			return region.String()
		}
	}
	return ""
}

// NormalizeLocale maps a BCP 47 tag (underscores allowed) onto a supported
// locale.
func NormalizeLocale(locale string) (string, bool) {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return "", false
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return "", false
	}
	return match(tag)
}

func match(tags ...language.Tag) (string, bool) {
	if len(tags) == 0 {
		return "", false
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return "", false
	}
	return Locales[idx].String(), true
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return Locales[0].String()
}

func CountryFromContext(ctx context.Context) string {
	v, _ := ctx.Value(CountryKey).(string)
	return v
}
