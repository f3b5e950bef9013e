// Package geoip maps request addresses to ISO country codes with a MaxMind
// country database.
package geoip

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

var ErrUnavailable = errors.New("geoip: resolver unavailable")

// maxCached bounds the per-address cache; it is reset when full.
const maxCached = 4096

type countryReader interface {
	Country(ip net.IP) (*geoip2.Country, error)
	Close() error
}

// Resolver answers country lookups for the locale middleware. Answers are
// cached per address since clients repeat requests.
type Resolver struct {
	reader countryReader

	mu    sync.Mutex
	cache map[string]string
}

// NewResolver opens the database at path. An empty path disables lookups and
// returns a nil resolver.
func NewResolver(path string) (*Resolver, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open %s: %w", path, err)
	}
	return newResolver(reader), nil
}

func newResolver(reader countryReader) *Resolver {
	return &Resolver{reader: reader, cache: make(map[string]string)}
}

// CountryCode returns the ISO code for ip, or "" when the database has none.
func (r *Resolver) CountryCode(ip string) (string, error) {
	if r == nil || r.reader == nil {
		return "", ErrUnavailable
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "", fmt.Errorf("geoip: invalid ip %q", ip)
	}
	key := parsed.String()

	r.mu.Lock()
	code, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return code, nil
	}

	record, err := r.reader.Country(parsed)
	if err != nil {
		return "", fmt.Errorf("geoip: lookup %s: %w", key, err)
	}
	if record != nil {
		code = strings.ToUpper(record.Country.IsoCode)
	}

	r.mu.Lock()
	if len(r.cache) >= maxCached {
		r.cache = make(map[string]string)
	}
	r.cache[key] = code
	r.mu.Unlock()
	return code, nil
}

func (r *Resolver) Close() error {
	if r == nil || r.reader == nil {
		return nil
	}
	return r.reader.Close()
}
