// Package geoip wraps a MaxMind GeoIP2/GeoLite2 country database, treated
// by the router as an opaque ip -> country_code lookup.
package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// DB looks up ISO country codes for IP addresses. A nil *DB is valid and
// always misses, matching spec.md §4.1's "Missing DB ... -> false".
type DB struct {
	reader *geoip2.Reader
}

// Open opens the .mmdb file at path. Failure to open is a config error at
// boot; callers should wrap it with errs.Config.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, nil
	}
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open %s: %w", path, err)
	}
	return &DB{reader: r}, nil
}

// Close releases the underlying mmap'd database file.
func (d *DB) Close() error {
	if d == nil || d.reader == nil {
		return nil
	}
	return d.reader.Close()
}

// Lookup returns the ISO country code for ip and whether the database held
// a usable record. A nil DB, nil ip, or lookup error always misses.
func (d *DB) Lookup(ip net.IP) (string, bool) {
	if d == nil || d.reader == nil || ip == nil {
		return "", false
	}
	rec, err := d.reader.Country(ip)
	if err != nil || rec.Country.IsoCode == "" {
		return "", false
	}
	return rec.Country.IsoCode, true
}
