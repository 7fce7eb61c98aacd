package config

import (
	"fmt"

	"github.com/miekg/dns"

	"github.com/dcompass-go/dcompass/internal/domainset"
	"github.com/dcompass-go/dcompass/internal/errs"
	"github.com/dcompass-go/dcompass/internal/geoip"
	"github.com/dcompass-go/dcompass/internal/matcher"
)

// geoDBCache opens each distinct GeoIP database path once and shares the
// reader across every matcher that references it.
type geoDBCache struct {
	byPath map[string]*geoip.DB
	opened []*geoip.DB
}

func newGeoDBCache() *geoDBCache {
	return &geoDBCache{byPath: map[string]*geoip.DB{}}
}

func (c *geoDBCache) open(path string) (*geoip.DB, error) {
	if db, ok := c.byPath[path]; ok {
		return db, nil
	}
	db, err := geoip.Open(path)
	if err != nil {
		return nil, err
	}
	c.byPath[path] = db
	c.opened = append(c.opened, db)
	return db, nil
}

// buildMatcher parses a matcher document: the bare string "any", or a
// single-key mapping {domain:|qtype:|geoip:}, per spec.md §6.
func buildMatcher(v interface{}, geo *geoDBCache) (matcher.Matcher, error) {
	if s, ok := v.(string); ok {
		if s == "any" {
			return matcher.Any{}, nil
		}
		return nil, fmt.Errorf("unknown matcher %q", s)
	}

	m, ok := asMap(v)
	if !ok {
		return nil, fmt.Errorf("matcher must be \"any\" or a single-key mapping, got %T", v)
	}
	key, val, err := singleKey(m)
	if err != nil {
		return nil, fmt.Errorf("matcher: %w", err)
	}

	switch key {
	case "domain":
		paths, err := toStringSlice(val)
		if err != nil {
			return nil, fmt.Errorf("matcher.domain: %w", err)
		}
		set, err := domainset.Load(paths)
		if err != nil {
			return nil, fmt.Errorf("matcher.domain: %w", err)
		}
		return matcher.Domain{Set: set}, nil

	case "qtype":
		names, err := toStringSlice(val)
		if err != nil {
			return nil, fmt.Errorf("matcher.qtype: %w", err)
		}
		types := make([]uint16, 0, len(names))
		for _, name := range names {
			t, ok := dns.StringToType[name]
			if !ok {
				return nil, fmt.Errorf("matcher.qtype: unknown record type %q", name)
			}
			types = append(types, t)
		}
		return matcher.NewQType(types), nil

	case "geoip":
		gm, ok := asMap(val)
		if !ok {
			return nil, fmt.Errorf("matcher.geoip: must be a mapping")
		}
		on, _ := getString(gm, "on", "")
		if on != string(matcher.OnSrc) && on != string(matcher.OnResp) {
			return nil, fmt.Errorf("matcher.geoip.on: must be \"src\" or \"resp\", got %q", on)
		}
		codesRaw, ok := gm["codes"]
		if !ok {
			return nil, fmt.Errorf("matcher.geoip: missing \"codes\"")
		}
		codes, err := toStringSlice(codesRaw)
		if err != nil {
			return nil, fmt.Errorf("matcher.geoip.codes: %w", err)
		}
		path, _ := getString(gm, "path", "")
		var db *geoip.DB
		if path != "" {
			db, err = geo.open(path)
			if err != nil {
				return nil, fmt.Errorf("matcher.geoip: %w", err)
			}
		}
		return matcher.NewGeoIP(matcher.On(on), codes, db), nil

	default:
		return nil, fmt.Errorf("unknown matcher key %q", key)
	}
}

// wrapMatcherErr is a convenience for callers that need an errs.Config.
func wrapMatcherErr(tag string, err error) error {
	if err == nil {
		return nil
	}
	return errs.Config("config.table", fmt.Errorf("rule %q: %w", tag, err))
}
