// Package config loads and validates the dcompass configuration document
// described in spec.md §6: a structured JSON or YAML file, semantically
// identical in either format, describing verbosity, cache size, the UDP
// bind address, the routing table, and the upstream pool.
//
// Parsing goes through a generic map[string]interface{} intermediate
// (built by either encoding/json or gopkg.in/yaml.v3, both of which
// decode into the same Go shape for object/array/scalar documents) so one
// walker builds the wired Built value regardless of which format was used.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dcompass-go/dcompass/internal/action"
	"github.com/dcompass-go/dcompass/internal/cache"
	"github.com/dcompass-go/dcompass/internal/domainset"
	"github.com/dcompass-go/dcompass/internal/errs"
	"github.com/dcompass-go/dcompass/internal/geoip"
	"github.com/dcompass-go/dcompass/internal/matcher"
	"github.com/dcompass-go/dcompass/internal/router"
	"github.com/dcompass-go/dcompass/internal/upstream"
)

// Built is the fully wired result of loading a configuration document:
// everything the server needs to start, plus the resources (GeoIP
// databases, upstream connections) that must be released on shutdown.
type Built struct {
	Verbosity string
	CacheSize int
	Address   string

	Router    *router.Router
	Cache     *cache.Cache
	Upstreams *upstream.Registry

	geoDBs []*geoip.DB
}

// Close releases resources opened while building the config (GeoIP
// databases; upstream connections are released by the caller via
// Upstreams.Close, typically from server.Server.Shutdown).
func (b *Built) Close() {
	for _, db := range b.geoDBs {
		db.Close()
	}
}

// Load reads, parses, and validates the configuration file at path, per
// spec.md §6. Any failure is an errs.Config, fatal at startup.
func Load(path string) (*Built, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Config("config.load", err)
	}

	raw := map[string]interface{}{}
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errs.Config("config.parse", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errs.Config("config.parse", err)
		}
	}

	return build(raw)
}

func build(raw map[string]interface{}) (*Built, error) {
	b := &Built{}

	b.Verbosity, _ = getString(raw, "verbosity", "info")
	address, ok := getString(raw, "address", "")
	if !ok || address == "" {
		return nil, errs.Config("config.address", fmt.Errorf("missing required field \"address\""))
	}
	b.Address = address

	cacheSize, err := getInt(raw, "cache_size")
	if err != nil {
		return nil, errs.Config("config.cache_size", err)
	}
	if cacheSize < 0 {
		return nil, errs.Config("config.cache_size", fmt.Errorf("cache_size must be >= 0"))
	}
	b.CacheSize = cacheSize
	b.Cache = cache.New(cacheSize)

	upstreamsRaw, err := getSlice(raw, "upstreams")
	if err != nil {
		return nil, errs.Config("config.upstreams", err)
	}
	specs, err := buildUpstreamSpecs(upstreamsRaw)
	if err != nil {
		return nil, err
	}
	reg, err := upstream.NewRegistry(specs)
	if err != nil {
		return nil, err
	}
	b.Upstreams = reg

	tableRaw, err := getSlice(raw, "table")
	if err != nil {
		return nil, errs.Config("config.table", err)
	}
	rules, geoDBs, err := buildRules(tableRaw, reg, b.Cache)
	if err != nil {
		return nil, err
	}
	b.geoDBs = geoDBs

	rt, err := router.Compile(rules)
	if err != nil {
		return nil, err
	}
	b.Router = rt

	return b, nil
}

// --- generic raw-document helpers ---

func getString(m map[string]interface{}, key, def string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return def, false
	}
	s, ok := v.(string)
	if !ok {
		return def, false
	}
	return s, true
}

func getInt(m map[string]interface{}, key string) (int, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("missing required field %q", key)
	}
	return toInt(v)
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func getSlice(m map[string]interface{}, key string) ([]interface{}, error) {
	v, ok := m[key]
	if !ok {
		return nil, nil
	}
	s, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("field %q must be a list", key)
	}
	return s, nil
}

func toStringSlice(v interface{}) ([]string, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a list of strings")
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

// singleKey returns the sole key/value pair of a one-entry mapping, used
// throughout spec.md §6's matcher/action/upstream-method documents.
func singleKey(m map[string]interface{}) (string, interface{}, error) {
	if len(m) != 1 {
		return "", nil, fmt.Errorf("expected a single-key mapping, got %d keys", len(m))
	}
	for k, v := range m {
		return k, v, nil
	}
	panic("unreachable")
}
