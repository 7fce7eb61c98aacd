package config

import (
	"fmt"
	"time"

	"github.com/dcompass-go/dcompass/internal/errs"
	"github.com/dcompass-go/dcompass/internal/upstream"
)

// buildUpstreamSpecs parses the `upstreams` document into upstream.Spec
// values, per spec.md §6's upstream method object grammar: a single-key
// mapping naming one of udp, tls, https, hybrid.
func buildUpstreamSpecs(upstreamsRaw []interface{}) ([]upstream.Spec, error) {
	specs := make([]upstream.Spec, 0, len(upstreamsRaw))
	for _, item := range upstreamsRaw {
		m, ok := asMap(item)
		if !ok {
			return nil, errs.Config("config.upstreams", fmt.Errorf("upstream entry must be a mapping, got %T", item))
		}
		tag, ok := getString(m, "tag", "")
		if !ok || tag == "" {
			return nil, errs.Config("config.upstreams", fmt.Errorf("upstream missing \"tag\""))
		}
		methodRaw, ok := m["method"]
		if !ok {
			return nil, errs.Config("config.upstreams", fmt.Errorf("upstream %q missing \"method\"", tag))
		}
		methodMap, ok := asMap(methodRaw)
		if !ok {
			return nil, errs.Config("config.upstreams", fmt.Errorf("upstream %q: method must be a single-key mapping", tag))
		}
		key, val, err := singleKey(methodMap)
		if err != nil {
			return nil, errs.Config("config.upstreams", fmt.Errorf("upstream %q: %w", tag, err))
		}

		spec, err := buildMethod(tag, key, val)
		if err != nil {
			return nil, errs.Config("config.upstreams", err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func buildMethod(tag, key string, val interface{}) (upstream.Spec, error) {
	switch key {
	case "udp":
		m, ok := asMap(val)
		if !ok {
			return upstream.Spec{}, fmt.Errorf("upstream %q.udp must be a mapping", tag)
		}
		addr, ok := getString(m, "addr", "")
		if !ok || addr == "" {
			return upstream.Spec{}, fmt.Errorf("upstream %q.udp: missing \"addr\"", tag)
		}
		timeout, err := getTimeout(m, "timeout", 2*time.Second)
		if err != nil {
			return upstream.Spec{}, fmt.Errorf("upstream %q.udp: %w", tag, err)
		}
		return upstream.Spec{Tag: tag, Method: upstream.MethodUDP, Addr: addr, Timeout: timeout}, nil

	case "tls", "https":
		m, ok := asMap(val)
		if !ok {
			return upstream.Spec{}, fmt.Errorf("upstream %q.%s must be a mapping", tag, key)
		}
		addr, ok := getString(m, "addr", "")
		if !ok || addr == "" {
			return upstream.Spec{}, fmt.Errorf("upstream %q.%s: missing \"addr\"", tag, key)
		}
		name, ok := getString(m, "name", "")
		if !ok || name == "" {
			return upstream.Spec{}, fmt.Errorf("upstream %q.%s: missing \"name\"", tag, key)
		}
		noSNI, _ := m["no_sni"].(bool)
		timeout, err := getTimeout(m, "timeout", 4*time.Second)
		if err != nil {
			return upstream.Spec{}, fmt.Errorf("upstream %q.%s: %w", tag, key, err)
		}

		method := upstream.MethodTLS
		if key == "https" {
			method = upstream.MethodHTTPS
		}
		return upstream.Spec{Tag: tag, Method: method, Addr: addr, Name: name, NoSNI: noSNI, Timeout: timeout}, nil

	case "hybrid":
		members, err := toStringSlice(val)
		if err != nil {
			return upstream.Spec{}, fmt.Errorf("upstream %q.hybrid: %w", tag, err)
		}
		return upstream.Spec{Tag: tag, Method: upstream.MethodHybrid, Members: members}, nil

	default:
		return upstream.Spec{}, fmt.Errorf("upstream %q: unknown method %q", tag, key)
	}
}

func getTimeout(m map[string]interface{}, key string, def time.Duration) (time.Duration, error) {
	v, ok := m[key]
	if !ok {
		return def, nil
	}
	secs, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%q must be a number of seconds", key)
	}
	if secs <= 0 {
		return 0, nil // a non-positive timeout fails every query immediately
	}
	return time.Duration(secs * float64(time.Second)), nil
}
