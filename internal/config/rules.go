package config

import (
	"fmt"

	"github.com/dcompass-go/dcompass/internal/action"
	"github.com/dcompass-go/dcompass/internal/cache"
	"github.com/dcompass-go/dcompass/internal/geoip"
	"github.com/dcompass-go/dcompass/internal/router"
	"github.com/dcompass-go/dcompass/internal/upstream"
)

// buildRules parses the `table` document into compiled-ready router.Rule
// values. It returns every GeoIP database opened along the way so the
// caller can close them at shutdown.
func buildRules(tableRaw []interface{}, reg *upstream.Registry, c *cache.Cache) ([]router.Rule, []*geoip.DB, error) {
	geo := newGeoDBCache()

	rules := make([]router.Rule, 0, len(tableRaw))
	for _, item := range tableRaw {
		m, ok := asMap(item)
		if !ok {
			return nil, nil, wrapMatcherErr("?", fmt.Errorf("table entry must be a mapping, got %T", item))
		}

		tag, ok := getString(m, "tag", "")
		if !ok || tag == "" {
			return nil, nil, wrapMatcherErr("?", fmt.Errorf("rule missing \"tag\""))
		}

		ifRaw, ok := m["if"]
		if !ok {
			return nil, nil, wrapMatcherErr(tag, fmt.Errorf("missing \"if\""))
		}
		cond, err := buildMatcher(ifRaw, geo)
		if err != nil {
			return nil, nil, wrapMatcherErr(tag, err)
		}

		thenRaw, err := getSlice(m, "then")
		if err != nil {
			return nil, nil, wrapMatcherErr(tag, err)
		}
		if thenRaw == nil {
			return nil, nil, wrapMatcherErr(tag, fmt.Errorf("missing \"then\""))
		}
		onTrue, err := buildBranch(thenRaw, reg, c)
		if err != nil {
			return nil, nil, wrapMatcherErr(tag, fmt.Errorf("then: %w", err))
		}

		var onFalse router.Branch
		if elseRaw, ok := m["else"]; ok {
			elseSlice, ok := elseRaw.([]interface{})
			if !ok {
				return nil, nil, wrapMatcherErr(tag, fmt.Errorf("else must be a list"))
			}
			onFalse, err = buildBranch(elseSlice, reg, c)
			if err != nil {
				return nil, nil, wrapMatcherErr(tag, fmt.Errorf("else: %w", err))
			}
		} else {
			// on_false defaults to (skip, end) when omitted, per spec.md §3.
			onFalse = router.Branch{Actions: []action.Action{action.Skip{}}, Next: router.End}
		}

		rules = append(rules, router.Rule{
			Tag:       tag,
			Condition: cond,
			OnTrue:    onTrue,
			OnFalse:   onFalse,
		})
	}

	return rules, geo.opened, nil
}

// buildBranch parses a `then`/`else` list: zero or more action entries
// followed by exactly one terminal entry (a tag name, or "end"), per
// spec.md §6's `{ then: [Action..., next_tag|"end"] }` grammar. A single
// bare-string element denotes the no-actions terminal form.
func buildBranch(items []interface{}, reg *upstream.Registry, c *cache.Cache) (router.Branch, error) {
	if len(items) == 0 {
		return router.Branch{}, fmt.Errorf("branch must have at least a terminal element")
	}

	terminalRaw := items[len(items)-1]
	terminal, ok := terminalRaw.(string)
	if !ok {
		return router.Branch{}, fmt.Errorf("branch terminal must be a tag name or \"end\", got %T", terminalRaw)
	}

	actions := make([]action.Action, 0, len(items)-1)
	for _, raw := range items[:len(items)-1] {
		act, err := buildAction(raw, reg, c)
		if err != nil {
			return router.Branch{}, err
		}
		actions = append(actions, act)
	}

	return router.Branch{Actions: actions, Next: terminal}, nil
}

// buildAction parses one action entry: the bare strings "skip"/"disable",
// or the single-key mapping {query: upstream_tag}, per spec.md §6.
func buildAction(v interface{}, reg *upstream.Registry, c *cache.Cache) (action.Action, error) {
	if s, ok := v.(string); ok {
		switch s {
		case "skip":
			return action.Skip{}, nil
		case "disable":
			return action.Disable{}, nil
		default:
			return nil, fmt.Errorf("unknown action %q", s)
		}
	}

	m, ok := asMap(v)
	if !ok {
		return nil, fmt.Errorf("action must be \"skip\", \"disable\", or a single-key mapping, got %T", v)
	}
	key, val, err := singleKey(m)
	if err != nil {
		return nil, fmt.Errorf("action: %w", err)
	}
	if key != "query" {
		return nil, fmt.Errorf("unknown action key %q", key)
	}
	tag, ok := val.(string)
	if !ok {
		return nil, fmt.Errorf("action.query: expected an upstream tag string, got %T", val)
	}
	return action.Query{UpstreamTag: tag, Upstreams: reg, Cache: c}, nil
}
