// Package upstream implements the upstream resolver layer: UDP, DNS-over-
// TLS, DNS-over-HTTPS, and the Hybrid racing composite, all behind one
// Resolver interface, built from a registry whose Hybrid dependency graph
// is validated acyclic at boot (spec.md §3's static invariant).
package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/dcompass-go/dcompass/internal/errs"
)

// Resolver resolves a single question, bounded by its own method-specific
// timeout. Outbound transaction IDs are chosen fresh per outbound query and
// matched on reply; miekg/dns's client does this for us. opt is the
// client's EDNS0 OPT record, forwarded onto the outbound query verbatim
// when non-nil, per spec.md §6's "EDNS0 preserved end-to-end".
type Resolver interface {
	Resolve(ctx context.Context, q dns.Question, opt *dns.OPT) (*dns.Msg, error)
}

// Method identifies which wire transport a Spec configures.
type Method string

const (
	MethodUDP    Method = "udp"
	MethodTLS    Method = "tls"
	MethodHTTPS  Method = "https"
	MethodHybrid Method = "hybrid"
)

// Spec is the declarative form of one upstream entry, built by
// internal/config from the document's `upstreams` list.
type Spec struct {
	Tag     string
	Method  Method
	Addr    string        // udp, tls, https: dial address (ip:port)
	Name    string        // tls, https: TLS server name / DoH authority
	NoSNI   bool          // tls, https: omit SNI in the ClientHello
	Timeout time.Duration // udp, tls, https: per-query timeout; ignored for hybrid
	Members []string      // hybrid: tags of sub-upstreams to race
}

// Registry holds every configured upstream, resolved to direct references
// after validation, indexed by tag.
type Registry struct {
	resolvers map[string]Resolver
}

// NewRegistry validates specs (unique tags, resolvable references, acyclic
// Hybrid graph) and builds a Registry. Validation failures are
// errs.Config, fatal at startup per spec.md §7.
func NewRegistry(specs []Spec) (*Registry, error) {
	byTag := make(map[string]Spec, len(specs))
	for _, s := range specs {
		if _, dup := byTag[s.Tag]; dup {
			return nil, errs.Config("upstream.tag", fmt.Errorf("%w: %q", errs.ErrDuplicateTag, s.Tag))
		}
		byTag[s.Tag] = s
	}

	for _, s := range specs {
		if s.Method == MethodHybrid {
			for _, m := range s.Members {
				if _, ok := byTag[m]; !ok {
					return nil, errs.Config("upstream.hybrid", fmt.Errorf("%w: %q references %q", errs.ErrDanglingReference, s.Tag, m))
				}
			}
		}
	}

	order, err := topoSort(byTag)
	if err != nil {
		return nil, err
	}

	reg := &Registry{resolvers: make(map[string]Resolver, len(specs))}
	for _, tag := range order {
		s := byTag[tag]
		r, err := build(s, reg)
		if err != nil {
			return nil, errs.Config("upstream.build", fmt.Errorf("%q: %w", tag, err))
		}
		reg.resolvers[tag] = r
	}
	return reg, nil
}

func build(s Spec, reg *Registry) (Resolver, error) {
	switch s.Method {
	case MethodUDP:
		return NewUDP(s.Addr, s.Timeout), nil
	case MethodTLS:
		return NewTLS(s.Addr, s.Name, s.NoSNI, s.Timeout), nil
	case MethodHTTPS:
		return NewHTTPS(s.Addr, s.Name, s.NoSNI, s.Timeout), nil
	case MethodHybrid:
		members := make([]Resolver, 0, len(s.Members))
		for _, m := range s.Members {
			members = append(members, reg.resolvers[m])
		}
		return NewHybrid(members), nil
	default:
		return nil, fmt.Errorf("unknown upstream method %q", s.Method)
	}
}

// NewRegistryForTesting builds a Registry directly from already-constructed
// resolvers, bypassing Spec validation. It exists so other packages' tests
// (internal/action, internal/server) can exercise a Registry against fake
// Resolver implementations without going through config parsing.
func NewRegistryForTesting(resolvers map[string]Resolver) *Registry {
	r := &Registry{resolvers: make(map[string]Resolver, len(resolvers))}
	for tag, res := range resolvers {
		r.resolvers[tag] = res
	}
	return r
}

// Lookup returns the resolver for tag, or false if it is not registered.
func (r *Registry) Lookup(tag string) (Resolver, bool) {
	res, ok := r.resolvers[tag]
	return res, ok
}

// Close shuts down every resolver that owns long-lived connections.
func (r *Registry) Close() {
	for _, res := range r.resolvers {
		if c, ok := res.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// topoSort orders tags so that every Hybrid's members are built before it,
// and reports errs.ErrCyclicHybrid (naming the offending tags) if the
// Hybrid -> member graph has a cycle. Non-hybrid entries have no
// dependencies and may appear in any order relative to each other.
func topoSort(byTag map[string]Spec) ([]string, error) {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(byTag))
	order := make([]string, 0, len(byTag))

	var tags []string
	for t := range byTag {
		tags = append(tags, t)
	}

	var visit func(tag string, stack []string) error
	visit = func(tag string, stack []string) error {
		switch color[tag] {
		case black:
			return nil
		case grey:
			return errs.Config("upstream.hybrid", fmt.Errorf("%w: %s", errs.ErrCyclicHybrid, cycleTrail(append(stack, tag))))
		}
		color[tag] = grey
		s := byTag[tag]
		if s.Method == MethodHybrid {
			for _, m := range s.Members {
				if err := visit(m, append(stack, tag)); err != nil {
					return err
				}
			}
		}
		color[tag] = black
		order = append(order, tag)
		return nil
	}

	for _, t := range tags {
		if err := visit(t, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func cycleTrail(stack []string) string {
	out := stack[0]
	for _, s := range stack[1:] {
		out += " -> " + s
	}
	return out
}
