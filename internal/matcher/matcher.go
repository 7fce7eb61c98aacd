// Package matcher implements the pluggable predicates evaluated by the
// router: any, domain, qtype, and geoip. Matchers are pure functions over
// the query context and their own configured state; per spec.md §4.1 they
// must never mutate the context, and on ambiguous input (missing database,
// unknown IP, empty response) they return false rather than raising.
package matcher

import (
	"net"

	"github.com/dcompass-go/dcompass/internal/domainset"
	"github.com/dcompass-go/dcompass/internal/geoip"
	"github.com/dcompass-go/dcompass/internal/query"
)

// Matcher evaluates a predicate over a query context.
type Matcher interface {
	Matches(ctx *query.Context) bool
}

// Any always matches.
type Any struct{}

func (Any) Matches(*query.Context) bool { return true }

// Domain matches if the question's qname equals, or is a subdomain of, any
// name in the configured set.
type Domain struct {
	Set *domainset.Set
}

func (m Domain) Matches(ctx *query.Context) bool {
	if m.Set == nil {
		return false
	}
	return m.Set.Contains(ctx.Question.Name)
}

// QType matches if the question's qtype is in the configured set.
type QType struct {
	Types map[uint16]struct{}
}

// NewQType builds a QType matcher from a list of numeric RR types, such as
// dns.TypeA, dns.TypeAAAA, dns.TypeMX.
func NewQType(types []uint16) QType {
	set := make(map[uint16]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return QType{Types: set}
}

func (m QType) Matches(ctx *query.Context) bool {
	_, ok := m.Types[ctx.Question.Qtype]
	return ok
}

// On selects which address the GeoIP matcher inspects.
type On string

const (
	OnSrc  On = "src"
	OnResp On = "resp"
)

// GeoIP matches if the country code of the inspected address is in Codes.
type GeoIP struct {
	On    On
	Codes map[string]struct{}
	DB    *geoip.DB
}

// NewGeoIP builds a GeoIP matcher from a list of ISO country codes.
func NewGeoIP(on On, codes []string, db *geoip.DB) GeoIP {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return GeoIP{On: on, Codes: set, DB: db}
}

func (m GeoIP) Matches(ctx *query.Context) bool {
	switch m.On {
	case OnSrc:
		if ctx.ClientAddr == nil {
			return false
		}
		host := addrIP(ctx.ClientAddr)
		if host == nil {
			return false
		}
		code, ok := m.DB.Lookup(host)
		if !ok {
			return false
		}
		_, want := m.Codes[code]
		return want
	case OnResp:
		if ctx.Response == nil || len(ctx.Response.Answer) == 0 {
			return false
		}
		ip := query.FirstA4OrAAAA(ctx.Response)
		if ip == nil {
			return false
		}
		code, ok := m.DB.Lookup(ip)
		if !ok {
			return false
		}
		_, want := m.Codes[code]
		return want
	default:
		return false
	}
}

func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return net.ParseIP(addr.String())
		}
		return net.ParseIP(host)
	}
}
