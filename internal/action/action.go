// Package action implements the routing table's mutations: skip,
// disable, and query. Query is the only suspending action — it may
// consult the cache and invoke an upstream resolver — so every Action
// takes a context.Context for cancellation and deadline propagation.
package action

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/dcompass-go/dcompass/internal/cache"
	"github.com/dcompass-go/dcompass/internal/errs"
	"github.com/dcompass-go/dcompass/internal/query"
	"github.com/dcompass-go/dcompass/internal/upstream"
)

// Action mutates the query context, or fails the rule evaluation.
type Action interface {
	Act(ctx context.Context, qctx *query.Context) error
}

// Skip is a no-op.
type Skip struct{}

func (Skip) Act(context.Context, *query.Context) error { return nil }

// Disable replaces the response with a synthesized NOERROR/SOA reply
// indicating no data, per spec.md §4.2.
type Disable struct{}

// Fixed placeholder values from spec.md §4.2: MNAME/RNAME "fake.", serial
// 1, and standard curbing refresh/retry/expire/minimum values.
const (
	disableMname   = "fake."
	disableRname   = "fake."
	disableSerial  = 1
	disableRefresh = 1800
	disableRetry   = 900
	disableExpire  = 604800
	disableMinimum = 86400
)

func (Disable) Act(_ context.Context, qctx *query.Context) error {
	owner := dns.Fqdn(qctx.Question.Name)

	resp := new(dns.Msg)
	resp.SetQuestion(owner, qctx.Question.Qtype)
	resp.Question[0].Qclass = qctx.Question.Qclass
	resp.Response = true
	resp.Authoritative = false
	resp.Rcode = dns.RcodeSuccess

	soa := &dns.SOA{
		Hdr: dns.RR_Header{
			Name:   owner,
			Rrtype: dns.TypeSOA,
			Class:  dns.ClassINET,
			Ttl:    disableMinimum,
		},
		Ns:      disableMname,
		Mbox:    disableRname,
		Serial:  disableSerial,
		Refresh: disableRefresh,
		Retry:   disableRetry,
		Expire:  disableExpire,
		Minttl:  disableMinimum,
	}
	resp.Ns = append(resp.Ns, soa)

	qctx.Response = resp
	return nil
}

// Query resolves the current question against the named upstream, using
// the cache's always-on semantics from spec.md §4.4.
type Query struct {
	UpstreamTag string
	Upstreams   *upstream.Registry
	Cache       *cache.Cache
}

func (a Query) Act(ctx context.Context, qctx *query.Context) error {
	resolver, ok := a.Upstreams.Lookup(a.UpstreamTag)
	if !ok {
		return errs.Routing("query", fmt.Errorf("undefined upstream tag %q", a.UpstreamTag))
	}

	key := cache.KeyFromQuestion(qctx.Question)
	opt := qctx.OPT()

	msg, status := a.Cache.Get(key)
	switch status {
	case cache.Fresh:
		qctx.Response = msg
		return nil

	case cache.Stale:
		qctx.Response = msg
		if a.Cache.MarkRefreshing(key) {
			a.Cache.Refresh(key, func() (*dns.Msg, time.Duration, error) {
				refreshCtx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
				defer cancel()
				resp, err := resolver.Resolve(refreshCtx, qctx.Question, opt)
				if err != nil {
					return nil, 0, err
				}
				return resp, cache.MinTTL(resp), nil
			})
		}
		return nil

	default: // cache.Miss
		resp, err := resolver.Resolve(ctx, qctx.Question, opt)
		if err != nil {
			return errs.Upstream("query", err)
		}
		a.Cache.Put(key, resp, cache.MinTTL(resp))
		qctx.Response = resp
		return nil
	}
}

// refreshTimeout bounds a detached background refresh independently of
// the foreground query's context, which is gone by the time the refresh
// completes.
const refreshTimeout = 10 * time.Second
