// Package server implements the UDP-facing server loop: bind, decode,
// route, assemble, reply. Grounded on
// mikispag-dns-over-tls-forwarder/proxy/server.go's RunWithHandle/ServeDNS
// pair — a dns.ServeMux handler registered on a dns.Server, each inbound
// datagram served in its own goroutine by miekg/dns.
package server

import (
	"context"
	"time"

	"github.com/miekg/dns"

	"github.com/dcompass-go/dcompass/internal/cache"
	"github.com/dcompass-go/dcompass/internal/logging"
	"github.com/dcompass-go/dcompass/internal/query"
	"github.com/dcompass-go/dcompass/internal/router"
	"github.com/dcompass-go/dcompass/internal/upstream"
)

// Server binds a UDP socket and dispatches each inbound query through a
// compiled Router.
type Server struct {
	addr      string
	router    *router.Router
	cache     *cache.Cache
	upstreams *upstream.Registry

	dnsSrv *dns.Server
}

// New builds a Server. router, cache, and upstreams are immutable after
// boot and freely shared across concurrent queries, per spec.md §5.
func New(addr string, rt *router.Router, c *cache.Cache, ups *upstream.Registry) *Server {
	return &Server{addr: addr, router: rt, cache: c, upstreams: ups}
}

// ListenAndServe binds the UDP socket and blocks until ctx is canceled or
// a fatal bind/serve error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handle)

	s.dnsSrv = &dns.Server{Addr: s.addr, Net: "udp", Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- s.dnsSrv.ListenAndServe() }()

	// dns.Server.ActivateAndServe/ListenAndServe do not signal readiness
	// synchronously; give a failing bind a moment to surface before
	// reporting success, the same race mikispag's forwarder accepts by
	// logging "listening" only after launching the goroutine.
	select {
	case err := <-errCh:
		return err
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown stops accepting new datagrams and joins every in-flight
// background cache refresh and upstream connection, per spec.md §5's
// "must be joined or canceled on server shutdown".
func (s *Server) Shutdown() error {
	var err error
	if s.dnsSrv != nil {
		err = s.dnsSrv.Shutdown()
	}
	s.cache.Wait()
	s.upstreams.Close()
	return err
}

func (s *Server) handle(w dns.ResponseWriter, req *dns.Msg) {
	if len(req.Question) == 0 {
		// Open Question (a) in spec.md: drop silently rather than FORMERR.
		return
	}

	qctx := query.New(req, w.RemoteAddr())

	if err := s.router.Evaluate(context.Background(), qctx); err != nil {
		logging.WarnError("server.evaluate", err)
		qctx.Response = nil
	}

	w.WriteMsg(assembleResponse(req, qctx.Response))
}

// assembleResponse copies ctx.Response but overwrites the ID and question
// section with the inbound message's, per spec.md §4.6. A missing
// response (evaluation failed, or no rule populated it) synthesizes
// SERVFAIL with the inbound question echoed. Either way, if the client
// sent an EDNS0 OPT record, one is echoed back on the reply (its own UDP
// payload size and DO bit, not necessarily the upstream's), per spec.md
// §6's "EDNS0 preserved end-to-end".
func assembleResponse(req *dns.Msg, resp *dns.Msg) *dns.Msg {
	reqOPT := req.IsEdns0()

	if resp == nil {
		m := new(dns.Msg)
		m.SetRcode(req, dns.RcodeServerFailure)
		if reqOPT != nil {
			m.SetEdns0(reqOPT.UDPSize(), reqOPT.Do())
		}
		return m
	}

	out := resp.Copy()
	out.Id = req.Id
	out.Question = req.Question
	out.Response = true
	out.Extra = stripOPT(out.Extra)
	if reqOPT != nil {
		out.SetEdns0(reqOPT.UDPSize(), reqOPT.Do())
	}
	return out
}

// stripOPT removes any existing OPT record from extra, since
// dns.Msg.SetEdns0 always appends rather than replacing one.
func stripOPT(extra []dns.RR) []dns.RR {
	out := extra[:0:0]
	for _, rr := range extra {
		if rr.Header().Rrtype != dns.TypeOPT {
			out = append(out, rr)
		}
	}
	return out
}
