// Package query defines the per-inbound-query context that is threaded
// through matchers, actions, and the router. An instance is created per
// inbound query and destroyed when the response is sent; it is exclusively
// owned by one routing evaluation and never shared across queries.
package query

import (
	"net"

	"github.com/miekg/dns"
)

// Context is the mutable state a routing evaluation reads and writes.
type Context struct {
	// ID is the inbound message's transaction ID, preserved in the
	// response.
	ID uint16

	// Question is the first DNS question of the inbound message; only it
	// drives matching even if the message carried more than one.
	Question dns.Question

	// ClientAddr is the source address of the inbound datagram, consulted
	// by the geoip matcher when on=src.
	ClientAddr net.Addr

	// Request is the inbound message in full, kept so its EDNS0 OPT
	// record (UDP payload size, DO bit, ECS, ...) can be forwarded to the
	// upstream unchanged, and its UDP payload size and DO bit set on the
	// reply's OPT, per spec.md §6's "EDNS0 preserved end-to-end".
	Request *dns.Msg

	// Response is populated by actions (Disable, Query) and is the
	// terminal value returned to the client. It starts empty.
	Response *dns.Msg
}

// New builds a Context for an inbound message. The caller must have
// already checked that req.Question is non-empty.
func New(req *dns.Msg, addr net.Addr) *Context {
	return &Context{
		ID:         req.Id,
		Question:   req.Question[0],
		ClientAddr: addr,
		Request:    req,
	}
}

// OPT returns the inbound message's EDNS0 OPT record, or nil if the client
// did not send one.
func (c *Context) OPT() *dns.OPT {
	if c.Request == nil {
		return nil
	}
	return c.Request.IsEdns0()
}

// FirstA4OrAAAA returns the IP carried by the first A or AAAA record in
// resp, used by the geoip matcher's on=resp mode.
func FirstA4OrAAAA(resp *dns.Msg) net.IP {
	if resp == nil {
		return nil
	}
	for _, rr := range resp.Answer {
		switch rr := rr.(type) {
		case *dns.A:
			return rr.A
		case *dns.AAAA:
			return rr.AAAA
		}
	}
	return nil
}
