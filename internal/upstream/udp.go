package upstream

import (
	"context"
	"time"

	"github.com/miekg/dns"
)

// UDP is a single-shot, timeout-bounded UDP resolver. There is no
// connection to reuse for a single-datagram protocol, so each Resolve
// dials fresh, matching the teacher's doQuery/ExchangeContext usage in
// resolver.go.
type UDP struct {
	addr    string
	timeout time.Duration
}

// NewUDP builds a UDP resolver for addr. A timeout <= 0 fails every query
// immediately, per spec.md §8's "Zero-timeout upstream fails immediately".
func NewUDP(addr string, timeout time.Duration) *UDP {
	return &UDP{addr: addr, timeout: timeout}
}

func (u *UDP) Resolve(ctx context.Context, q dns.Question, opt *dns.OPT) (*dns.Msg, error) {
	if u.timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	m := new(dns.Msg)
	m.SetQuestion(q.Name, q.Qtype)
	m.Question[0].Qclass = q.Qclass
	m.RecursionDesired = true
	if opt != nil {
		m.Extra = []dns.RR{opt.Copy()}
	}

	c := &dns.Client{Net: "udp", Timeout: u.timeout}
	resp, _, err := c.ExchangeContext(ctx, m, u.addr)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
