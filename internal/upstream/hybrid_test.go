package upstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	delay time.Duration
	err   error
}

func (s *stubResolver) Resolve(ctx context.Context, q dns.Question, opt *dns.OPT) (*dns.Msg, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	m := new(dns.Msg)
	m.Answer = []dns.RR{
		&dns.A{Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 1}},
	}
	return m, nil
}

func TestHybridNoMembersFails(t *testing.T) {
	h := NewHybrid(nil)
	_, err := h.Resolve(context.Background(), dns.Question{Name: "example.com."}, nil)
	assert.ErrorIs(t, err, ErrAllMembersFailed)
}

func TestHybridSingleMemberDelegates(t *testing.T) {
	r := &stubResolver{}
	h := NewHybrid([]Resolver{r})
	resp, err := h.Resolve(context.Background(), dns.Question{Name: "example.com."}, nil)
	require.NoError(t, err)
	assert.Len(t, resp.Answer, 1)
}

func TestHybridReturnsFastestSuccess(t *testing.T) {
	slow := &stubResolver{delay: 200 * time.Millisecond}
	fast := &stubResolver{delay: 5 * time.Millisecond}

	h := NewHybrid([]Resolver{slow, fast})

	start := time.Now()
	_, err := h.Resolve(context.Background(), dns.Question{Name: "example.com."}, nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, 100*time.Millisecond, "hybrid must return as soon as the fastest member succeeds")
}

func TestHybridFallsBackWhenFastestFails(t *testing.T) {
	failing := &stubResolver{delay: 5 * time.Millisecond, err: errors.New("refused")}
	succeeding := &stubResolver{delay: 50 * time.Millisecond}

	h := NewHybrid([]Resolver{failing, succeeding})
	resp, err := h.Resolve(context.Background(), dns.Question{Name: "example.com."}, nil)
	require.NoError(t, err)
	assert.Len(t, resp.Answer, 1)
}

func TestHybridAllMembersFail(t *testing.T) {
	a := &stubResolver{err: errors.New("a failed")}
	b := &stubResolver{err: errors.New("b failed")}

	h := NewHybrid([]Resolver{a, b})
	_, err := h.Resolve(context.Background(), dns.Question{Name: "example.com."}, nil)
	assert.Error(t, err)
}
