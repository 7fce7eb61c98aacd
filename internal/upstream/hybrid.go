package upstream

import (
	"context"
	"errors"
	"sync"

	"github.com/miekg/dns"
)

// ErrAllMembersFailed is returned by Hybrid.Resolve when every member
// failed.
var ErrAllMembersFailed = errors.New("hybrid: all members failed")

// Hybrid races its members concurrently and returns the first successful
// response, canceling the rest. The per-method timeout field is ignored
// for Hybrid itself; each member enforces its own. Grounded on
// bibicadotnet-mosdns-x's bundled_upstream.ExchangeParallel: a
// context.WithCancel fan-out collected on a buffered channel.
type Hybrid struct {
	members []Resolver
}

// NewHybrid builds a Hybrid resolver over members, already resolved to
// direct references by the registry after cycle validation.
func NewHybrid(members []Resolver) *Hybrid {
	return &Hybrid{members: members}
}

type hybridResult struct {
	msg *dns.Msg
	err error
}

func (h *Hybrid) Resolve(ctx context.Context, q dns.Question, opt *dns.OPT) (*dns.Msg, error) {
	if len(h.members) == 0 {
		return nil, ErrAllMembersFailed
	}
	if len(h.members) == 1 {
		return h.members[0].Resolve(ctx, q, opt)
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan hybridResult, len(h.members))

	var wg sync.WaitGroup
	for _, m := range h.members {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := m.Resolve(raceCtx, q, opt)
			select {
			case results <- hybridResult{msg: msg, err: err}:
			case <-raceCtx.Done():
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var lastErr error = ErrAllMembersFailed
	for res := range results {
		if res.err != nil {
			lastErr = res.err
			continue
		}
		cancel()
		return res.msg, nil
	}
	return nil, lastErr
}
