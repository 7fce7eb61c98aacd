// Package router implements the routing table compiler and evaluator
// described in spec.md §4.3: a tagged rule graph with a validated,
// dense-indexed compiled form, evaluated per query with a visited-tag
// guard against cycles.
package router

import (
	"context"
	"fmt"

	"github.com/dcompass-go/dcompass/internal/action"
	"github.com/dcompass-go/dcompass/internal/errs"
	"github.com/dcompass-go/dcompass/internal/matcher"
	"github.com/dcompass-go/dcompass/internal/query"
)

// End is the terminal pseudo-tag that halts evaluation.
const End = "end"

// StartTag is the well-known entry point tag required by spec.md §3.
const StartTag = "start"

// Branch is one leg of a Rule: a sequence of actions followed by either
// End or another rule's tag.
type Branch struct {
	Actions []action.Action
	Next    string
}

// Rule is one node of the routing table.
type Rule struct {
	Tag       string
	Condition matcher.Matcher
	OnTrue    Branch
	OnFalse   Branch
}

// Router is the compiled, validated form of a routing table: a dense
// array of rules plus a tag index, per Design Notes §9.
type Router struct {
	rules     []Rule
	tagIndex  map[string]int
	startIdx  int
}

// Compile validates rules (start exists, every next resolves, no orphan
// rule) and returns an indexed Router. Validation failures are
// errs.Config, fatal at startup.
func Compile(rules []Rule) (*Router, error) {
	tagIndex := make(map[string]int, len(rules))
	for i, r := range rules {
		if _, dup := tagIndex[r.Tag]; dup {
			return nil, errs.Config("router.compile", fmt.Errorf("%w: %q", errs.ErrDuplicateTag, r.Tag))
		}
		tagIndex[r.Tag] = i
	}

	startIdx, ok := tagIndex[StartTag]
	if !ok {
		return nil, errs.Config("router.compile", errs.ErrMissingStart)
	}

	for _, r := range rules {
		for _, next := range []string{r.OnTrue.Next, r.OnFalse.Next} {
			if next == End {
				continue
			}
			if _, ok := tagIndex[next]; !ok {
				return nil, errs.Config("router.compile", fmt.Errorf("%w: rule %q -> %q", errs.ErrDanglingReference, r.Tag, next))
			}
		}
	}

	reachable := make([]bool, len(rules))
	var walk func(idx int)
	walk = func(idx int) {
		if reachable[idx] {
			return
		}
		reachable[idx] = true
		r := rules[idx]
		for _, next := range []string{r.OnTrue.Next, r.OnFalse.Next} {
			if next == End {
				continue
			}
			walk(tagIndex[next])
		}
	}
	walk(startIdx)

	for i, r := range rules {
		if !reachable[i] {
			return nil, errs.Config("router.compile", fmt.Errorf("%w: %q", errs.ErrUnreachableRule, r.Tag))
		}
	}

	return &Router{rules: rules, tagIndex: tagIndex, startIdx: startIdx}, nil
}

// Evaluate walks the compiled table starting at "start", running actions
// and following tag jumps until it reaches "end". Re-entering a tag within
// one evaluation is a RoutingError, since routing is declarative
// classification, not general computation (spec.md §4.3).
func (rt *Router) Evaluate(ctx context.Context, qctx *query.Context) error {
	visited := make([]bool, len(rt.rules))
	idx := rt.startIdx

	for {
		if visited[idx] {
			return errs.Routing("router.evaluate", fmt.Errorf("%w: %q", errs.ErrTagRevisited, rt.rules[idx].Tag))
		}
		visited[idx] = true

		rule := rt.rules[idx]
		branch := rule.OnFalse
		if rule.Condition.Matches(qctx) {
			branch = rule.OnTrue
		}

		for _, act := range branch.Actions {
			if err := act.Act(ctx, qctx); err != nil {
				return err
			}
		}

		if branch.Next == End {
			return nil
		}
		idx = rt.tagIndex[branch.Next]
	}
}
