// Package errs defines the error kinds used across dcompass, per the
// error handling design: config errors are fatal at startup, routing and
// upstream errors are per-query and degrade to SERVFAIL, protocol errors
// are silently dropped.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for logging and for the server loop's recovery
// decision. Recover it from a wrapped error with KindOf.
type Kind string

const (
	KindConfig   Kind = "config"
	KindRouting  Kind = "routing"
	KindUpstream Kind = "upstream"
	KindProtocol Kind = "protocol"
)

// Error wraps an underlying error with a Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newKind(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Config(op string, err error) error   { return newKind(KindConfig, op, err) }
func Routing(op string, err error) error  { return newKind(KindRouting, op, err) }
func Upstream(op string, err error) error { return newKind(KindUpstream, op, err) }
func Protocol(op string, err error) error { return newKind(KindProtocol, op, err) }

// KindOf extracts the Kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Sentinel routing errors, tested with errors.Is by the router and its
// tests, following the teacher's style of package-level sentinel errors.
var (
	// ErrTagRevisited is returned when evaluation would re-enter a tag
	// already visited in this query; routing is declarative classification,
	// not general computation, so cycles are a hard error.
	ErrTagRevisited = errors.New("routing: tag revisited")

	// ErrNoQuestion names the case of an inbound message with zero
	// questions. No code path returns it: the server loop drops such
	// messages silently rather than replying FORMERR.
	ErrNoQuestion = errors.New("routing: no question in message")
)

// Sentinel config errors.
var (
	ErrMissingStart      = errors.New("config: routing table has no \"start\" tag")
	ErrDanglingReference = errors.New("config: reference to undefined tag")
	ErrDuplicateTag      = errors.New("config: duplicate tag")
	ErrUnreachableRule   = errors.New("config: rule unreachable from start")
	ErrCyclicHybrid      = errors.New("config: cyclic hybrid upstream graph")
)
