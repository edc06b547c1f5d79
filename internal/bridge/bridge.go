// Package bridge defines the contract the call orchestrator uses to reach an
// agent backend, plus the HTTP implementations of it.
//
// Every implementation follows one shape: Query never returns an error for
// remote failures. Those come back as a Response with IsError set and a
// caller-friendly Text. The only error Query returns is a *CanceledError,
// when ctx is cancelled before or while the request is in flight.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultQueryTimeout      = 30 * time.Second
	DefaultAvailableTimeout  = 5 * time.Second
	DefaultEndSessionTimeout = 5 * time.Second
)

// QueryOptions carries per-query call context.
type QueryOptions struct {
	CallID       string
	AccountID    string
	PeerID       string
	DevicePrompt string
	Timeout      time.Duration
}

func (o QueryOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultQueryTimeout
	}
	return o.Timeout
}

// Response is the agent's answer. When IsError is set, Text is a friendly
// message safe to speak to the caller.
type Response struct {
	Text    string
	IsError bool
}

// Bridge is an interchangeable agent backend.
type Bridge interface {
	Query(ctx context.Context, prompt string, opts QueryOptions) (Response, error)
	// EndSession is best effort and never fails; an empty callID is a no-op.
	EndSession(ctx context.Context, callID string)
	IsAvailable(ctx context.Context, timeout time.Duration) bool
}

const (
	CanceledCode = "ERR_CANCELED"
	CanceledName = "CanceledError"
)

// ErrCanceled matches any *CanceledError via errors.Is.
var ErrCanceled = errors.New("query canceled")

// CanceledError reports that a query was abandoned because its context was
// cancelled, typically by caller hangup.
type CanceledError struct {
	CallID string
	Cause  error
}

func newCanceled(callID string, cause error) *CanceledError {
	if cause == nil {
		cause = context.Canceled
	}
	return &CanceledError{CallID: callID, Cause: cause}
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("%s: query canceled", CanceledCode)
}

func (e *CanceledError) Code() string { return CanceledCode }

func (e *CanceledError) Name() string { return CanceledName }

func (e *CanceledError) Is(target error) bool {
	return target == ErrCanceled || target == context.Canceled
}

func (e *CanceledError) Unwrap() error { return e.Cause }

// IsCanceled reports whether err is a bridge cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}
