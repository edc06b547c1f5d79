package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// FailureKind is the normalized class of a remote failure.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureUnreachable
	FailureTimeout
	FailureUnavailable
)

func (k FailureKind) String() string {
	switch k {
	case FailureUnreachable:
		return "unreachable"
	case FailureTimeout:
		return "timeout"
	case FailureUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Messages are the caller-facing texts for each failure kind.
type Messages struct {
	Unreachable string
	Timeout     string
	Unavailable string
	Unknown     string
}

// DefaultMessages never mention transport details.
var DefaultMessages = Messages{
	Unreachable: "I'm having trouble connecting to my brain right now. Please try again later.",
	Timeout:     "I'm sorry, that request took too long. Please try again.",
	Unavailable: "The agent is currently unavailable. Please try again later.",
	Unknown:     "I encountered an unexpected error. Please try again.",
}

func (m Messages) For(kind FailureKind) string {
	var msg string
	switch kind {
	case FailureUnreachable:
		msg = m.Unreachable
	case FailureTimeout:
		msg = m.Timeout
	case FailureUnavailable:
		msg = m.Unavailable
	default:
		msg = m.Unknown
	}
	if msg == "" {
		return DefaultMessages.For(kind)
	}
	return msg
}

// StatusError is a non-2xx HTTP reply.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Classify maps a transport error onto a FailureKind.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}

	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusServiceUnavailable {
		return FailureUnavailable
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return FailureUnreachable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}

	return FailureUnknown
}
