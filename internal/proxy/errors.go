package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// statusClientClosedRequest follows the nginx convention for requests
// abandoned by the client before the upstream answered.
const statusClientClosedRequest = 499

type failureKind string

const (
	failureUnreachable failureKind = "unreachable"
	failureTimeout     failureKind = "timeout"
	failureCanceled    failureKind = "canceled"
)

// classifyError sorts an upstream round-trip error into a failure kind.
func classifyError(err error) failureKind {
	if errors.Is(err, context.Canceled) {
		return failureCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failureTimeout
	}
	return failureUnreachable
}

func (k failureKind) status() int {
	switch k {
	case failureTimeout:
		return http.StatusGatewayTimeout
	case failureCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusBadGateway
	}
}
