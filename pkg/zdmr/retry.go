package zdmr

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// StallBackoff is the fixed backoff ladder for stall recovery (§4.7):
// 1s, 2s, 4s, 8s, 16s, capped at 30s. After MaxStallStrikes consecutive
// stalls the download transitions to ERROR with TIMEOUT.
var StallBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	30 * time.Second,
}

// MaxStallStrikes is the number of consecutive stalls after which the
// download gives up with TIMEOUT (§4.7).
const MaxStallStrikes = 6

// StallWindow is how long bytes_downloaded may stay flat before a
// DOWNLOADING transfer is considered stalled (§4.7).
const StallWindow = 15 * time.Second

// BackoffForStrike returns the delay to wait before the (1-indexed)
// strike-th retry, clamped to the last rung of StallBackoff.
func BackoffForStrike(strike int) time.Duration {
	if strike < 1 {
		strike = 1
	}
	idx := strike - 1
	if idx >= len(StallBackoff) {
		idx = len(StallBackoff) - 1
	}
	return StallBackoff[idx]
}

// ClassifyHTTPStatus maps a final HTTP response status to a Code,
// distinguishing retryable 5xx from terminal 4xx (§7).
func ClassifyHTTPStatus(status int) Code {
	switch {
	case status >= 500:
		return CodeHTTP5xx
	case status >= 400:
		return CodeHTTP4xx
	default:
		return CodeUnknown
	}
}

// ClassifyTransportError maps a transport-level error (DNS, connect,
// TLS, timeout) to a Code, in the spirit of the teacher's ClassifyError
// (pkg/warplib/retry.go) but targeting the spec's exact taxonomy (§7)
// instead of a fatal/retryable/throttled tri-state.
func ClassifyTransportError(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeDNSFail
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return CodeConnectFail
		}
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return CodeConnectFail
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"), strings.Contains(msg, "x509"):
		return CodeTLSFail
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "dns"):
		return CodeDNSFail
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"), strings.Contains(msg, "redirect loop detected"),
		strings.Contains(msg, "network is unreachable"):
		return CodeConnectFail
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return CodeTimeout
	case strings.Contains(msg, "no space left"), strings.Contains(msg, "disk full"):
		return CodeDiskFull
	case strings.Contains(msg, "permission denied"):
		return CodePermissionDenied
	default:
		return CodeUnknown
	}
}
