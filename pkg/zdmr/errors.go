package zdmr

import "errors"

// Code is a stable error code from the taxonomy the UI/API surfaces verbatim.
type Code string

// The fixed error taxonomy. Codes are stable strings — never renamed,
// since external callers (UI, control API clients) match on them.
const (
	CodeDNSFail             Code = "DNS_FAIL"
	CodeConnectFail         Code = "CONNECT_FAIL"
	CodeTLSFail             Code = "TLS_FAIL"
	CodeHTTP4xx             Code = "HTTP_4XX"
	CodeHTTP5xx             Code = "HTTP_5XX"
	CodeTimeout             Code = "TIMEOUT"
	CodeRangeUnsupported    Code = "RANGE_UNSUPPORTED"
	CodeDiskFull            Code = "DISK_FULL"
	CodeRemoteChanged       Code = "REMOTE_CHANGED"
	CodePermissionDenied    Code = "PERMISSION_DENIED"
	CodeCancelled           Code = "CANCELLED"
	CodeInvalidURL          Code = "INVALID_URL"
	CodeUnknown             Code = "UNKNOWN"
)

// Error is the engine-wide error type. It carries a stable Code alongside
// the usual wrapped cause, so callers across process boundaries (the
// control API, the command surface) can match on Code without parsing
// message text.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError constructs an *Error with the given code, message, and
// optional wrapped cause.
func NewError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the Code from err if it (or something it wraps) is a
// *Error, otherwise returns CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Retryable reports whether the engine should attempt a mirror/backoff
// retry for this code, per the taxonomy in spec §7.
func (c Code) Retryable() bool {
	switch c {
	case CodeDNSFail, CodeConnectFail, CodeTLSFail, CodeHTTP5xx, CodeTimeout:
		return true
	default:
		return false
	}
}

// Store-level and scheduling sentinel errors, in the teacher's flat
// exported-var style (pkg/warplib/errors.go).
var (
	ErrDownloadNotFound     = errors.New("download not found")
	ErrBatchNotFound        = errors.New("batch not found")
	ErrRuleNotFound         = errors.New("rule not found")
	ErrInvalidStateTransition = errors.New("invalid status transition for current state")
	ErrNegativeRuleID       = errors.New("rule id must be non-negative")
	ErrEngineStopped        = errors.New("engine is stopped")
	ErrNoSegments           = errors.New("no segments to resume")
)
