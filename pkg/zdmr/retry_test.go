package zdmr

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestBackoffForStrike_Ladder(t *testing.T) {
	tests := []struct {
		strike int
		want   time.Duration
	}{
		{0, 1 * time.Second}, // clamped to the first rung
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second}, // clamped to the last rung
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := BackoffForStrike(tt.strike); got != tt.want {
			t.Errorf("BackoffForStrike(%d) = %v, want %v", tt.strike, got, tt.want)
		}
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Code
	}{
		{200, CodeUnknown},
		{404, CodeHTTP4xx},
		{429, CodeHTTP4xx},
		{500, CodeHTTP5xx},
		{503, CodeHTTP5xx},
	}
	for _, tt := range tests {
		if got := ClassifyHTTPStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyHTTPStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestClassifyTransportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"context canceled", context.Canceled, CodeCancelled},
		{"context deadline exceeded", context.DeadlineExceeded, CodeTimeout},
		{"dns error", &net.DNSError{Err: "no such host", Name: "example.invalid"}, CodeDNSFail},
		{"dial op error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, CodeConnectFail},
		{"generic tls message", errors.New("x509: certificate signed by unknown authority"), CodeTLSFail},
		{"generic timeout message", errors.New("request timeout exceeded"), CodeTimeout},
		{"generic disk message", errors.New("write failed: no space left on device"), CodeDiskFull},
		{"generic permission message", errors.New("open file: permission denied"), CodePermissionDenied},
		{"unrecognized", errors.New("something unexpected"), CodeUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyTransportError(tt.err); got != tt.want {
			t.Errorf("%s: ClassifyTransportError = %s, want %s", tt.name, got, tt.want)
		}
	}
}
