package zdmr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrDowngradeToSingleStream signals the caller (the Engine) that the
// server did not honor range requests as the probe suggested, and the
// fetch must be restarted as a single unranged segment from offset 0
// (§4.6 "Single-stream downgrade").
var ErrDowngradeToSingleStream = errors.New("server did not honor range request, downgrading to single stream")

// ErrRemoteChanged signals that persisted ETag/Last-Modified no longer
// match the server's current representation (§4.6 step 2).
var ErrRemoteChanged = NewError(CodeRemoteChanged, "remote resource changed since last attempt", nil)

// ProbeResult captures what the Segmented Fetcher learns from the
// initial HEAD/ranged-GET probe (§4.6 step 1).
type ProbeResult struct {
	ContentLength  ContentLength
	ETag           string
	LastModified   string
	SupportsRanges bool
	ContentType    string
	FinalURL       string
}

// Probe issues a HEAD request, falling back to a ranged `GET bytes=0-0`
// if HEAD returns any 4xx/5xx status (405/501 included) or reports no
// content length, per §4.6 step 1.
func Probe(ctx context.Context, client *http.Client, rawURL string, headers Headers) (ProbeResult, error) {
	res, err := probeWith(ctx, client, http.MethodHead, rawURL, headers, false)
	if err == nil && res.ContentLength.v() >= 0 {
		return res, nil
	}
	if err != nil {
		var zerr *Error
		if errors.As(err, &zerr) && (zerr.Code == CodeHTTP4xx || zerr.Code == CodeHTTP5xx) {
			// fall through to ranged GET probe
		} else {
			return ProbeResult{}, err
		}
	}
	return probeWith(ctx, client, http.MethodGet, rawURL, headers, true)
}

func probeWith(ctx context.Context, client *http.Client, method, rawURL string, headers Headers, ranged bool) (ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return ProbeResult{}, NewError(CodeInvalidURL, "build probe request", err)
	}
	ApplyHeaders(req, headers)
	if ranged {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := client.Do(req)
	if err != nil {
		return ProbeResult{}, NewError(ClassifyTransportError(err), "probe request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1))

	if resp.StatusCode >= 400 && !(method == http.MethodHead && (resp.StatusCode == 405 || resp.StatusCode == 501)) {
		return ProbeResult{}, NewError(ClassifyHTTPStatus(resp.StatusCode), fmt.Sprintf("probe returned %d", resp.StatusCode), nil)
	}
	if method == http.MethodHead && (resp.StatusCode == 405 || resp.StatusCode == 501) {
		return ProbeResult{}, NewError(CodeHTTP4xx, "HEAD not supported", nil)
	}

	cl := ContentLength(Unknown)
	supportsRanges := resp.Header.Get("Accept-Ranges") == "bytes" || resp.StatusCode == http.StatusPartialContent

	if resp.StatusCode == http.StatusPartialContent {
		if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
			cl = ContentLength(total)
		}
		supportsRanges = true
	} else if resp.ContentLength >= 0 {
		cl = ContentLength(resp.ContentLength)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return ProbeResult{
		ContentLength:  cl,
		ETag:           resp.Header.Get("ETag"),
		LastModified:   resp.Header.Get("Last-Modified"),
		SupportsRanges: supportsRanges,
		ContentType:    resp.Header.Get("Content-Type"),
		FinalURL:       finalURL,
	}, nil
}

func parseContentRangeTotal(v string) (int64, bool) {
	// Format: "bytes start-end/total"
	var start, end, total int64
	n, err := fmt.Sscanf(v, "bytes %d-%d/%d", &start, &end, &total)
	if err != nil || n != 3 {
		return 0, false
	}
	return total, true
}

// ValidateResume implements §4.6 step 2: if either validator differs
// from the persisted value, the caller must abort with REMOTE_CHANGED
// and clear segments before retrying.
func ValidateResume(persistedETag, persistedLastModified string, probe ProbeResult) error {
	if persistedETag == "" && persistedLastModified == "" {
		return nil
	}
	if persistedETag != "" && probe.ETag != "" && persistedETag != probe.ETag {
		return ErrRemoteChanged
	}
	if persistedLastModified != "" && probe.LastModified != "" && persistedLastModified != probe.LastModified {
		return ErrRemoteChanged
	}
	return nil
}

// CheckpointFunc persists a segment's progress. Called at most once per
// CheckpointInterval per segment, plus once when the segment completes
// (§4.6 step 4). It is not called when a segment stops early; Fetch
// updates the caller's segments in place, so the caller can persist them
// after Fetch returns.
type CheckpointFunc func(seg Segment)

// ProgressFunc reports an in-memory byte delta for a Download, sampled
// by the Progress Bus (§4.7). Called on every buffer, not throttled —
// throttling happens at the bus, not here.
type ProgressFunc func(deltaBytes int64)

// CheckpointInterval bounds how often segment progress is persisted
// during a fetch (§4.6 step 4).
const CheckpointInterval = 500 * time.Millisecond

// FetchChunkSize is the buffer size used for each read/write cycle.
const FetchChunkSize = 32 * KB

// Fetcher drives the segmented download of a single resource to a
// temp file, in the spirit of the teacher's Part/Downloader split
// (pkg/warplib/parts.go, pkg/warplib/dloader.go) but restructured around
// errgroup-coordinated segment tasks and the shared bandwidth Limiter
// instead of per-part rate limiting.
type Fetcher struct {
	Client       *http.Client
	Limiter      *Limiter
	Headers      Headers
	OnCheckpoint CheckpointFunc
	OnProgress   ProgressFunc
}

// Fetch runs every segment concurrently against destFile, writing at
// each segment's absolute file offset, and blocks until all segments
// finish, the context is cancelled, or one segment fails fatally
// (§4.6 step 4). A 200 response to a ranged request on a multi-segment
// plan is reported as ErrDowngradeToSingleStream.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, segments []Segment, destFile *os.File) error {
	g, gctx := errgroup.WithContext(ctx)
	multiSegment := len(segments) > 1

	for i := range segments {
		seg := &segments[i]
		g.Go(func() error {
			return f.fetchSegment(gctx, rawURL, seg, destFile, multiSegment)
		})
	}
	return g.Wait()
}

func (f *Fetcher) fetchSegment(ctx context.Context, rawURL string, seg *Segment, destFile *os.File, rangedRequestExpected bool) error {
	if seg.Remaining() == 0 {
		seg.Done = true
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return NewError(CodeInvalidURL, "build segment request", err)
	}
	ApplyHeaders(req, f.Headers)
	if rh := seg.RangeHeader(); rh != "" {
		req.Header.Set("Range", rh)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return NewError(ClassifyTransportError(err), "segment request failed", err)
	}
	defer resp.Body.Close()

	if rangedRequestExpected && resp.StatusCode == http.StatusOK {
		return ErrDowngradeToSingleStream
	}
	if resp.StatusCode >= 400 {
		return NewError(ClassifyHTTPStatus(resp.StatusCode), fmt.Sprintf("segment returned %d", resp.StatusCode), nil)
	}

	writeOffset := seg.StartOffset + seg.BytesWritten
	buf := make([]byte, FetchChunkSize)
	lastCheckpoint := time.Now()

	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if err := f.Limiter.Acquire(ctx, int64(n)); err != nil {
				return NewError(CodeCancelled, "bandwidth acquire interrupted", err)
			}
			if _, werr := destFile.WriteAt(buf[:n], writeOffset); werr != nil {
				return NewError(classifyWriteError(werr), "write segment buffer", werr)
			}
			writeOffset += int64(n)
			seg.BytesWritten += int64(n)
			if f.OnProgress != nil {
				f.OnProgress(int64(n))
			}
			if f.OnCheckpoint != nil && time.Since(lastCheckpoint) >= CheckpointInterval {
				f.OnCheckpoint(*seg)
				lastCheckpoint = time.Now()
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return NewError(ClassifyTransportError(rerr), "read segment body", rerr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	seg.Done = true
	if f.OnCheckpoint != nil {
		f.OnCheckpoint(*seg)
	}
	return nil
}

func classifyWriteError(err error) Code {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no space left") || strings.Contains(msg, "disk full"):
		return CodeDiskFull
	case strings.Contains(msg, "permission denied"):
		return CodePermissionDenied
	default:
		return CodeUnknown
	}
}

// Merge finalizes the temp file once every segment reports done: since
// segments write directly to their absolute offsets (sparse
// random-access writes), the file is already complete; Merge only
// truncates it to the known content length, per §4.6 step 5.
func Merge(destFile *os.File, contentLength ContentLength) error {
	if contentLength.IsUnknown() {
		return nil
	}
	if err := destFile.Truncate(contentLength.v()); err != nil {
		return NewError(CodeUnknown, "truncate completed file", err)
	}
	return nil
}

// byteCounter is a small atomic accumulator used where a Fetcher's
// OnProgress callback needs to aggregate across concurrently running
// segments into one running total, which the Engine writes back to the
// Download once Fetch returns.
type byteCounter struct {
	n int64
}

func (c *byteCounter) add(delta int64) int64 {
	return atomic.AddInt64(&c.n, delta)
}

func (c *byteCounter) load() int64 {
	return atomic.LoadInt64(&c.n)
}
