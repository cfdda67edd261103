package zdmr

import "time"

// Status is a Download's position in the state machine (§4.7).
type Status string

const (
	StatusQueued      Status = "QUEUED"
	StatusDownloading Status = "DOWNLOADING"
	StatusPaused      Status = "PAUSED"
	StatusCompleted   Status = "COMPLETED"
	StatusError       Status = "ERROR"
)

// RangeSupport is a tri-state: the Fetcher doesn't know whether a server
// honors Range until it has probed it (§3).
type RangeSupport string

const (
	RangeUnknown RangeSupport = "unknown"
	RangeYes     RangeSupport = "yes"
	RangeNo      RangeSupport = "no"
)

// transitions enumerates the legal status edges of §4.7's state
// machine. Anything not listed here is rejected by Download.TransitionTo.
var transitions = map[Status]map[Status]bool{
	StatusQueued:      {StatusDownloading: true},
	StatusDownloading: {StatusPaused: true, StatusCompleted: true, StatusError: true, StatusQueued: true},
	StatusPaused:      {StatusDownloading: true},
	StatusError:       {StatusQueued: true},
	StatusCompleted:   {},
}

// Download is one logical transfer (§3). It is the in-memory working
// copy the Engine mutates; the persistence store holds the durable
// record this type is read from and written back to.
type Download struct {
	ID string

	OriginalURL  string
	ResolvedURL  string
	DestDir      string
	ForcedProxy  string
	BatchID      string

	ContentLength  ContentLength
	ETag           string
	LastModified   string
	SupportsRanges RangeSupport
	MirrorUsed     string

	TempPath      string
	FinalFilename string

	Status Status

	ErrorCode    Code
	ErrorMessage string

	BytesDownloaded int64

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	// StallStrikes counts consecutive stall-triggered restarts since the
	// last successful byte progress (§4.7). Reset to 0 when an attempt
	// makes forward progress and when admission moves the Download into
	// DOWNLOADING.
	StallStrikes int

	// TriedMirrors tracks mirror base URLs already attempted this error
	// episode, so the Engine never retries the same mirror twice in a row
	// (§4.7 "Retryable error handling").
	TriedMirrors map[string]bool
}

// CanTransitionTo reports whether moving from d.Status to next is a
// legal edge of the state machine.
func (d *Download) CanTransitionTo(next Status) bool {
	edges, ok := transitions[d.Status]
	return ok && edges[next]
}

// TransitionTo moves the Download to next, updating UpdatedAt and, for
// the terminal/initial transitions the spec names, the matching
// timestamp field. Returns ErrInvalidStateTransition for illegal edges.
func (d *Download) TransitionTo(next Status, now time.Time) error {
	if !d.CanTransitionTo(next) {
		return ErrInvalidStateTransition
	}
	d.Status = next
	d.UpdatedAt = now
	switch next {
	case StatusDownloading:
		if d.StartedAt.IsZero() {
			d.StartedAt = now
		}
	case StatusCompleted:
		d.CompletedAt = now
	}
	return nil
}

// MarkError implements §3's ERROR invariant: both error_code and
// error_message become non-empty. Only legal from DOWNLOADING — the
// Engine always transitions a Download to DOWNLOADING before handing it
// to the Fetcher, so every probe/segment/merge failure is observed from
// that status.
func (d *Download) MarkError(code Code, message string, now time.Time) error {
	if err := d.TransitionTo(StatusError, now); err != nil {
		return err
	}
	d.ErrorCode = code
	d.ErrorMessage = message
	return nil
}

// IsComplete reports §3's COMPLETED invariant given a known content
// length: bytes_downloaded == content_length.
func (d *Download) IsComplete() bool {
	if d.ContentLength.IsUnknown() {
		return d.Status == StatusCompleted
	}
	return d.BytesDownloaded == d.ContentLength.v()
}

// ClearForRetry resets the fields that §4.6 step 2 says must be dropped
// when a REMOTE_CHANGED error forces a full restart: validators, mirror
// episode state, and byte progress. Segment rows are cleared by the
// caller (Engine.Retry, via the store's ClearSegments) before the
// Download row is saved.
func (d *Download) ClearForRetry() {
	d.ETag = ""
	d.LastModified = ""
	d.SupportsRanges = RangeUnknown
	d.BytesDownloaded = 0
	d.StallStrikes = 0
	d.TriedMirrors = nil
	d.ErrorCode = ""
	d.ErrorMessage = ""
}

// Batch groups Downloads added together under one destination directory
// and an optional forced-proxy flag (§3).
type Batch struct {
	ID           string
	DestDir      string
	ForcedProxy  bool
	CreatedAt    time.Time
}
