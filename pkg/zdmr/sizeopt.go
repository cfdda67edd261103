package zdmr

import "github.com/dustin/go-humanize"

// Size unit constants for byte conversions, in the teacher's style
// (pkg/warplib/misc.go).
const (
	B  int64 = 1
	KB       = 1024 * B
	MB       = 1024 * KB
	GB       = 1024 * MB
)

// ContentLength represents the size of a download in bytes. -1 means
// unknown (the server didn't report Content-Length).
type ContentLength int64

// Unknown is the sentinel ContentLength value for an unreported size.
const Unknown ContentLength = -1

func (c ContentLength) v() int64 { return int64(c) }

// IsUnknown reports whether the length is unreported.
func (c ContentLength) IsUnknown() bool { return c == Unknown }

// String renders a human-readable size, e.g. "10 MiB", or "undefined"
// for an unknown length. Delegates to go-humanize rather than
// hand-rolling unit math (the teacher's SizeOption/ContentLength.Format
// did this by hand; go-humanize is already pulled in by the pack via
// afero and is the idiomatic choice for this).
func (c ContentLength) String() string {
	if c.IsUnknown() {
		return "undefined"
	}
	return humanize.IBytes(uint64(c))
}
