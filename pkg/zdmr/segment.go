package zdmr

import "fmt"

// MinRangeSplitSize is the content length threshold below which a
// Download is fetched as a single segment rather than split (§4.6
// step 3).
const MinRangeSplitSize = 2 * MB

// MaxSegments bounds how many parallel ranged GETs a single Download may
// spawn (§4.6 step 3: K = min(8, ceil(content_length / 4 MiB))).
const MaxSegments = 8

// SegmentTargetSize is the per-segment size used to derive K (§4.6).
const SegmentTargetSize = 4 * MB

// Segment is a contiguous byte range of a Download fetched by a single
// ranged request (GLOSSARY). EndOffset is exclusive; EndOffset < 0 means
// unknown (the single no-Content-Length segment case).
type Segment struct {
	Ordinal      int
	StartOffset  int64
	EndOffset    int64 // exclusive, -1 if unbounded
	BytesWritten int64
	Done         bool
}

// Unbounded marks a Segment's EndOffset as unknown.
const Unbounded = -1

// Length returns the segment's byte span, or -1 if unbounded.
func (s Segment) Length() int64 {
	if s.EndOffset < 0 {
		return -1
	}
	return s.EndOffset - s.StartOffset
}

// Remaining returns how many bytes are left to fetch in this segment, or
// -1 if unbounded.
func (s Segment) Remaining() int64 {
	if s.EndOffset < 0 {
		return -1
	}
	return s.EndOffset - s.StartOffset - s.BytesWritten
}

// RangeHeader formats the Range header value for the bytes still needed
// in this segment, resuming from BytesWritten. Returns "" for the
// unbounded case, where Range is omitted entirely (§4.6 step 4).
func (s Segment) RangeHeader() string {
	if s.EndOffset < 0 {
		return ""
	}
	start := s.StartOffset + s.BytesWritten
	end := s.EndOffset - 1
	return fmt.Sprintf("bytes=%d-%d", start, end)
}

// PlanSegments implements §4.6 step 3: split a range-supporting Download
// of known length into up to MaxSegments equal segments when it meets
// MinRangeSplitSize, the last segment absorbing any remainder. Otherwise
// (ranges unsupported, length unknown, or below threshold) it returns a
// single segment spanning the whole resource.
func PlanSegments(contentLength ContentLength, supportsRanges bool) []Segment {
	if !supportsRanges || contentLength.IsUnknown() {
		return []Segment{{Ordinal: 0, StartOffset: 0, EndOffset: Unbounded}}
	}
	total := contentLength.v()
	if total < MinRangeSplitSize {
		return []Segment{{Ordinal: 0, StartOffset: 0, EndOffset: total}}
	}

	k := int((total + SegmentTargetSize - 1) / SegmentTargetSize)
	if k > MaxSegments {
		k = MaxSegments
	}
	if k < 1 {
		k = 1
	}

	segSize := total / int64(k)
	segments := make([]Segment, k)
	var offset int64
	for i := 0; i < k; i++ {
		end := offset + segSize
		if i == k-1 {
			end = total
		}
		segments[i] = Segment{Ordinal: i, StartOffset: offset, EndOffset: end}
		offset = end
	}
	return segments
}

// TotalRangeCovered reports whether segments exactly tile [0, total)
// with no gaps or overlaps, per the invariant in §3.
func TotalRangeCovered(segments []Segment, total int64) bool {
	if len(segments) == 0 {
		return total == 0
	}
	var cursor int64
	for i, s := range segments {
		if s.Ordinal != i || s.StartOffset != cursor || s.EndOffset < 0 {
			return false
		}
		cursor = s.EndOffset
	}
	return cursor == total
}
