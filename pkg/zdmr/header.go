package zdmr

import "net/http"

// UserAgentKey is the canonical header name for the User-Agent override.
const UserAgentKey = "User-Agent"

// DefaultUserAgent is used unless a header rule overrides it (§4.4).
const DefaultUserAgent = "z-dmr/1.0"

// HeaderMode controls how a header rule value is merged into the
// resolved header set (§4.2).
type HeaderMode int

const (
	// ModeOverride replaces any prior value for the header name.
	ModeOverride HeaderMode = iota
	// ModeAddIfMissing sets the value only if the header is absent.
	ModeAddIfMissing
)

// Header is a single key/value pair with a merge mode, in the teacher's
// Header struct shape (pkg/warplib/header.go) generalized with Mode.
type Header struct {
	Key   string
	Value string
	Mode  HeaderMode
}

// Headers is an ordered list of headers, merged in registration order.
// For each name, ModeOverride wins over prior values; ModeAddIfMissing
// only sets a value if one isn't already present.
type Headers []Header

// Get returns the index of the header with the given key, case-sensitively
// matched against the canonical form (net/http normalizes header names).
func (h Headers) Get(key string) (index int, ok bool) {
	key = http.CanonicalHeaderKey(key)
	for i, x := range h {
		if http.CanonicalHeaderKey(x.Key) == key {
			return i, true
		}
	}
	return 0, false
}

// Merge folds a new header into the set according to its Mode.
func (h *Headers) Merge(key, value string, mode HeaderMode) {
	i, ok := h.Get(key)
	switch {
	case ok && mode == ModeOverride:
		(*h)[i] = Header{Key: key, Value: value, Mode: mode}
	case ok && mode == ModeAddIfMissing:
		// already present, add-if-missing is a no-op
	default:
		*h = append(*h, Header{Key: key, Value: value, Mode: mode})
	}
}

// Set applies all headers onto an http.Header, overwriting any existing
// values (used for the final resolved set applied to a request).
func (h Headers) Set(dst http.Header) {
	for _, x := range h {
		dst.Set(x.Key, x.Value)
	}
}

// InitOrUpdate sets key to value only if key is not already present,
// matching the teacher's Headers.InitOrUpdate semantics.
func (h *Headers) InitOrUpdate(key, value string) {
	if _, ok := h.Get(key); ok {
		return
	}
	*h = append(*h, Header{Key: key, Value: value, Mode: ModeAddIfMissing})
}
