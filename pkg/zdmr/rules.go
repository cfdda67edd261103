package zdmr

import (
	"net/url"
	"strings"
)

// RuleKind discriminates the three disjoint rule payloads (§3).
type RuleKind string

const (
	RuleProxy  RuleKind = "proxy"
	RuleHeader RuleKind = "header"
	RuleMirror RuleKind = "mirror"
)

// Rule is a hostname-pattern policy entry. Exactly one of the
// kind-specific payload fields is meaningful, selected by Kind — mirrors
// the store's kind-discriminated `rules` table (§4.1).
type Rule struct {
	ID      int64
	Kind    RuleKind
	Pattern string
	Enabled bool

	// RuleProxy payload
	UseProxy          bool
	ProxyURLOverride  string

	// RuleHeader payload, already normalized into the internal
	// (name, value, mode) shape per §9's "normalize at load time" note —
	// the map-form/flat-form JSON shapes are reconciled in store/rules.go,
	// never here.
	HeaderEntries []Header

	// RuleMirror payload
	MirrorCandidates []string
}

// Settings is the subset of the singleton settings record the Rule
// Engine needs to resolve policy (§3, §4.2).
type Settings struct {
	GlobalBandwidthLimitBps int64 // 0 = unlimited
	GlobalProxyEnabled      bool
	GlobalProxyURL          string
	DefaultDownloadDir      string
}

// Snapshot is a copy-on-read view of settings + rules the Engine
// captures once per fetch attempt, keeping the Rule Engine pure and
// easy to test without touching the store (§4.2, §5, SPEC_FULL.md
// "Settings snapshot type").
type Snapshot struct {
	Settings Settings
	Rules    []Rule
}

// matchHost implements the pattern-matching rule from §4.2: exact
// case-insensitive match, or a `*.domain` wildcard matching the suffix
// or any subdomain of it.
func matchHost(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)
	if pattern == host {
		return true
	}
	suffix, ok := strings.CutPrefix(pattern, "*.")
	if !ok {
		return false
	}
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}

// Resolution is the output of resolving a URL against a Snapshot: the
// transport proxy to use, the merged header set, and ordered mirror
// candidates (§4.2).
type Resolution struct {
	ProxyURL string // "" = no proxy
	Headers  Headers
	Mirrors  []string
}

// Resolve computes the full policy resolution for rawURL against the
// snapshot, per §4.2's three sub-resolutions. forcedProxyURL is the
// Download's own forced-proxy override, which always wins over rules
// and the global proxy (§3: "optional forced-proxy URL").
func Resolve(snap Snapshot, rawURL string, forcedProxyURL string) (Resolution, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Resolution{}, NewError(CodeInvalidURL, "invalid URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Resolution{}, NewError(CodeInvalidURL, "unsupported scheme "+u.Scheme, nil)
	}
	host := u.Hostname()

	res := Resolution{
		ProxyURL: resolveProxy(snap, host, forcedProxyURL),
		Headers:  resolveHeaders(snap, host),
		Mirrors:  resolveMirrors(snap, host),
	}
	return res, nil
}

// resolveProxy implements §4.2(a): forced URL on the Download wins;
// else the first matching enabled proxy rule's override (ID-ascending
// tie-break, §4.2); else the global proxy URL if enabled; else none.
//
// Per the pinned Open Question (SPEC_FULL.md): proxy rules are
// consulted independently of global_proxy_enabled. A matching rule
// with neither an override nor an enabled global URL is a no-op.
func resolveProxy(snap Snapshot, host, forcedProxyURL string) string {
	if forcedProxyURL != "" {
		return forcedProxyURL
	}

	var matched *Rule
	for i := range snap.Rules {
		r := &snap.Rules[i]
		if r.Kind != RuleProxy || !r.Enabled || !r.UseProxy {
			continue
		}
		if !matchHost(r.Pattern, host) {
			continue
		}
		if matched == nil || r.ID < matched.ID {
			matched = r
		}
	}
	if matched != nil && matched.ProxyURLOverride != "" {
		return matched.ProxyURLOverride
	}
	if snap.Settings.GlobalProxyEnabled {
		return snap.Settings.GlobalProxyURL
	}
	return ""
}

// resolveHeaders implements §4.2(b): enabled header rules matching the
// host are merged in registration (ID-ascending) order.
func resolveHeaders(snap Snapshot, host string) Headers {
	var out Headers
	rules := make([]Rule, len(snap.Rules))
	copy(rules, snap.Rules)
	sortRulesByID(rules)

	for _, r := range rules {
		if r.Kind != RuleHeader || !r.Enabled {
			continue
		}
		if !matchHost(r.Pattern, host) {
			continue
		}
		for _, h := range r.HeaderEntries {
			out.Merge(h.Key, h.Value, h.Mode)
		}
	}
	return out
}

// resolveMirrors implements §4.2(c): concatenated candidates of all
// enabled matching mirror rules, de-duplicated in order.
func resolveMirrors(snap Snapshot, host string) []string {
	rules := make([]Rule, len(snap.Rules))
	copy(rules, snap.Rules)
	sortRulesByID(rules)

	seen := make(map[string]bool)
	var out []string
	for _, r := range rules {
		if r.Kind != RuleMirror || !r.Enabled {
			continue
		}
		if !matchHost(r.Pattern, host) {
			continue
		}
		for _, m := range r.MirrorCandidates {
			if seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func sortRulesByID(rules []Rule) {
	// Small-N insertion sort: rule sets per host are tiny, and this keeps
	// the dependency surface flat (no sort.Slice closure allocation in a
	// hot path called once per fetch attempt).
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && rules[j].ID < rules[j-1].ID; j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}

// SubstituteMirror rewrites rawURL's scheme+host with the mirror base
// URL, preserving the path suffix and query (§4.7's "fingerprint").
func SubstituteMirror(rawURL, mirrorBase string) (string, error) {
	orig, err := url.Parse(rawURL)
	if err != nil {
		return "", NewError(CodeInvalidURL, "invalid URL", err)
	}
	mirror, err := url.Parse(mirrorBase)
	if err != nil {
		return "", NewError(CodeInvalidURL, "invalid mirror base URL", err)
	}
	out := *orig
	out.Scheme = mirror.Scheme
	out.Host = mirror.Host
	if mirror.Path != "" && mirror.Path != "/" {
		out.Path = strings.TrimSuffix(mirror.Path, "/") + orig.Path
	}
	return out.String(), nil
}
