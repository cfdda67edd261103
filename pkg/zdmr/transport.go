package zdmr

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// Transport policy constants (§4.4). DefaultIdleReadTimeout is applied
// as the transport's ResponseHeaderTimeout: it bounds the wait for
// response headers only, not the gap between reads of a response body.
const (
	DefaultMaxRedirects  = 10
	DefaultConnectTimeout = 20 * time.Second
	DefaultIdleReadTimeout = 30 * time.Second
)

var (
	ErrTooManyRedirects      = errors.New("redirect loop detected")
	ErrCrossProtocolRedirect = errors.New("cross-protocol redirect not supported")
	ErrUnsupportedProxyScheme = errors.New("unsupported proxy scheme")
)

var supportedProxySchemes = map[string]bool{
	"http": true, "https": true, "socks5": true,
}

// NewTransport builds an *http.Client configured per §4.4: the given
// proxy (possibly none), connect and response-header timeouts, redirect-hop bound, TLS
// verification on with system roots, and no overall response timeout
// (Client.Timeout is left zero — downloads are long-lived). This is the
// only place in the module that constructs outbound HTTP clients,
// matching the teacher's localization of proxy/TLS concerns to
// pkg/warplib/proxy.go.
func NewTransport(proxyURL string) (*http.Client, error) {
	dialer := &net.Dialer{Timeout: DefaultConnectTimeout}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: DefaultIdleReadTimeout,
		ForceAttemptHTTP2:     true,
	}

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, NewError(CodeConnectFail, "invalid proxy URL", err)
		}
		if !supportedProxySchemes[parsed.Scheme] {
			return nil, NewError(CodeConnectFail, fmt.Sprintf("unsupported proxy scheme %q", parsed.Scheme), ErrUnsupportedProxyScheme)
		}
		if parsed.Scheme == "socks5" {
			var auth *proxy.Auth
			if parsed.User != nil {
				pass, _ := parsed.User.Password()
				auth = &proxy.Auth{User: parsed.User.Username(), Password: pass}
			}
			d, err := proxy.SOCKS5("tcp", parsed.Host, auth, dialer)
			if err != nil {
				return nil, NewError(CodeConnectFail, "socks5 dialer setup failed", err)
			}
			transport.DialContext = nil
			transport.Dial = d.Dial
		} else {
			transport.Proxy = http.ProxyURL(parsed)
		}
	}

	return &http.Client{
		Transport:     transport,
		CheckRedirect: redirectPolicy(DefaultMaxRedirects),
	}, nil
}

// redirectPolicy enforces a max-hop bound and rejects cross-protocol
// redirects, in the teacher's style (pkg/warplib/redirect.go). Go's
// stdlib http.Client already strips Authorization headers on
// cross-origin redirects (CVE-2024-45336); explicit custom-header
// stripping isn't needed here since headers are re-applied per request
// by the fetcher rather than carried implicitly across hops.
func redirectPolicy(maxRedirects int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return fmt.Errorf("%w: exceeded %d hops", ErrTooManyRedirects, maxRedirects)
		}
		if len(via) > 0 {
			prev := via[len(via)-1]
			if isHTTPScheme(prev.URL.Scheme) && !isHTTPScheme(req.URL.Scheme) {
				return fmt.Errorf("%w: %s -> %s", ErrCrossProtocolRedirect, prev.URL.Scheme, req.URL.Scheme)
			}
		}
		return nil
	}
}

func isHTTPScheme(scheme string) bool {
	return scheme == "http" || scheme == "https"
}

// ApplyHeaders sets the User-Agent default (unless already present in
// resolved headers) and applies the full resolved header set onto req.
func ApplyHeaders(req *http.Request, resolved Headers) {
	var h Headers
	h = append(h, resolved...)
	h.InitOrUpdate(UserAgentKey, DefaultUserAgent)
	h.Set(req.Header)
}
