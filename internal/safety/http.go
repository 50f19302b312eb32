package safety

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"time"
)

const maxRedirects = 5

var (
	// ErrBodyTooLarge indicates a body exceeded the configured read limit.
	ErrBodyTooLarge = errors.New("response body too large")

	// ErrUnsupportedScheme reports a URL whose scheme is not in the allowed set.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")

	// ErrRedirectDowngrade reports an https request redirected to plain http.
	ErrRedirectDowngrade = errors.New("redirect downgrades https to http")
)

// WebSchemes are the schemes pacman can download from.
var WebSchemes = []string{"http", "https"}

// NewHTTPClient creates a hardened HTTP client for fetching untrusted
// upstream documents. Redirects are capped and may not leave https.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: checkRedirect,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   15 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   2,
		},
	}
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if len(via) > 0 && via[len(via)-1].URL.Scheme == "https" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: %s", ErrRedirectDowngrade, req.URL.Redacted())
	}
	return nil
}

// ReadAllWithLimit reads from r and fails if content exceeds limit bytes.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid read limit: %d", limit)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

// ValidateURL checks that raw is an absolute URL using one of schemes,
// with a host and without userinfo. Scheme matching is exact; url.Parse
// already lower-cases it.
func ValidateURL(raw string, schemes ...string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("URL host is required")
	}
	if u.User != nil {
		return nil, errors.New("URL userinfo is not allowed")
	}
	return u, nil
}

// ValidateHTTPURL is ValidateURL restricted to WebSchemes.
func ValidateHTTPURL(raw string) (*url.URL, error) {
	return ValidateURL(raw, WebSchemes...)
}
