package obs

import (
	"net/http"
	"time"

	"github.com/kuitang/catmaid-guitest/internal/logutil"
)

// Transport logs outbound requests to remote services (WebDriver hub, job API).
// Userinfo in URLs and sensitive headers are redacted.
type Transport struct {
	Base http.RoundTripper
	Pkg  string
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(pkg string, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Pkg: pkg}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Base.RoundTrip(req)
	l := PkgFrom(req.Context(), t.Pkg)
	attrs := []any{
		"method", req.Method,
		"url", logutil.RedactURL(req.URL.String()),
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		l.Warn("outbound request failed", append(attrs, "error", err.Error())...)
		return nil, err
	}
	attrs = append(attrs, "status", resp.StatusCode)
	if resp.StatusCode >= 400 {
		l.Warn("outbound request rejected", append(attrs, "headers", logutil.FormatHeadersForLog(resp.Header))...)
	} else {
		l.Debug("outbound request", attrs...)
	}
	return resp, nil
}

// NewHTTPClient returns a client whose requests are logged through Transport.
func NewHTTPClient(pkg string, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: NewTransport(pkg, nil),
		Timeout:   timeout,
	}
}
