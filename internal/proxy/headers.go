package proxy

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are meaningful for a single transport leg and never relayed.
// Host and Content-Length are recomputed by the outbound transport.
var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"host":                {},
	"content-length":      {},
}

// IsHopByHopHeader reports whether key is stripped when relaying.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[strings.ToLower(key)]
	return ok
}

// CopyHeaders adds every end-to-end header of src to dst.
func CopyHeaders(dst, src http.Header) {
	for k, values := range src {
		if IsHopByHopHeader(k) {
			continue
		}
		for _, value := range values {
			dst.Add(k, value)
		}
	}
}

// removeCookie drops the named cookie from the Cookie header, leaving any others in place.
func removeCookie(h http.Header, name string) {
	if name == "" {
		return
	}

	lines := h.Values("Cookie")
	if len(lines) == 0 {
		return
	}

	var kept []string
	for _, line := range lines {
		for part := range strings.SplitSeq(line, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			cookieName, _, _ := strings.Cut(part, "=")
			if cookieName == name {
				continue
			}
			kept = append(kept, part)
		}
	}

	h.Del("Cookie")
	if len(kept) > 0 {
		h.Set("Cookie", strings.Join(kept, "; "))
	}
}
