package linkpreview

import (
	"net/url"
	"strings"
)

// unknownDomain is shown when nothing host-like can be recovered.
const unknownDomain = "unknown"

// DomainOf returns the display domain of rawURL: its lower-cased host with
// any port and leading "www." removed. It never fails and never returns an
// empty string, so even a record whose fetch failed has something to show.
func DomainOf(rawURL string) string {
	raw := strings.TrimSpace(rawURL)

	host := ""
	if u, err := url.Parse(raw); err == nil {
		host = u.Hostname()
		if host == "" && u.Scheme == "" {
			// "example.com/path" parses as a path; retry with a scheme.
			if u2, err := url.Parse("http://" + raw); err == nil {
				host = u2.Hostname()
			}
		}
	}
	if host == "" {
		host = hostFallback(raw)
	}

	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if trimmed := strings.TrimPrefix(host, "www."); trimmed != "" {
		host = trimmed
	}
	if host == "" {
		return unknownDomain
	}
	return host
}

// hostFallback recovers a host from strings url.Parse rejects, such as
// "https://exa mple.com/x" or a bare "example.com:80%".
func hostFallback(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		raw = raw[i+3:]
	}
	if i := strings.IndexAny(raw, "/?#"); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.LastIndex(raw, "@"); i >= 0 {
		raw = raw[i+1:]
	}
	if i := strings.LastIndex(raw, ":"); i >= 0 && !strings.Contains(raw, "]") {
		raw = raw[:i]
	}
	return strings.Trim(strings.TrimSpace(raw), "[]")
}
