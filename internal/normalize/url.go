// Package normalize turns raw postings into canonical records: canonical
// URLs, content fingerprints and classifier tags.
package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// trackingParams lists query parameters stripped during canonicalization.
// They identify the referrer or campaign, never the posting.
var trackingParams = map[string]struct{}{
	"fbclid":     {},
	"gclid":      {},
	"gclsrc":     {},
	"dclid":      {},
	"msclkid":    {},
	"mc_cid":     {},
	"mc_eid":     {},
	"_hsenc":     {},
	"_hsmi":      {},
	"ref":        {},
	"refid":      {},
	"trk":        {},
	"trkinfo":    {},
	"trackingid": {},
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

var (
	errEmptyURL            = errors.New("canonical url: empty input")
	errMissingSchemeOrHost = errors.New("canonical url: missing scheme or host")
)

// CanonicalURL forces https, lowercases the host, drops default ports and
// fragments, strips tracking parameters, sorts what remains and removes
// trailing slashes, so that one posting linked from several boards yields
// one string.
func CanonicalURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", errEmptyURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("canonical url: %w", err)
	}
	if parsed.Scheme == "" && parsed.Host == "" && !strings.HasPrefix(rawURL, "//") {
		// "boards.example.com/job/1" parses as a path.
		if reparsed, err := url.Parse("https://" + rawURL); err == nil {
			parsed = reparsed
		}
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errMissingSchemeOrHost
	}

	originalScheme := strings.ToLower(parsed.Scheme)
	parsed.Scheme = "https"
	parsed.Host = canonicalHost(parsed, originalScheme)
	parsed.User = nil
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.RawQuery = cleanQuery(parsed.Query())
	parsed.Path = cleanPath(parsed.Path)
	parsed.RawPath = ""

	return parsed.String(), nil
}

// Host returns the lowercased hostname of rawURL without port.
func Host(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("extract host: %w", err)
	}
	if parsed.Host == "" {
		return "", errMissingSchemeOrHost
	}
	return strings.TrimSuffix(strings.ToLower(parsed.Hostname()), "."), nil
}

// HostWithin reports whether host equals domain or is a subdomain of it.
// Substring matches such as "evilexample.com" for "example.com" do not count.
func HostWithin(host, domain string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	domain = strings.TrimPrefix(strings.TrimSuffix(strings.ToLower(domain), "."), ".")
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// HostAllowed reports whether rawURL's host is within any of domains.
// An empty domain list allows everything.
func HostAllowed(rawURL string, domains []string) bool {
	if len(domains) == 0 {
		return true
	}
	host, err := Host(rawURL)
	if err != nil {
		return false
	}
	for _, d := range domains {
		if HostWithin(host, d) {
			return true
		}
	}
	return false
}

func canonicalHost(u *url.URL, originalScheme string) string {
	hostname := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	port := u.Port()
	if port == "" {
		return hostname
	}
	for _, scheme := range []string{originalScheme, u.Scheme} {
		if p, ok := defaultPorts[scheme]; ok && port == p {
			return hostname
		}
	}
	return hostname + ":" + port
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := trackingParams[k]
	return ok
}

func cleanQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if !isTrackingParam(key) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		vals := append([]string(nil), values[key]...)
		sort.Strings(vals)
		for _, val := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}
	return b.String()
}

func cleanPath(p string) string {
	if p == "" || p == "/" {
		return ""
	}
	cleaned := path.Clean(p)
	return strings.TrimRight(cleaned, "/")
}
