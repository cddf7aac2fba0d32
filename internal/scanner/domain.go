package scanner

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

var ErrInvalidDomain = errors.New("invalid domain")

// chatLink matches an auto-linked URL as chat clients send it: <https://x|x>.
var chatLink = regexp.MustCompile(`<https?://[^|>]+\|([^>]+)>`)

// Unlink replaces every chat auto-link in text with its label.
func Unlink(text string) string {
	return chatLink.ReplaceAllString(text, "$1")
}

var lookup = idna.Lookup

// NormalizeDomain turns user input into the canonical stored form: ASCII
// (punycode) lower-case host, with ":port" kept only when it is not 443.
// Schemes, paths and chat links are stripped.
func NormalizeDomain(raw string) (string, error) {
	s := strings.TrimSpace(Unlink(raw))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}

	host, port := s, ""
	if h, p, err := net.SplitHostPort(s); err == nil {
		host, port = h, p
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return "", fmt.Errorf("%w: bad port in %q", ErrInvalidDomain, raw)
		}
	}

	if ip := net.ParseIP(host); ip == nil {
		ascii, err := lookup.ToASCII(host)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidDomain, raw, err)
		}
		host = ascii
	}
	if port == "" || port == defaultPort {
		return host, nil
	}
	return net.JoinHostPort(host, port), nil
}

// hostPort splits a normalized domain into its SNI name and dial address.
func hostPort(domain string) (host, addr string) {
	if h, _, err := net.SplitHostPort(domain); err == nil {
		return h, domain
	}
	return domain, net.JoinHostPort(domain, defaultPort)
}
