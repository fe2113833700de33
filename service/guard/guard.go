// Package guard decides whether hosted content may navigate to a URL.
package guard

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

type Decision int

const (
	Block Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "block"
}

// Entry is one allowed domain. An entry without a dot matches any host
// containing it; a dotted entry matches the host itself and its
// subdomains.
type Entry string

// NewEntry normalizes s: lower case, no surrounding whitespace, no
// leading wildcard or dot.
func NewEntry(s string) Entry {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "*")
	s = strings.TrimPrefix(s, ".")
	return Entry(s)
}

func (e Entry) Matches(host string) bool {
	if e == "" || host == "" {
		return false
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	entry := string(e)
	if !strings.Contains(entry, ".") {
		return strings.Contains(host, entry)
	}
	return host == entry || strings.HasSuffix(host, "."+entry)
}

type AllowList []Entry

func (l AllowList) Matches(host string) bool {
	for _, e := range l {
		if e.Matches(host) {
			return true
		}
	}
	return false
}

func (l AllowList) Strings() []string {
	out := make([]string, len(l))
	for i, e := range l {
		out[i] = string(e)
	}
	return out
}

// Derive builds the allow-list for a base content address: the
// registrable domain of its host, followed by the declared extra
// entries. It fails when the base host would not be allowed by the
// result.
func Derive(base string, extra []string) (AllowList, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, fmt.Errorf("parse base address: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("base address %q has no host", base)
	}

	list := AllowList{NewEntry(RegistrableDomain(host))}
	seen := map[Entry]bool{list[0]: true}
	for _, s := range extra {
		e := NewEntry(s)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		list = append(list, e)
	}

	if !list.Matches(host) {
		return nil, fmt.Errorf("base host %s is not covered by allow-list %v", host, list.Strings())
	}
	return list, nil
}

// RegistrableDomain returns the eTLD+1 of host, or host itself for IP
// addresses, single-label names and public suffixes.
func RegistrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// Evaluate decides whether target may be loaded.
//
// A target without a scheme is allowed: there is no host to judge, and
// the hosted content is trusted. Neither is a target whose authority
// cannot be delimited at all. Any other URL is blocked unless its host
// matches an entry, and every URL is blocked when the list is empty.
func Evaluate(target string, list AllowList) Decision {
	host, ok := hostOf(strings.TrimSpace(target))
	if !ok || list.Matches(host) {
		return Allow
	}
	return Block
}

// hostOf returns the host a browser would connect to for target. ok is
// false when target has no scheme or its host cannot be recovered.
func hostOf(target string) (host string, ok bool) {
	u, err := url.Parse(target)
	if err == nil && (u.Host != "" || !specialSchemes[strings.ToLower(u.Scheme)]) {
		return u.Hostname(), u.Scheme != ""
	}

	// url.Parse rejects URLs a browser still loads, such as a bad
	// percent escape in the path or fragment, and finds no host in
	// "https:host". Cut the authority out by hand so such URLs are
	// judged by their host.
	n := schemeLen(target)
	if n == 0 {
		return "", false
	}
	scheme, rest := strings.ToLower(target[:n]), target[n+1:]
	delims := "/?#"
	switch {
	case specialSchemes[scheme]:
		// Browsers read any run of slashes or backslashes, even none,
		// as the start of the authority for these schemes.
		rest = strings.TrimLeft(rest, `/\`)
		delims += `\`
	case strings.HasPrefix(rest, "//"):
		rest = rest[2:]
	default:
		return "", true
	}
	if i := strings.IndexAny(rest, delims); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}

	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return "", false
		}
		host = rest[1:end]
	} else if h, _, err := net.SplitHostPort(rest); err == nil {
		host = h
	} else {
		host, _, _ = strings.Cut(rest, ":")
	}
	if unescaped, err := url.PathUnescape(host); err == nil {
		host = unescaped
	}
	return strings.ToLower(host), true
}

var specialSchemes = map[string]bool{
	"http": true, "https": true, "ws": true, "wss": true, "ftp": true,
}

// schemeLen returns the length of target's scheme, or 0 when target
// does not start with one.
func schemeLen(target string) int {
	for i := 0; i < len(target); i++ {
		c := target[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case i > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		case i > 0 && c == ':':
			return i
		default:
			return 0
		}
	}
	return 0
}
