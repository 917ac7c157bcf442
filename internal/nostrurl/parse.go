// Package nostrurl parses the "nostr://" remote URL surface described in
// SPEC_FULL.md §4.1 / §6:
//
//	nostr://[user@][proto/]<alias>[/<relay-hint>]/<identifier>
package nostrurl

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Transport is an explicitly forced protocol, or "" to mean "negotiate".
type Transport string

const (
	TransportNegotiate Transport = ""
	TransportHTTP      Transport = "http"
	TransportHTTPS     Transport = "https"
	TransportSSH       Transport = "ssh"
	TransportGit       Transport = "git"
	TransportNgitRelay Transport = "ngit-relay"
	TransportGrasp     Transport = "grasp"
)

var validTransports = map[string]Transport{
	"http":       TransportHTTP,
	"https":      TransportHTTPS,
	"ssh":        TransportSSH,
	"git":        TransportGit,
	"ngit-relay": TransportNgitRelay,
	"grasp":      TransportGrasp,
}

// ErrBadURL is returned (wrapped) for any malformed nostr:// URL.
var ErrBadURL = errors.New("bad nostr url")

// URL is the parsed result of a nostr:// remote URL.
type URL struct {
	// SSHKeyFile is set when the URL carried a "<name>@ssh" user prefix;
	// it is either a bare filename or a path, stored as written. Parse
	// does not resolve a bare name against ~/.ssh, and git-remote-nostr
	// does not pass this value to the dispatcher, whose SSH attempts use
	// ~/.ssh/id_ed25519.
	SSHKeyFile string

	// Transport is the forced protocol, or TransportNegotiate.
	Transport Transport

	// Alias is either a bech32 npub or a NIP-05 address
	// ("local@domain" or "domain", the latter normalized to "_@domain").
	Alias string

	// RelayHint is an optional relay host used as a discovery starting
	// point.
	RelayHint string

	// Identifier is the percent-decoded repository identifier.
	Identifier string
}

// Parse parses raw as a nostr:// remote URL.
func Parse(raw string) (*URL, error) {
	const scheme = "nostr://"
	if !strings.HasPrefix(raw, scheme) {
		return nil, fmt.Errorf("%w: missing nostr:// scheme: %q", ErrBadURL, raw)
	}
	rest := raw[len(scheme):]
	if rest == "" {
		return nil, fmt.Errorf("%w: empty url", ErrBadURL)
	}

	result := &URL{}

	// The "user@" SSH-key-selector prefix is only recognized when the
	// component immediately following "@" is itself a transport keyword
	// (e.g. "nym1@ssh"); this disambiguates it from a NIP-05 alias of the
	// form "local@domain", which is never a transport keyword.
	if at := strings.Index(rest, "@"); at >= 0 {
		afterAt := rest[at+1:]
		next := afterAt
		if slash := strings.IndexByte(afterAt, '/'); slash >= 0 {
			next = afterAt[:slash]
		}
		if _, ok := validTransports[next]; ok {
			result.SSHKeyFile = rest[:at]
			rest = afterAt
		}
	}

	segments := strings.Split(rest, "/")
	segments = removeEmptyTrailing(segments)
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: missing alias", ErrBadURL)
	}

	// Optional "proto/" prefix.
	if t, ok := validTransports[segments[0]]; ok && len(segments) > 1 {
		result.Transport = t
		segments = segments[1:]
	}

	if len(segments) == 0 || segments[0] == "" {
		return nil, fmt.Errorf("%w: missing alias", ErrBadURL)
	}
	result.Alias = segments[0]
	segments = segments[1:]

	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: missing identifier", ErrBadURL)
	}

	if len(segments) >= 2 {
		result.RelayHint = segments[0]
		segments = segments[1:]
	}

	identRaw := strings.Join(segments, "/")
	if identRaw == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrBadURL)
	}
	ident, err := url.PathUnescape(identRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: bad identifier encoding: %v", ErrBadURL, err)
	}
	result.Identifier = ident

	result.Alias = normalizeAlias(result.Alias)

	return result, nil
}

// normalizeAlias lower-cases a bare NIP-05 domain ("example.com") to
// "_@example.com", and case-folds any domain host portion, so that
// re-parsing a re-emitted URL is idempotent per SPEC_FULL §8 invariant 2.
// npub aliases and "local@domain" aliases are left as-is apart from host
// case-folding.
func normalizeAlias(alias string) string {
	if strings.HasPrefix(alias, "npub1") {
		return alias
	}
	if !strings.Contains(alias, "@") {
		return "_@" + strings.ToLower(alias)
	}
	parts := strings.SplitN(alias, "@", 2)
	return parts[0] + "@" + strings.ToLower(parts[1])
}

func removeEmptyTrailing(segs []string) []string {
	for len(segs) > 0 && segs[len(segs)-1] == "" {
		segs = segs[:len(segs)-1]
	}
	return segs
}

// String re-emits the URL in normalized form. Parsing String() again
// yields an equal URL (SPEC_FULL §8 invariant 2).
func (u *URL) String() string {
	var b strings.Builder
	b.WriteString("nostr://")
	if u.SSHKeyFile != "" {
		b.WriteString(u.SSHKeyFile)
		b.WriteString("@")
	}
	if u.Transport != TransportNegotiate {
		b.WriteString(string(u.Transport))
		b.WriteString("/")
	}
	b.WriteString(u.Alias)
	b.WriteString("/")
	if u.RelayHint != "" {
		b.WriteString(u.RelayHint)
		b.WriteString("/")
	}
	b.WriteString(url.PathEscape(u.Identifier))
	return b.String()
}

// IsNIP05 reports whether Alias is a NIP-05 address rather than a bech32
// public key.
func (u *URL) IsNIP05() bool {
	return !strings.HasPrefix(u.Alias, "npub1")
}
