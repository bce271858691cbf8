package hostmux

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/monzo/terrors"
	"golang.org/x/net/idna"
)

// A Prefix is a parsed, validated URL prefix of the form
// scheme://host[:port]/path/. Prefixes are immutable values: once returned by
// ParsePrefix they carry no partially-valid state.
type Prefix struct {
	// Secure is derived from the scheme: true for https, false for http.
	Secure bool
	// Host is "*", "+", an IP literal (IPv6 in bracket form), or a DNS name.
	Host string
	// Port is in (0, 65536), defaulted to 80/443 by scheme when absent.
	Port int
	// Path always ends with "/" and contains neither "%" nor "//".
	Path string
}

// String reassembles the prefix in canonical form, with the port always
// explicit. Two prefixes are the same claim iff their canonical forms match.
func (p Prefix) String() string {
	scheme := "http"
	if p.Secure {
		scheme = "https"
	}
	return scheme + "://" + p.Host + ":" + strconv.Itoa(p.Port) + p.Path
}

// ParsePrefix parses and validates a raw prefix string. It is purely
// syntactic and never touches the network; all rejections are bad_request
// terrors with a sub-code naming the offending part (invalid_scheme,
// invalid_port, invalid_host, invalid_path).
func ParsePrefix(raw string) (Prefix, error) {
	p := Prefix{}
	var rest string
	switch {
	case strings.HasPrefix(raw, "https://"):
		p.Secure = true
		p.Port = 443
		rest = raw[len("https://"):]
	case strings.HasPrefix(raw, "http://"):
		p.Port = 80
		rest = raw[len("http://"):]
	default:
		return Prefix{}, terrors.BadRequest("invalid_scheme",
			fmt.Sprintf("prefix %q: scheme must be http or https", raw), nil)
	}

	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return Prefix{}, terrors.BadRequest("invalid_path",
			fmt.Sprintf("prefix %q: missing path", raw), nil)
	}
	hostport := rest[:slash]
	path := rest[slash:]

	host := hostport
	if colon := portIndex(hostport); colon >= 0 {
		host = hostport[:colon]
		portStr := hostport[colon+1:]
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port >= 65536 {
			return Prefix{}, terrors.BadRequest("invalid_port",
				fmt.Sprintf("prefix %q: invalid port %q", raw, portStr), nil)
		}
		p.Port = port
	}
	if err := validateHost(host); err != nil {
		return Prefix{}, terrors.BadRequest("invalid_host",
			fmt.Sprintf("prefix %q: %v", raw, err), nil)
	}
	p.Host = host

	switch {
	case !strings.HasSuffix(path, "/"):
		return Prefix{}, terrors.BadRequest("invalid_path",
			fmt.Sprintf("prefix %q: path must end with /", raw), nil)
	case strings.ContainsRune(path, '%'):
		// Rejected outright rather than percent-decoded; a prefix with an
		// escape in it is ambiguous as a match pattern.
		return Prefix{}, terrors.BadRequest("invalid_path.percent",
			fmt.Sprintf("prefix %q: path must not contain %%", raw), nil)
	case strings.Contains(path, "//"):
		return Prefix{}, terrors.BadRequest("invalid_path.double_slash",
			fmt.Sprintf("prefix %q: path must not contain //", raw), nil)
	}
	p.Path = path

	return p, nil
}

// portIndex returns the index of the colon separating host from port, or -1
// if no port is present. Bracketed IPv6 literals keep their internal colons;
// a port can only follow the closing bracket.
func portIndex(hostport string) int {
	if strings.HasPrefix(hostport, "[") {
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return -1
		}
		if end+1 < len(hostport) && hostport[end+1] == ':' {
			return end + 1
		}
		return -1
	}
	return strings.IndexByte(hostport, ':')
}

// trimBrackets strips the brackets from an IPv6 literal host token; any
// other host is returned unchanged.
func trimBrackets(host string) string {
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host[1 : len(host)-1]
	}
	return host
}

// validateHost checks host syntax only. Valid tokens are the wildcards "*"
// and "+", IPv4 literals, bracketed IPv6 literals, and names matching DNS
// hostname grammar.
func validateHost(host string) error {
	switch {
	case host == "*" || host == "+":
		return nil
	case host == "":
		return fmt.Errorf("empty host")
	case strings.HasPrefix(host, "["):
		if !strings.HasSuffix(host, "]") {
			return fmt.Errorf("unterminated IPv6 literal %q", host)
		}
		inner := host[1 : len(host)-1]
		if ip := net.ParseIP(inner); ip == nil || ip.To4() != nil {
			return fmt.Errorf("invalid IPv6 literal %q", host)
		}
		return nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}
	if _, err := idna.Lookup.ToASCII(host); err != nil {
		return fmt.Errorf("invalid hostname %q", host)
	}
	return nil
}
