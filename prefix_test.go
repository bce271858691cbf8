package hostmux

import (
	"testing"

	"github.com/monzo/terrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrefix(t *testing.T) {
	cases := []struct {
		raw string

		prefix  Prefix
		errCode string // empty means the parse should succeed
	}{
		{
			raw:    "http://example.com/",
			prefix: Prefix{Host: "example.com", Port: 80, Path: "/"},
		},
		{
			raw:    "https://example.com/",
			prefix: Prefix{Secure: true, Host: "example.com", Port: 443, Path: "/"},
		},
		{
			raw:    "http://example.com:8080/api/",
			prefix: Prefix{Host: "example.com", Port: 8080, Path: "/api/"},
		},
		{
			raw:    "https://example.com:8443/api/v1/",
			prefix: Prefix{Secure: true, Host: "example.com", Port: 8443, Path: "/api/v1/"},
		},
		{
			raw:    "http://*:8080/",
			prefix: Prefix{Host: "*", Port: 8080, Path: "/"},
		},
		{
			raw:    "http://+/",
			prefix: Prefix{Host: "+", Port: 80, Path: "/"},
		},
		{
			raw:    "http://127.0.0.1:8080/",
			prefix: Prefix{Host: "127.0.0.1", Port: 8080, Path: "/"},
		},
		{
			raw:    "http://[::1]:8080/",
			prefix: Prefix{Host: "[::1]", Port: 8080, Path: "/"},
		},
		{
			raw:    "http://[2001:db8::1]/",
			prefix: Prefix{Host: "[2001:db8::1]", Port: 80, Path: "/"},
		},
		{
			raw:     "ftp://example.com/",
			errCode: "bad_request.invalid_scheme",
		},
		{
			raw:     "example.com/",
			errCode: "bad_request.invalid_scheme",
		},
		{
			raw:     "http://example.com:0/",
			errCode: "bad_request.invalid_port",
		},
		{
			raw:     "http://example.com:70000/",
			errCode: "bad_request.invalid_port",
		},
		{
			// The whole segment between the first colon and the path must be
			// one base-10 port
			raw:     "http://example.com:0:8080/",
			errCode: "bad_request.invalid_port",
		},
		{
			raw:     "http://example.com:http/",
			errCode: "bad_request.invalid_port",
		},
		{
			raw:     "http://example.com:-1/",
			errCode: "bad_request.invalid_port",
		},
		{
			raw:     "http://:8080/",
			errCode: "bad_request.invalid_host",
		},
		{
			raw:     "http://ex_ample.com/",
			errCode: "bad_request.invalid_host",
		},
		{
			raw:     "http://[::1/",
			errCode: "bad_request.invalid_host",
		},
		{
			raw:     "http://example.com",
			errCode: "bad_request.invalid_path",
		},
		{
			raw:     "http://example.com/api",
			errCode: "bad_request.invalid_path",
		},
		{
			raw:     "http://example.com/a%2fb/",
			errCode: "bad_request.invalid_path.percent",
		},
		{
			raw:     "http://example.com/a//b/",
			errCode: "bad_request.invalid_path.double_slash",
		},
	}
	for _, c := range cases {
		c := c
		t.Run(c.raw, func(t *testing.T) {
			p, err := ParsePrefix(c.raw)
			if c.errCode != "" {
				require.Error(t, err)
				assert.True(t, terrors.PrefixMatches(err, c.errCode), "want %s, got %v", c.errCode, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.prefix, p)
		})
	}
}

func TestPrefixString(t *testing.T) {
	p, err := ParsePrefix("http://example.com/api/")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:80/api/", p.String())

	p, err = ParsePrefix("https://[::1]:8443/")
	require.NoError(t, err)
	assert.Equal(t, "https://[::1]:8443/", p.String())
}
