package deviceaddr

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected string
	}{
		{"ipv4", "10.0.0.5", "10-0-0-5"},
		{"ipv4 with port", "10.0.0.5:4222", "10-0-0-5-4222"},
		{"ipv6", "fe80::1", "fe80--1"},
		{"already clean", "localhost", "localhost"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, Sanitize(test.addr))
		})
	}
}

func TestSanitize_NoSubjectSeparators(t *testing.T) {
	out := Sanitize("192.168.1.17")
	assert.False(t, strings.ContainsAny(out, ".:"), "sanitized address must be a single subject token")
}

func TestResolve(t *testing.T) {
	addr, err := Resolve()
	if err != nil {
		t.Skipf("no usable network interface: %v", err)
	}

	require.NotEmpty(t, addr)
	ip := net.ParseIP(addr)
	require.NotNil(t, ip, "resolved address must parse as an IP")
	assert.False(t, ip.IsLoopback())
}
