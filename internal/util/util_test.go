package util

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveHost(t *testing.T) {
	assert.Equal(t, "localhost", ResolveHost(""))
	assert.Equal(t, "localhost", ResolveHost("localhost"))
	assert.Equal(t, "127.0.0.1", ResolveHost("127.0.0.1"))
	assert.Equal(t, "192.168.1.5", ResolveHost("192.168.1.5"))

	resolved := ResolveHost("0.0.0.0")
	assert.NotEqual(t, "0.0.0.0", resolved)
	assert.NotEmpty(t, resolved)
}

func TestIsPortAvailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	assert.False(t, IsPortAvailable("127.0.0.1", port), "port is held by the listener")

	require.NoError(t, ln.Close())
	assert.True(t, IsPortAvailable("127.0.0.1", port))
}
