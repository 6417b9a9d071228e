package util

import (
	"net"
	"strconv"
)

// IsPortAvailable reports whether the port can be bound on host. An empty
// host checks all interfaces.
func IsPortAvailable(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
