// Package util holds small network helpers shared by the CLI and server
// startup paths.
package util

import "net"

// ResolveHost turns a bind host into something a browser can reach. The
// wildcard address resolves to the first non-loopback IPv4 so printed URLs
// work from other machines.
func ResolveHost(host string) string {
	switch host {
	case "", "localhost":
		return "localhost"
	case "0.0.0.0", "::":
		return localIP()
	}
	return host
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return "127.0.0.1"
}
