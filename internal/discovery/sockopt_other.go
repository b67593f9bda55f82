//go:build !unix

package discovery

import "syscall"

// The runtime enables SO_BROADCAST on IPv4 datagram sockets on these platforms.
func setBroadcast(_, _ string, _ syscall.RawConn) error {
	return nil
}
