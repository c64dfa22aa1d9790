package dcap

import (
	"net"

	"golang.org/x/net/ipv4"
)

// setMulticastTTL bounds multicast propagation to the local segment and its
// immediate neighbors.
func setMulticastTTL(conn *net.UDPConn, ttl int) error {
	return ipv4.NewPacketConn(conn).SetMulticastTTL(ttl)
}
