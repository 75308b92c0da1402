package router

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// destinationOf extracts the destination address of an IPv4 packet,
// classifying anything else (too short to be an IP header, or not version
// 4) without allocating beyond the fixed-size layers.IPv4 struct.
func destinationOf(packet []byte) (net.IP, outcome) {
	if len(packet) < 1 {
		return nil, outcomeNotIP
	}
	version := packet[0] >> 4
	if version != 4 {
		return nil, outcomeNoIPv4
	}

	var ip layers.IPv4
	if err := ip.DecodeFromBytes(packet, gopacket.NilDecodeFeedback); err != nil {
		return nil, outcomeNotIP
	}
	return ip.DstIP, outcomeOK
}
