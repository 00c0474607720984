package tunnel

import (
	"encoding/binary"
	"errors"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"device-lock-control-plane/internal/agent/filter"
)

var errShortPacket = errors.New("tunnel: truncated packet")

// IPv6 extension headers that are skipped to reach the transport header.
const (
	ipv6HopByHop = 0
	ipv6Routing  = 43
	ipv6Fragment = 44
	ipv6DestOpts = 60
)

// Parse decodes the IP and transport headers of a raw packet read from a TUN device.
// A non-first fragment is marked Fragment and carries the protocol number and no ports.
func Parse(b []byte) (filter.Packet, error) {
	if len(b) == 0 {
		return filter.Packet{}, errShortPacket
	}
	switch b[0] >> 4 {
	case ipv4.Version:
		return parseIPv4(b)
	case ipv6.Version:
		return parseIPv6(b)
	}
	return filter.Packet{}, errors.New("tunnel: not an IP packet")
}

func parseIPv4(b []byte) (filter.Packet, error) {
	h, err := ipv4.ParseHeader(b)
	if err != nil {
		return filter.Packet{}, err
	}
	if h.TotalLen >= h.Len && h.TotalLen < len(b) {
		b = b[:h.TotalLen]
	}
	src, _ := netip.AddrFromSlice(h.Src.To4())
	dst, _ := netip.AddrFromSlice(h.Dst.To4())
	if h.FragOff != 0 {
		return fragment(uint8(h.Protocol), src, dst), nil
	}
	return transport(uint8(h.Protocol), src, dst, b[h.Len:])
}

func parseIPv6(b []byte) (filter.Packet, error) {
	h, err := ipv6.ParseHeader(b)
	if err != nil {
		return filter.Packet{}, err
	}
	src, _ := netip.AddrFromSlice(h.Src.To16())
	dst, _ := netip.AddrFromSlice(h.Dst.To16())
	rest := b[ipv6.HeaderLen:]
	if h.PayloadLen < len(rest) {
		rest = rest[:h.PayloadLen]
	}
	next := uint8(h.NextHeader)
	for next == ipv6HopByHop || next == ipv6Routing || next == ipv6DestOpts {
		if len(rest) < 8 {
			return filter.Packet{}, errShortPacket
		}
		extLen := 8 + int(rest[1])*8
		if len(rest) < extLen {
			return filter.Packet{}, errShortPacket
		}
		next, rest = rest[0], rest[extLen:]
	}
	if next == ipv6Fragment {
		if len(rest) < 8 {
			return filter.Packet{}, errShortPacket
		}
		if binary.BigEndian.Uint16(rest[2:4])>>3 != 0 {
			return fragment(rest[0], src, dst), nil
		}
		next, rest = rest[0], rest[8:]
	}
	return transport(next, src, dst, rest)
}

func fragment(proto uint8, src, dst netip.Addr) filter.Packet {
	return filter.Packet{
		Proto:    proto,
		Src:      netip.AddrPortFrom(src, 0),
		Dst:      netip.AddrPortFrom(dst, 0),
		Fragment: true,
	}
}

func transport(proto uint8, src, dst netip.Addr, b []byte) (filter.Packet, error) {
	p := filter.Packet{Proto: proto, Src: netip.AddrPortFrom(src, 0), Dst: netip.AddrPortFrom(dst, 0)}
	switch proto {
	case filter.ProtoTCP:
		if len(b) < 20 {
			return filter.Packet{}, errShortPacket
		}
		off := int(b[12]>>4) * 4
		if off < 20 || off > len(b) {
			return filter.Packet{}, errShortPacket
		}
		p.Payload = b[off:]
	case filter.ProtoUDP:
		if len(b) < 8 {
			return filter.Packet{}, errShortPacket
		}
		p.Payload = b[8:]
	default:
		p.Payload = b
		return p, nil
	}
	p.Src = netip.AddrPortFrom(src, binary.BigEndian.Uint16(b[0:2]))
	p.Dst = netip.AddrPortFrom(dst, binary.BigEndian.Uint16(b[2:4]))
	return p, nil
}
