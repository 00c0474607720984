package filter

import (
	"bytes"
	"errors"
	"net"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/net/dns/dnsmessage"
)

var (
	errNotTLS   = errors.New("not a TLS ClientHello")
	errNeedMore = errors.New("incomplete handshake")
	errNoSNI    = errors.New("ClientHello without server_name")
	errNotHTTP  = errors.New("not an HTTP request")
	errNoHost   = errors.New("HTTP request without Host")
	errNotQuery = errors.New("not a DNS query")
)

const (
	recordTypeHandshake      = 0x16
	handshakeTypeClientHello = 0x01
	extensionServerName      = 0x0000
	serverNameTypeHostName   = 0x00
)

// serverName extracts the SNI host name from the start of a TLS stream. It returns
// errNeedMore when data ends before the server_name extension could be reached and
// errNoSNI when a complete ClientHello carries none.
func serverName(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errNeedMore
	}
	if data[0] != recordTypeHandshake {
		return "", errNotTLS
	}
	if len(data) < 5 {
		return "", errNeedMore
	}
	if data[1] != 3 {
		return "", errNotTLS
	}
	body := data[5:]
	if recLen := int(data[3])<<8 | int(data[4]); len(body) > recLen {
		body = body[:recLen]
	}

	s := cryptobyte.String(body)
	var msgType uint8
	var msgLen uint32
	if !s.ReadUint8(&msgType) || !s.ReadUint24(&msgLen) {
		return "", errNeedMore
	}
	if msgType != handshakeTypeClientHello {
		return "", errNotTLS
	}
	complete := len(s) >= int(msgLen)
	hello := s
	if complete {
		hello = s[:msgLen]
	}
	short := func() (string, error) {
		if complete {
			return "", errNoSNI
		}
		return "", errNeedMore
	}

	var (
		version                        uint16
		sessionID, suites, compression cryptobyte.String
	)
	if !hello.ReadUint16(&version) || !hello.Skip(32) ||
		!hello.ReadUint8LengthPrefixed(&sessionID) ||
		!hello.ReadUint16LengthPrefixed(&suites) ||
		!hello.ReadUint8LengthPrefixed(&compression) {
		return short()
	}
	if hello.Empty() {
		return "", errNoSNI
	}
	var exts cryptobyte.String
	if !hello.ReadUint16LengthPrefixed(&exts) {
		var extLen uint16
		if complete || !hello.ReadUint16(&extLen) {
			return short()
		}
		// Truncated: walk the extensions that did arrive.
		exts = hello
	}
	for !exts.Empty() {
		var typ uint16
		var ext cryptobyte.String
		if !exts.ReadUint16(&typ) || !exts.ReadUint16LengthPrefixed(&ext) {
			return short()
		}
		if typ != extensionServerName {
			continue
		}
		var names cryptobyte.String
		if !ext.ReadUint16LengthPrefixed(&names) {
			return "", errNoSNI
		}
		for !names.Empty() {
			var nameType uint8
			var name cryptobyte.String
			if !names.ReadUint8(&nameType) || !names.ReadUint16LengthPrefixed(&name) {
				return "", errNoSNI
			}
			if nameType == serverNameTypeHostName && len(name) > 0 {
				return string(name), nil
			}
		}
		return "", errNoSNI
	}
	return short()
}

// dnsQuestion returns the first question name of a DNS query.
func dnsQuestion(msg []byte) (string, error) {
	var p dnsmessage.Parser
	h, err := p.Start(msg)
	if err != nil {
		return "", err
	}
	if h.Response {
		return "", errNotQuery
	}
	q, err := p.Question()
	if err != nil {
		return "", err
	}
	return q.Name.String(), nil
}

var httpMethods = [][]byte{
	[]byte("GET "), []byte("POST "), []byte("HEAD "), []byte("PUT "),
	[]byte("DELETE "), []byte("OPTIONS "), []byte("PATCH "), []byte("CONNECT "),
}

// httpHost returns the Host header of a plaintext HTTP/1.x request.
func httpHost(data []byte) (string, error) {
	isRequest := false
	for _, m := range httpMethods {
		if bytes.HasPrefix(data, m) {
			isRequest = true
			break
		}
	}
	if !isRequest {
		return "", errNotHTTP
	}
	end := bytes.Index(data, []byte("\r\n\r\n"))
	head := data
	if end >= 0 {
		head = data[:end]
	}
	lines := bytes.Split(head, []byte("\r\n"))
	for _, line := range lines[1:] {
		k, v, ok := bytes.Cut(line, []byte(":"))
		if !ok || !strings.EqualFold(string(bytes.TrimSpace(k)), "host") {
			continue
		}
		host := string(bytes.TrimSpace(v))
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if host == "" {
			break
		}
		return host, nil
	}
	if end < 0 {
		return "", errNeedMore
	}
	return "", errNoHost
}

// Names of recognized tunnel protocols.
const (
	protoWireGuard = "wireguard"
	protoOpenVPN   = "openvpn"
	protoIPsec     = "ipsec"
	protoDoT       = "dot"
)

// evasionProtocol names the tunnel or encrypted-DNS protocol p belongs to, or "".
func evasionProtocol(p Packet) string {
	switch p.Proto {
	case ProtoUDP:
		switch {
		case p.Dst.Port() == 4500:
			return protoIPsec
		case p.Dst.Port() == 500 && isIKE(p.Payload):
			return protoIPsec
		case isWireGuard(p.Payload):
			return protoWireGuard
		case isOpenVPNReset(p.Payload):
			return protoOpenVPN
		}
	case ProtoTCP:
		switch {
		case p.Dst.Port() == 853:
			return protoDoT
		case len(p.Payload) > 2 && int(p.Payload[0])<<8|int(p.Payload[1]) == len(p.Payload)-2 && isOpenVPNReset(p.Payload[2:]):
			return protoOpenVPN
		}
	}
	return ""
}

// isWireGuard matches the fixed-size handshake messages and transport data of WireGuard.
func isWireGuard(b []byte) bool {
	if len(b) < 4 || b[1] != 0 || b[2] != 0 || b[3] != 0 {
		return false
	}
	switch b[0] {
	case 1:
		return len(b) == 148
	case 2:
		return len(b) == 92
	case 3:
		return len(b) == 64
	case 4:
		return len(b) >= 32 && (len(b)-16)%16 == 0
	}
	return false
}

// isOpenVPNReset matches a client hard-reset control packet (v2 or v3).
func isOpenVPNReset(b []byte) bool {
	if len(b) < 14 || len(b) > 512 {
		return false
	}
	opcode := b[0] >> 3
	return opcode == 7 || opcode == 10
}

// isIKE matches an IKEv1 or IKEv2 header whose length field covers the datagram.
func isIKE(b []byte) bool {
	if len(b) < 28 {
		return false
	}
	if v := b[17]; v != 0x20 && v != 0x10 {
		return false
	}
	length := int(b[24])<<24 | int(b[25])<<16 | int(b[26])<<8 | int(b[27])
	return length == len(b)
}
