package forward

import (
	"encoding/binary"
	"testing"

	"gvisor.dev/gvisor/pkg/tcpip"

	"github.com/usbarmory/natgw/net/arpcache"
	"github.com/usbarmory/natgw/net/nat"
)

type fakeSender struct {
	sent [][]byte
}

func (s *fakeSender) Send(frame []byte) error {
	s.sent = append(s.sent, append([]byte(nil), frame...))
	return nil
}

func mac(last byte) tcpip.LinkAddress {
	return tcpip.LinkAddress([]byte{0x02, 0x00, 0x00, 0x00, 0x00, last})
}

func ip4(a, b, c, d byte) tcpip.Address {
	return tcpip.Address([]byte{a, b, c, d})
}

func newTestEngine() (*Engine, *fakeSender, *fakeSender) {
	lanSender := &fakeSender{}
	wanSender := &fakeSender{}

	lan := &Interface{Name: "lan", Device: lanSender, MAC: mac(1), LocalIP: ip4(192, 168, 1, 1)}
	wan := &Interface{Name: "wan", Device: wanSender, MAC: mac(2), LocalIP: ip4(10, 3, 5, 99), PeerIP: ip4(10, 3, 5, 1)}

	var natTable nat.Table
	natTable.Init()

	var arp arpcache.Cache

	e := &Engine{
		LAN:       lan,
		WAN:       wan,
		LANSubnet: [3]byte{192, 168, 1},
		WANIP:     ip4(10, 3, 5, 99),
		NAT:       &natTable,
		ARP:       &arp,
	}

	return e, lanSender, wanSender
}

// buildEthIPv4ICMPEcho builds a minimal Ethernet/IPv4/ICMP-echo-request
// frame for test input.
func buildEthIPv4ICMPEcho(srcMAC, dstMAC tcpip.LinkAddress, srcIP, dstIP tcpip.Address, id, seq uint16) []byte {
	frame := make([]byte, ethHeaderLen+ipv4MinHeaderLen+8)

	setEthDst(frame, dstMAC)
	setEthSrc(frame, srcMAC)
	binary.BigEndian.PutUint16(frame[ethTypeOffset:], EtherTypeIPv4)

	ip := frame[ethHeaderLen:]
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:], uint16(ipv4MinHeaderLen+8))
	setIPv4TTL(ip, 64)
	ip[ipv4ProtoOffset] = nat.ICMP
	setIPv4Src(ip, srcIP)
	setIPv4Dst(ip, dstIP)

	icmp := ip[ipv4MinHeaderLen:]
	setICMPType(icmp, ICMPEchoRequest)
	setICMPID(icmp, id)
	binary.BigEndian.PutUint16(icmp[6:], seq)

	zeroICMPChecksum(icmp)
	setICMPChecksum(icmp, ipv4Checksum(icmp))

	zeroIPv4Checksum(ip)
	setIPv4Checksum(ip, ipv4Checksum(ip[:ipv4MinHeaderLen]))

	return frame
}

func TestLocalEchoReply(t *testing.T) {
	e, lanSender, _ := newTestEngine()

	req := buildEthIPv4ICMPEcho(mac(100), e.LAN.MAC, ip4(192, 168, 1, 103), e.LAN.LocalIP, 0x1234, 1)

	if err := e.Process(e.LAN, req, 0); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(lanSender.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(lanSender.sent))
	}

	reply := lanSender.sent[0]
	ip := reply[ethHeaderLen:]
	icmp := ip[ipv4IHL(ip):]

	if icmpType(icmp) != ICMPEchoReply {
		t.Fatalf("reply ICMP type = %d, want %d", icmpType(icmp), ICMPEchoReply)
	}

	if icmpID(icmp) != 0x1234 {
		t.Fatalf("reply ICMP id = %#x, want 0x1234", icmpID(icmp))
	}

	if ipv4Src(ip) != e.LAN.LocalIP || ipv4Dst(ip) != ip4(192, 168, 1, 103) {
		t.Fatalf("reply IPs = %v -> %v, want %v -> %v", ipv4Src(ip), ipv4Dst(ip), e.LAN.LocalIP, ip4(192, 168, 1, 103))
	}

	if e.NAT.Stats().Translated != 0 {
		t.Fatalf("local echo reply must not create a NAT session")
	}
}

func TestNATOutboundICMP(t *testing.T) {
	e, _, wanSender := newTestEngine()

	// ARP cache needs the destination MAC for the outbound hop.
	e.ARP.Add(ip4(10, 3, 5, 103), mac(50), 0)

	req := buildEthIPv4ICMPEcho(mac(100), e.LAN.MAC, ip4(192, 168, 1, 103), ip4(10, 3, 5, 103), 0x1234, 1)

	if err := e.Process(e.LAN, req, 0); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(wanSender.sent) != 1 {
		t.Fatalf("sent %d frames on WAN, want 1", len(wanSender.sent))
	}

	out := wanSender.sent[0]
	ip := out[ethHeaderLen:]
	icmp := ip[ipv4IHL(ip):]

	if ipv4Src(ip) != e.WANIP {
		t.Fatalf("outbound source IP = %v, want %v", ipv4Src(ip), e.WANIP)
	}

	if icmpID(icmp) != nat.PortRangeStart {
		t.Fatalf("outbound ICMP id = %d, want %d", icmpID(icmp), nat.PortRangeStart)
	}

	if ethDst(out) != mac(50) {
		t.Fatalf("outbound dest MAC = %v, want %v", ethDst(out), mac(50))
	}
}

func TestNATOutboundDroppedWithoutARPEntry(t *testing.T) {
	e, _, wanSender := newTestEngine()

	req := buildEthIPv4ICMPEcho(mac(100), e.LAN.MAC, ip4(192, 168, 1, 103), ip4(10, 3, 5, 103), 0x1234, 1)

	if err := e.Process(e.LAN, req, 0); err != ErrARPMiss {
		t.Fatalf("Process: got %v, want ErrARPMiss", err)
	}

	if len(wanSender.sent) != 0 {
		t.Fatalf("expected no frame sent, got %d", len(wanSender.sent))
	}

	if e.Stats.Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", e.Stats.Dropped)
	}
}

func TestNATRoundTripICMP(t *testing.T) {
	e, _, wanSender := newTestEngine()

	e.ARP.Add(ip4(10, 3, 5, 103), mac(50), 0)
	e.ARP.Add(ip4(192, 168, 1, 103), mac(100), 0)

	out := buildEthIPv4ICMPEcho(mac(100), e.LAN.MAC, ip4(192, 168, 1, 103), ip4(10, 3, 5, 103), 0x1234, 1)

	if err := e.Process(e.LAN, out, 0); err != nil {
		t.Fatalf("outbound Process: %v", err)
	}

	wanFrame := wanSender.sent[0]
	wanIP := wanFrame[ethHeaderLen:]
	allocated := icmpID(wanIP[ipv4IHL(wanIP):])

	// peer replies
	reply := buildEthIPv4ICMPEcho(mac(50), e.WAN.MAC, ip4(10, 3, 5, 103), e.WANIP, allocated, 1)
	reply[ethHeaderLen+ipv4IHL(reply[ethHeaderLen:])] = ICMPEchoReply

	ip := reply[ethHeaderLen:]
	icmp := ip[ipv4IHL(ip):]
	zeroICMPChecksum(icmp)
	setICMPChecksum(icmp, ipv4Checksum(icmp))

	lanSenderInbound := &fakeSender{}
	e.LAN.Device = lanSenderInbound

	if err := e.Process(e.WAN, reply, 1000); err != nil {
		t.Fatalf("inbound Process: %v", err)
	}

	if len(lanSenderInbound.sent) != 1 {
		t.Fatalf("sent %d frames on LAN, want 1", len(lanSenderInbound.sent))
	}

	lanFrame := lanSenderInbound.sent[0]
	lanIP := lanFrame[ethHeaderLen:]
	lanICMP := lanIP[ipv4IHL(lanIP):]

	if ipv4Dst(lanIP) != ip4(192, 168, 1, 103) {
		t.Fatalf("inbound dest IP = %v, want %v", ipv4Dst(lanIP), ip4(192, 168, 1, 103))
	}

	if icmpID(lanICMP) != 0x1234 {
		t.Fatalf("inbound ICMP id = %#x, want 0x1234", icmpID(lanICMP))
	}
}

func TestARPRequestReply(t *testing.T) {
	e, lanSender, _ := newTestEngine()

	req := buildARP(mac(100), broadcastMAC, ARPRequest, ip4(192, 168, 1, 103), e.LAN.LocalIP, zeroMAC)

	if err := e.Process(e.LAN, req, 0); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(lanSender.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(lanSender.sent))
	}

	reply := lanSender.sent[0]
	body := reply[ethHeaderLen:]

	if arpOp(body) != ARPReply {
		t.Fatalf("reply op = %d, want %d", arpOp(body), ARPReply)
	}

	if arpSHA(body) != e.LAN.MAC || arpSPA(body) != e.LAN.LocalIP {
		t.Fatalf("reply sender = %v/%v, want %v/%v", arpSHA(body), arpSPA(body), e.LAN.MAC, e.LAN.LocalIP)
	}
}

func TestARPReplyUpdatesCache(t *testing.T) {
	e, _, _ := newTestEngine()

	reply := buildARP(mac(50), e.WAN.MAC, ARPReply, ip4(10, 3, 5, 1), e.WAN.LocalIP, e.WAN.MAC)

	if err := e.Process(e.WAN, reply, 0); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, ok := e.ARP.Lookup(ip4(10, 3, 5, 1))

	if !ok || got != mac(50) {
		t.Fatalf("ARP.Lookup = (%v, %v), want (%v, true)", got, ok, mac(50))
	}

	peerMAC, valid := e.WAN.PeerMAC()

	if !valid || peerMAC != mac(50) {
		t.Fatalf("WAN peer MAC = (%v, %v), want (%v, true)", peerMAC, valid, mac(50))
	}
}
