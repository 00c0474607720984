package tunnel

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/dns/dnsmessage"

	"device-lock-control-plane/internal/agent/filter"
	rsdomain "device-lock-control-plane/internal/ruleset/domain"
)

// chanDevice is an in-memory TUN: tests push packets into in and read forwarded ones from out.
type chanDevice struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newChanDevice() *chanDevice {
	return &chanDevice{in: make(chan []byte, 16), out: make(chan []byte, 16), closed: make(chan struct{})}
}

func (d *chanDevice) Read(b []byte) (int, error) {
	select {
	case p := <-d.in:
		return copy(b, p), nil
	case <-d.closed:
		return 0, io.EOF
	}
}

func (d *chanDevice) Write(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	select {
	case d.out <- cp:
		return len(b), nil
	case <-d.closed:
		return 0, io.ErrClosedPipe
	}
}

func (d *chanDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func (d *chanDevice) expect(t *testing.T, what string) []byte {
	t.Helper()
	select {
	case p := <-d.out:
		return p
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: no packet forwarded", what)
		return nil
	}
}

func (d *chanDevice) expectNone(t *testing.T, what string) {
	t.Helper()
	select {
	case p := <-d.out:
		t.Fatalf("%s: unexpected packet forwarded (%d bytes)", what, len(p))
	case <-time.After(100 * time.Millisecond):
	}
}

func helloFor(t *testing.T, serverName string) []byte {
	t.Helper()
	client, server := net.Pipe()
	defer server.Close()
	go func() {
		defer client.Close()
		_ = tls.Client(client, &tls.Config{ServerName: serverName, InsecureSkipVerify: true}).Handshake()
	}()
	_ = server.SetDeadline(time.Now().Add(5 * time.Second))
	header := make([]byte, 5)
	if _, err := io.ReadFull(server, header); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	body := make([]byte, int(header[3])<<8|int(header[4]))
	if _, err := io.ReadFull(server, body); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	return append(header, body...)
}

func dnsResponse(t *testing.T, name string, addr [4]byte) []byte {
	t.Helper()
	qname := dnsmessage.MustNewName(name)
	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{Response: true})
	_ = b.StartQuestions()
	_ = b.Question(dnsmessage.Question{Name: qname, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET})
	_ = b.StartAnswers()
	_ = b.AResource(dnsmessage.ResourceHeader{Name: qname, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET, TTL: 60}, dnsmessage.AResource{A: addr})
	msg, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestLoop_ForwardsAndFilters(t *testing.T) {
	engine, err := filter.NewEngine(filter.Config{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	engine.Activate(&rsdomain.RuleSet{
		Version:        1,
		BlockedDomains: []string{"reddit.com", "tiktok.com"},
		Policy:         rsdomain.Policy{DefaultUnknownSNI: rsdomain.UnknownBlock},
	})
	device, uplink := newChanDevice(), newChanDevice()
	loop := NewLoop(device, uplink, engine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	device.in <- ipv4Packet(t, 6, "10.0.0.2", "93.184.216.34", tcpSegment(40001, 443, helloFor(t, "example.org")))
	uplink.expect(t, "allowed hello")

	device.in <- ipv4Packet(t, 6, "10.0.0.2", "151.101.1.140", tcpSegment(40002, 443, helloFor(t, "www.reddit.com")))
	uplink.expectNone(t, "blocked hello")

	device.in <- []byte{0xff, 0xff}
	uplink.expectNone(t, "unparseable packet while locked")

	// An inbound answer teaches the engine the address of tiktok.com.
	answer := ipv4Packet(t, 17, "1.1.1.1", "10.0.0.2", udpDatagram(53, 5353, dnsResponse(t, "tiktok.com.", [4]byte{203, 0, 113, 9})))
	uplink.in <- answer
	device.expect(t, "inbound dns answer")

	device.in <- ipv4Packet(t, 17, "10.0.0.2", "203.0.113.9", udpDatagram(40003, 443, []byte{0xc3, 0, 0, 0, 1}))
	uplink.expectNone(t, "QUIC to learned blocked address")

	if !loop.Running() {
		t.Error("loop should report running")
	}
	if got := loop.Dropped(); got != 3 {
		t.Errorf("Dropped = %d, want 3", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after cancel = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if loop.Running() {
		t.Error("loop should report stopped")
	}
}

func TestLoop_InactiveEnginePassesEverything(t *testing.T) {
	engine, _ := filter.NewEngine(filter.Config{})
	device, uplink := newChanDevice(), newChanDevice()
	loop := NewLoop(device, uplink, engine, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	device.in <- []byte{0xff, 0xff}
	uplink.expect(t, "unparseable packet while unlocked")
	device.in <- ipv4Packet(t, 6, "10.0.0.2", "151.101.1.140", tcpSegment(40002, 443, helloFor(t, "www.reddit.com")))
	uplink.expect(t, "hello while unlocked")
}

func TestLoop_StopsOnDeviceError(t *testing.T) {
	engine, _ := filter.NewEngine(filter.Config{})
	device, uplink := newChanDevice(), newChanDevice()
	loop := NewLoop(device, uplink, engine, nil)
	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	_ = device.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Error("Run should report the device failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
