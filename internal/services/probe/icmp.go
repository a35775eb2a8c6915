package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// ErrNoReply is returned by a Pinger when no matching echo reply arrived in time.
var ErrNoReply = errors.New("no echo reply")

const (
	defaultEchoTimeout = time.Second
	maxReplySize       = 1500
)

// PacketConn is the subset of *icmp.PacketConn used by ICMPPinger.
type PacketConn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, dst net.Addr) (int, error)
	SetDeadline(t time.Time) error
	Close() error
}

// ListenFunc opens an ICMP packet socket, like icmp.ListenPacket.
type ListenFunc func(network, address string) (PacketConn, error)

func listenICMP(network, address string) (PacketConn, error) {
	conn, err := icmp.ListenPacket(network, address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ICMPPinger sends ICMP echo requests. It prefers the unprivileged datagram
// socket and falls back to a raw socket.
type ICMPPinger struct {
	id     int
	seq    atomic.Uint32
	listen ListenFunc
}

// NewICMPPinger creates a pinger using golang.org/x/net/icmp sockets.
func NewICMPPinger() *ICMPPinger {
	return &ICMPPinger{
		id:     os.Getpid() & 0xffff,
		listen: listenICMP,
	}
}

// NewICMPPingerWithListener creates a pinger on a custom socket opener (for testing).
func NewICMPPingerWithListener(id int, listen ListenFunc) *ICMPPinger {
	return &ICMPPinger{
		id:     id & 0xffff,
		listen: listen,
	}
}

// Ping sends one echo request carrying payloadSize bytes and waits for a
// reply from ip whose payload matches exactly.
func (p *ICMPPinger) Ping(ctx context.Context, ip string, payloadSize int) (time.Duration, error) {
	dst := net.ParseIP(ip).To4()
	if dst == nil {
		return 0, fmt.Errorf("invalid IPv4 address: %s", ip)
	}

	conn, privileged, err := p.open()
	if err != nil {
		return 0, err
	}
	defer func() { _ = conn.Close() }()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultEchoTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return 0, fmt.Errorf("set deadline: %w", err)
	}

	seq := int(p.seq.Add(1) & 0xffff)
	payload := echoPayload(seq, payloadSize)

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: payload},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("marshal echo: %w", err)
	}

	var addr net.Addr = &net.UDPAddr{IP: dst}
	if privileged {
		addr = &net.IPAddr{IP: dst}
	}

	start := time.Now()
	if _, err := conn.WriteTo(wb, addr); err != nil {
		return 0, fmt.Errorf("send echo: %w", err)
	}

	rb := make([]byte, maxReplySize)
	for {
		n, peer, err := conn.ReadFrom(rb)
		if err != nil {
			var netErr net.Error
			if (errors.As(err, &netErr) && netErr.Timeout()) || ctx.Err() != nil {
				return 0, ErrNoReply
			}
			return 0, fmt.Errorf("read echo reply: %w", err)
		}

		if !peerIs(peer, dst) {
			continue
		}

		rm, err := icmp.ParseMessage(ipv4.ICMPTypeEcho.Protocol(), rb[:n])
		if err != nil || rm.Type != ipv4.ICMPTypeEchoReply {
			continue
		}

		reply, ok := rm.Body.(*icmp.Echo)
		if !ok || reply.Seq != seq {
			continue
		}
		// The kernel rewrites the identifier on datagram sockets.
		if privileged && reply.ID != p.id {
			continue
		}
		if !bytes.Equal(reply.Data, payload) {
			continue
		}

		return time.Since(start), nil
	}
}

func (p *ICMPPinger) open() (PacketConn, bool, error) {
	conn, err := p.listen("udp4", "0.0.0.0")
	if err == nil {
		return conn, false, nil
	}

	conn, rawErr := p.listen("ip4:icmp", "0.0.0.0")
	if rawErr != nil {
		return nil, false, fmt.Errorf("open ICMP socket: %w", errors.Join(err, rawErr))
	}

	return conn, true, nil
}

func echoPayload(seq, size int) []byte {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(seq + i)
	}
	return payload
}

func peerIs(peer net.Addr, ip net.IP) bool {
	switch a := peer.(type) {
	case *net.UDPAddr:
		return a.IP.Equal(ip)
	case *net.IPAddr:
		return a.IP.Equal(ip)
	default:
		return false
	}
}
