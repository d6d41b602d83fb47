package ingest

import (
	"context"
	"fmt"
	"net"

	"github.com/banshee-data/beacon.report/internal/monitoring"
)

// maxDatagram bounds a single position report. Engine messages are a few
// hundred bytes even with a dozen anchors.
const maxDatagram = 64 * 1024

// Source delivers parsed messages into a hub until its context ends.
type Source interface {
	// Hub returns the hub messages are broadcast into.
	Hub() *Hub
	// Monitor reads from the underlying transport until ctx is done or
	// the transport fails.
	Monitor(ctx context.Context) error
	Close() error
}

// UDPListener receives position-engine reports as JSON datagrams.
type UDPListener struct {
	conn *net.UDPConn
	hub  *Hub
}

// NewUDPListener binds addr (e.g. ":9021") and returns a listener ready
// to Monitor.
func NewUDPListener(addr string) (*UDPListener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ingest address %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %q: %w", addr, err)
	}
	return &UDPListener{conn: conn, hub: NewHub()}, nil
}

func (l *UDPListener) Hub() *Hub { return l.hub }

// LocalAddr reports the bound address, useful when addr was ":0".
func (l *UDPListener) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// Monitor reads datagrams and broadcasts the ones that parse. Malformed
// packets are logged and dropped. Monitor returns when ctx is cancelled
// or the socket is closed.
func (l *UDPListener) Monitor(ctx context.Context) error {
	// closing the socket is the only way to unblock ReadFromUDP
	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, remote, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("ingest socket read failed: %w", err)
		}
		msg, err := ParseMessage(buf[:n])
		if err != nil {
			monitoring.Logf("ingest: bad datagram from %s: %v", remote, err)
			continue
		}
		l.hub.Broadcast(msg)
	}
}

func (l *UDPListener) Close() error {
	l.hub.Close()
	return l.conn.Close()
}
