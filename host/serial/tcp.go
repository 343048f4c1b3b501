//go:build !tinygo

package serial

import (
	"fmt"
	"net"
	"time"
)

// TCPPort carries the line protocol over a TCP connection.
type TCPPort struct {
	conn net.Conn
}

// Dial connects to a board served over TCP.
func Dial(addr string, timeout time.Duration) (Port, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &TCPPort{conn: conn}, nil
}

// NewTCPPort wraps an established connection.
func NewTCPPort(conn net.Conn) *TCPPort {
	return &TCPPort{conn: conn}
}

func (p *TCPPort) Read(b []byte) (int, error)  { return p.conn.Read(b) }
func (p *TCPPort) Write(b []byte) (int, error) { return p.conn.Write(b) }
func (p *TCPPort) Close() error                { return p.conn.Close() }

// Flush is a no-op; TCP writes are unbuffered here.
func (p *TCPPort) Flush() error { return nil }
