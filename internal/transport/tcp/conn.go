package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"redlight/internal/protocol"
)

const (
	// RecvSize is the most bytes taken from the socket per read
	RecvSize = 4096

	// DefaultWriteTimeout bounds a single frame write
	DefaultWriteTimeout = 5 * time.Second
)

// ErrPeerClosed is reported when the remote end closes the stream
var ErrPeerClosed = errors.New("peer closed the connection")

// Error is a connect, listen, send or receive failure on one connection
type Error struct {
	Op     string
	ConnID int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s (conn %d): %v", e.Op, e.ConnID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Handler receives what a connection reads. HandleFrame gets every
// delimiter-free fragment in arrival order; HandleError is called at most
// once per connection, always from the receiving goroutine.
type Handler interface {
	HandleFrame(c *Conn, fragment []byte)
	HandleError(c *Conn, err error)
}

// Conn is one end of a framed byte stream
type Conn struct {
	conn         net.Conn
	id           atomic.Int64
	writeTimeout time.Duration

	writeMu   sync.Mutex
	errOnce   sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewConn wraps an established stream. The id starts as protocol.ServerID
// until the owner assigns one.
func NewConn(conn net.Conn, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	c := &Conn{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
	c.id.Store(protocol.ServerID)
	return c
}

// Dial connects to a host
func Dial(ctx context.Context, addr string, writeTimeout time.Duration) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &Error{Op: "connect", ConnID: protocol.ServerID, Err: err}
	}
	return NewConn(conn, writeTimeout), nil
}

// ID returns the identifier assigned to this connection
func (c *Conn) ID() int {
	return int(c.id.Load())
}

// SetID assigns the connection identifier
func (c *Conn) SetID(id int) {
	c.id.Store(int64(id))
}

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// IsClosed reports whether Close has been called or a write failed
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Send encodes m and writes it as one frame
func (c *Conn) Send(m protocol.Message) error {
	frame, err := protocol.Encode(m)
	if err != nil {
		return &Error{Op: "send", ConnID: c.ID(), Err: err}
	}
	return c.write(frame)
}

// Relay writes an already-encoded fragment verbatim, followed by the delimiter
func (c *Conn) Relay(fragment []byte) error {
	frame := make([]byte, 0, len(fragment)+len(protocol.Delimiter))
	frame = append(frame, fragment...)
	frame = append(frame, protocol.Delimiter...)
	return c.write(frame)
}

func (c *Conn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return &Error{Op: "send", ConnID: c.ID(), Err: net.ErrClosed}
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if _, err := c.conn.Write(frame); err != nil {
		c.Close()
		return &Error{Op: "send", ConnID: c.ID(), Err: err}
	}
	return nil
}

// Receive reads until the stream fails, handing every fragment to h.
// Frames split across two reads are not reassembled.
func (c *Conn) Receive(h Handler) {
	buf := make([]byte, RecvSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			for _, fragment := range protocol.Split(buf[:n]) {
				h.HandleFrame(c, fragment)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrPeerClosed
			}
			c.fail(h, err)
			return
		}
		if n == 0 {
			c.fail(h, ErrPeerClosed)
			return
		}
	}
}

func (c *Conn) fail(h Handler, err error) {
	c.errOnce.Do(func() {
		c.Close()
		h.HandleError(c, &Error{Op: "receive", ConnID: c.ID(), Err: err})
	})
}

// Close shuts the stream; it is safe to call more than once
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}
