package mold

import (
	"sync/atomic"

	"marketfeed/internal/obs"
)

const defaultDatagramSize = 64 * 1024

// PacketSource yields one datagram per read. Production sources are UDP
// multicast sockets; tests and replay inject packets directly.
type PacketSource interface {
	// ReadPacket fills buf with the next datagram and returns its length.
	ReadPacket(buf []byte) (int, error)
	Close() error
}

// Client turns unordered datagrams into a flat, consecutively numbered
// message stream. Read must be called from a single goroutine.
type Client struct {
	source  PacketSource
	buf     []byte
	pending [][]byte
	nextSeq uint64
	closed  uint32
}

// NewClient wraps a packet source.
func NewClient(source PacketSource) *Client {
	return &Client{
		source: source,
		buf:    make([]byte, defaultDatagramSize),
	}
}

// Read returns the next message and its sequence number. Messages sliced
// out of the current datagram are drained before another datagram is read,
// so the returned slice is valid until the following Read that touches the
// network. Heartbeat packets are skipped. A truncated packet abandons the
// whole datagram and returns ErrPacketTruncated; the caller may retry.
func (c *Client) Read() ([]byte, uint64, error) {
	if len(c.pending) > 0 {
		message := c.pending[0]
		c.pending = c.pending[1:]
		seq := c.nextSeq
		c.nextSeq++
		return message, seq, nil
	}
	for {
		n, err := c.source.ReadPacket(c.buf)
		if err != nil {
			return nil, 0, err
		}
		obs.PacketsReceived.Inc()
		packet, err := DecodePacket(c.buf[:n])
		if err != nil {
			return nil, 0, err
		}
		if len(packet.Messages) == 0 {
			continue
		}
		c.pending = packet.Messages[1:]
		c.nextSeq = packet.Sequence + 1
		return packet.Messages[0], packet.Sequence, nil
	}
}

// Close is idempotent and closes the underlying packet source.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil
	}
	return c.source.Close()
}
