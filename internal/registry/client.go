// Package registry implements the outbound channel: an authenticated
// TCP connection carrying security registrations and sampled update
// batches to the downstream consolidator.
package registry

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketfeed/internal/codec"
	"marketfeed/internal/schema"
)

const (
	loginAccepted = byte('A')
	loginRejected = byte('R')

	maxFrameSize = 1 << 22
)

var (
	ErrNotConnected  = errors.New("registry not connected")
	ErrLoginRejected = errors.New("registry login rejected")
	ErrFrameTooLarge = errors.New("registry frame too large")
)

// Config carries the registry endpoint and credentials.
type Config struct {
	Address     string
	Token       string
	DialTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// Client is an engine.Sink writing length-framed record batches. Writes
// are serialized by a mutex so the engine's flush loop and startup
// registration never interleave frames.
type Client struct {
	cfg Config

	mu     sync.Mutex
	conn   net.Conn
	buf    []byte
	closed uint32
}

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults()}
}

// Open dials the registry and performs the token login. The server
// answers with a single status byte before any batch may be sent.
func (c *Client) Open(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return errors.Wrap(err, "dial registry").With("address", c.cfg.Address)
	}
	if err := writeFrame(conn, []byte(c.cfg.Token)); err != nil {
		conn.Close()
		return errors.Wrap(err, "send registry login")
	}
	var status [1]byte
	if _, err := io.ReadFull(conn, status[:]); err != nil {
		conn.Close()
		return errors.Wrap(err, "read registry login status")
	}
	if status[0] != loginAccepted {
		conn.Close()
		return errors.Wrapf(ErrLoginRejected, "status 0x%02x", status[0])
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	logs.Infof("registry connected: %s", c.cfg.Address)
	return nil
}

// SetSecurityInfo registers one instrument immediately, outside the
// sampling cadence.
func (c *Client) SetSecurityInfo(info schema.SecurityInfo) error {
	return c.SendMessages([]schema.Update{info})
}

// SendMessages writes one batch frame: a record count followed by
// length-prefixed codec records.
func (c *Client) SendMessages(updates []schema.Update) error {
	if len(updates) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}

	c.buf = binary.BigEndian.AppendUint32(c.buf[:0], uint32(len(updates)))
	for _, update := range updates {
		record, err := codec.Encode(nil, update)
		if err != nil {
			return errors.Wrap(err, "encode update")
		}
		c.buf = binary.BigEndian.AppendUint32(c.buf, uint32(len(record)))
		c.buf = append(c.buf, record...)
	}
	if err := writeFrame(c.conn, c.buf); err != nil {
		return errors.Wrap(err, "send batch").With("records", len(updates))
	}
	return nil
}

// Close is idempotent and safe to call concurrently with SendMessages.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func writeFrame(conn net.Conn, payload []byte) error {
	if len(payload) > maxFrameSize {
		return errors.Wrapf(ErrFrameTooLarge, "%d bytes", len(payload))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := conn.Write(header[:]); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

// ReadFrame reads one length-framed payload, used by the test harness
// and by simulator tooling acting as the receiving end.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// DecodeBatch splits a batch frame back into updates.
func DecodeBatch(payload []byte) ([]schema.Update, error) {
	if len(payload) < 4 {
		return nil, errors.New("batch frame too short")
	}
	count := binary.BigEndian.Uint32(payload[:4])
	payload = payload[4:]
	updates := make([]schema.Update, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(payload) < 4 {
			return nil, errors.New("batch frame truncated")
		}
		length := binary.BigEndian.Uint32(payload[:4])
		payload = payload[4:]
		if uint32(len(payload)) < length {
			return nil, errors.New("batch record truncated")
		}
		update, err := codec.Decode(payload[:length])
		if err != nil {
			return nil, err
		}
		updates = append(updates, update)
		payload = payload[length:]
	}
	return updates, nil
}
