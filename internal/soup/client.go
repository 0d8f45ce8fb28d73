package soup

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketfeed/internal/schema"
)

var (
	ErrNotConnected  = errors.New("soup session not connected")
	ErrLoginRejected = errors.New("soup login rejected")
)

const defaultHeartbeatInterval = 10 * time.Second

// RejectReason is the reason byte carried by a login rejected frame.
type RejectReason byte

func (r RejectReason) String() string {
	switch r {
	case RejectNotAuthorized:
		return "not authorized"
	case RejectSessionUnavailable:
		return "session unavailable"
	default:
		return "unknown (" + string(rune(r)) + ")"
	}
}

// Config describes one session endpoint.
type Config struct {
	Address           string
	Username          string
	Password          string
	Session           string
	RequestedSequence uint64
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	return c
}

// Client is a SoupBinTCP session. Open logs in and starts the heartbeat
// task; Read and ReadMessage must be called from a single goroutine.
type Client struct {
	cfg Config

	mu      sync.Mutex
	state   schema.SessionState
	conn    net.Conn
	reader  *bufio.Reader
	session string
	nextSeq uint64

	writeMu sync.Mutex

	stopHeartbeat chan struct{}
	wg            sync.WaitGroup
	closed        uint32
}

// NewClient builds a client for the given endpoint. Nothing is dialed
// until Open.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults()}
}

// Open dials the endpoint, sends the login request, and blocks for exactly
// one accept or reject frame. A reject records the reason and is surfaced
// as a single wrapped connect error; the client ends up Closed either way.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != schema.SessionClosed {
		return errors.Errorf("soup session is %s, cannot open", c.state)
	}
	c.state = schema.SessionOpening

	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		c.state = schema.SessionClosed
		return errors.Wrap(err, "dial soup endpoint").With("address", c.cfg.Address)
	}

	login := EncodeLoginRequest(nil, LoginRequest{
		Username:          c.cfg.Username,
		Password:          c.cfg.Password,
		Session:           c.cfg.Session,
		RequestedSequence: c.cfg.RequestedSequence,
	})
	if _, err := conn.Write(login); err != nil {
		_ = conn.Close()
		c.state = schema.SessionClosed
		return errors.Wrap(err, "write login request")
	}

	reader := bufio.NewReader(conn)
	frameType, payload, err := readFrame(reader)
	if err != nil {
		_ = conn.Close()
		c.state = schema.SessionClosed
		return errors.Wrap(err, "read login response")
	}
	switch frameType {
	case TypeLoginAccepted:
		accepted, err := DecodeLoginAccepted(payload)
		if err != nil {
			_ = conn.Close()
			c.state = schema.SessionClosed
			return errors.Wrap(err, "decode login accepted")
		}
		c.conn = conn
		c.reader = reader
		c.session = accepted.Session
		c.nextSeq = accepted.NextSequence
	case TypeLoginRejected:
		_ = conn.Close()
		c.state = schema.SessionClosed
		reason := RejectReason(0)
		if len(payload) > 0 {
			reason = RejectReason(payload[0])
		}
		return errors.Wrapf(ErrLoginRejected, "reason: %s", reason)
	default:
		_ = conn.Close()
		c.state = schema.SessionClosed
		return errors.Wrapf(ErrBadFrameType, "got %q during login", frameType)
	}

	c.stopHeartbeat = make(chan struct{})
	c.wg.Add(1)
	go c.heartbeatLoop(c.conn, c.stopHeartbeat)
	c.state = schema.SessionOpen
	logs.Infof("soup session open: address=%s session=%q next=%d",
		c.cfg.Address, c.session, c.nextSeq)
	return nil
}

// Session returns the session name granted at login.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// NextSequence returns the sequence number the next sequenced frame carries.
func (c *Client) NextSequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextSeq
}

// Read blocks for the next frame and returns its type and payload. The
// payload is a fresh allocation and may be retained.
func (c *Client) Read() (byte, []byte, error) {
	c.mu.Lock()
	if c.state != schema.SessionOpen {
		c.mu.Unlock()
		return 0, nil, ErrNotConnected
	}
	reader := c.reader
	c.mu.Unlock()
	return readFrame(reader)
}

// ReadMessage blocks for the next sequenced data frame, skipping server
// heartbeats, and returns its payload with its sequence number. End of
// session is reported as io.EOF.
func (c *Client) ReadMessage() ([]byte, uint64, error) {
	for {
		frameType, payload, err := c.Read()
		if err != nil {
			return nil, 0, err
		}
		switch frameType {
		case TypeSequencedData:
			c.mu.Lock()
			seq := c.nextSeq
			c.nextSeq++
			c.mu.Unlock()
			return payload, seq, nil
		case TypeServerHeartbeat:
			continue
		case TypeEndOfSession:
			return nil, 0, io.EOF
		default:
			continue
		}
	}
}

// Close is idempotent: it stops the heartbeat task, closes the connection,
// and joins the heartbeat goroutine before marking the session closed.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil
	}
	c.mu.Lock()
	if c.state != schema.SessionOpen {
		c.state = schema.SessionClosed
		c.mu.Unlock()
		return nil
	}
	c.state = schema.SessionClosing
	stop := c.stopHeartbeat
	conn := c.conn
	c.mu.Unlock()

	close(stop)
	err := conn.Close()
	c.wg.Wait()

	c.mu.Lock()
	c.state = schema.SessionClosed
	c.conn = nil
	c.reader = nil
	c.mu.Unlock()
	return err
}

// heartbeatLoop writes a client heartbeat frame on every timer expiry.
// Stop signals and broken pipes both end the loop silently; either is
// expected at shutdown.
func (c *Client) heartbeatLoop(conn net.Conn, stop <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	frame := EncodeFrame(nil, TypeClientHeartbeat, nil)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_, err := conn.Write(frame)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func readFrame(reader *bufio.Reader) (byte, []byte, error) {
	var size [2]byte
	if _, err := io.ReadFull(reader, size[:]); err != nil {
		return 0, nil, err
	}
	length := int(uint16(size[0])<<8 | uint16(size[1]))
	if length == 0 {
		return 0, nil, ErrFrameTruncated
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(reader, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return body[0], body[1:], nil
}
