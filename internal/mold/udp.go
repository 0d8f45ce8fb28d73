package mold

import (
	"net"

	"github.com/yanun0323/errors"
)

// UDPConfig locates a multicast feed group.
type UDPConfig struct {
	Group         string
	Interface     string
	ReceiveBuffer int
}

// UDPSource is a PacketSource reading from a joined multicast group.
type UDPSource struct {
	conn *net.UDPConn
}

// OpenUDP joins the configured multicast group.
func OpenUDP(cfg UDPConfig) (*UDPSource, error) {
	group, err := net.ResolveUDPAddr("udp", cfg.Group)
	if err != nil {
		return nil, errors.Wrap(err, "resolve multicast group").With("group", cfg.Group)
	}
	var ifi *net.Interface
	if cfg.Interface != "" {
		ifi, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, errors.Wrap(err, "lookup interface").With("interface", cfg.Interface)
		}
	}
	conn, err := net.ListenMulticastUDP("udp", ifi, group)
	if err != nil {
		return nil, errors.Wrap(err, "join multicast group").With("group", cfg.Group)
	}
	if cfg.ReceiveBuffer > 0 {
		if err := conn.SetReadBuffer(cfg.ReceiveBuffer); err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(err, "set receive buffer")
		}
	}
	return &UDPSource{conn: conn}, nil
}

// ReadPacket reads one datagram.
func (s *UDPSource) ReadPacket(buf []byte) (int, error) {
	n, _, err := s.conn.ReadFromUDP(buf)
	return n, err
}

// Close closes the socket.
func (s *UDPSource) Close() error {
	return s.conn.Close()
}
