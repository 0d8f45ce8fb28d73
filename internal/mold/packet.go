// Package mold implements the MoldUDP64 packet format: unordered datagrams
// carrying a session name, a starting sequence number, and a run of
// length-prefixed messages.
package mold

import (
	"encoding/binary"

	"github.com/yanun0323/errors"
)

const (
	sessionSize = 10
	// headerSize is session + 8-byte sequence + 2-byte count.
	headerSize = sessionSize + 8 + 2
)

var ErrPacketTruncated = errors.New("mold packet shorter than declared")

// Packet is one parsed datagram. Messages are views into the datagram
// buffer and must not outlive it.
type Packet struct {
	Session  string
	Sequence uint64
	Messages [][]byte
}

// DecodePacket parses a datagram. A packet with a zero message count is a
// heartbeat and decodes to an empty Messages slice.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) < headerSize {
		return Packet{}, ErrPacketTruncated
	}
	packet := Packet{
		Session:  trimPadding(data[0:sessionSize]),
		Sequence: binary.BigEndian.Uint64(data[sessionSize : sessionSize+8]),
	}
	count := int(binary.BigEndian.Uint16(data[sessionSize+8 : headerSize]))
	if count == 0 {
		return packet, nil
	}
	packet.Messages = make([][]byte, 0, count)
	offset := headerSize
	for i := 0; i < count; i++ {
		if len(data)-offset < 2 {
			return Packet{}, ErrPacketTruncated
		}
		length := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if len(data)-offset < length {
			return Packet{}, ErrPacketTruncated
		}
		packet.Messages = append(packet.Messages, data[offset:offset+length])
		offset += length
	}
	return packet, nil
}

// EncodePacket appends a datagram containing the given messages to dst.
func EncodePacket(dst []byte, session string, sequence uint64, messages [][]byte) []byte {
	var scratch [8]byte
	if len(session) > sessionSize {
		session = session[:sessionSize]
	}
	dst = append(dst, session...)
	for i := len(session); i < sessionSize; i++ {
		dst = append(dst, ' ')
	}
	binary.BigEndian.PutUint64(scratch[:], sequence)
	dst = append(dst, scratch[:]...)
	binary.BigEndian.PutUint16(scratch[:2], uint16(len(messages)))
	dst = append(dst, scratch[:2]...)
	for _, message := range messages {
		binary.BigEndian.PutUint16(scratch[:2], uint16(len(message)))
		dst = append(dst, scratch[:2]...)
		dst = append(dst, message...)
	}
	return dst
}

func trimPadding(field []byte) string {
	end := len(field)
	for end > 0 && field[end-1] == ' ' {
		end--
	}
	return string(field[:end])
}
