// Package recorder captures raw feed packets to segment files and plays
// them back at original or accelerated pace.
package recorder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
)

const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 28
	recordChecksumSize        = 4
)

var (
	recordMagic = [4]byte{'C', 'A', 'P', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic            = errors.New("capture invalid magic")
	ErrUnsupportedRecordVer    = errors.New("capture unsupported record version")
	ErrInvalidRecordHeaderSize = errors.New("capture invalid header size")
)

// PacketHeader describes one captured datagram.
type PacketHeader struct {
	// Sequence is the first sequence number carried by the packet.
	Sequence uint64
	// CapturedAt is the receive time in unix nanoseconds.
	CapturedAt int64
}

func encodeHeader(dst []byte, header PacketHeader, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[12:20], header.Sequence)
	binary.LittleEndian.PutUint64(dst[20:28], uint64(header.CapturedAt))
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

func decodeRecordHeader(src []byte) (PacketHeader, uint32, error) {
	if len(src) < recordHeaderSize {
		return PacketHeader{}, 0, ErrInvalidRecordHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return PacketHeader{}, 0, ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return PacketHeader{}, 0, ErrUnsupportedRecordVer
	}
	if headerSize := binary.LittleEndian.Uint16(src[6:8]); headerSize != recordHeaderSize {
		return PacketHeader{}, 0, ErrInvalidRecordHeaderSize
	}
	payloadLen := binary.LittleEndian.Uint32(src[8:12])
	h := PacketHeader{
		Sequence:   binary.LittleEndian.Uint64(src[12:20]),
		CapturedAt: int64(binary.LittleEndian.Uint64(src[20:28])),
	}
	return h, payloadLen, nil
}
