// Package soup implements the SoupBinTCP session protocol: an authenticated,
// heartbeat-kept TCP stream of length-prefixed sequenced frames.
package soup

import (
	"encoding/binary"
	"strconv"

	"github.com/yanun0323/errors"
)

// Frame type bytes. The two-byte big-endian length prefix covers the type
// byte and the payload.
const (
	TypeLoginRequest    = 'L'
	TypeLoginAccepted   = 'A'
	TypeLoginRejected   = 'J'
	TypeSequencedData   = 'S'
	TypeServerHeartbeat = 'H'
	TypeClientHeartbeat = 'R'
	TypeLogoutRequest   = 'O'
	TypeEndOfSession    = 'Z'
)

const (
	usernameSize = 6
	passwordSize = 10
	sessionSize  = 10
	sequenceSize = 20

	loginRequestSize  = usernameSize + passwordSize + sessionSize + sequenceSize
	loginAcceptedSize = sessionSize + sequenceSize
)

// Login reject reason bytes.
const (
	RejectNotAuthorized      = 'A'
	RejectSessionUnavailable = 'S'
)

var (
	ErrFrameTruncated = errors.New("soup frame shorter than declared")
	ErrBadFrameType   = errors.New("unexpected soup frame type")
)

// LoginRequest carries the credentials and resume point for a session.
type LoginRequest struct {
	Username          string
	Password          string
	Session           string
	RequestedSequence uint64
}

// LoginAccepted reports the session granted by the server and the sequence
// number of the first sequenced frame it will send.
type LoginAccepted struct {
	Session      string
	NextSequence uint64
}

// EncodeFrame appends a complete frame to dst.
func EncodeFrame(dst []byte, frameType byte, payload []byte) []byte {
	var size [2]byte
	binary.BigEndian.PutUint16(size[:], uint16(1+len(payload)))
	dst = append(dst, size[:]...)
	dst = append(dst, frameType)
	return append(dst, payload...)
}

// EncodeLoginRequest appends a login request frame to dst.
func EncodeLoginRequest(dst []byte, req LoginRequest) []byte {
	payload := make([]byte, 0, loginRequestSize)
	payload = appendPadded(payload, req.Username, usernameSize)
	payload = appendPadded(payload, req.Password, passwordSize)
	payload = appendPadded(payload, req.Session, sessionSize)
	payload = appendLeftPaddedNumeric(payload, req.RequestedSequence, sequenceSize)
	return EncodeFrame(dst, TypeLoginRequest, payload)
}

// EncodeLoginAccepted appends a login accepted frame to dst.
func EncodeLoginAccepted(dst []byte, accepted LoginAccepted) []byte {
	payload := make([]byte, 0, loginAcceptedSize)
	payload = appendPadded(payload, accepted.Session, sessionSize)
	payload = appendLeftPaddedNumeric(payload, accepted.NextSequence, sequenceSize)
	return EncodeFrame(dst, TypeLoginAccepted, payload)
}

// EncodeLoginRejected appends a login rejected frame to dst.
func EncodeLoginRejected(dst []byte, reason byte) []byte {
	return EncodeFrame(dst, TypeLoginRejected, []byte{reason})
}

// DecodeLoginRequest parses a login request payload.
func DecodeLoginRequest(payload []byte) (LoginRequest, error) {
	if len(payload) < loginRequestSize {
		return LoginRequest{}, ErrFrameTruncated
	}
	return LoginRequest{
		Username:          trimPadding(payload[0:usernameSize]),
		Password:          trimPadding(payload[usernameSize : usernameSize+passwordSize]),
		Session:           trimPadding(payload[usernameSize+passwordSize : usernameSize+passwordSize+sessionSize]),
		RequestedSequence: parseLeftPaddedNumeric(payload[usernameSize+passwordSize+sessionSize : loginRequestSize]),
	}, nil
}

// DecodeLoginAccepted parses a login accepted payload.
func DecodeLoginAccepted(payload []byte) (LoginAccepted, error) {
	if len(payload) < loginAcceptedSize {
		return LoginAccepted{}, ErrFrameTruncated
	}
	return LoginAccepted{
		Session:      trimPadding(payload[0:sessionSize]),
		NextSequence: parseLeftPaddedNumeric(payload[sessionSize:loginAcceptedSize]),
	}, nil
}

func appendPadded(dst []byte, value string, size int) []byte {
	if len(value) > size {
		value = value[:size]
	}
	dst = append(dst, value...)
	for i := len(value); i < size; i++ {
		dst = append(dst, ' ')
	}
	return dst
}

func appendLeftPaddedNumeric(dst []byte, value uint64, size int) []byte {
	text := strconv.FormatUint(value, 10)
	if len(text) > size {
		text = text[len(text)-size:]
	}
	for i := len(text); i < size; i++ {
		dst = append(dst, ' ')
	}
	return append(dst, text...)
}

func parseLeftPaddedNumeric(field []byte) uint64 {
	var value uint64
	for _, b := range field {
		if b < '0' || b > '9' {
			continue
		}
		value = 10*value + uint64(b-'0')
	}
	return value
}

func trimPadding(field []byte) string {
	end := len(field)
	for end > 0 && field[end-1] == ' ' {
		end--
	}
	return string(field[:end])
}
