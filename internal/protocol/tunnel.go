// Package protocol implements the tunnel frame shared by the agent and the relay.
//
// Every UDP datagram on the tunnel link carries exactly one frame:
//
//	AddrLen  [1 byte]       - length of Address in bytes (0-255)
//	Address  [AddrLen]      - UTF-8 text of the peer IP address
//	Port     [2 bytes]      - peer port (big-endian)
//	Payload  [remaining]    - opaque UDP payload
//
// On the agent->relay direction Address/Port name the real destination; on the
// relay->agent direction they name the destination that produced the reply.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// MaxAddressLen is the longest address representable in the one-byte length prefix.
	MaxAddressLen = 255

	// PortLen is the size of the port field.
	PortLen = 2

	// MinFrameSize is the size of a frame with an empty address and empty payload.
	MinFrameSize = 1 + PortLen
)

var (
	// ErrEncode is returned when a frame cannot be represented on the wire.
	ErrEncode = errors.New("tunnel frame encode failed")

	// ErrDecode is returned for malformed frames.
	ErrDecode = errors.New("tunnel frame decode failed")

	// ErrAddressTooLong is wrapped by ErrEncode when the address exceeds MaxAddressLen bytes.
	ErrAddressTooLong = errors.New("address too long")

	// ErrTruncated is wrapped by ErrDecode when the header is cut short.
	ErrTruncated = errors.New("frame truncated")

	// ErrInvalidAddress is wrapped by ErrDecode when the address is not valid UTF-8.
	ErrInvalidAddress = errors.New("address is not valid UTF-8")
)

// Frame is one (address, port, payload) record on the tunnel link.
type Frame struct {
	Address string
	Port    uint16
	Payload []byte
}

// Overhead returns the number of header bytes for an address of addrLen bytes.
func Overhead(addrLen int) int {
	return 1 + addrLen + PortLen
}

// Size returns the encoded length of the frame.
func (f *Frame) Size() int {
	return Overhead(len(f.Address)) + len(f.Payload)
}

// AppendTo appends the encoded frame to dst and returns the extended slice.
func (f *Frame) AppendTo(dst []byte) ([]byte, error) {
	if len(f.Address) > MaxAddressLen {
		return dst, fmt.Errorf("%w: %w: %d > %d bytes", ErrEncode, ErrAddressTooLong, len(f.Address), MaxAddressLen)
	}

	dst = append(dst, byte(len(f.Address)))
	dst = append(dst, f.Address...)
	dst = binary.BigEndian.AppendUint16(dst, f.Port)
	dst = append(dst, f.Payload...)

	return dst, nil
}

// Encode serializes the frame into a newly allocated buffer.
func (f *Frame) Encode() ([]byte, error) {
	return f.AppendTo(make([]byte, 0, f.Size()))
}

// String returns a debug representation of the frame.
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{Address=%s, Port=%d, PayloadLen=%d}", f.Address, f.Port, len(f.Payload))
}

// Encode builds the wire form of (address, port, payload).
func Encode(address string, port uint16, payload []byte) ([]byte, error) {
	f := Frame{Address: address, Port: port, Payload: payload}
	return f.Encode()
}

// Decode parses a frame from buf.
//
// The returned payload aliases buf. Callers that keep it beyond the lifetime of
// buf must copy it.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < 1 {
		return Frame{}, fmt.Errorf("%w: %w: empty buffer", ErrDecode, ErrTruncated)
	}

	addrLen := int(buf[0])
	headerLen := Overhead(addrLen)
	if len(buf) < headerLen {
		return Frame{}, fmt.Errorf("%w: %w: need %d header bytes, have %d", ErrDecode, ErrTruncated, headerLen, len(buf))
	}

	addr := buf[1 : 1+addrLen]
	if !utf8.Valid(addr) {
		return Frame{}, fmt.Errorf("%w: %w", ErrDecode, ErrInvalidAddress)
	}

	return Frame{
		Address: string(addr),
		Port:    binary.BigEndian.Uint16(buf[1+addrLen : headerLen]),
		Payload: buf[headerLen:],
	}, nil
}
