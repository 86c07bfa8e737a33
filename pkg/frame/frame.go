package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/robotalks/flightlink/pkg/cmdset"
)

// Frame layout constants.
const (
	SOF        byte = 0xaa
	Version    byte = 0
	HeaderLen       = 8
	TrailerLen      = 4
	Overhead        = HeaderLen + TrailerLen
	MaxLen          = 0x3ff
	MaxPayload      = MaxLen - Overhead
)

const (
	lenMask     uint16 = 0x03ff
	versionBits        = 10
	flagAck     byte   = 0x80
	sessionMask byte   = 0x1f
)

// Sessions.
const (
	SessionNoAck byte = 0
	SessionAck   byte = 1
)

var (
	// ErrShortFrame indicates fewer bytes than the minimum frame.
	ErrShortFrame = errors.New("frame too short")
	// ErrBadSOF indicates the first byte is not SOF.
	ErrBadSOF = errors.New("bad start of frame")
	// ErrBadLength indicates the length field mismatches the frame.
	ErrBadLength = errors.New("frame length mismatch")
	// ErrBadVersion indicates an unsupported protocol version.
	ErrBadVersion = errors.New("unsupported frame version")
	// ErrChecksum indicates CRC mismatch.
	ErrChecksum = errors.New("frame checksum mismatch")
	// ErrPayloadTooLarge indicates payload exceeds MaxPayload.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Seq is the frame sequence number.
type Seq uint16

// Next calculates the next sequence number, 0 is skipped as it's used by
// frames not expecting an ack.
func (s Seq) Next() Seq {
	n := s + 1
	if n == 0 {
		n = 1
	}
	return n
}

// IsValid checks if the sequence number can identify a request.
func (s Seq) IsValid() bool {
	return s != 0
}

// Frame is a decoded frame.
type Frame struct {
	Ack     bool
	Session byte
	Seq     Seq
	Cmd     cmdset.ID
	Payload []byte
}

// String implements fmt.Stringer.
func (f *Frame) String() string {
	kind := "cmd"
	if f.Ack {
		kind = "ack"
	}
	return fmt.Sprintf("%s[%s seq=%d session=%d len=%d]", kind, f.Cmd, f.Seq, f.Session, len(f.Payload))
}

// Len returns the encoded length.
func (f *Frame) Len() int {
	return Overhead + len(f.Payload)
}

// Bytes encodes the frame.
func (f *Frame) Bytes() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	n := f.Len()
	b := make([]byte, n)
	b[0] = SOF
	binary.LittleEndian.PutUint16(b[1:3], uint16(n)&lenMask|uint16(Version)<<versionBits)
	b[3] = f.Session & sessionMask
	if f.Ack {
		b[3] |= flagAck
	}
	binary.LittleEndian.PutUint16(b[4:6], uint16(f.Seq))
	b[6], b[7] = f.Cmd.Set, f.Cmd.ID
	copy(b[HeaderLen:], f.Payload)
	binary.LittleEndian.PutUint32(b[n-TrailerLen:], crc32.ChecksumIEEE(b[:n-TrailerLen]))
	return b, nil
}

// Decode parses a complete frame. The payload is copied.
func Decode(b []byte) (*Frame, error) {
	if len(b) < Overhead {
		return nil, ErrShortFrame
	}
	if b[0] != SOF {
		return nil, ErrBadSOF
	}
	lenField := binary.LittleEndian.Uint16(b[1:3])
	if int(lenField&lenMask) != len(b) {
		return nil, ErrBadLength
	}
	if byte(lenField>>versionBits) != Version {
		return nil, ErrBadVersion
	}
	if !Verify(b) {
		return nil, ErrChecksum
	}
	f := &Frame{
		Ack:     b[3]&flagAck != 0,
		Session: b[3] & sessionMask,
		Seq:     Seq(binary.LittleEndian.Uint16(b[4:6])),
		Cmd:     cmdset.ID{Set: b[6], ID: b[7]},
	}
	if n := len(b) - Overhead; n > 0 {
		f.Payload = make([]byte, n)
		copy(f.Payload, b[HeaderLen:HeaderLen+n])
	}
	return f, nil
}

// Verify checks the CRC trailer of b.
func Verify(b []byte) bool {
	n := len(b)
	if n < Overhead {
		return false
	}
	return crc32.ChecksumIEEE(b[:n-TrailerLen]) == binary.LittleEndian.Uint32(b[n-TrailerLen:])
}

// Encode is shorthand to build a frame and encode it.
func Encode(cmd cmdset.ID, seq Seq, session byte, payload []byte) ([]byte, error) {
	return (&Frame{Session: session, Seq: seq, Cmd: cmd, Payload: payload}).Bytes()
}

// EncodeAck builds an ack frame for a request.
func EncodeAck(cmd cmdset.ID, seq Seq, payload []byte) ([]byte, error) {
	return (&Frame{Ack: true, Session: SessionAck, Seq: seq, Cmd: cmd, Payload: payload}).Bytes()
}
