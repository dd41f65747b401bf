package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
)

const (
	// FrameHeaderSize is the fixed prefix of every frame.
	// Layout: [4 bytes total_size][1 byte kind][2 bytes key_len]
	FrameHeaderSize = 7

	// ChecksumSize is the trailing CRC32 over the frame's preceding bytes.
	ChecksumSize = 4

	// MaxKeyLen bounds the key so its length fits the 2-byte field.
	MaxKeyLen = math.MaxUint16
)

// Kind tags the meaning of a frame's payload.
type Kind uint8

const (
	KindUpsert Kind = iota + 1
	KindRemove
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindUpsert:
		return "upsert"
	case KindRemove:
		return "remove"
	case KindRecord:
		return "record"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ErrTruncated is returned when a frame extends past the available bytes.
var ErrTruncated = errors.New("codec: truncated frame")

// Frame is one self-delimiting entry inside a region log.
type Frame struct {
	Kind    Kind
	Key     string
	Payload []byte
}

// Size returns the encoded length of f.
func (f Frame) Size() int {
	return FrameHeaderSize + len(f.Key) + 4 + len(f.Payload) + ChecksumSize
}

// Encode serializes f.
// Layout: header, key, [4 bytes payload_len], payload, crc32.
func Encode(f Frame) ([]byte, error) {
	if len(f.Key) > MaxKeyLen {
		return nil, fmt.Errorf("codec: key too long: %d bytes", len(f.Key))
	}
	size := f.Size()
	buf := make([]byte, size)

	binary.BigEndian.PutUint32(buf[0:4], uint32(size))
	buf[4] = byte(f.Kind)
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(f.Key)))
	pos := FrameHeaderSize
	pos += copy(buf[pos:], f.Key)
	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(f.Payload)))
	pos += 4
	pos += copy(buf[pos:], f.Payload)

	binary.BigEndian.PutUint32(buf[pos:], crc32.ChecksumIEEE(buf[:pos]))
	return buf, nil
}

// Decode parses the frame at the start of raw and returns it together with
// the number of bytes consumed. The payload is copied out of raw.
func Decode(raw []byte) (Frame, int, error) {
	if len(raw) < FrameHeaderSize {
		return Frame{}, 0, ErrTruncated
	}
	size := int(binary.BigEndian.Uint32(raw[0:4]))
	if size < FrameHeaderSize+4+ChecksumSize {
		return Frame{}, 0, fmt.Errorf("codec: invalid frame size %d", size)
	}
	if size > len(raw) {
		return Frame{}, 0, ErrTruncated
	}

	body := raw[:size-ChecksumSize]
	want := binary.BigEndian.Uint32(raw[size-ChecksumSize : size])
	if got := crc32.ChecksumIEEE(body); got != want {
		return Frame{}, 0, fmt.Errorf("codec: checksum mismatch: got 0x%08X, want 0x%08X", got, want)
	}

	kind := Kind(raw[4])
	keyLen := int(binary.BigEndian.Uint16(raw[5:7]))
	pos := FrameHeaderSize
	if pos+keyLen+4 > len(body) {
		return Frame{}, 0, fmt.Errorf("codec: key overruns frame")
	}
	key := string(body[pos : pos+keyLen])
	pos += keyLen

	payloadLen := int(binary.BigEndian.Uint32(body[pos : pos+4]))
	pos += 4
	if pos+payloadLen != len(body) {
		return Frame{}, 0, fmt.Errorf("codec: payload length %d does not match frame", payloadLen)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		copy(payload, body[pos:])
	}
	return Frame{Kind: kind, Key: key, Payload: payload}, size, nil
}

// Scan decodes consecutive frames from raw and calls fn with each frame and
// its offset. Scanning stops at the first error from Decode or fn.
func Scan(raw []byte, fn func(offset int64, f Frame) error) error {
	pos := 0
	for pos < len(raw) {
		f, n, err := Decode(raw[pos:])
		if err != nil {
			return fmt.Errorf("frame at offset %d: %w", pos, err)
		}
		if err := fn(int64(pos), f); err != nil {
			return err
		}
		pos += n
	}
	return nil
}
