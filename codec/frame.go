// Package codec implements the on-disk frame format: every flush of the I/O
// buffer is wrapped in a self-describing, checksummed frame so that replay
// can detect truncation and corruption at frame granularity.
//
// Wire layout per frame:
//
//	[control:1][extra length:0-3][checksum:2 or 4][payload:N]
//
// Control byte: bits 0-4 hold the low 5 bits of the payload length, bit 5
// selects the checksum width (0 = CRC-16/XMODEM, 1 = CRC-32C), bits 6-7 the
// number of extra length bytes. Extra length bytes are little-endian and
// contribute the remaining length bits shifted left by 5. Checksums are
// little-endian.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/sigurn/crc16"
)

const (
	lenLowBits = 5
	lenLowMask = 0x1F
	crc32Flag  = 0x20
	extraShift = 6

	// Crc32Threshold is the payload size at and above which a frame
	// carries a 32-bit checksum instead of a 16-bit one.
	Crc32Threshold = 512

	// MaxPayload is the largest length the frame header can encode
	// (29 bits: 5 in the control byte plus 3 extra bytes).
	MaxPayload = 1<<29 - 1
)

var (
	// ErrTruncated means the file ended inside a frame header or payload.
	// During replay this usually means the last write was torn by a crash.
	ErrTruncated = errors.New("codec: truncated frame")

	// ErrChecksum means the payload does not match its recorded checksum.
	ErrChecksum = errors.New("codec: frame checksum mismatch")

	// ErrFrameTooLarge means a length exceeds the configured buffer limit.
	ErrFrameTooLarge = errors.New("codec: frame exceeds maximum buffer size")

	// ErrObjectCorrupt means a deserializer asked for more bytes than the
	// frame holds. Objects never span frames, so this is corruption.
	ErrObjectCorrupt = errors.New("codec: object spans frame boundary")
)

var (
	xmodem     = crc16.MakeTable(crc16.CRC16_XMODEM)
	castagnoli = crc32.MakeTable(crc32.Castagnoli)
)

// Checksum16 is the CRC-16/XMODEM used for small frames.
// Reference vector: "123456789" -> 0x31C3.
func Checksum16(data []byte) uint16 {
	return crc16.Checksum(data, xmodem)
}

// Checksum32 is the Castagnoli CRC-32C used for large frames.
// Reference vector: "123456789" -> 0xE3069283.
func Checksum32(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// WriteFrame wraps payload in a frame header and writes both to w.
// Empty payloads write nothing.
func WriteFrame(w io.Writer, payload []byte, force32 bool) error {
	n := len(payload)
	if n == 0 {
		return nil
	}
	if n > MaxPayload {
		return ErrFrameTooLarge
	}

	extra := 0
	for rem := n >> lenLowBits; rem > 0; rem >>= 8 {
		extra++
	}
	use32 := force32 || n >= Crc32Threshold

	header := make([]byte, 0, 1+3+4)
	ctrl := byte(n&lenLowMask) | byte(extra)<<extraShift
	if use32 {
		ctrl |= crc32Flag
	}
	header = append(header, ctrl)
	for i, rem := 0, n>>lenLowBits; i < extra; i, rem = i+1, rem>>8 {
		header = append(header, byte(rem))
	}
	if use32 {
		header = binary.LittleEndian.AppendUint32(header, Checksum32(payload))
	} else {
		header = binary.LittleEndian.AppendUint16(header, Checksum16(payload))
	}

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads the next frame from r into buf, verifying the checksum.
// A clean end of file before the control byte returns io.EOF; ending inside
// the frame returns ErrTruncated. The verified payload replaces the buffer
// contents with the read cursor rewound.
func ReadFrame(r io.Reader, buf *Buffer, maxLen int) error {
	var ctrl [1]byte
	if _, err := io.ReadFull(r, ctrl[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	extra := int(ctrl[0] >> extraShift)
	use32 := ctrl[0]&crc32Flag != 0
	sumLen := 2
	if use32 {
		sumLen = 4
	}

	rest := make([]byte, extra+sumLen)
	if _, err := io.ReadFull(r, rest); err != nil {
		return fmt.Errorf("%w: header: %v", ErrTruncated, err)
	}

	length := int(ctrl[0] & lenLowMask)
	hi := 0
	for i := 0; i < extra; i++ {
		hi |= int(rest[i]) << (8 * i)
	}
	length |= hi << lenLowBits
	if length > maxLen || length > MaxPayload {
		return fmt.Errorf("%w: payload of %d bytes", ErrFrameTooLarge, length)
	}

	buf.Reset()
	if err := buf.Grow(length); err != nil {
		return err
	}
	payload := buf.data[:length]
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrTruncated, err)
	}

	if use32 {
		want := binary.LittleEndian.Uint32(rest[extra:])
		if got := Checksum32(payload); got != want {
			return fmt.Errorf("%w: crc32c %08x != %08x", ErrChecksum, got, want)
		}
	} else {
		want := binary.LittleEndian.Uint16(rest[extra:])
		if got := Checksum16(payload); got != want {
			return fmt.Errorf("%w: crc16 %04x != %04x", ErrChecksum, got, want)
		}
	}

	buf.writeOff = length
	return nil
}
