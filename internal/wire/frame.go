// Package wire implements the length-prefixed, checksummed frame format
// used by pkg/netconn to multiplex many concurrent streams over one TCP
// connection to a cluster node.
package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	// HeaderSize is 2 (magic) + 4 (length) + 8 (stream id) + 1 (opcode) +
	// 4 (CRC32C) = 19 bytes.
	HeaderSize = 19

	magicByte1 = 0x43 // 'C'
	magicByte2 = 0x51 // 'Q'
)

// Header is the fixed-size preamble of every Frame.
type Header struct {
	Magic    [2]byte
	Length   uint32
	StreamID uint64
	Opcode   Opcode
	CRC32C   uint32
}

// Frame is one multiplexed unit on the wire: a stream id identifying which
// in-flight request/response it belongs to, an opcode naming its purpose,
// and an opaque payload carrying a codec-encoded Message.
type Frame struct {
	Header  Header
	Payload []byte
}

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// NewFrame builds a Frame ready to Marshal.
func NewFrame(streamID uint64, opcode Opcode, payload []byte) *Frame {
	return &Frame{
		Header: Header{
			Magic:    [2]byte{magicByte1, magicByte2},
			Length:   uint32(HeaderSize + len(payload)),
			StreamID: streamID,
			Opcode:   opcode,
			CRC32C:   crc32.Checksum(payload, crc32cTable),
		},
		Payload: payload,
	}
}

// Marshal serializes the frame to bytes.
func (f *Frame) Marshal() []byte {
	buf := make([]byte, f.Header.Length)
	buf[0] = f.Header.Magic[0]
	buf[1] = f.Header.Magic[1]
	binary.BigEndian.PutUint32(buf[2:6], f.Header.Length)
	binary.BigEndian.PutUint64(buf[6:14], f.Header.StreamID)
	buf[14] = byte(f.Header.Opcode)
	binary.BigEndian.PutUint32(buf[15:19], f.Header.CRC32C)
	if len(f.Payload) > 0 {
		copy(buf[HeaderSize:], f.Payload)
	}
	return buf
}

// Unmarshal deserializes a frame from bytes, validating its magic, declared
// length, and CRC32C checksum.
func Unmarshal(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("wire: frame too short: %d bytes", len(data))
	}
	if data[0] != magicByte1 || data[1] != magicByte2 {
		return nil, fmt.Errorf("wire: invalid magic bytes: %02x%02x", data[0], data[1])
	}

	header := Header{
		Magic:    [2]byte{data[0], data[1]},
		Length:   binary.BigEndian.Uint32(data[2:6]),
		StreamID: binary.BigEndian.Uint64(data[6:14]),
		Opcode:   Opcode(data[14]),
		CRC32C:   binary.BigEndian.Uint32(data[15:19]),
	}
	if int(header.Length) != len(data) {
		return nil, fmt.Errorf("wire: frame length mismatch: header says %d, got %d", header.Length, len(data))
	}

	payload := data[HeaderSize:]
	if got := crc32.Checksum(payload, crc32cTable); got != header.CRC32C {
		return nil, fmt.Errorf("wire: CRC32C mismatch: expected %08x, got %08x", header.CRC32C, got)
	}

	return &Frame{Header: header, Payload: payload}, nil
}
