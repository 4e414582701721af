package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Opcode names a frame's purpose, letting the reader dispatch without first
// decoding the payload's codec-specific body.
type Opcode uint8

const (
	// OpStartup begins the session: the client announces protocol
	// options. pkg/netconn sends it after any authentication handshake has
	// completed.
	OpStartup Opcode = iota + 1
	// OpAuthChallenge is reserved for a framed authentication round.
	// pkg/netconn/auth.go does not use it: its HMAC challenge-response
	// handshake runs on the raw socket before any frame is exchanged.
	OpAuthChallenge
	// OpAuthResponse is reserved for the client's answer to
	// OpAuthChallenge; like it, it is not used by pkg/netconn.
	OpAuthResponse
	// OpReady indicates the server accepted OpStartup and the connection
	// may now carry queries.
	OpReady
	// OpError carries a textual failure and aborts the stream it names.
	OpError
	// OpQuery carries a query request.
	OpQuery
	// OpResult carries a query's successful result.
	OpResult
)

// DefaultMaxFrameSize bounds how large a single frame's payload may be,
// guarding against a corrupt length field requesting an unreasonable
// allocation.
const DefaultMaxFrameSize = 16 * 1024 * 1024

// Reader reads length-prefixed, checksummed frames off a stream.
type Reader struct {
	r            *bufio.Reader
	maxFrameSize int
}

// NewReader wraps r with buffered, frame-aware reads.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), maxFrameSize: DefaultMaxFrameSize}
}

// ReadFrame reads and validates one Frame.
func (fr *Reader) ReadFrame() (*Frame, error) {
	head := make([]byte, HeaderSize)
	if _, err := io.ReadFull(fr.r, head); err != nil {
		return nil, err
	}
	if head[0] != magicByte1 || head[1] != magicByte2 {
		return nil, fmt.Errorf("wire: invalid magic bytes: %02x%02x", head[0], head[1])
	}

	length := binary.BigEndian.Uint32(head[2:6])
	if int(length) < HeaderSize || int(length)-HeaderSize > fr.maxFrameSize {
		return nil, fmt.Errorf("wire: frame size %d exceeds max %d", length, fr.maxFrameSize)
	}

	rest := make([]byte, length)
	copy(rest, head)
	if _, err := io.ReadFull(fr.r, rest[HeaderSize:]); err != nil {
		return nil, fmt.Errorf("wire: read frame body: %w", err)
	}

	return Unmarshal(rest)
}

// Writer writes length-prefixed, checksummed frames to a stream.
type Writer struct {
	w            io.Writer
	maxFrameSize int
}

// NewWriter wraps w with frame-aware writes.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, maxFrameSize: DefaultMaxFrameSize}
}

// WriteFrame marshals and writes f.
func (fw *Writer) WriteFrame(f *Frame) error {
	if len(f.Payload) > fw.maxFrameSize {
		return fmt.Errorf("wire: payload size %d exceeds max %d", len(f.Payload), fw.maxFrameSize)
	}
	_, err := fw.w.Write(f.Marshal())
	return err
}
