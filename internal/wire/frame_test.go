package wire

import (
	"bytes"
	"testing"
)

func TestFrame_MarshalUnmarshal(t *testing.T) {
	streamID := uint64(67890)
	payload := []byte("SELECT * FROM keyspace.table")

	original := NewFrame(streamID, OpQuery, payload)
	data := original.Marshal()

	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.Header.StreamID != streamID {
		t.Errorf("StreamID = %d, want %d", decoded.Header.StreamID, streamID)
	}
	if decoded.Header.Opcode != OpQuery {
		t.Errorf("Opcode = %v, want %v", decoded.Header.Opcode, OpQuery)
	}
	if !bytes.Equal(decoded.Payload, payload) {
		t.Errorf("Payload = %q, want %q", decoded.Payload, payload)
	}
}

func TestFrame_EmptyPayload(t *testing.T) {
	f := NewFrame(1, OpReady, nil)
	data := f.Marshal()

	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(decoded.Payload) != 0 {
		t.Errorf("Payload = %v, want empty", decoded.Payload)
	}
}

func TestUnmarshal_RejectsShortData(t *testing.T) {
	_, err := Unmarshal([]byte{0x01, 0x02})
	if err == nil {
		t.Fatal("expected error for data shorter than HeaderSize")
	}
}

func TestUnmarshal_RejectsBadMagic(t *testing.T) {
	f := NewFrame(1, OpQuery, []byte("payload"))
	data := f.Marshal()
	data[0] = 0xFF

	_, err := Unmarshal(data)
	if err == nil {
		t.Fatal("expected error for corrupted magic bytes")
	}
}

func TestUnmarshal_RejectsCorruptedPayload(t *testing.T) {
	f := NewFrame(1, OpQuery, []byte("payload"))
	data := f.Marshal()
	data[len(data)-1] ^= 0xFF // flip a payload byte without fixing the checksum

	_, err := Unmarshal(data)
	if err == nil {
		t.Fatal("expected CRC32C mismatch error for corrupted payload")
	}
}

func TestUnmarshal_RejectsLengthMismatch(t *testing.T) {
	f := NewFrame(1, OpQuery, []byte("payload"))
	data := f.Marshal()
	data = append(data, 0x00) // trailing garbage byte inflates len(data) past header.Length

	_, err := Unmarshal(data)
	if err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestReaderWriter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	r := NewReader(&buf)

	frames := []*Frame{
		NewFrame(1, OpStartup, []byte("opts")),
		NewFrame(2, OpQuery, []byte("SELECT 1")),
		NewFrame(3, OpResult, nil),
	}

	for _, f := range frames {
		if err := w.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	for i, want := range frames {
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if got.Header.StreamID != want.Header.StreamID {
			t.Errorf("frame %d StreamID = %d, want %d", i, got.Header.StreamID, want.Header.StreamID)
		}
		if got.Header.Opcode != want.Header.Opcode {
			t.Errorf("frame %d Opcode = %v, want %v", i, got.Header.Opcode, want.Header.Opcode)
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("frame %d Payload = %q, want %q", i, got.Payload, want.Payload)
		}
	}
}
