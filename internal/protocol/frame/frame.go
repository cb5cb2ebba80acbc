package frame

import (
	"encoding/binary"
	"errors"
	"io"
	"unicode/utf8"
)

// Wire layout, fixed header followed by a UTF-8 payload:
//
//	sender_id:u8 | msg_type:u8 | payload_len:u32 big-endian | payload
const HeaderSize = 6

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrShortPayload    = errors.New("frame: short payload")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrInvalidUTF8     = errors.New("frame: payload is not valid utf-8")
)

// Frame is one complete wire message.
type Frame struct {
	Sender  uint8
	Type    uint8
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 8 * 1024 * 1024}
}

// ReadFrame decodes one frame from r, looping until the full header and the
// declared payload length have been accumulated. A connection that closes
// cleanly at a frame boundary yields io.EOF; a close mid-header or
// mid-payload is a protocol error.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	length := binary.BigEndian.Uint32(hdr[2:HeaderSize])
	if length > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Frame{}, ErrShortPayload
			}
			return Frame{}, err
		}
	}
	if !utf8.Valid(payload) {
		return Frame{}, ErrInvalidUTF8
	}

	return Frame{Sender: hdr[0], Type: hdr[1], Payload: payload}, nil
}

// WriteFrame encodes f onto w as a single write so concurrent writers on the
// same connection never interleave partial frames.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}

	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = f.Sender
	buf[1] = f.Type
	binary.BigEndian.PutUint32(buf[2:HeaderSize], uint32(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)

	_, err := w.Write(buf)
	return err
}
