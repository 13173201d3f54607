// Package wire implements the peer-to-peer framing and message set: a
// length-prefixed frame carrying a single-byte message id and a payload.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message ids. The split between Bitfield and BitfieldNoLoop prevents an
// infinite bitfield ping-pong on connect: the first bitfield of a pair is
// Bitfield ("expect a reply"); the responder answers with BitfieldNoLoop
// ("terminal").
const (
	Bitfield       = byte(4)
	BitfieldNoLoop = byte(5)
	Request        = byte(6)
	Piece          = byte(7)
	Have           = byte(8)
)

// Message is a single decoded peer wire message: id plus payload. length on
// the wire counts the id byte plus len(Payload).
type Message struct {
	ID      byte
	Payload []byte
}

// Serialize encodes m as length-prefixed bytes ready to write to a socket.
func (m *Message) Serialize() []byte {
	buf := make([]byte, 4+1+len(m.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(1+len(m.Payload)))
	buf[4] = m.ID
	copy(buf[5:], m.Payload)
	return buf
}

// ReadMessage reads exactly one frame from r. A length of 0 or an unknown id
// is a framing error and the caller must close the connection.
func ReadMessage(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, fmt.Errorf("wire: zero-length frame")
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	id := body[0]
	switch id {
	case Bitfield, BitfieldNoLoop, Request, Piece, Have:
	default:
		return nil, fmt.Errorf("wire: unknown message id %d", id)
	}

	return &Message{ID: id, Payload: body[1:]}, nil
}

// NewBitfield builds a BITFIELD or BITFIELD_NO_LOOP message from a one
// byte-per-piece field (byte i is 0x00 or 0x01).
func NewBitfield(id byte, field []byte) *Message {
	return &Message{ID: id, Payload: field}
}

// NewRequest builds a REQUEST message for the given piece index.
func NewRequest(index uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return &Message{ID: Request, Payload: payload}
}

// NewHave builds a HAVE message announcing the given piece index.
func NewHave(index uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return &Message{ID: Have, Payload: payload}
}

// NewPiece builds a PIECE message carrying a whole piece's data.
func NewPiece(index uint32, data []byte) *Message {
	payload := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(payload[0:4], index)
	copy(payload[4:], data)
	return &Message{ID: Piece, Payload: payload}
}

// DecodeIndex parses the 4-byte index payload of a REQUEST or HAVE message.
func DecodeIndex(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("wire: invalid index payload length %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}

// DecodePiece parses a PIECE message's payload into index and data.
func DecodePiece(payload []byte) (uint32, []byte, error) {
	if len(payload) < 4 {
		return 0, nil, fmt.Errorf("wire: invalid piece payload length %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload[0:4]), payload[4:], nil
}
