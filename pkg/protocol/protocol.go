// Package protocol implements the fixed-size binary protocol spoken between
// ringkv clients and servers.
//
// Every message occupies exactly MessageSize bytes on the wire:
//   - 4 bytes: message type (little-endian uint32)
//   - 100 bytes: key, NUL-padded
//   - 1000 bytes: value, NUL-padded
//
// There is no length prefix. A reader always consumes a whole frame and a
// writer always produces one, which keeps request/response pairing trivial
// at the cost of bandwidth.
//
// Example usage:
//
//	msg, err := protocol.NewPutMessage("user:1", "alice")
//	if err != nil {
//		return err // key or value too large, nothing was sent
//	}
//	if err := protocol.WriteMessage(conn, msg); err != nil {
//		return err
//	}
//	resp, err := protocol.ReadMessage(conn, 2*time.Second)
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// Size limits of the two payload fields.
const (
	MaxKeySize   = 100
	MaxValueSize = 1000

	typeTagSize = 4

	// MessageSize is the size of every frame on the wire.
	MessageSize = typeTagSize + MaxKeySize + MaxValueSize
)

// Receive timeouts with special meaning for ReadMessage.
const (
	// WaitForever blocks until a frame arrives or the peer goes away.
	WaitForever time.Duration = -1
	// NoWait fails with ErrTimeout unless a frame is ready right away.
	NoWait time.Duration = 0

	noWaitWindow = time.Millisecond
)

// Errors returned by the protocol layer. Callers match them with errors.Is.
var (
	// ErrValidation means a key or value exceeded its size bound.
	ErrValidation = errors.New("message validation failed")
	// ErrIO is any transport failure other than a clean close or a timeout.
	ErrIO = errors.New("i/o error")
	// ErrEOF means the peer closed the stream.
	ErrEOF = errors.New("connection closed by peer")
	// ErrTimeout means a bounded wait elapsed with no frame.
	ErrTimeout = errors.New("timed out waiting for message")
)

// MessageType identifies the kind of frame.
type MessageType uint32

// Message type tags. The numeric values are part of the wire format.
const (
	GetRequest MessageType = iota // client asks for a key
	PutRequest                    // client stores a key/value pair
	Ack                           // server applied a put
	Hit                           // server found the key, value attached
	Miss                          // server does not hold the key
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	return t <= Miss
}

func (t MessageType) String() string {
	switch t {
	case GetRequest:
		return "Get Request"
	case PutRequest:
		return "Put Request"
	case Ack:
		return "Ack Response"
	case Hit:
		return "Hit Response"
	case Miss:
		return "Miss Response"
	default:
		return fmt.Sprintf("Invalid Type (%d)", uint32(t))
	}
}

// Message is one frame of the protocol. Messages are built right before a
// send and dropped right after a receive.
type Message struct {
	Key   string      // At most MaxKeySize bytes
	Value string      // At most MaxValueSize bytes
	Type  MessageType // Kind of frame
}

// NewGetMessage builds a GetRequest for key.
// Returns an error wrapping ErrValidation if the key is too long.
func NewGetMessage(key string) (*Message, error) {
	if err := validate(key, ""); err != nil {
		return nil, err
	}
	return &Message{Type: GetRequest, Key: key}, nil
}

// NewPutMessage builds a PutRequest carrying key and value.
// Returns an error wrapping ErrValidation if either field is too long.
func NewPutMessage(key, value string) (*Message, error) {
	if err := validate(key, value); err != nil {
		return nil, err
	}
	return &Message{Type: PutRequest, Key: key, Value: value}, nil
}

// NewAckMessage builds the response to an applied put.
func NewAckMessage() *Message {
	return &Message{Type: Ack}
}

// NewHitMessage builds the response to a get whose key was found.
// Values longer than MaxValueSize cannot reach the store through the
// protocol, so the value is not validated again here.
func NewHitMessage(value string) *Message {
	return &Message{Type: Hit, Value: value}
}

// NewMissMessage builds the response to a get whose key is absent.
func NewMissMessage() *Message {
	return &Message{Type: Miss}
}

func validate(key, value string) error {
	if len(key) > MaxKeySize {
		return fmt.Errorf("%w: key is %d bytes, limit is %d", ErrValidation, len(key), MaxKeySize)
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("%w: value is %d bytes, limit is %d", ErrValidation, len(value), MaxValueSize)
	}
	return nil
}

func (m *Message) String() string {
	return fmt.Sprintf("Type: %s | Key: %q | Value: %q", m.Type, m.Key, m.Value)
}

// Serialize encodes m into a MessageSize frame. Fields longer than their
// bound are rejected with ErrValidation rather than truncated.
func (m *Message) Serialize() ([]byte, error) {
	if err := validate(m.Key, m.Value); err != nil {
		return nil, err
	}

	buf := make([]byte, MessageSize)
	binary.LittleEndian.PutUint32(buf[:typeTagSize], uint32(m.Type))
	copy(buf[typeTagSize:typeTagSize+MaxKeySize], m.Key)
	copy(buf[typeTagSize+MaxKeySize:], m.Value)
	return buf, nil
}

// Deserialize decodes a frame produced by Serialize. Key and value end at
// their first NUL byte, so payloads containing NUL are cut short.
// Unknown type tags are returned as-is; check Type.Valid before acting.
func Deserialize(data []byte) (*Message, error) {
	if len(data) != MessageSize {
		return nil, fmt.Errorf("invalid frame size: got %d bytes, want %d", len(data), MessageSize)
	}

	return &Message{
		Type:  MessageType(binary.LittleEndian.Uint32(data[:typeTagSize])),
		Key:   cString(data[typeTagSize : typeTagSize+MaxKeySize]),
		Value: cString(data[typeTagSize+MaxKeySize:]),
	}, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// WriteMessage writes msg to w as a single frame. A short write is fatal
// for the channel and reported as ErrIO; partial frames are not retried.
func WriteMessage(w io.Writer, msg *Message) error {
	data, err := msg.Serialize()
	if err != nil {
		return err
	}

	n, err := w.Write(data)
	if err != nil {
		return fmt.Errorf("%w: write: %w", ErrIO, err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: short write: %d of %d bytes", ErrIO, n, len(data))
	}
	return nil
}

// Channel is a bidirectional stream that supports read deadlines,
// typically a net.Conn.
type Channel interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// ReadMessage reads exactly one frame from ch.
//
// A positive timeout bounds the wait for the frame; WaitForever waits until
// data arrives or the peer closes; NoWait gives up almost immediately when
// nothing is buffered.
//
// Returns:
//   - the decoded Message on success
//   - an error wrapping ErrTimeout if the wait elapsed
//   - an error wrapping ErrEOF if the peer closed the stream
//   - an error wrapping ErrIO on any other failure
func ReadMessage(ch Channel, timeout time.Duration) (*Message, error) {
	var deadline time.Time
	switch {
	case timeout > 0:
		deadline = time.Now().Add(timeout)
	case timeout == NoWait:
		deadline = time.Now().Add(noWaitWindow)
	}
	// Some channels refuse a deadline once the peer has gone; the read
	// below then reports what actually happened.
	deadlineErr := ch.SetReadDeadline(deadline)

	buf := make([]byte, MessageSize)
	if _, err := io.ReadFull(ch, buf); err != nil {
		if deadlineErr != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: set read deadline: %w", ErrIO, deadlineErr)
		}
		return nil, classifyReadError(err)
	}

	return Deserialize(buf)
}

func classifyReadError(err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %w", ErrEOF, err)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: read: %w", ErrIO, err)
}
