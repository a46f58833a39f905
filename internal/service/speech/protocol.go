package speech

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Binary frame format of the Volcengine streaming TTS websocket.
//
//	byte 0: protocol version (4 bits) | header size in 4-byte words (4 bits)
//	byte 1: message type (4 bits)     | message flags (4 bits)
//	byte 2: serialization (4 bits)    | compression (4 bits)
//	byte 3: reserved
//
// followed by an optional sequence number, optional event metadata and a
// length-prefixed payload. All integers are big-endian.

const protocolVersion = 0b0001

// MessageType identifies a frame.
type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

// MessageFlags qualifies the bytes that follow the header.
type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	LastPacketNoSequence   MessageFlags = 0b0010
	NegativeSequenceNumber MessageFlags = 0b0011
	WithEvent              MessageFlags = 0b0100
)

// EventType is carried by frames flagged WithEvent.
type EventType int32

const (
	EventTypeNone               EventType = 0
	EventTypeStartConnection    EventType = 1
	EventTypeFinishConnection   EventType = 2
	EventTypeConnectionStarted  EventType = 50
	EventTypeConnectionFailed   EventType = 51
	EventTypeConnectionFinished EventType = 52
	EventTypeSessionStarted     EventType = 150
	EventTypeSessionFinished    EventType = 152
	EventTypeSessionFailed      EventType = 153
)

// SerializationMethod of the payload.
type SerializationMethod uint8

const (
	NoSerialization   SerializationMethod = 0b0000
	JSONSerialization SerializationMethod = 0b0001
)

// CompressionMethod of the payload.
type CompressionMethod uint8

const (
	NoCompression   CompressionMethod = 0b0000
	GzipCompression CompressionMethod = 0b0001
)

// Header is the fixed 4-byte frame prefix.
type Header struct {
	Version       uint8
	Size          uint8
	MessageType   MessageType
	Flags         MessageFlags
	Serialization SerializationMethod
	Compression   CompressionMethod
}

// Frame is one decoded websocket message.
type Frame struct {
	Header    Header
	Sequence  int32
	Event     EventType
	SessionID string
	ConnectID string
	ErrorCode uint32
	Payload   []byte
}

func newHeader(msgType MessageType, flags MessageFlags, serialization SerializationMethod, compression CompressionMethod) Header {
	return Header{
		Version:       protocolVersion,
		Size:          1,
		MessageType:   msgType,
		Flags:         flags,
		Serialization: serialization,
		Compression:   compression,
	}
}

func (h Header) bytes() []byte {
	return []byte{
		h.Version<<4 | h.Size,
		uint8(h.MessageType)<<4 | uint8(h.Flags),
		uint8(h.Serialization)<<4 | uint8(h.Compression),
		0,
	}
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < 4 {
		return Header{}, fmt.Errorf("header too short: got %d bytes", len(b))
	}
	h := Header{
		Version:       b[0] >> 4,
		Size:          b[0] & 0x0F,
		MessageType:   MessageType(b[1] >> 4),
		Flags:         MessageFlags(b[1] & 0x0F),
		Serialization: SerializationMethod(b[2] >> 4),
		Compression:   CompressionMethod(b[2] & 0x0F),
	}
	if h.Version != protocolVersion {
		return Header{}, fmt.Errorf("unsupported protocol version %d", h.Version)
	}
	return h, nil
}

func hasSequence(flags MessageFlags) bool {
	switch flags & 0b0011 {
	case PositiveSequenceNumber, NegativeSequenceNumber:
		return true
	}
	return false
}

func eventSkipsSessionID(event EventType) bool {
	switch event {
	case EventTypeStartConnection, EventTypeFinishConnection,
		EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	}
	return false
}

func eventHasConnectID(event EventType) bool {
	switch event {
	case EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	}
	return false
}

// IsLast reports whether the server marked this frame as the final packet.
func (f *Frame) IsLast() bool {
	switch f.Header.Flags & 0b0011 {
	case LastPacketNoSequence, NegativeSequenceNumber:
		return true
	}
	return false
}

// Encode serializes the frame.
func (f *Frame) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(f.Header.bytes())

	putUint32 := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	putString := func(s string) {
		putUint32(uint32(len(s)))
		buf.WriteString(s)
	}

	if hasSequence(f.Header.Flags) {
		putUint32(uint32(f.Sequence))
	}
	if f.Header.Flags&WithEvent == WithEvent {
		putUint32(uint32(f.Event))
		if !eventSkipsSessionID(f.Event) {
			putString(f.SessionID)
		}
		if eventHasConnectID(f.Event) {
			putString(f.ConnectID)
		}
	}
	if f.Header.MessageType == ErrorMessage {
		putUint32(f.ErrorCode)
	}
	putUint32(uint32(len(f.Payload)))
	buf.Write(f.Payload)
	return buf.Bytes()
}

// DecodeFrame parses one frame from r.
func DecodeFrame(r io.Reader) (*Frame, error) {
	var hb [4]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header, err := decodeHeader(hb[:])
	if err != nil {
		return nil, err
	}
	if extra := int(header.Size)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return nil, fmt.Errorf("read extended header: %w", err)
		}
	}

	f := &Frame{Header: header}

	readUint32 := func(what string) (uint32, error) {
		var v uint32
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return 0, fmt.Errorf("read %s: %w", what, err)
		}
		return v, nil
	}
	readString := func(what string) (string, error) {
		n, err := readUint32(what + " size")
		if err != nil || n == 0 {
			return "", err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return "", fmt.Errorf("read %s: %w", what, err)
		}
		return string(b), nil
	}

	if hasSequence(header.Flags) {
		seq, err := readUint32("sequence")
		if err != nil {
			return nil, err
		}
		f.Sequence = int32(seq)
	}
	if header.Flags&WithEvent == WithEvent {
		ev, err := readUint32("event")
		if err != nil {
			return nil, err
		}
		f.Event = EventType(int32(ev))
		if !eventSkipsSessionID(f.Event) {
			if f.SessionID, err = readString("session id"); err != nil {
				return nil, err
			}
		}
		if eventHasConnectID(f.Event) {
			if f.ConnectID, err = readString("connect id"); err != nil {
				return nil, err
			}
		}
	}
	if header.MessageType == ErrorMessage {
		if f.ErrorCode, err = readUint32("error code"); err != nil {
			return nil, err
		}
	}

	size, err := readUint32("payload size")
	if err != nil {
		return nil, err
	}
	if size > 0 {
		f.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, fmt.Errorf("read payload (%d bytes): %w", size, err)
		}
	}
	return f, nil
}

// newFullClientRequest wraps a JSON request body.
func newFullClientRequest(payload []byte, compression CompressionMethod) *Frame {
	return &Frame{
		Header:  newHeader(FullClientRequest, NoSequenceNumber, JSONSerialization, compression),
		Payload: payload,
	}
}
