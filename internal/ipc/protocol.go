// Package ipc provides the control protocol between the sentineld
// daemon and local clients (sentinelctl, scripts). Messages are framed
// with a fixed binary header followed by a JSON payload over a unix
// socket.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x53495043 // "SIPC"
)

// MessageType identifies the type of control message.
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgError        MessageType = 0x0005
	MsgShutdown     MessageType = 0x0006
	MsgShutdownResp MessageType = 0x0007

	// Status (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	// Session management (0x02xx)
	MsgBindSession      MessageType = 0x0200
	MsgBindSessionResp  MessageType = 0x0201
	MsgClearSession     MessageType = 0x0202
	MsgClearSessionResp MessageType = 0x0203

	// Collection control (0x03xx)
	MsgStartCollection     MessageType = 0x0300
	MsgStartCollectionResp MessageType = 0x0301
	MsgStopCollection      MessageType = 0x0302
	MsgStopCollectionResp  MessageType = 0x0303

	// Trust inspection (0x04xx)
	MsgTrustRequest  MessageType = 0x0400
	MsgTrustResponse MessageType = 0x0401

	// Audit trail (0x05xx)
	MsgActionsRequest  MessageType = 0x0500
	MsgActionsResponse MessageType = 0x0501
)

// Header is the fixed-size message header (16 bytes).
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32
}

// HeaderSize is the size of the header in bytes.
const HeaderSize = 16

// maxPayload caps a single message payload.
const maxPayload = 16 * 1024 * 1024

// Message wraps a header and payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}

	return h, nil
}

// Write writes the message to a writer.
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from a reader.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > maxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Error codes carried by ErrorResponse.
const (
	ErrUnknown        = 1
	ErrInvalidRequest = 2
	ErrNoSession      = 3
	ErrInternalError  = 5
	ErrUnavailable    = 6
)

// ErrorResponse is sent when an operation fails.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// StatusResponse describes the daemon's current state.
type StatusResponse struct {
	Version        string    `json:"version"`
	StartedAt      time.Time `json:"started_at"`
	Uptime         string    `json:"uptime"`
	SessionBound   bool      `json:"session_bound"`
	SessionBoundAt time.Time `json:"session_bound_at,omitempty"`
	Collecting     bool      `json:"collecting"`
	LiveConnected  bool      `json:"live_connected"`
	Restricted     bool      `json:"restricted"`
	BufferedKeys   int       `json:"buffered_keys"`
	BufferedMoves  int       `json:"buffered_moves"`
	Trust          *Trust    `json:"trust,omitempty"`
}

// Trust is the daemon's view of the current trust assessment.
type Trust struct {
	Score      float64   `json:"score"`
	Level      string    `json:"level"`
	Trend      string    `json:"trend"`
	CapturedAt time.Time `json:"captured_at"`
	History    int       `json:"history"`
}

// BindSessionRequest binds an authenticated session token.
type BindSessionRequest struct {
	Token string `json:"token"`
}

// BindSessionResponse acknowledges a bind.
type BindSessionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ClearSessionResponse acknowledges a session clear.
type ClearSessionResponse struct {
	Success bool `json:"success"`
}

// CollectionResponse acknowledges a collection start or stop.
type CollectionResponse struct {
	Success bool   `json:"success"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// ActionsRequest asks for the most recent journaled actions.
type ActionsRequest struct {
	Limit int `json:"limit,omitempty"`
}

// ActionInfo is one journaled security action.
type ActionInfo struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"`
	Reason string    `json:"reason,omitempty"`
	Score  float64   `json:"score"`
}

// ActionsResponse lists recent journaled actions.
type ActionsResponse struct {
	Actions []ActionInfo `json:"actions"`
}

// ShutdownResponse acknowledges a shutdown request.
type ShutdownResponse struct {
	Success bool `json:"success"`
}

// Encode encodes a payload to JSON bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes into a payload.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message.
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message with a JSON payload.
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
