// Package protocol is the wire codec: one JSON object per frame, typed by the
// "t" field.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"roomchat/internal/apperror"
	"roomchat/internal/models"
	"roomchat/pkg/logger"
)

type Type string

// Client to server.
const (
	TypeJoin  Type = "join"
	TypeMsg   Type = "msg"
	TypePing  Type = "ping"
	TypeLeave Type = "leave"
)

// Server to client.
const (
	TypeJoined     Type = "joined"
	TypeMessage    Type = "message"
	TypePong       Type = "pong"
	TypeUserJoined Type = "userJoined"
	TypeUserLeft   Type = "userLeft"
	TypeError      Type = "error"
)

func (t Type) inbound() bool {
	switch t {
	case TypeJoin, TypeMsg, TypePing, TypeLeave:
		return true
	}
	return false
}

// FallbackErrorFrame is sent when an outbound envelope cannot be encoded.
var FallbackErrorFrame = []byte(`{"t":"error","code":"SERIALIZE_ERROR","message":"Message serialization failed"}`)

type Inbound struct {
	T           Type   `json:"t"`
	RoomID      string `json:"roomId,omitempty"`
	Token       string `json:"token,omitempty"`
	Text        string `json:"text,omitempty"`
	ClientMsgID string `json:"clientMsgId,omitempty"`
}

type Outbound struct {
	T            Type       `json:"t"`
	RoomID       string     `json:"roomId,omitempty"`
	Me           string     `json:"me,omitempty"`
	Members      []string   `json:"members,omitempty"`
	UserID       string     `json:"userId,omitempty"`
	ID           string     `json:"id,omitempty"`
	From         string     `json:"from,omitempty"`
	Text         string     `json:"text,omitempty"`
	ClientMsgID  string     `json:"clientMsgId,omitempty"`
	Timestamp    *time.Time `json:"ts,omitempty"`
	Code         string     `json:"code,omitempty"`
	Message      string     `json:"message,omitempty"`
	RetryAfterMs *int64     `json:"retryAfterMs,omitempty"`
}

type ParseReason int

const (
	ReasonEmpty ParseReason = iota
	ReasonMalformed
	ReasonMissingType
	ReasonUnknownType
)

func (r ParseReason) String() string {
	switch r {
	case ReasonEmpty:
		return "empty frame"
	case ReasonMalformed:
		return "malformed JSON"
	case ReasonMissingType:
		return "missing message type"
	default:
		return "unknown message type"
	}
}

type ParseError struct {
	Reason ParseReason
	Type   string
	Err    error
}

func (e *ParseError) Error() string {
	switch {
	case e.Reason == ReasonUnknownType:
		return fmt.Sprintf("%s: %q", e.Reason, e.Type)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	default:
		return e.Reason.String()
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// AppError maps the parse failure onto the shared error codes.
func (e *ParseError) AppError() *apperror.Error {
	if e.Reason == ReasonUnknownType {
		return apperror.New(apperror.KindProtocol, apperror.CodeUnsupportedMessage, e.Type)
	}
	return apperror.Protocol(e.Reason.String())
}

// Decode never panics; it returns a decoded envelope or a *ParseError.
func Decode(frame []byte) (*Inbound, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return nil, &ParseError{Reason: ReasonEmpty}
	}
	if frame[0] != '{' {
		return nil, &ParseError{Reason: ReasonMalformed, Err: fmt.Errorf("frame is not a JSON object")}
	}

	var in Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		return nil, &ParseError{Reason: ReasonMalformed, Err: err}
	}
	if in.T == "" {
		return nil, &ParseError{Reason: ReasonMissingType}
	}
	if !in.T.inbound() {
		return nil, &ParseError{Reason: ReasonUnknownType, Type: string(in.T)}
	}
	return &in, nil
}

// Encode always returns a frame; a missing type or a marshal failure yields
// FallbackErrorFrame.
func Encode(env Outbound) []byte {
	if env.T == "" {
		logger.Error("Refusing to encode envelope without type")
		return FallbackErrorFrame
	}
	data, err := json.Marshal(env)
	if err != nil {
		logger.Error("Failed to encode %s envelope: %v", env.T, err)
		return FallbackErrorFrame
	}
	return data
}

func Joined(roomID, me string, members []string) Outbound {
	if members == nil {
		members = []string{}
	}
	return Outbound{T: TypeJoined, RoomID: roomID, Me: me, Members: members}
}

func MessageEnvelope(msg models.Message) Outbound {
	env := Outbound{
		T:           TypeMessage,
		RoomID:      msg.RoomID,
		ID:          msg.ID,
		From:        msg.From,
		Text:        msg.Text,
		ClientMsgID: msg.ClientMsgID,
	}
	if !msg.Timestamp.IsZero() {
		ts := msg.Timestamp
		env.Timestamp = &ts
	}
	return env
}

func Pong() Outbound {
	return Outbound{T: TypePong}
}

func UserJoined(roomID, userID string) Outbound {
	return Outbound{T: TypeUserJoined, RoomID: roomID, UserID: userID}
}

func UserLeft(roomID, userID string) Outbound {
	return Outbound{T: TypeUserLeft, RoomID: roomID, UserID: userID}
}

// Error builds an error envelope; retryAfter is only emitted when positive.
func Error(code apperror.Code, message string, retryAfter time.Duration) Outbound {
	env := Outbound{T: TypeError, Code: string(code), Message: message}
	if retryAfter > 0 {
		ms := retryAfter.Milliseconds()
		if ms == 0 {
			ms = 1
		}
		env.RetryAfterMs = &ms
	}
	return env
}
