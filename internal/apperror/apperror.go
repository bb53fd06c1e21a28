// Package apperror holds the single error type used across the chat runtime.
// Every business-rule failure is an *Error carrying a Kind, a stable Code sent
// to clients, and optional parameters used to render human-readable text.
package apperror

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Kind int

const (
	KindInternal Kind = iota
	KindProtocol
	KindValidation
	KindDomain
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindValidation:
		return "validation"
	case KindDomain:
		return "domain"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "internal"
	}
}

type Code string

const (
	CodeProtocolError        Code = "PROTOCOL_ERROR"
	CodeUnsupportedMessage   Code = "UNSUPPORTED_MESSAGE"
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeInvalidRoomID        Code = "INVALID_ROOM_ID"
	CodeInvalidToken         Code = "INVALID_TOKEN"
	CodeEmptyMessage         Code = "EMPTY_MESSAGE"
	CodeNotJoined            Code = "NOT_JOINED"
	CodeRoomNotFound         Code = "ROOM_NOT_FOUND"
	CodeRateLimited          Code = "RATE_LIMIT_EXCEEDED"
	CodeDuplicateMessage     Code = "DUPLICATE_MESSAGE"
	CodeMessageTooLarge      Code = "MESSAGE_TOO_LARGE"
	CodeRoomScheduledForDel  Code = "ROOM_SCHEDULED_FOR_DELETION"
	CodeSessionReplaced      Code = "SESSION_REPLACED"
	CodeInvalidNickname      Code = "INVALID_NICKNAME"
	CodeSystemOverload       Code = "SYSTEM_OVERLOAD"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeInternal             Code = "INTERNAL_ERROR"
	CodeSerializeError       Code = "SERIALIZE_ERROR"
)

// Error is the tagged error. Params feed the message template looked up by
// Code; RetryAfter is only set for rate limiting.
type Error struct {
	Kind       Kind
	Code       Code
	Params     []any
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if len(e.Params) > 0 {
		fmt.Fprintf(&b, " %v", e.Params)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code so callers can compare against sentinel values built by
// the constructors below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func New(kind Kind, code Code, params ...any) *Error {
	return &Error{Kind: kind, Code: code, Params: params}
}

func Protocol(detail string) *Error {
	return New(KindProtocol, CodeProtocolError, detail)
}

func Validation(code Code, params ...any) *Error {
	return New(KindValidation, code, params...)
}

func Domain(code Code, params ...any) *Error {
	return New(KindDomain, code, params...)
}

func RateLimited(current, max int, retryAfter time.Duration) *Error {
	e := New(KindDomain, CodeRateLimited, current, max)
	e.RetryAfter = retryAfter
	return e
}

func DuplicateMessage(clientMsgID string) *Error {
	return New(KindDomain, CodeDuplicateMessage, clientMsgID)
}

func MessageTooLarge(size, max int) *Error {
	return New(KindDomain, CodeMessageTooLarge, size, max)
}

func RoomNotFound(roomID string) *Error {
	return New(KindDomain, CodeRoomNotFound, roomID)
}

// Infrastructure wraps a backing-store or transport failure.
func Infrastructure(op string, err error) *Error {
	return &Error{Kind: KindInfrastructure, Code: CodeServiceUnavailable, Params: []any{op}, Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Err: err}
}

// From converts any error into an *Error; unknown errors become internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

func KindOf(err error) Kind {
	return From(err).Kind
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return From(err).Code
}

func IsInfrastructure(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindInfrastructure
}
