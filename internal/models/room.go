package models

import (
	"time"
	"unicode/utf8"
)

// RoomMembership is a read view of a room; the backing store is authoritative.
type RoomMembership struct {
	RoomID               string     `json:"roomId"`
	Members              []string   `json:"members"`
	ScheduledForDeletion bool       `json:"scheduledForDeletion"`
	EmptiesAt            *time.Time `json:"emptiesAt,omitempty"`
}

func (r *RoomMembership) MemberCount() int {
	return len(r.Members)
}

type JoinResult struct {
	Members  []string
	WasEmpty bool // a pending deletion lease was cleared by this join
}

type LeaveResult struct {
	Removed    bool
	Remaining  int
	LeaseArmed bool
}

// Kinds carried over pub/sub. Chat messages leave Kind empty; membership
// events reuse the envelope so peers on other processes see joins and leaves.
const (
	KindChat       = ""
	KindUserJoined = "userJoined"
	KindUserLeft   = "userLeft"
)

// Message only lives for one publish/fan-out cycle. Origin identifies the
// process that accepted it so that process can skip its own echo.
type Message struct {
	Kind        string    `json:"kind,omitempty"`
	ID          string    `json:"id,omitempty"`
	ClientMsgID string    `json:"clientMsgId,omitempty"`
	RoomID      string    `json:"roomId"`
	From        string    `json:"from"`
	Text        string    `json:"text,omitempty"`
	Timestamp   time.Time `json:"ts"`
	Origin      string    `json:"origin,omitempty"`
}

func (m *Message) SizeInBytes() int {
	return len(m.Text)
}

func (m *Message) IsValidUTF8() bool {
	return utf8.ValidString(m.Text)
}

type CreateRoomRequest struct {
	CreatorName string `json:"creatorName"`
}

type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

type RoomInfoResponse struct {
	RoomID               string `json:"roomId"`
	Exists               bool   `json:"exists"`
	MemberCount          int    `json:"memberCount"`
	ScheduledForDeletion bool   `json:"scheduledForDeletion"`
}

type ErrorInfo struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}
