package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"roomchat/internal/apperror"
	"roomchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name       string
		frame      string
		want       *Inbound
		wantReason ParseReason
		wantCode   apperror.Code
	}{
		{
			name:  "join",
			frame: `{"t":"join","roomId":"abc","token":"alice"}`,
			want:  &Inbound{T: TypeJoin, RoomID: "abc", Token: "alice"},
		},
		{
			name:  "msg with client id",
			frame: `{"t":"msg","roomId":"abc","text":"hi","clientMsgId":"c1"}`,
			want:  &Inbound{T: TypeMsg, RoomID: "abc", Text: "hi", ClientMsgID: "c1"},
		},
		{name: "ping", frame: `{"t":"ping"}`, want: &Inbound{T: TypePing}},
		{name: "leave", frame: ` {"t":"leave","roomId":"abc"} `, want: &Inbound{T: TypeLeave, RoomID: "abc"}},
		{name: "unknown fields ignored", frame: `{"t":"ping","extra":1}`, want: &Inbound{T: TypePing}},
		{name: "empty", frame: "", wantReason: ReasonEmpty, wantCode: apperror.CodeProtocolError},
		{name: "whitespace", frame: "  \n", wantReason: ReasonEmpty, wantCode: apperror.CodeProtocolError},
		{name: "not json", frame: "hello", wantReason: ReasonMalformed, wantCode: apperror.CodeProtocolError},
		{name: "array", frame: `[1,2]`, wantReason: ReasonMalformed, wantCode: apperror.CodeProtocolError},
		{name: "truncated", frame: `{"t":"join"`, wantReason: ReasonMalformed, wantCode: apperror.CodeProtocolError},
		{name: "wrong field type", frame: `{"t":"join","roomId":42}`, wantReason: ReasonMalformed, wantCode: apperror.CodeProtocolError},
		{name: "missing type", frame: `{"roomId":"abc"}`, wantReason: ReasonMissingType, wantCode: apperror.CodeProtocolError},
		{name: "unknown type", frame: `{"t":"dance"}`, wantReason: ReasonUnknownType, wantCode: apperror.CodeUnsupportedMessage},
		{name: "server type from client", frame: `{"t":"joined"}`, wantReason: ReasonUnknownType, wantCode: apperror.CodeUnsupportedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.frame))
			if tt.want != nil {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}

			require.Error(t, err)
			assert.Nil(t, got)
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantReason, perr.Reason)
			assert.Equal(t, tt.wantCode, perr.AppError().Code)
		})
	}
}

func TestEncode_Envelopes(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	retry := int64(250)

	tests := []struct {
		name string
		env  Outbound
		want string
	}{
		{
			name: "joined",
			env:  Joined("abc", "alice", []string{"alice", "bob"}),
			want: `{"t":"joined","roomId":"abc","me":"alice","members":["alice","bob"]}`,
		},
		{
			name: "message",
			env:  MessageEnvelope(models.Message{ID: "m1", RoomID: "abc", From: "alice", Text: "hi", Timestamp: ts}),
			want: `{"t":"message","roomId":"abc","id":"m1","from":"alice","text":"hi","ts":"2025-03-01T10:00:00Z"}`,
		},
		{name: "pong", env: Pong(), want: `{"t":"pong"}`},
		{name: "userJoined", env: UserJoined("abc", "bob"), want: `{"t":"userJoined","roomId":"abc","userId":"bob"}`},
		{name: "userLeft", env: UserLeft("abc", "bob"), want: `{"t":"userLeft","roomId":"abc","userId":"bob"}`},
		{
			name: "error without retry",
			env:  Error(apperror.CodeNotJoined, "Join a room first", 0),
			want: `{"t":"error","code":"NOT_JOINED","message":"Join a room first"}`,
		},
		{
			name: "error with retry",
			env:  Outbound{T: TypeError, Code: "RATE_LIMIT_EXCEEDED", Message: "slow down", RetryAfterMs: &retry},
			want: `{"t":"error","code":"RATE_LIMIT_EXCEEDED","message":"slow down","retryAfterMs":250}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, string(Encode(tt.env)))
		})
	}
}

func TestEncode_MissingTypeFallsBack(t *testing.T) {
	assert.Equal(t, FallbackErrorFrame, Encode(Outbound{Code: "X"}))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(FallbackErrorFrame, &parsed))
	assert.Equal(t, "error", parsed["t"])
	assert.Equal(t, "SERIALIZE_ERROR", parsed["code"])
}

func TestError_RetryAfterRoundsUp(t *testing.T) {
	env := Error(apperror.CodeRateLimited, "slow down", 300*time.Microsecond)
	require.NotNil(t, env.RetryAfterMs)
	assert.Equal(t, int64(1), *env.RetryAfterMs)

	env = Error(apperror.CodeRateLimited, "slow down", 1500*time.Millisecond)
	assert.Equal(t, int64(1500), *env.RetryAfterMs)
}

func TestJoined_NilMembersEncodesEmptyList(t *testing.T) {
	env := Joined("abc", "alice", nil)
	assert.Equal(t, []string{}, env.Members)
}
