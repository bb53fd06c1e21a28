package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"roomchat/internal/apperror"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassThrough(t *testing.T) {
	ctx := context.Background()

	id, err := PassThrough{}.Resolve(ctx, "  alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	_, err = PassThrough{}.Resolve(ctx, "   ")
	assert.Equal(t, apperror.CodeInvalidToken, apperror.CodeOf(err))
}

func TestJWTResolver(t *testing.T) {
	ctx := context.Background()
	r := NewJWTResolver([]byte("test-secret"))

	token, err := r.GenerateToken("alice", time.Hour)
	require.NoError(t, err)

	id, err := r.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{name: "empty", token: func(t *testing.T) string { return "" }},
		{name: "garbage", token: func(t *testing.T) string { return "not.a.jwt" }},
		{
			name: "wrong secret",
			token: func(t *testing.T) string {
				tok, err := NewJWTResolver([]byte("other")).GenerateToken("alice", time.Hour)
				require.NoError(t, err)
				return tok
			},
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				tok, err := r.GenerateToken("alice", -time.Minute)
				require.NoError(t, err)
				return tok
			},
		},
		{
			name: "no subject",
			token: func(t *testing.T) string {
				tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "x"}).
					SignedString([]byte("test-secret"))
				require.NoError(t, err)
				return tok
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(ctx, tt.token(t))
			assert.Equal(t, apperror.CodeInvalidToken, apperror.CodeOf(err))
		})
	}
}

func TestJWTResolver_UsernameClaim(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"username": "bob"}).SignedString(secret)
	require.NoError(t, err)

	id, err := NewJWTResolver(secret).Resolve(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "bob", id)
}

func TestNewResolver(t *testing.T) {
	assert.IsType(t, PassThrough{}, NewResolver(nil))
	assert.IsType(t, &JWTResolver{}, NewResolver([]byte("s")))
}

func TestValidateNickname(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "simple", input: "alice", want: "alice"},
		{name: "trimmed", input: "  bob_99 ", want: "bob_99"},
		{name: "spaces and dash", input: "Mary-Jane Doe", want: "Mary-Jane Doe"},
		{name: "non-latin letters", input: "김철수", want: "김철수"},
		{name: "twenty chars", input: strings.Repeat("a", 20), want: strings.Repeat("a", 20)},
		{name: "empty", input: "   ", wantErr: true},
		{name: "too long", input: strings.Repeat("a", 21), wantErr: true},
		{name: "punctuation", input: "alice!", wantErr: true},
		{name: "reserved", input: "SuperAdmin", wantErr: true},
		{name: "bot", input: "chatbot", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateNickname(tt.input)
			if tt.wantErr {
				assert.Equal(t, apperror.CodeInvalidNickname, apperror.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
