package database

import (
	"context"
	"errors"
	"testing"

	"roomchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCatalog struct {
	entries map[string]models.ErrorInfo
	err     error
	calls   int
}

func (c *countingCatalog) Lookup(_ context.Context, code string) (*models.ErrorInfo, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	info, ok := c.entries[code]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		params   []any
		want     string
	}{
		{name: "no params", template: "Room {0} was not found", want: "Room {0} was not found"},
		{name: "single", template: "Room {0} was not found", params: []any{"abc"}, want: "Room abc was not found"},
		{name: "ordered", template: "{1} of {0}", params: []any{5, 3}, want: "3 of 5"},
		{name: "repeated slot", template: "{0}/{0}", params: []any{"x"}, want: "x/x"},
		{name: "no slots", template: "plain", params: []any{1}, want: "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.template, tt.params))
		})
	}
}

func TestDefaultErrorInfo_CoversEveryCode(t *testing.T) {
	seen := make(map[string]bool)
	for _, info := range DefaultErrorInfo {
		assert.False(t, seen[info.Code], "duplicate %s", info.Code)
		seen[info.Code] = true
		assert.NotEmpty(t, info.Message)
	}

	cat := NewStaticCatalog(DefaultErrorInfo)
	info, err := cat.Lookup(context.Background(), "RATE_LIMIT_EXCEEDED")
	require.NoError(t, err)
	require.NotNil(t, info)

	info, err = cat.Lookup(context.Background(), "NO_SUCH_CODE")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestCachedCatalog(t *testing.T) {
	ctx := context.Background()
	primary := &countingCatalog{entries: map[string]models.ErrorInfo{
		"ROOM_NOT_FOUND": {Code: "ROOM_NOT_FOUND", Message: "No room {0}"},
	}}
	cat := NewCachedCatalog(primary, NewStaticCatalog(DefaultErrorInfo))

	info, err := cat.Lookup(ctx, "ROOM_NOT_FOUND")
	require.NoError(t, err)
	assert.Equal(t, "No room {0}", info.Message)

	_, err = cat.Lookup(ctx, "ROOM_NOT_FOUND")
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls, "second lookup is served from cache")

	info, err = cat.Lookup(ctx, "EMPTY_MESSAGE")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "Empty messages cannot be sent", info.Message)

	cat.Invalidate()
	_, err = cat.Lookup(ctx, "ROOM_NOT_FOUND")
	require.NoError(t, err)
	assert.Equal(t, 3, primary.calls)
}

func TestCachedCatalog_PrimaryFailureFallsBack(t *testing.T) {
	primary := &countingCatalog{err: errors.New("connection refused")}
	cat := NewCachedCatalog(primary, NewStaticCatalog(DefaultErrorInfo))

	info, err := cat.Lookup(context.Background(), "SESSION_REPLACED")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Contains(t, info.Message, "replaced")
}
