package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer runs a Client per connection that sends every frame back.
func echoServer(t *testing.T, clients chan<- *Client) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client, err := NewClient(conn, ClientOptions{ReadLimit: 64, SendBuffer: 8})
		if err != nil {
			conn.Close()
			return
		}
		if clients != nil {
			clients <- client
		}
		go client.WritePump()
		client.ReadPump(func(frame []byte) {
			client.Send(frame)
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestClient_EchoesInOrder(t *testing.T) {
	conn := dial(t, echoServer(t, nil))

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []string{"one", "two", "three"} {
		_, got, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestClient_ReadLimitClosesConnection(t *testing.T) {
	conn := dial(t, echoServer(t, nil))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 100))))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestClient_CloseSendsCloseFrame(t *testing.T) {
	clients := make(chan *Client, 1)
	conn := dial(t, echoServer(t, clients))

	var server *Client
	select {
	case server = <-clients:
	case <-time.After(2 * time.Second):
		t.Fatal("server client not created")
	}

	assert.True(t, server.IsOpen())
	assert.Len(t, server.ID(), 32)
	server.Close()
	assert.False(t, server.IsOpen())
	assert.False(t, server.Send([]byte("late")))
	server.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
