package wsconn

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pair 启动一个 WebSocket 服务端并返回两端的适配连接。
func pair(t *testing.T) (client, server *Conn) {
	t.Helper()
	accepted := make(chan *Conn, 1)
	upgrader := &websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(upgrader, w, r)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	client, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	server = <-accepted
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

func TestReadAcrossMessages(t *testing.T) {
	client, server := pair(t)

	_, err := client.Write([]byte("hello "))
	require.NoError(t, err)
	// 文本消息被忽略。
	require.NoError(t, client.ws.WriteMessage(websocket.TextMessage, []byte("ignored")))
	_, err = client.Write([]byte("world"))
	require.NoError(t, err)

	buf := make([]byte, len("hello world"))
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf))
}

func TestPeerCloseIsEOF(t *testing.T) {
	client, server := pair(t)

	require.NoError(t, client.Close())
	assert.NoError(t, client.Close())

	_, err := server.Read(make([]byte, 8))
	assert.ErrorIs(t, err, io.EOF)
	// 重复读取返回同一个错误，不会 panic。
	_, err = server.Read(make([]byte, 8))
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriteAfterClose(t *testing.T) {
	client, _ := pair(t)
	require.NoError(t, client.Close())

	_, err := client.Write([]byte("x"))
	assert.ErrorIs(t, err, net.ErrClosed)
	_, err = client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, net.ErrClosed)
}
