package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestGateway 启动一个 httptest 服务，把每个连接交给 Gateway 处理。
func newTestGateway(t *testing.T, cfg Config, handler MessageHandler) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		New(context.Background(), conn, cfg, handler).Serve()
	}))
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func echoHandler(_ context.Context, msg *ClientMessage) *ServerMessage {
	if msg.Message == "" {
		return &ServerMessage{Type: EventTypeError, Status: http.StatusBadRequest, Error: "missing session_id or message"}
	}
	return &ServerMessage{Type: EventTypeReply, Reply: msg.SessionID + ":" + msg.Message}
}

func readServerMessage(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// TestGatewayRepliesInOrder 验证按发送顺序逐条回复，并回带 event_id 与递增 seq。
func TestGatewayRepliesInOrder(t *testing.T) {
	conn := newTestGateway(t, Config{}, echoHandler)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: EventTypeChat, EventID: "e1", SessionID: "abc", Message: "hello"}))
	require.NoError(t, conn.WriteJSON(ClientMessage{EventID: "e2", SessionID: "abc", Message: "again"}))

	first := readServerMessage(t, conn)
	assert.Equal(t, EventTypeReply, first.Type)
	assert.Equal(t, "e1", first.EventID)
	assert.Equal(t, "abc:hello", first.Reply)
	assert.Equal(t, int64(1), first.Seq)
	assert.False(t, first.ServerTS.IsZero())

	second := readServerMessage(t, conn)
	assert.Equal(t, "e2", second.EventID)
	assert.Equal(t, "abc:again", second.Reply)
	assert.Equal(t, int64(2), second.Seq)
}

func TestGatewayHandlerErrorKeepsConnection(t *testing.T) {
	conn := newTestGateway(t, Config{}, echoHandler)

	require.NoError(t, conn.WriteJSON(ClientMessage{EventID: "bad", SessionID: "abc"}))
	msg := readServerMessage(t, conn)
	assert.Equal(t, EventTypeError, msg.Type)
	assert.Equal(t, http.StatusBadRequest, msg.Status)
	assert.Equal(t, "bad", msg.EventID)

	require.NoError(t, conn.WriteJSON(ClientMessage{SessionID: "abc", Message: "ok"}))
	assert.Equal(t, "abc:ok", readServerMessage(t, conn).Reply)
}

func TestGatewayRejectsMalformedFrames(t *testing.T) {
	conn := newTestGateway(t, Config{}, echoHandler)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readServerMessage(t, conn)
	assert.Equal(t, EventTypeError, msg.Type)
	assert.Equal(t, http.StatusBadRequest, msg.Status)
	assert.Equal(t, "invalid request payload", msg.Error)
	assert.Empty(t, msg.EventID)

	// 解析失败但能取到 event_id 时回带，客户端可据此配对
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event_id":"e9","session_id":"abc","message":}`)))
	msg = readServerMessage(t, conn)
	assert.Equal(t, "invalid request payload", msg.Error)
	assert.Equal(t, "e9", msg.EventID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event_id":"e10","session_id":1}`)))
	msg = readServerMessage(t, conn)
	assert.Equal(t, http.StatusBadRequest, msg.Status)
	assert.Equal(t, "e10", msg.EventID)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "barge_in", "event_id": "e7"}))
	msg = readServerMessage(t, conn)
	assert.Contains(t, msg.Error, "unsupported message type")
	assert.Equal(t, "e7", msg.EventID)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	msg = readServerMessage(t, conn)
	assert.Contains(t, msg.Error, "binary frames")
}

// TestGatewayPings 验证心跳按配置间隔发出。
func TestGatewayPings(t *testing.T) {
	conn := newTestGateway(t, Config{PingInterval: 20 * time.Millisecond}, echoHandler)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})

	// 读循环才会触发 ping handler
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(5 * time.Second):
		t.Fatal("no ping received")
	}
}

func TestGatewayCloseCancelsContext(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gwCh := make(chan *Gateway, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		gw := New(context.Background(), conn, Config{}, echoHandler)
		gwCh <- gw
		gw.Serve()
	}))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	gw := <-gwCh
	require.NoError(t, gw.Close())

	select {
	case <-gw.Done():
	case <-time.After(time.Second):
		t.Fatal("gateway not closed")
	}
	assert.Error(t, gw.ctx.Err())
}
