package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// MessageHandler 处理一条客户端消息并返回要回给客户端的消息（由 api 层注入）。
type MessageHandler func(ctx context.Context, msg *ClientMessage) *ServerMessage

// Gateway 是 WebSocket 聊天通道
// 职责：
// 1. 维护客户端↔后端的WebSocket连接
// 2. 按到达顺序逐条处理客户端消息，每条消息对应一条回复
// 3. 定期 ping 保活，写失败即关闭
type Gateway struct {
	// 客户端连接；写入方持锁，关闭后置空。readConn 只给读循环用，不会被置空。
	clientConn     *websocket.Conn
	clientConnLock sync.Mutex
	readConn       *websocket.Conn

	// 消息处理器
	handler MessageHandler

	// 状态管理
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeChan chan struct{}

	// 序列号生成器（用于ServerMessage）
	seqCounter int64
	seqLock    sync.Mutex

	config Config
	logger zerolog.Logger
}

// Config 网关配置
type Config struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// New 创建一个新的Gateway实例。ctx 结束时连接上进行中的处理会收到取消。
func New(ctx context.Context, clientConn *websocket.Conn, config Config, handler MessageHandler) *Gateway {
	ctx, cancel := context.WithCancel(ctx)

	return &Gateway{
		clientConn: clientConn,
		readConn:   clientConn,
		handler:    handler,
		ctx:        ctx,
		cancel:     cancel,
		closeChan:  make(chan struct{}),
		config:     config,
		logger:     log.With().Str("component", "gateway").Str("remote", clientConn.RemoteAddr().String()).Logger(),
	}
}

// Serve 阻塞运行读循环，直到连接关闭或 ctx 结束。
func (g *Gateway) Serve() {
	defer g.Close()

	go g.pingLoop()
	go func() {
		select {
		case <-g.ctx.Done():
			g.Close()
		case <-g.closeChan:
		}
	}()

	g.clientReadLoop()
}

// Done 返回一个在网关关闭后被关闭的 channel。
func (g *Gateway) Done() <-chan struct{} {
	return g.closeChan
}

// clientReadLoop 从客户端读取消息
func (g *Gateway) clientReadLoop() {
	for {
		select {
		case <-g.closeChan:
			return
		default:
		}

		messageType, data, err := g.readConn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug().Err(err).Msg("client read error")
			}
			return
		}

		if messageType != websocket.TextMessage {
			g.sendErrorToClient("", http.StatusBadRequest, "binary frames are not supported")
			continue
		}

		if eventID, err := g.handleClientEvent(data); err != nil {
			g.logger.Warn().Err(err).Str("event_id", eventID).Msg("handle client event error")
			// 发送错误给客户端，但不断开连接
			g.sendErrorToClient(eventID, http.StatusBadRequest, err.Error())
		}
	}
}

// handleClientEvent 处理客户端JSON消息。返回的 eventID 用于在错误帧里回带，便于客户端配对。
func (g *Gateway) handleClientEvent(data []byte) (string, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		// 整帧解析失败时尽量取出 event_id
		return gjson.GetBytes(data, "event_id").String(), errors.New("invalid request payload")
	}

	if msg.Type == "" {
		msg.Type = EventTypeChat
	}
	if msg.Type != EventTypeChat {
		return msg.EventID, fmt.Errorf("unsupported message type: %s", msg.Type)
	}
	if msg.ClientTS.IsZero() {
		msg.ClientTS = time.Now()
	}

	resp := g.handler(g.ctx, &msg)
	if resp == nil {
		return msg.EventID, nil
	}
	resp.EventID = msg.EventID
	if err := g.sendToClient(resp); err != nil {
		// 写失败时连接已不可用，不再补发错误帧
		g.logger.Debug().Err(err).Str("event_id", msg.EventID).Msg("send reply failed")
	}
	return msg.EventID, nil
}

// sendToClient 发送消息给客户端
func (g *Gateway) sendToClient(msg *ServerMessage) error {
	// 分配序列号
	g.seqLock.Lock()
	g.seqCounter++
	msg.Seq = g.seqCounter
	g.seqLock.Unlock()

	if msg.ServerTS.IsZero() {
		msg.ServerTS = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal server message: %w", err)
	}

	g.clientConnLock.Lock()
	defer g.clientConnLock.Unlock()

	if g.clientConn == nil {
		return errors.New("client connection is closed")
	}

	if g.config.WriteTimeout > 0 {
		g.clientConn.SetWriteDeadline(time.Now().Add(g.config.WriteTimeout))
	}
	if err := g.clientConn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to client: %w", err)
	}

	return nil
}

// sendErrorToClient 发送错误消息给客户端
func (g *Gateway) sendErrorToClient(eventID string, status int, errMsg string) {
	if err := g.sendToClient(&ServerMessage{
		Type:    EventTypeError,
		EventID: eventID,
		Status:  status,
		Error:   errMsg,
	}); err != nil {
		g.logger.Debug().Err(err).Msg("send error to client failed")
	}
}

// pingLoop 定期发送ping保持连接
func (g *Gateway) pingLoop() {
	interval := g.config.PingInterval
	if interval == 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.closeChan:
			return
		case <-ticker.C:
			g.clientConnLock.Lock()
			var err error
			if g.clientConn != nil {
				err = g.clientConn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second))
			}
			g.clientConnLock.Unlock()

			if err != nil {
				g.logger.Debug().Err(err).Msg("ping failed, closing")
				g.Close()
				return
			}
		}
	}
}

// Close 关闭网关
func (g *Gateway) Close() error {
	var closeErr error

	g.closeOnce.Do(func() {
		g.cancel()
		close(g.closeChan)
		closeErr = g.closeClientConn()
	})

	return closeErr
}

// closeClientConn 关闭客户端连接
func (g *Gateway) closeClientConn() error {
	g.clientConnLock.Lock()
	defer g.clientConnLock.Unlock()

	if g.clientConn == nil {
		return nil
	}

	// 发送关闭消息
	g.clientConn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	err := g.clientConn.Close()
	g.clientConn = nil
	return err
}
