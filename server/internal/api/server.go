package api

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"sync/atomic"

	"chat-relay/server/internal/config"
	"chat-relay/server/internal/gateway"
	"chat-relay/server/internal/logging"
	"chat-relay/server/internal/model"
	"chat-relay/server/internal/relay"
	"chat-relay/server/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/tidwall/gjson"
)

//go:embed static/*
var staticFS embed.FS

type Server struct {
	config *config.Config
	relay  *relay.Relay

	// origins 可被配置热更新替换，读路径无锁。
	origins atomic.Pointer[originSet]

	indexHTML []byte
	upgrader  websocket.Upgrader
}

func NewServer(cfg *config.Config, r *relay.Relay) (*Server, error) {
	indexHTML, err := fs.ReadFile(staticFS, "static/index.html")
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:    cfg,
		relay:     r,
		indexHTML: indexHTML,
	}
	s.SetAllowedOrigins(cfg.Server.CORS.AllowedOrigins)
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s, nil
}

func (s *Server) Routes() http.Handler {
	// Gin 统一承载中间件与路由。
	engine := gin.New()
	engine.Use(requestID(), accessLog(), gin.Recovery(), s.corsMiddleware())
	engine.GET("/", s.handleIndex)
	engine.GET("/healthz", s.handleHealthz)
	engine.POST("/api/chat", s.handleChat)
	engine.GET("/api/chat/ws", s.handleChatStream)
	engine.POST("/api/sessions", s.handleCreateSession)
	engine.GET("/api/sessions/:id/history", s.handleHistory)
	engine.GET("/api/sessions/:id/timeline", s.handleTimeline)
	engine.DELETE("/api/sessions/:id", s.handleDeleteSession)
	return engine
}

// SetAllowedOrigins 替换 CORS 白名单，配置热更新时调用。
func (s *Server) SetAllowedOrigins(origins []string) {
	s.origins.Store(newOriginSet(origins))
}

// handleIndex 返回聊天页面。
func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", s.indexHTML)
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleChat 处理 /api/chat：追加用户消息、请求上游并返回回复。
func (s *Server) handleChat(c *gin.Context) {
	req, err := bindChatRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	reply, err := s.relay.HandleMessage(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		status, msg := errorResponse(err)
		if status >= http.StatusInternalServerError {
			logging.FromContext(c.Request.Context()).Error().Err(err).Str("session_id", req.SessionID).Msg("handle chat failed")
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, model.ChatResponse{Reply: reply})
}

// bindChatRequest 要求请求体恰好是一个 JSON 文档；ShouldBindJSON 只解码第一个值，会放过尾随内容。
func bindChatRequest(c *gin.Context) (model.ChatRequest, error) {
	var req model.ChatRequest
	body, err := c.GetRawData()
	if err != nil {
		return req, err
	}
	if !gjson.ValidBytes(body) {
		return req, errors.New("malformed json body")
	}
	err = binding.JSON.BindBody(body, &req)
	return req, err
}

// handleCreateSession 签发一个新的会话 ID。会话在第一条消息成功后才真正落库。
func (s *Server) handleCreateSession(c *gin.Context) {
	id, err := gonanoid.New()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create session failed"})
		return
	}
	c.JSON(http.StatusOK, model.CreateSessionResponse{SessionID: id})
}

func (s *Server) handleHistory(c *gin.Context) {
	id := c.Param("id")
	turns, err := s.relay.History(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		logging.FromContext(c.Request.Context()).Error().Err(err).Str("session_id", id).Msg("load history failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load session failed"})
		return
	}
	c.JSON(http.StatusOK, model.HistoryResponse{SessionID: id, Turns: turns})
}

func (s *Server) handleTimeline(c *gin.Context) {
	id := c.Param("id")
	events, err := s.relay.Timeline(c.Request.Context(), id)
	if err != nil {
		logging.FromContext(c.Request.Context()).Error().Err(err).Str("session_id", id).Msg("load timeline failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load timeline failed"})
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	c.JSON(http.StatusOK, model.TimelineResponse{SessionID: id, Events: events})
}

// handleDeleteSession 清空会话历史与时间线，不存在的会话同样返回 204。
func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.relay.Reset(c.Request.Context(), c.Param("id")); err != nil {
		status, msg := errorResponse(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleChatStream 把连接升级为 WebSocket，每个文本帧走一次 HandleMessage。
func (s *Server) handleChatStream(c *gin.Context) {
	ctx := c.Request.Context()
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		logging.FromContext(ctx).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	gw := gateway.New(ctx, conn, gateway.Config{
		WriteTimeout: s.config.Server.WriteTimeout,
		PingInterval: s.config.Server.PingInterval,
	}, s.handleChatFrame)

	logging.FromContext(ctx).Info().Str("remote", conn.RemoteAddr().String()).Msg("chat stream opened")
	gw.Serve()
	logging.FromContext(ctx).Info().Msg("chat stream closed")
}

// handleChatFrame 处理一个聊天帧。每帧使用独立的 request_id，优先取客户端的 event_id。
func (s *Server) handleChatFrame(ctx context.Context, msg *gateway.ClientMessage) *gateway.ServerMessage {
	requestID := msg.EventID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx = logging.WithRequest(ctx, requestID)

	reply, err := s.relay.HandleMessage(ctx, msg.SessionID, msg.Message)
	if err != nil {
		status, text := errorResponse(err)
		return &gateway.ServerMessage{Type: gateway.EventTypeError, Status: status, Error: text}
	}
	return &gateway.ServerMessage{Type: gateway.EventTypeReply, Reply: reply}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.origins.Load().allows(origin) {
		return true
	}
	// 同源页面总是允许
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// errorResponse 把 relay 的错误映射为 HTTP 状态码与对外文案。
func errorResponse(err error) (int, string) {
	var (
		validationErr *relay.ValidationError
		upstreamErr   *relay.UpstreamError
		storeErr      *relay.StoreError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, validationErr.Error()
	case errors.As(err, &upstreamErr):
		return http.StatusInternalServerError, upstreamErr.Error()
	case errors.As(err, &storeErr):
		return http.StatusInternalServerError, storeErr.Op + " session failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
