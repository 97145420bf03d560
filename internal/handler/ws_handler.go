package handler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/graham924/blog-feng-yu/internal/config"
	"github.com/graham924/blog-feng-yu/internal/domain"
	"github.com/graham924/blog-feng-yu/internal/hub"
	"github.com/graham924/blog-feng-yu/internal/service"
	"github.com/graham924/blog-feng-yu/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler upgrades chat connections and feeds their frames to the chat
// service.
type WSHandler struct {
	service service.ChatService
	wsCfg   config.WebSocketConfig
}

func NewWSHandler(svc service.ChatService, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		service: svc,
		wsCfg:   wsCfg,
	}
}

func (h *WSHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/websocket", h.HandleWebSocket)
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	remoteIP := ClientIP(c.Request, h.wsCfg.IPHeader)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Str(log.FieldRemoteIP, remoteIP).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), remoteIP, conn, h.wsCfg)

	ctx := log.ConnContext(client.ID, client.RemoteIP)
	logger := log.Ctx(ctx)

	go client.WritePump()

	if err := h.service.Open(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("failed to open chat connection")
		h.service.Close(ctx, client)
		return
	}

	go func() {
		client.ReadPump(func(cl *hub.Client, message []byte) {
			h.handleMessage(ctx, cl, message)
		})
		h.service.Close(ctx, client)
	}()
}

func (h *WSHandler) handleMessage(ctx context.Context, client *hub.Client, message []byte) {
	err := h.service.HandleMessage(ctx, client, message)
	if err == nil {
		return
	}

	l := log.Ctx(ctx)
	switch {
	case errors.Is(err, domain.ErrValidation):
		l.Warn().Err(err).Msg("rejected chat frame")
	case errors.Is(err, domain.ErrTransport):
		l.Debug().Err(err).Msg("chat delivery failed")
	default:
		l.Error().Err(err).Msg("chat frame handling failed")
	}
}

// ClientIP returns the address reported in header, which a reverse proxy
// sets. Only the first entry of a comma separated list is used. A missing
// or unparsable value yields domain.UnknownIP.
func ClientIP(r *http.Request, header string) string {
	if header == "" {
		return domain.UnknownIP
	}
	value := r.Header.Get(header)
	if i := strings.IndexByte(value, ','); i >= 0 {
		value = value[:i]
	}
	ip := net.ParseIP(strings.TrimSpace(value))
	if ip == nil {
		return domain.UnknownIP
	}
	return ip.String()
}
