package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"coinwallet/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 跨域校验由网关层负责
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS 推送通道接入点
// GET /api/v1/ws?user_id=xxx
//
// 连接生命周期：握手成功后注册到 Hub，读循环应答心跳，
// 读失败（客户端断开、正常关闭、读超时）即注销。
// 客户端正常下线会发 CloseNormalClosure，不会触发其重连逻辑
func (h *Handler) ServeWS(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "user_id 参数错误"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 失败时已写入 HTTP 错误响应
		log.Printf("[WS] 升级连接失败: userID=%d, err=%v", userID, err)
		return
	}

	h.hub.Register(userID, conn)
	defer h.hub.Unregister(userID, conn)

	log.Printf("[WS] 连接建立: userID=%d", userID)

	readTimeout := time.Duration(h.cfg.WS.ReadTimeoutSeconds) * time.Second

	for {
		if readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(readTimeout))
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[WS] 客户端正常下线: userID=%d", userID)
			} else {
				log.Printf("[WS] 连接断开: userID=%d, err=%v", userID, err)
			}
			return
		}

		var msg ws.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		if msg.Type == ws.MessageTypePing {
			if err := h.hub.Pong(userID, conn); err != nil {
				log.Printf("[WS] 心跳应答失败: userID=%d, err=%v", userID, err)
				return
			}
		}
	}
}
