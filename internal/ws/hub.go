package ws

import (
	"encoding/json"
	"log"
	"sync"

	"coinwallet/internal/model"

	"github.com/gorilla/websocket"
)

// hubConn 带写锁的连接包装
// gorilla/websocket 要求同一连接同时只能有一个写者，
// 写锁按连接独立：慢客户端只阻塞自己的推送，不拖住其他用户
type hubConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (hc *hubConn) write(payload []byte) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub 在线连接注册表，按用户维度组织
//
// 显式注入到需要它的组件，不做包级全局量——
// 多个独立实例（并行测试、多租户）不能共享可变状态。
// 同一用户允许多个并发连接（多端登录），推送对所有连接广播。
//
// Hub 的互斥锁只保护注册表本身，网络写走连接级写锁
type Hub struct {
	mu      sync.Mutex
	clients map[int64]map[*websocket.Conn]*hubConn
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[int64]map[*websocket.Conn]*hubConn),
	}
}

func (h *Hub) Register(userID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*websocket.Conn]*hubConn)
	}
	h.clients[userID][conn] = &hubConn{conn: conn}
}

func (h *Hub) Unregister(userID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[userID]; ok {
		delete(conns, conn)
		conn.Close()
		if len(conns) == 0 {
			delete(h.clients, userID)
		}
	}
}

// ConnCount 用户当前在线连接数
func (h *Hub) ConnCount(userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

// PushNotification 向用户的全部在线连接推送通知，返回送达连接数
// 注册表锁内只做快照，网络写在锁外进行；
// 写失败的连接当场摘除，由客户端重连恢复
func (h *Hub) PushNotification(userID int64, notification *model.Notification) int {
	payload, err := json.Marshal(NewNotificationMessage(notification))
	if err != nil {
		log.Printf("[Hub] 序列化推送消息失败: %v", err)
		return 0
	}

	h.mu.Lock()
	targets := make([]*hubConn, 0, len(h.clients[userID]))
	for _, hc := range h.clients[userID] {
		targets = append(targets, hc)
	}
	h.mu.Unlock()

	delivered := 0
	for _, hc := range targets {
		if err := hc.write(payload); err != nil {
			log.Printf("[Hub] 推送失败，摘除连接: userID=%d, err=%v", userID, err)
			h.Unregister(userID, hc.conn)
			continue
		}
		delivered++
	}
	return delivered
}

// Pong 应答客户端心跳
func (h *Hub) Pong(userID int64, conn *websocket.Conn) error {
	payload, err := json.Marshal(NewPongMessage())
	if err != nil {
		return err
	}

	h.mu.Lock()
	hc := h.clients[userID][conn]
	h.mu.Unlock()

	if hc == nil {
		// 连接已被摘除，应答失败交给读循环收尾
		return websocket.ErrCloseSent
	}
	return hc.write(payload)
}
