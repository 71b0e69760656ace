package ws

import (
	"time"

	"coinwallet/internal/model"
)

// 通道消息契约（服务端 -> 客户端）只有两种：
//   pong         — 心跳应答，除活性外无任何状态含义
//   notification — 新通知推送，客户端收到后合并本地列表并回源 REST 对账
const (
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeNotification = "notification"
)

// ClientMessage 客户端上行消息，目前只有心跳
type ClientMessage struct {
	Type string `json:"type"`
}

type PongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type NotificationMessage struct {
	Type         string              `json:"type"`
	Notification *model.Notification `json:"notification"`
}

func NewPongMessage() *PongMessage {
	return &PongMessage{
		Type:      MessageTypePong,
		Timestamp: time.Now().UnixMilli(),
	}
}

func NewNotificationMessage(notification *model.Notification) *NotificationMessage {
	return &NotificationMessage{
		Type:         MessageTypeNotification,
		Notification: notification,
	}
}
