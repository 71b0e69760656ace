package model

// WalletEvent 推送通道事件载荷
// 由发件箱投递到 Kafka，消费侧按 user_id 路由到在线连接
type WalletEvent struct {
	UserID       int64         `json:"user_id"`
	Notification *Notification `json:"notification"`
}
