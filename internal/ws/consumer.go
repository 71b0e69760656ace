package ws

import (
	"context"
	"encoding/json"
	"log"

	"coinwallet/internal/model"

	"github.com/IBM/sarama"
)

// EventConsumer 消费钱包事件并推送到在线连接
//
// 送达语义：至少一次、尽力而为。推送后才提交位点，进程崩溃时
// 未确认的事件会重投；用户不在线时事件直接丢弃——
// 通知表才是事实来源，客户端重连后通过 REST 对账补齐
type EventConsumer struct {
	group  sarama.ConsumerGroup
	hub    *Hub
	topics []string
}

func NewEventConsumer(group sarama.ConsumerGroup, hub *Hub, topics []string) *EventConsumer {
	return &EventConsumer{
		group:  group,
		hub:    hub,
		topics: topics,
	}
}

// Start 消费循环，直到 ctx 取消
// Consume 在再均衡后返回，需要外层循环重新进入
func (c *EventConsumer) Start(ctx context.Context) {
	log.Println("[EventConsumer] 事件推送消费启动")

	go func() {
		for err := range c.group.Errors() {
			log.Printf("[EventConsumer] 消费错误: %v", err)
		}
	}()

	for {
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			log.Printf("[EventConsumer] 消费中断: %v", err)
		}
		if ctx.Err() != nil {
			log.Println("[EventConsumer] 收到停止信号，任务退出")
			return
		}
	}
}

func (c *EventConsumer) Close() error {
	return c.group.Close()
}

func (c *EventConsumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *EventConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *EventConsumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			var event model.WalletEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				// 坏消息跳过并提交，否则会卡死整个分区
				log.Printf("[EventConsumer] 解析事件失败: offset=%d, err=%v", msg.Offset, err)
				sess.MarkMessage(msg, "")
				continue
			}

			if event.Notification != nil {
				delivered := c.hub.PushNotification(event.UserID, event.Notification)
				if delivered > 0 {
					log.Printf("[EventConsumer] 推送成功: userID=%d, connections=%d", event.UserID, delivered)
				}
			}
			sess.MarkMessage(msg, "")

		case <-sess.Context().Done():
			return nil
		}
	}
}
