package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"coinwallet/internal/model"
	"coinwallet/internal/ws"

	"github.com/gorilla/websocket"
)

// ============================================================================
// 推送通道客户端
// ============================================================================
//
// 连接状态机（显式状态，不用闭包里的可变计数器）：
//
//   Disconnected -> Connecting -> Connected -> Disconnected -> ...
//
// 会话存续期间循环往复，直到调用 Close（用户登出）。
// 通道只是加速层：推送丢失由调用方回源 REST 对账补齐，
// 客户端只保证按 id 去重，不保证跨重连的顺序。
//
// ============================================================================

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// errBadConfig 构造类错误（端点格式、用户ID缺失）
// 与尝试次数无关，按固定间隔重试而不是指数退避
var errBadConfig = errors.New("通道配置不合法")

// 去重集合的容量上限，超出后淘汰最早的记录
const seenLimit = 1024

type Options struct {
	Endpoint string // 如 ws://127.0.0.1:8080/api/v1/ws
	UserID   int64

	HeartbeatInterval   time.Duration // 心跳间隔，默认 20s
	Backoff             Backoff       // 重连退避策略
	ConstructRetryDelay time.Duration // 构造类错误的固定重试间隔，默认 5s

	// OnNotification 收到推送通知时回调（已按 id 去重）
	OnNotification func(*model.Notification)
	// OnRetry 每次安排重连时回调，attempt 为连续失败次数（从 0 开始）
	OnRetry func(attempt int, delay time.Duration)
}

type Client struct {
	opts  Options
	state int32

	cancel   context.CancelFunc
	done     chan struct{}
	lastPong int64 // UnixMilli

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	seenMu    sync.Mutex
	seen      map[int64]bool
	seenOrder []int64
}

func New(opts Options) *Client {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.ConstructRetryDelay <= 0 {
		opts.ConstructRetryDelay = 5 * time.Second
	}

	return &Client{
		opts: opts,
		done: make(chan struct{}),
		seen: make(map[int64]bool),
	}
}

// Start 启动连接循环，非阻塞
// 生命周期由 ctx 和 Close 共同约束：任一触发后循环退出且不再重连
func (c *Client) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx)
}

// Close 用户登出：取消挂起的重连定时器，发正常关闭帧后断开
// 服务端收到 CloseNormalClosure 即知是主动下线
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		conn.Close()
	}
}

// Wait 阻塞到连接循环完全退出
func (c *Client) Wait() {
	<-c.done
}

func (c *Client) State() State {
	return State(atomic.LoadInt32(&c.state))
}

// LastPong 最近一次心跳应答时间，零值表示尚未收到
func (c *Client) LastPong() time.Time {
	ms := atomic.LoadInt64(&c.lastPong)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (c *Client) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.setState(StateDisconnected)

	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting)

		conn, err := c.dial(ctx)
		if err != nil {
			c.setState(StateDisconnected)

			var delay time.Duration
			if errors.Is(err, errBadConfig) {
				delay = c.opts.ConstructRetryDelay
			} else {
				delay = c.opts.Backoff.Delay(attempt)
				if c.opts.OnRetry != nil {
					c.opts.OnRetry(attempt, delay)
				}
				attempt++
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		// 连接成功，退避计数归零
		attempt = 0

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)

		c.session(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.setState(StateDisconnected)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	if c.opts.UserID <= 0 {
		return nil, fmt.Errorf("%w: 缺少用户ID", errBadConfig)
	}

	u, err := url.Parse(c.opts.Endpoint)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, fmt.Errorf("%w: 端点格式错误 %q", errBadConfig, c.opts.Endpoint)
	}

	q := u.Query()
	q.Set("user_id", fmt.Sprintf("%d", c.opts.UserID))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("连接失败: %w", err)
	}
	return conn, nil
}

// session 单次连接的会话：心跳协程 + 读循环
// 读失败即会话结束，交回 run 循环决定是否重连
func (c *Client) session(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.heartbeat(sessCtx, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[wsclient] 连接断开: %v", err)
			}
			return
		}
		c.handleMessage(raw)
	}
}

// heartbeat 周期发送心跳
// 【关键点】两类失败都要立刻断开触发重连，不等到下一个周期才发现：
//  1. 发送失败 —— 连接已死
//  2. 应答超时 —— 半开连接（对端停摆、中间设备静默丢包），
//     发送还在成功但 pong 不再回来，超过两个心跳周期未收到即判死
func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	ping, _ := json.Marshal(ws.ClientMessage{Type: ws.MessageTypePing})

	// 本次会话的应答基线，上一条连接的 lastPong 不参与判断
	sessionStart := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := c.LastPong()
			if last.Before(sessionStart) {
				last = sessionStart
			}
			if time.Since(last) > 2*c.opts.HeartbeatInterval {
				log.Printf("[wsclient] 心跳应答超时，断开重连: lastPong=%v", c.LastPong())
				conn.Close()
				return
			}

			c.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, ping)
			c.writeMu.Unlock()
			if err != nil {
				log.Printf("[wsclient] 心跳发送失败，断开重连: %v", err)
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) handleMessage(raw []byte) {
	var head ws.ClientMessage
	if err := json.Unmarshal(raw, &head); err != nil {
		return
	}

	switch head.Type {
	case ws.MessageTypePong:
		atomic.StoreInt64(&c.lastPong, time.Now().UnixMilli())

	case ws.MessageTypeNotification:
		var msg ws.NotificationMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Notification == nil {
			return
		}
		if c.markSeen(msg.Notification.ID) && c.opts.OnNotification != nil {
			c.opts.OnNotification(msg.Notification)
		}
	}
}

// markSeen 按通知 id 去重，首次出现返回 true
// 重连窗口内同一事件可能被重投（至少一次投递），去重后对调用方只回调一次
func (c *Client) markSeen(id int64) bool {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()

	if c.seen[id] {
		return false
	}
	c.seen[id] = true
	c.seenOrder = append(c.seenOrder, id)

	if len(c.seenOrder) > seenLimit {
		oldest := c.seenOrder[0]
		c.seenOrder = c.seenOrder[1:]
		delete(c.seen, oldest)
	}
	return true
}
