package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coinwallet/internal/model"
	"coinwallet/internal/ws"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// retryRecord 记录 OnRetry 回调序列
type retryRecord struct {
	mu       sync.Mutex
	attempts []int
}

func (r *retryRecord) record(attempt int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
}

func (r *retryRecord) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.attempts...)
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// echoPongServer 应答心跳并可主动推送的通道服务端
func echoPongServer(t *testing.T, onConn func(*websocket.Conn)) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if onConn != nil {
			onConn(conn)
		}
		for {
			var msg ws.ClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == ws.MessageTypePing {
				if err := conn.WriteJSON(ws.NewPongMessage()); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClientConnectAndHeartbeat(t *testing.T) {
	server := echoPongServer(t, nil)

	client := New(Options{
		Endpoint:          wsURL(server),
		UserID:            1,
		HeartbeatInterval: 10 * time.Millisecond,
	})
	client.Start(context.Background())
	defer func() {
		client.Close()
		client.Wait()
	}()

	require.Eventually(t, func() bool {
		return client.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	// 心跳应答更新 LastPong
	require.Eventually(t, func() bool {
		return !client.LastPong().IsZero()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientReconnectBackoffResets(t *testing.T) {
	var rejected int32
	connected := make(chan *websocket.Conn, 4)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 前 3 次握手直接拒绝，验证退避计数递增
		if atomic.AddInt32(&rejected, 1) <= 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connected <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	retries := &retryRecord{}
	client := New(Options{
		Endpoint:          wsURL(server),
		UserID:            1,
		HeartbeatInterval: time.Minute,
		Backoff:           Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond},
		OnRetry:           retries.record,
	})
	client.Start(context.Background())
	defer func() {
		client.Close()
		client.Wait()
	}()

	// 三次失败后成功建连
	var serverConn *websocket.Conn
	select {
	case serverConn = <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("建连超时")
	}
	require.Equal(t, []int{0, 1, 2}, retries.snapshot())

	require.Eventually(t, func() bool {
		return client.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	// 服务端踢掉连接后重连，退避计数应已归零
	serverConn.Close()
	server.CloseClientConnections()
	server.Close()

	require.Eventually(t, func() bool {
		attempts := retries.snapshot()
		return len(attempts) > 3 && attempts[3] == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClientDedupeNotifications(t *testing.T) {
	notification := &model.Notification{ID: 42, UserID: 1, Title: "硬币到账"}

	server := echoPongServer(t, func(conn *websocket.Conn) {
		// 模拟至少一次投递的重复推送
		conn.WriteJSON(ws.NewNotificationMessage(notification))
		conn.WriteJSON(ws.NewNotificationMessage(notification))
	})

	var received int32
	client := New(Options{
		Endpoint:          wsURL(server),
		UserID:            1,
		HeartbeatInterval: time.Minute,
		OnNotification: func(n *model.Notification) {
			require.Equal(t, int64(42), n.ID)
			atomic.AddInt32(&received, 1)
		},
	})
	client.Start(context.Background())
	defer func() {
		client.Close()
		client.Wait()
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 等一拍确认第二条被去重
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&received))
}

// TestClientStalePongTriggersReconnect 半开连接检测：
// 服务端收下心跳但从不应答，客户端应在若干个心跳周期内判死并重连
func TestClientStalePongTriggersReconnect(t *testing.T) {
	var upgrades int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&upgrades, 1)
		// 只读不答，模拟对端停摆
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client := New(Options{
		Endpoint:          wsURL(server),
		UserID:            1,
		HeartbeatInterval: 10 * time.Millisecond,
		Backoff:           Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond},
	})
	client.Start(context.Background())
	defer func() {
		client.Close()
		client.Wait()
	}()

	// 第二次握手出现即说明超时连接被主动断开并重连
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&upgrades) >= 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClientBadEndpointFixedDelay(t *testing.T) {
	retries := &retryRecord{}
	client := New(Options{
		Endpoint:            "http://not-a-ws-endpoint",
		UserID:              1,
		ConstructRetryDelay: 5 * time.Millisecond,
		OnRetry:             retries.record,
	})
	client.Start(context.Background())

	// 构造类错误按固定间隔重试，不触发退避回调
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, retries.snapshot())
	require.Equal(t, StateDisconnected, client.State())

	client.Close()
	client.Wait()
}

func TestClientCloseStopsReconnect(t *testing.T) {
	// 无服务端，客户端处于重连循环中
	client := New(Options{
		Endpoint: "ws://127.0.0.1:1", // 不可达端口
		UserID:   1,
		Backoff:  Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond},
	})
	client.Start(context.Background())

	time.Sleep(30 * time.Millisecond)
	client.Close()

	done := make(chan struct{})
	go func() {
		client.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close 后连接循环未退出")
	}
	require.Equal(t, StateDisconnected, client.State())
}

func TestClientMarkSeenEviction(t *testing.T) {
	client := New(Options{UserID: 1})

	for i := int64(1); i <= seenLimit+1; i++ {
		require.True(t, client.markSeen(i))
	}

	// 最早的记录被淘汰后可再次通过
	require.True(t, client.markSeen(1))
	// 仍在窗口内的记录保持去重
	require.False(t, client.markSeen(seenLimit+1))
}
