package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coinwallet/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// dialHub 建立一条真实 websocket 连接并注册到 Hub，
// 返回客户端侧连接供断言读取
func dialHub(t *testing.T, hub *Hub, userID int64) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	serverConns := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.Register(userID, conn)
		serverConns <- conn
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, <-serverConns
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub()
	_, serverConn := dialHub(t, hub, 1)

	require.Equal(t, 1, hub.ConnCount(1))
	require.Equal(t, 0, hub.ConnCount(2))

	hub.Unregister(1, serverConn)
	require.Equal(t, 0, hub.ConnCount(1))
}

func TestHubPushNotification(t *testing.T) {
	hub := NewHub()
	client, _ := dialHub(t, hub, 1)

	notification := &model.Notification{
		ID:      100,
		UserID:  1,
		Title:   "硬币到账",
		Message: "您获得了 100 个硬币",
		Type:    model.NotificationTypeWallet,
	}

	delivered := hub.PushNotification(1, notification)
	require.Equal(t, 1, delivered)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg NotificationMessage
	require.NoError(t, client.ReadJSON(&msg))
	require.Equal(t, MessageTypeNotification, msg.Type)
	require.Equal(t, int64(100), msg.Notification.ID)
	require.Equal(t, "硬币到账", msg.Notification.Title)
}

func TestHubPushMultipleConns(t *testing.T) {
	hub := NewHub()
	clientA, _ := dialHub(t, hub, 1)
	clientB, _ := dialHub(t, hub, 1)

	require.Equal(t, 2, hub.ConnCount(1))

	delivered := hub.PushNotification(1, &model.Notification{ID: 1, UserID: 1, Title: "测试"})
	require.Equal(t, 2, delivered)

	for _, client := range []*websocket.Conn{clientA, clientB} {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg NotificationMessage
		require.NoError(t, client.ReadJSON(&msg))
		require.Equal(t, int64(1), msg.Notification.ID)
	}
}

func TestHubPushEvictsDeadConn(t *testing.T) {
	hub := NewHub()
	_, serverConn := dialHub(t, hub, 1)

	// 底层连接关闭后写必然失败，推送应摘除该连接
	require.NoError(t, serverConn.Close())

	delivered := hub.PushNotification(1, &model.Notification{ID: 1, UserID: 1, Title: "测试"})
	require.Equal(t, 0, delivered)
	require.Equal(t, 0, hub.ConnCount(1))
}

// TestHubSlowConnDoesNotBlockOthers 慢客户端隔离：
// 一条连接的写锁被占住（写阻塞中）时，其他用户的推送和心跳应答不受影响
func TestHubSlowConnDoesNotBlockOthers(t *testing.T) {
	hub := NewHub()
	_, slowServerConn := dialHub(t, hub, 1)
	clientB, serverConnB := dialHub(t, hub, 2)

	hub.mu.Lock()
	slow := hub.clients[1][slowServerConn]
	hub.mu.Unlock()
	slow.mu.Lock()
	defer slow.mu.Unlock()

	pushed := make(chan int, 1)
	go func() {
		pushed <- hub.PushNotification(2, &model.Notification{ID: 9, UserID: 2, Title: "测试"})
	}()

	select {
	case delivered := <-pushed:
		require.Equal(t, 1, delivered)
	case <-time.After(2 * time.Second):
		t.Fatal("慢连接阻塞了其他用户的推送")
	}

	require.NoError(t, hub.Pong(2, serverConnB))

	clientB.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg NotificationMessage
	require.NoError(t, clientB.ReadJSON(&msg))
	require.Equal(t, int64(9), msg.Notification.ID)
}

func TestHubPushOfflineUser(t *testing.T) {
	hub := NewHub()
	delivered := hub.PushNotification(404, &model.Notification{ID: 1, UserID: 404, Title: "测试"})
	require.Equal(t, 0, delivered)
}
