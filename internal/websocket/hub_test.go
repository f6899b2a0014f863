package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailninja/backend/internal/auth/jwt"
)

func newTestServer(t *testing.T) (*Hub, *jwt.Manager, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager := jwt.NewManager("websocket-test-secret-long-enough-value", "test", time.Minute, time.Hour)
	hub := NewHub(nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/ws", HandleWebSocket(hub, manager))
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return hub, manager, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func TestHandleWebSocket(t *testing.T) {
	t.Run("缺少令牌", func(t *testing.T) {
		_, _, url := newTestServer(t)

		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("推送到对应用户", func(t *testing.T) {
		hub, manager, url := newTestServer(t)

		tokens, err := manager.GenerateTokenPair(1001)
		require.NoError(t, err)
		other, err := manager.GenerateTokenPair(2002)
		require.NoError(t, err)

		conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+tokens.AccessToken, nil)
		require.NoError(t, err)
		defer conn.Close()

		otherConn, _, err := websocket.DefaultDialer.Dial(url+"?token="+other.AccessToken, nil)
		require.NoError(t, err)
		defer otherConn.Close()

		require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

		n, err := hub.SendToUser(1001, MessageTypeNewMail, map[string]string{"subject": "hello"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, MessageTypeNewMail, msg.Type)

		var data map[string]string
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		assert.Equal(t, "hello", data["subject"])
	})

	t.Run("断开后注销", func(t *testing.T) {
		hub, manager, url := newTestServer(t)
		changes := make(chan int, 4)
		hub.OnClientsChanged(func(n int) { changes <- n })

		tokens, err := manager.GenerateTokenPair(5)
		require.NoError(t, err)

		conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+tokens.AccessToken, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, <-changes)

		require.NoError(t, conn.Close())
		assert.Equal(t, 0, <-changes)

		n, err := hub.SendToUser(5, MessageTypeNewMail, "x")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
