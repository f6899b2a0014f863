package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/websocket"
)

func sampleNotification() domain.Notification {
	return domain.Notification{
		ID:        "3f1c7a2e-0000-4000-8000-000000000001",
		UserID:    42,
		MailboxID: "mb-1",
		Address:   "abc@mail.tm",
		MessageID: "m-5",
		Sender:    "noreply@example.com",
		Subject:   "Your code",
		At:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMulti(t *testing.T) {
	t.Run("所有接收方都会收到", func(t *testing.T) {
		var got []string
		m := Multi{
			Func(func(_ context.Context, n domain.Notification) error { got = append(got, "a:"+n.MessageID); return nil }),
			nil,
			Func(func(_ context.Context, n domain.Notification) error { got = append(got, "b:"+n.MessageID); return nil }),
		}
		require.NoError(t, m.Notify(context.Background(), sampleNotification()))
		assert.Equal(t, []string{"a:m-5", "b:m-5"}, got)
	})

	t.Run("一个失败不影响其他并合并错误", func(t *testing.T) {
		errA := errors.New("a down")
		called := false
		m := Multi{
			Func(func(context.Context, domain.Notification) error { return errA }),
			Func(func(context.Context, domain.Notification) error { called = true; return nil }),
		}
		err := m.Notify(context.Background(), sampleNotification())
		assert.ErrorIs(t, err, errA)
		assert.True(t, called)
	})

	t.Run("Nop", func(t *testing.T) {
		assert.NoError(t, Nop.Notify(context.Background(), sampleNotification()))
	})
}

func TestWebhook(t *testing.T) {
	t.Run("签名请求", func(t *testing.T) {
		var (
			body      []byte
			signature string
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ = io.ReadAll(r.Body)
			signature = r.Header.Get("X-Webhook-Signature")
			assert.Equal(t, EventNewMail, r.Header.Get("X-Webhook-Event"))
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		hook := NewWebhook(server.URL, "s3cret", nil)
		require.NoError(t, hook.Notify(context.Background(), sampleNotification()))

		assert.True(t, VerifySignature(body, "s3cret", signature))
		assert.False(t, VerifySignature(body, "other", signature))

		var event WebhookEvent
		require.NoError(t, json.Unmarshal(body, &event))
		assert.Equal(t, "m-5", event.Data.MessageID)
		assert.Equal(t, int64(42), event.Data.UserID)
	})

	t.Run("非 2xx 返回错误", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer server.Close()

		err := NewWebhook(server.URL, "", nil).Notify(context.Background(), sampleNotification())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 500")
	})
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	args := m.Called(ctx, channel, payload)
	return args.Get(0).(int64), args.Error(1)
}

func TestRedisPublisher(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, "mailninja:notifications:42", mock.MatchedBy(func(p []byte) bool {
		var n domain.Notification
		return json.Unmarshal(p, &n) == nil && n.MessageID == "m-5"
	})).Return(int64(0), nil).Once()

	p := NewRedisPublisher(pub, "")
	require.NoError(t, p.Notify(context.Background(), sampleNotification()))
	pub.AssertExpectations(t)

	failing := new(mockPublisher)
	failing.On("Publish", mock.Anything, "custom:42", mock.Anything).Return(int64(0), errors.New("conn reset"))
	assert.Error(t, NewRedisPublisher(failing, "custom").Notify(context.Background(), sampleNotification()))
}

type fakeSender struct {
	userID  int64
	msgType websocket.MessageType
	payload any
}

func (f *fakeSender) SendToUser(userID int64, msgType websocket.MessageType, payload any) (int, error) {
	f.userID, f.msgType, f.payload = userID, msgType, payload
	return 0, nil
}

func TestHub(t *testing.T) {
	sender := &fakeSender{}
	require.NoError(t, NewHub(sender).Notify(context.Background(), sampleNotification()))
	assert.Equal(t, int64(42), sender.userID)
	assert.Equal(t, websocket.MessageTypeNewMail, sender.msgType)
	assert.Equal(t, sampleNotification(), sender.payload)
}
