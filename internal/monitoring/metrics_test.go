package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("nil 接收者不会 panic", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.RecordHTTPRequest("GET", "/", "200", time.Millisecond)
			m.RecordMailboxCreated("mailtm", 2)
			m.RecordMailboxDeleted()
			m.RecordMailboxesExpired(3)
			m.RecordTokenRefresh("mailtm", true)
			m.ObserveProviderRequest("mailtm", "list", "success", time.Millisecond)
			m.RecordPollTick("ok", time.Millisecond)
			m.SetPollTasks(1)
			m.RecordNotification(false)
			m.SetWebSocketClients(1)
		})
		assert.Nil(t, m.Registry())
	})

	t.Run("独立注册表可重复创建", func(t *testing.T) {
		a := NewMetrics()
		b := NewMetrics()

		a.RecordMailboxCreated("mailtm", 2)
		b.RecordMailboxCreated("mailtm", 0)

		assert.Equal(t, 1.0, testutil.ToFloat64(a.MailboxesCreated.WithLabelValues("mailtm")))
		assert.Equal(t, 2.0, testutil.ToFloat64(a.MailboxesEvicted))
		assert.Equal(t, 0.0, testutil.ToFloat64(b.MailboxesEvicted))
	})

	t.Run("提供方请求计数", func(t *testing.T) {
		m := NewMetrics()
		m.ObserveProviderRequest("tempmailorg", "list_messages", "transient", 20*time.Millisecond)
		m.ObserveProviderRequest("tempmailorg", "list_messages", "transient", 20*time.Millisecond)

		assert.Equal(t, 2.0, testutil.ToFloat64(
			m.ProviderRequests.WithLabelValues("tempmailorg", "list_messages", "transient")))
	})

	t.Run("HTTP 处理器输出指标", func(t *testing.T) {
		m := NewMetrics()
		m.RecordPollTick("delivered", time.Millisecond)

		rec := httptest.NewRecorder()
		m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `mailninja_poll_ticks_total{result="delivered"} 1`)
	})
}
