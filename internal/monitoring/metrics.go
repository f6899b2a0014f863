package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 每个实例持有独立的注册表，测试中可以重复创建。所有方法都允许 nil 接收者。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 邮箱指标
	MailboxesCreated *prometheus.CounterVec
	MailboxesEvicted prometheus.Counter
	MailboxesDeleted prometheus.Counter
	MailboxesExpired prometheus.Counter
	TokenRefreshes   *prometheus.CounterVec

	// 提供方指标
	ProviderRequests        *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec

	// 轮询指标
	PollTicks          *prometheus.CounterVec
	PollTickDuration   prometheus.Histogram
	PollTasks          prometheus.Gauge
	NotificationsTotal *prometheus.CounterVec

	// WebSocket
	WebSocketClients prometheus.Gauge
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailninja_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailninja_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		MailboxesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailninja_mailboxes_created_total",
				Help: "Total number of mailboxes created",
			},
			[]string{"provider"},
		),

		MailboxesEvicted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailninja_mailboxes_evicted_total",
				Help: "Mailboxes deleted or deactivated to stay within the per-user limit",
			},
		),

		MailboxesDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailninja_mailboxes_deleted_total",
				Help: "Total number of mailboxes deleted by users",
			},
		),

		MailboxesExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailninja_mailboxes_expired_total",
				Help: "Total number of expired mailboxes removed",
			},
		),

		TokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailninja_token_refreshes_total",
				Help: "Provider token refreshes by outcome",
			},
			[]string{"provider", "outcome"},
		),

		ProviderRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailninja_provider_requests_total",
				Help: "Provider API requests by operation and outcome",
			},
			[]string{"provider", "op", "outcome"},
		),

		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailninja_provider_request_duration_seconds",
				Help:    "Provider API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "op"},
		),

		PollTicks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailninja_poll_ticks_total",
				Help: "Poll ticks by result",
			},
			[]string{"result"},
		),

		PollTickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailninja_poll_tick_duration_seconds",
				Help:    "Duration of a single poll tick",
				Buckets: prometheus.DefBuckets,
			},
		),

		PollTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailninja_poll_tasks",
				Help: "Number of users with auto-check enabled on this instance",
			},
		),

		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailninja_notifications_total",
				Help: "New-mail notifications by outcome",
			},
			[]string{"outcome"},
		),

		WebSocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailninja_websocket_clients",
				Help: "Connected WebSocket clients",
			},
		),
	}
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordMailboxCreated 记录邮箱创建以及因容量限制被清理的数量
func (m *Metrics) RecordMailboxCreated(provider string, evicted int) {
	if m == nil {
		return
	}
	m.MailboxesCreated.WithLabelValues(provider).Inc()
	if evicted > 0 {
		m.MailboxesEvicted.Add(float64(evicted))
	}
}

// RecordMailboxDeleted 记录用户删除邮箱
func (m *Metrics) RecordMailboxDeleted() {
	if m == nil {
		return
	}
	m.MailboxesDeleted.Inc()
}

// RecordMailboxesExpired 记录过期清理
func (m *Metrics) RecordMailboxesExpired(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.MailboxesExpired.Add(float64(count))
}

// RecordTokenRefresh 记录令牌刷新
func (m *Metrics) RecordTokenRefresh(provider string, ok bool) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(provider, outcome(ok)).Inc()
}

// ObserveProviderRequest 记录一次提供方请求
func (m *Metrics) ObserveProviderRequest(provider, op, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, op, result).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, op).Observe(duration.Seconds())
}

// RecordPollTick 记录一次轮询
func (m *Metrics) RecordPollTick(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.PollTicks.WithLabelValues(result).Inc()
	m.PollTickDuration.Observe(duration.Seconds())
}

// SetPollTasks 设置当前轮询任务数
func (m *Metrics) SetPollTasks(n int) {
	if m == nil {
		return
	}
	m.PollTasks.Set(float64(n))
}

// RecordNotification 记录通知发送结果
func (m *Metrics) RecordNotification(ok bool) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(outcome(ok)).Inc()
}

// SetWebSocketClients 设置 WebSocket 连接数
func (m *Metrics) SetWebSocketClients(n int) {
	if m == nil {
		return
	}
	m.WebSocketClients.Set(float64(n))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
