package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Pinger 可被健康检查探测的依赖
type Pinger interface {
	Health(ctx context.Context) error
}

// PingFunc 函数适配器
type PingFunc func(ctx context.Context) error

// Health 实现 Pinger
func (f PingFunc) Health(ctx context.Context) error { return f(ctx) }

// checkTimeout 单项检查的超时
const checkTimeout = 3 * time.Second

// HealthChecker 健康检查器
//
// 存活检查只检测 goroutine 数量，依赖项（数据库、Redis）放在就绪检查中，
// 依赖短暂不可用时实例不会被重启。
type HealthChecker struct {
	health healthcheck.Handler
	checks map[string]Pinger
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		checks: make(map[string]Pinger),
		logger: logger,
	}
	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	return hc
}

// AddDependency 添加就绪检查
func (hc *HealthChecker) AddDependency(name string, p Pinger) {
	hc.checks[name] = p
	hc.health.AddReadinessCheck(name, healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		if err := p.Health(ctx); err != nil {
			hc.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			return err
		}
		return nil
	}, checkTimeout+time.Second))
}

// Handler 返回健康检查处理器，挂载 /live 和 /ready
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveHandler 存活检查
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 就绪检查
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// CheckHealth 执行所有依赖检查并返回结果摘要
func (hc *HealthChecker) CheckHealth(ctx context.Context) (map[string]string, bool) {
	results := make(map[string]string, len(hc.checks)+1)
	healthy := true

	for name, p := range hc.checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := p.Health(checkCtx)
		cancel()
		if err != nil {
			results[name] = fmt.Sprintf("ERROR: %v", err)
			healthy = false
		} else {
			results[name] = "OK"
		}
	}
	results["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return results, healthy
}
