package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mailninja/backend/internal/domain"
)

const maxErrorBody = 4 << 10

// restClient 封装对提供方 REST API 的访问：超时、限流、错误分类
type restClient struct {
	name     domain.ProviderName
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
	headers  map[string]string
	observer Observer
}

func newRESTClient(name domain.ProviderName, opts Options, headers map[string]string) *restClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &restClient{
		name:     name,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		http:     httpClient,
		limiter:  rate.NewLimiter(limit, burst),
		timeout:  timeout,
		headers:  headers,
		observer: opts.Observer,
	}
}

// call 执行一次请求，out 不为 nil 时解析 JSON 响应
func (c *restClient) call(ctx context.Context, op, method, path, token string, body, out any) (err error) {
	started := time.Now()
	defer func() {
		if c.observer != nil {
			outcome := "ok"
			if err != nil {
				outcome = string(domain.KindOf(err))
			}
			c.observer.ObserveProviderRequest(string(c.name), op, outcome, time.Since(started))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return c.transient(op, 0, fmt.Errorf("rate limiter: %w", err))
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return c.permanent(op, 0, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return c.permanent(op, 0, fmt.Errorf("build request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// 超时与网络错误均可重试
		return c.transient(op, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return c.classify(op, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return c.transient(op, resp.StatusCode, err)
		}
		return c.permanent(op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// classify 按 HTTP 状态码区分错误类别
func (c *restClient) classify(op string, status int, body string) error {
	detail := fmt.Errorf("unexpected status %d: %s", status, body)
	switch {
	case status == http.StatusUnauthorized:
		return c.permanent(op, status, domain.ErrAuth)
	case status == http.StatusNotFound:
		return c.permanent(op, status, fmt.Errorf("%w: %v", domain.ErrNotFound, detail))
	case status == http.StatusTooManyRequests, status >= 500:
		return c.transient(op, status, detail)
	default:
		return c.permanent(op, status, detail)
	}
}

func (c *restClient) transient(op string, status int, err error) error {
	return &domain.ProviderError{Provider: c.name, Op: op, StatusCode: status, Kind: domain.KindTransient, Err: err}
}

func (c *restClient) permanent(op string, status int, err error) error {
	return &domain.ProviderError{Provider: c.name, Op: op, StatusCode: status, Kind: domain.KindPermanent, Err: err}
}

// statusOf 返回提供方错误中的 HTTP 状态码
func statusOf(err error) int {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}
