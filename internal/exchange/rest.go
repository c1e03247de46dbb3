// Package exchange REST 请求封装。
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxRESTRetries REST 请求对瞬时错误的最大重试次数
const maxRESTRetries = 3

// RESTClient 带重试的 REST 客户端
// 瞬时错误（网络错误、5xx）按指数退避重试，
// 认证错误、限流、4xx 立即返回分类错误不重试。
type RESTClient struct {
	// exchange 所属交易所标识，用于错误消息
	exchange string
	// baseURL REST API 基础地址
	baseURL string
	// httpClient HTTP 客户端
	httpClient *http.Client
}

// NewRESTClient 创建 REST 客户端
// 参数 exchange: 交易所标识
// 参数 baseURL: REST API 基础地址
// 参数 timeout: 单次请求超时时间
func NewRESTClient(exchange, baseURL string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		exchange:   exchange,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL 获取 REST API 基础地址
func (c *RESTClient) BaseURL() string {
	return c.baseURL
}

// GetJSON 发送 GET 请求并解析 JSON 响应
// 参数 path: 请求路径（含查询串），拼接在 baseURL 之后
// 参数 out: 响应解析目标，nil 表示丢弃响应体
func (c *RESTClient) GetJSON(ctx context.Context, path string, out interface{}) error {
	return c.DoJSON(ctx, http.MethodGet, path, nil, nil, out)
}

// DoJSON 发送请求并解析 JSON 响应
// 参数 headers: 额外请求头（签名等），可为 nil
// 参数 body: 请求体，可为 nil
func (c *RESTClient) DoJSON(ctx context.Context, method, path string, headers http.Header, body []byte, out interface{}) error {
	op := func() error {
		return c.doOnce(ctx, method, path, headers, body, out)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRESTRetries),
		ctx,
	)
	return backoff.Retry(op, policy)
}

// doOnce 执行单次请求
// 不可重试的错误用 backoff.Permanent 包装
func (c *RESTClient) doOnce(ctx context.Context, method, path string, headers http.Header, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("构造请求失败: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 网络错误视为瞬时错误，交给退避重试
		return fmt.Errorf("%s 请求失败: %w", c.exchange, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return backoff.Permanent(&AuthError{
			Exchange: c.exchange,
			Reason:   fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(data, 200)),
		})
	case resp.StatusCode == http.StatusTooManyRequests:
		return backoff.Permanent(&RateLimitError{
			Exchange:   c.exchange,
			RetryAfter: retryAfter(resp),
		})
	case resp.StatusCode >= 500:
		// 5xx 视为瞬时错误
		return fmt.Errorf("%s 服务端错误 HTTP %d: %s", c.exchange, resp.StatusCode, truncate(data, 200))
	case resp.StatusCode >= 400:
		return backoff.Permanent(&FatalError{
			Exchange: c.exchange,
			Reason:   fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(data, 200)),
		})
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backoff.Permanent(fmt.Errorf("解析 %s 响应失败: %w", c.exchange, err))
	}
	return nil
}

// retryAfter 从响应头解析限流等待时间
// 无 Retry-After 头时默认 5 秒
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 5 * time.Second
}

// truncate 截断字节串用于错误消息
func truncate(data []byte, n int) string {
	if len(data) > n {
		data = data[:n]
	}
	return string(data)
}
