// Package exchange 错误分类。
package exchange

import (
	"errors"
	"fmt"
	"time"
)

// AuthError 认证/会话失效错误
// 监护器收到此类错误后直接进入恢复模式，不做指数退避重试
type AuthError struct {
	// Exchange 交易所标识
	Exchange string
	// Reason 失败原因
	Reason string
	// Err 底层错误
	Err error
}

// Error 实现 error 接口
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s 认证失败: %s: %v", e.Exchange, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s 认证失败: %s", e.Exchange, e.Reason)
}

// Unwrap 返回底层错误
func (e *AuthError) Unwrap() error {
	return e.Err
}

// RateLimitError 限流错误
// 监护器等待 RetryAfter 后重试，不计入指数退避
type RateLimitError struct {
	// Exchange 交易所标识
	Exchange string
	// RetryAfter 服务端要求的等待时间
	RetryAfter time.Duration
}

// Error 实现 error 接口
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s 请求被限流，%v 后重试", e.Exchange, e.RetryAfter)
}

// FatalError 不可恢复错误
// 配置错误、不支持的交易对等，重试无意义
type FatalError struct {
	// Exchange 交易所标识
	Exchange string
	// Reason 失败原因
	Reason string
}

// Error 实现 error 接口
func (e *FatalError) Error() string {
	return fmt.Sprintf("%s 不可恢复错误: %s", e.Exchange, e.Reason)
}

// IsAuthError 判断错误链中是否包含认证错误
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// AsRateLimit 提取限流错误的等待时间
// 返回: 等待时间和是否为限流错误
func AsRateLimit(err error) (time.Duration, bool) {
	var re *RateLimitError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}

// IsFatal 判断错误链中是否包含不可恢复错误
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
