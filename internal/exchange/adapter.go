// Package exchange 定义交易所适配器的能力接口与错误分类。
// 每个交易所在 internal/exchange/<name> 子包中实现 Adapter，
// 由连接监护器驱动完成认证、订阅、消息归一化与会话续期。
package exchange

import (
	"context"
	"os"
	"time"

	"market-data-hub/internal/core/model"
)

// Credentials API 凭证
// 从环境变量加载，不写入配置文件
type Credentials struct {
	// Key API Key
	Key string
	// Secret API Secret
	Secret string
	// Passphrase API Passphrase（KuCoin 需要，其他交易所留空）
	Passphrase string
}

// IsZero 判断凭证是否为空
func (c Credentials) IsZero() bool {
	return c.Key == "" && c.Secret == ""
}

// CredentialsFromEnv 从环境变量加载凭证
// 参数 prefix: 环境变量前缀，如 KUCOIN 表示读取
// KUCOIN_API_KEY / KUCOIN_API_SECRET / KUCOIN_API_PASSPHRASE
func CredentialsFromEnv(prefix string) Credentials {
	if prefix == "" {
		return Credentials{}
	}
	return Credentials{
		Key:        os.Getenv(prefix + "_API_KEY"),
		Secret:     os.Getenv(prefix + "_API_SECRET"),
		Passphrase: os.Getenv(prefix + "_API_PASSPHRASE"),
	}
}

// AuthResult 认证结果
type AuthResult struct {
	// SessionToken 会话令牌（bullet token / listenKey 等），无会话概念的交易所留空
	SessionToken string
	// StreamURL 认证后得到的流连接地址
	// 留空表示使用配置中的静态地址
	StreamURL string
	// ExpiresAt 会话过期时间，零值表示不过期
	ExpiresAt time.Time
	// PingIntervalMs 服务端建议的心跳发送间隔（毫秒），0 表示使用配置值
	PingIntervalMs int
}

// Adapter 交易所适配器能力接口
// 实现必须对并发调用安全：监护器会在读循环之外调用订阅构造与续期。
type Adapter interface {
	// Name 返回交易所标识: kucoin, binance, sushiswap
	Name() string

	// StreamURL 返回当前的 WebSocket 连接地址
	// 依赖认证结果的交易所（KuCoin）在认证前返回空字符串
	StreamURL() string

	// Authenticate 执行认证流程
	// CEX: 请求会话令牌/验证签名；DEX: 直接返回空结果
	// 凭证无效时返回 *AuthError
	Authenticate(ctx context.Context) (*AuthResult, error)

	// RenewSession 续期当前会话
	// 返回 *AuthError 表示会话已失效，需要完整重连
	RenewSession(ctx context.Context) error

	// SessionRenewalInterval 返回会话续期间隔，0 表示无需续期
	SessionRenewalInterval() time.Duration

	// BuildSubscribe 构造订阅报文
	// 参数 symbolCanon: 统一交易对标识
	// 参数 kinds: 需要订阅的频道类型
	BuildSubscribe(symbolCanon string, kinds []model.ChannelKind) ([]byte, error)

	// BuildUnsubscribe 构造退订报文
	BuildUnsubscribe(symbolCanon string, kinds []model.ChannelKind) ([]byte, error)

	// Parse 将原始消息解析为零或多条归一化事件
	// 不得 panic；未识别的消息返回 KindUnrecognized 事件而非错误
	Parse(data []byte) ([]*model.Event, error)

	// IsPong 判断消息是否为应用层 pong
	IsPong(data []byte) bool

	// AppPing 返回应用层 ping 报文
	// ok=false 表示该交易所使用协议层 ping，由监护器通过控制帧发送
	AppPing() ([]byte, bool)

	// Probe 探测服务端可用性
	// 恢复模式下监护器在重新尝试连接前调用
	Probe(ctx context.Context) error

	// FetchOrderBook 通过 REST 获取订单簿快照
	FetchOrderBook(ctx context.Context, symbolCanon string) (*model.BookDelta, error)

	// FetchPairs 通过 REST 获取可用交易对列表
	FetchPairs(ctx context.Context) ([]model.Pair, error)

	// FetchCandles 通过 REST 获取历史 K 线
	// 参数 interval: K 线周期，如 1m, 5m, 1h
	// 参数 limit: 最大条数
	FetchCandles(ctx context.Context, symbolCanon, interval string, limit int) ([]model.Candle, error)

	// FetchRecentTrades 通过 REST 获取最近成交
	FetchRecentTrades(ctx context.Context, symbolCanon string, limit int) ([]model.Trade, error)
}
