// Package binance 认证与会话管理。
// 私有会话使用 listenKey：POST 创建，PUT 保活（60 分钟过期，30 分钟续期一次），
// 签名接口在查询串上附加 HMAC-SHA256 十六进制签名。
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"market-data-hub/internal/exchange"
	"market-data-hub/internal/util/timeutil"
)

const (
	// listenKeyPath listenKey 创建/保活接口
	listenKeyPath = "/api/v3/userDataStream"
	// accountPath 账户接口，用于验证签名凭证
	accountPath = "/api/v3/account"
	// renewalInterval 会话续期间隔（listenKey 60 分钟过期，提前一半续期）
	renewalInterval = 30 * time.Minute
	// listenKeyTTL listenKey 有效期
	listenKeyTTL = 60 * time.Minute
)

// sign 计算查询串的 HMAC-SHA256 十六进制签名
func sign(secret, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// signQuery 为查询参数附加时间戳和签名
func signQuery(secret string, params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(timeutil.NowMs(), 10))
	query := params.Encode()
	return query + "&signature=" + sign(secret, query)
}

// apiKeyHeader 构造 API key 请求头
func apiKeyHeader(key string) http.Header {
	h := http.Header{}
	h.Set("X-MBX-APIKEY", key)
	return h
}

// verifyCredentials 请求账户接口验证签名凭证
// 凭证无效时返回 AuthError
func (a *Adapter) verifyCredentials(ctx context.Context) error {
	query := signQuery(a.creds.Secret, url.Values{})
	var acct struct {
		CanTrade bool `json:"canTrade"`
	}
	if err := a.rest.DoJSON(ctx, http.MethodGet, accountPath+"?"+query, apiKeyHeader(a.creds.Key), nil, &acct); err != nil {
		return fmt.Errorf("验证 Binance 凭证失败: %w", err)
	}
	return nil
}

// requestListenKey 创建用户数据流 listenKey
func (a *Adapter) requestListenKey(ctx context.Context) (string, error) {
	var resp listenKeyResponse
	if err := a.rest.DoJSON(ctx, http.MethodPost, listenKeyPath, apiKeyHeader(a.creds.Key), nil, &resp); err != nil {
		return "", fmt.Errorf("创建 Binance listenKey 失败: %w", err)
	}
	if resp.ListenKey == "" {
		return "", &exchange.AuthError{Exchange: a.Name(), Reason: "listenKey 响应为空"}
	}
	return resp.ListenKey, nil
}

// keepAliveListenKey 保活 listenKey
// listenKey 失效时服务端返回 401，REST 客户端映射为 AuthError
func (a *Adapter) keepAliveListenKey(ctx context.Context, listenKey string) error {
	path := listenKeyPath + "?listenKey=" + url.QueryEscape(listenKey)
	if err := a.rest.DoJSON(ctx, http.MethodPut, path, apiKeyHeader(a.creds.Key), nil, nil); err != nil {
		return fmt.Errorf("保活 Binance listenKey 失败: %w", err)
	}
	return nil
}
