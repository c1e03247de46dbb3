// Package kucoin 认证与会话管理。
// 认证流程: POST /api/v1/bullet-private 获取 token，
// 请求头携带 HMAC-SHA256 签名（KC-API-* 系列），
// token 拼接到服务器下发的流地址后作为会话凭证。
package kucoin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"market-data-hub/internal/exchange"
	"market-data-hub/internal/util/timeutil"
)

const (
	// bulletPrivatePath 私有 bullet token 接口
	bulletPrivatePath = "/api/v1/bullet-private"
	// bulletPublicPath 公共 bullet token 接口（无凭证时使用）
	bulletPublicPath = "/api/v1/bullet-public"
	// tokenTTL token 有效期，超过后续期
	tokenTTL = 24 * time.Hour
	// renewalInterval 会话续期间隔
	renewalInterval = 30 * time.Minute
)

// sign 计算 KuCoin 请求签名
// strToSign = timestamp + method + endpoint + body
// 返回: HMAC-SHA256 签名的 base64 编码
func sign(secret, timestamp, method, endpoint, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + endpoint + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// authHeaders 构造带签名的请求头
// 参数 creds: API 凭证
// 参数 method: HTTP 方法
// 参数 endpoint: 请求路径
// 参数 body: 请求体
func authHeaders(creds exchange.Credentials, method, endpoint, body string) http.Header {
	timestamp := strconv.FormatInt(timeutil.NowMs(), 10)

	h := http.Header{}
	h.Set("KC-API-KEY", creds.Key)
	h.Set("KC-API-SIGN", sign(creds.Secret, timestamp, method, endpoint, body))
	h.Set("KC-API-TIMESTAMP", timestamp)
	h.Set("KC-API-PASSPHRASE", creds.Passphrase)
	return h
}

// requestBullet 请求 bullet token
// 有凭证时走私有接口，否则走公共接口
// 返回: 会话令牌、流地址、服务端建议的心跳间隔（毫秒）
func (a *Adapter) requestBullet(ctx context.Context) (token, streamURL string, pingIntervalMs int, err error) {
	endpoint := bulletPublicPath
	var headers http.Header
	if !a.creds.IsZero() {
		endpoint = bulletPrivatePath
		headers = authHeaders(a.creds, http.MethodPost, endpoint, "{}")
	}

	var resp apiResponse
	if err := a.rest.DoJSON(ctx, http.MethodPost, endpoint, headers, []byte("{}"), &resp); err != nil {
		return "", "", 0, err
	}
	if resp.Code != codeOK {
		return "", "", 0, &exchange.AuthError{
			Exchange: a.Name(),
			Reason:   fmt.Sprintf("bullet token 请求被拒绝: code=%s msg=%s", resp.Code, resp.Msg),
		}
	}

	var data bulletData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", "", 0, fmt.Errorf("解析 bullet token 响应失败: %w", err)
	}
	if data.Token == "" || len(data.InstanceServers) == 0 {
		return "", "", 0, fmt.Errorf("bullet token 响应缺少 token 或服务器列表")
	}

	srv := data.InstanceServers[0]
	url := fmt.Sprintf("%s?token=%s&connectId=%d", srv.Endpoint, data.Token, timeutil.NowNano())
	return data.Token, url, srv.PingInterval, nil
}
