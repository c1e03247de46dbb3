// Package supervisor WebSocket 传输抽象。
// 测试时注入假连接，生产环境使用 gorilla/websocket。
package supervisor

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn 流连接抽象
// 覆盖监护器用到的 gorilla/websocket 连接子集
type Conn interface {
	// ReadMessage 读取下一条消息
	ReadMessage() (messageType int, data []byte, err error)
	// WriteMessage 写入一条消息
	WriteMessage(messageType int, data []byte) error
	// WriteControl 写入控制帧（ping/pong/close），带截止时间
	WriteControl(messageType int, data []byte, deadline time.Time) error
	// SetPingHandler 设置协议层 ping 处理器
	SetPingHandler(h func(appData string) error)
	// SetPongHandler 设置协议层 pong 处理器
	SetPongHandler(h func(appData string) error)
	// Close 关闭连接
	Close() error
}

// DialFunc 建立流连接
// ctx 携带连接阶段超时
type DialFunc func(ctx context.Context, url string) (Conn, error)

// GorillaDial 默认拨号实现
func GorillaDial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	header := http.Header{}
	header.Set("User-Agent", "market-data-hub/1.0")

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
