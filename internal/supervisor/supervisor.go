// Package supervisor 实现每个交易所一条流连接的生命周期监护。
// 状态机: Disconnected → Connecting → Authenticating → Subscribing → Live ⇄ Degraded
// → Reconnecting → (Connecting | RecoveryMode)。
// 连接失败按指数退避重连；连续失败超过上限进入恢复模式，
// 定期探测服务可用性后才恢复重连；认证被拒直接进入恢复模式。
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"market-data-hub/internal/config"
	"market-data-hub/internal/core/model"
	"market-data-hub/internal/exchange"
	"market-data-hub/internal/util/backoff"
)

// controlWriteTimeout 控制帧写入超时
const controlWriteTimeout = 5 * time.Second

// Supervisor 单交易所连接监护器
// 持有一条流连接及其读取循环、心跳监控、会话续期三个后台任务，
// 所有任务在 Close 时汇合退出。
type Supervisor struct {
	// cfg 监护策略配置
	cfg *config.SupervisorConfig
	// exCfg 交易所连接配置
	exCfg *config.ExchangeConfig
	// adapter 交易所适配器
	adapter exchange.Adapter
	// logger 日志记录器
	logger *zap.Logger
	// clk 时钟，测试时注入 mock
	clk clock.Clock
	// dial 拨号函数，测试时注入假连接
	dial DialFunc
	// backoff 重连退避计算器
	backoff *backoff.Backoff
	// events 归一化事件输出通道，队列满时丢弃
	events chan *model.Event

	// mu 连接状态锁
	mu sync.Mutex
	// phase 当前阶段
	phase Phase
	// conn 当前连接
	conn Conn
	// subs 活跃订阅: canon -> 频道集合
	subs map[string]map[model.ChannelKind]struct{}
	// consecutiveFailures 连续失败次数
	consecutiveFailures int
	// reconnectAttempts 累计重连次数
	reconnectAttempts int
	// quality 连接质量（0-1）
	quality float64
	// sessionToken 当前会话令牌
	sessionToken string
	// sessionExpiresAt 会话过期时间
	sessionExpiresAt time.Time
	// pingIntervalMs 生效的心跳发送间隔，服务端下发值优先
	pingIntervalMs int

	// writeMu 写串行锁（gorilla 连接不允许并发写）
	writeMu sync.Mutex

	// epoch 连接纪元，每次新建连接递增
	epoch int64
	// lastHeartbeatNs 最后心跳（任意消息）时间（纳秒）
	lastHeartbeatNs int64
	// closed 是否已关闭
	closed int32

	// reconnectCount 重连计数
	reconnectCount int64
	// parseErrorCount 解析错误计数
	parseErrorCount int64
	// droppedCount 丢弃事件计数
	droppedCount int64
	// updateCount 累计事件计数
	updateCount int64
	// parseErrSampleCount 解析错误采样计数
	parseErrSampleCount uint64
	// lastParseErrLogNs 上次解析错误日志时间（纳秒）
	lastParseErrLogNs int64

	// ctx 生命周期上下文，Close 时取消
	ctx context.Context
	// cancel 取消函数
	cancel context.CancelFunc
	// done 关闭信号
	done chan struct{}
	// wg 后台任务汇合
	wg sync.WaitGroup
	// closeOnce 保证 Close 只执行一次
	closeOnce sync.Once
}

// New 创建连接监护器
// 参数 cfg: 监护策略配置
// 参数 exCfg: 交易所连接配置
// 参数 adapter: 交易所适配器
// 参数 queueSize: 事件队列长度
// 参数 logger: 日志记录器
func New(cfg *config.SupervisorConfig, exCfg *config.ExchangeConfig, adapter exchange.Adapter, queueSize int, logger *zap.Logger) *Supervisor {
	if queueSize <= 0 {
		queueSize = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:     cfg,
		exCfg:   exCfg,
		adapter: adapter,
		logger:  logger.Named(adapter.Name()),
		clk:     clock.New(),
		dial:    GorillaDial,
		backoff: backoff.New(
			time.Duration(cfg.BackoffBaseMs)*time.Millisecond,
			time.Duration(cfg.BackoffMaxMs)*time.Millisecond,
			cfg.BackoffJitter,
		),
		events:         make(chan *model.Event, queueSize),
		phase:          PhaseDisconnected,
		subs:           make(map[string]map[model.ChannelKind]struct{}),
		quality:        1.0,
		pingIntervalMs: exCfg.PingIntervalMs,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
}

// Exchange 返回交易所标识
func (s *Supervisor) Exchange() string {
	return s.adapter.Name()
}

// Events 获取归一化事件输出通道
// 通道在 Close 后关闭
func (s *Supervisor) Events() <-chan *model.Event {
	return s.events
}

// Start 启动监护器主循环
func (s *Supervisor) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
}

// run 主循环：连接周期 + 失败处理
func (s *Supervisor) run() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		err := s.connectAndServe()
		if s.isClosed() {
			return
		}
		if err == nil {
			// 纪元失效等非错误退出，立即开始下一轮
			continue
		}

		s.noteFailure()

		switch {
		case exchange.IsAuthError(err):
			// 用相同凭证重试没有意义，直接熔断
			s.logger.Error("认证被拒，进入恢复模式", zap.Error(err))
			s.recoveryLoop()
		case s.rateLimited(err):
			// rateLimited 内部已等待指定时长
		case s.failures() >= s.cfg.MaxReconnectAttempts:
			s.logger.Warn("连续失败达到上限，进入恢复模式",
				zap.Int("failures", s.failures()),
				zap.Error(err))
			s.recoveryLoop()
		default:
			s.setPhase(PhaseReconnecting)
			delay := s.backoff.Next()
			s.logger.Info("准备重连",
				zap.Duration("delay", delay),
				zap.Int("failures", s.failures()),
				zap.Error(err))
			if !s.sleep(delay) {
				return
			}
		}
	}
}

// connectAndServe 执行一个完整连接周期
// 返回 nil 表示读取循环因纪元失效或关闭而退出
func (s *Supervisor) connectAndServe() error {
	epoch := atomic.AddInt64(&s.epoch, 1)
	s.setPhase(PhaseConnecting)

	// 流地址由认证接口下发的交易所（如 bullet token）需要先行认证
	var auth *exchange.AuthResult
	url := s.adapter.StreamURL()
	if url == "" {
		a, err := s.authenticate()
		if err != nil {
			return err
		}
		auth = a
		url = a.StreamURL
	}

	connectCtx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.ConnectTimeoutMs)*time.Millisecond)
	conn, err := s.dial(connectCtx, url)
	cancel()
	if err != nil {
		return fmt.Errorf("连接 %s 流失败: %w", s.Exchange(), err)
	}

	s.setPhase(PhaseAuthenticating)
	if auth == nil {
		a, err := s.authenticate()
		if err != nil {
			conn.Close()
			return err
		}
		auth = a
	}
	s.applySession(auth)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.installControlHandlers(conn)

	s.setPhase(PhaseSubscribing)
	if err := s.replaySubscriptions(conn); err != nil {
		s.dropConn(conn)
		return err
	}

	s.markHeartbeat()
	s.toLive()

	// 心跳监控和会话续期与读取循环并行，连接断开时一并退出
	stop := make(chan struct{})
	var loops sync.WaitGroup
	loops.Add(1)
	go func() {
		defer loops.Done()
		s.heartbeatLoop(conn, stop)
	}()
	if interval := s.adapter.SessionRenewalInterval(); interval > 0 {
		loops.Add(1)
		go func() {
			defer loops.Done()
			s.renewalLoop(conn, stop, interval)
		}()
	}

	err = s.readLoop(conn, epoch)

	close(stop)
	s.dropConn(conn)
	loops.Wait()
	return err
}

// authenticate 带超时执行认证
func (s *Supervisor) authenticate() (*exchange.AuthResult, error) {
	ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.AuthTimeoutMs)*time.Millisecond)
	defer cancel()

	auth, err := s.adapter.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("认证 %s 失败: %w", s.Exchange(), err)
	}
	return auth, nil
}

// applySession 记录会话信息，服务端下发的心跳间隔优先生效
func (s *Supervisor) applySession(auth *exchange.AuthResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionToken = auth.SessionToken
	s.sessionExpiresAt = auth.ExpiresAt
	if auth.PingIntervalMs > 0 {
		s.pingIntervalMs = auth.PingIntervalMs
	}
}

// installControlHandlers 安装协议层 ping/pong 处理器
// 收到 ping 立即回 pong（慢响应本身就是部分交易所的断连原因）
func (s *Supervisor) installControlHandlers(conn Conn) {
	conn.SetPingHandler(func(appData string) error {
		s.markHeartbeat()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), s.clk.Now().Add(controlWriteTimeout))
	})
	conn.SetPongHandler(func(string) error {
		s.markHeartbeat()
		s.heartbeatRecovered()
		return nil
	})
}

// replaySubscriptions 重放所有活跃订阅
// 每个交易对恰好发送一条订阅请求
func (s *Supervisor) replaySubscriptions(conn Conn) error {
	s.mu.Lock()
	type sub struct {
		canon string
		kinds []model.ChannelKind
	}
	pending := make([]sub, 0, len(s.subs))
	for canon, kindSet := range s.subs {
		kinds := make([]model.ChannelKind, 0, len(kindSet))
		for k := range kindSet {
			kinds = append(kinds, k)
		}
		pending = append(pending, sub{canon: canon, kinds: kinds})
	}
	s.mu.Unlock()

	for _, p := range pending {
		payload, err := s.adapter.BuildSubscribe(p.canon, p.kinds)
		if err != nil {
			return fmt.Errorf("构造 %s 订阅失败: %w", p.canon, err)
		}
		if err := s.sendPayload(conn, payload); err != nil {
			return fmt.Errorf("发送 %s 订阅失败: %w", p.canon, err)
		}
	}

	if len(pending) > 0 {
		s.logger.Info("订阅已重放", zap.Int("symbols", len(pending)))
	}
	return nil
}

// sendPayload 发送报文
// 多条报文按换行拼接（如 KuCoin 多主题订阅），逐行发送
func (s *Supervisor) sendPayload(conn Conn, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, line := range bytes.Split(payload, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
			return err
		}
	}
	return nil
}

// readLoop 读取循环
// 任意消息都刷新心跳时间；解析错误采样记录，不影响连接
func (s *Supervisor) readLoop(conn Conn, epoch int64) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			return fmt.Errorf("读取 %s 消息失败: %w", s.Exchange(), err)
		}

		// 旧连接的在途消息直接丢弃
		if atomic.LoadInt64(&s.epoch) != epoch {
			return nil
		}

		arrivedNs := s.clk.Now().UnixNano()
		s.markHeartbeat()

		if s.adapter.IsPong(data) {
			s.heartbeatRecovered()
			continue
		}

		events, err := s.adapter.Parse(data)
		if err != nil {
			atomic.AddInt64(&s.parseErrorCount, 1)
			s.maybeLogParseError(err, data)
			continue
		}

		for _, ev := range events {
			if ev.Kind == model.KindHeartbeat {
				s.heartbeatRecovered()
				continue
			}
			ev.Epoch = epoch
			ev.ArrivedAtUnixNs = arrivedNs
			atomic.AddInt64(&s.updateCount, 1)
			select {
			case s.events <- ev:
			default:
				atomic.AddInt64(&s.droppedCount, 1)
				s.logger.Warn("事件队列已满，丢弃事件",
					zap.String("kind", ev.Kind.String()),
					zap.String("symbol", ev.SymbolCanon))
			}
		}
	}
}

// heartbeatLoop 心跳循环
// 按心跳间隔发送 ping 并检查消息新鲜度：
// 超过 1 倍心跳间隔降级，超过 2 倍强制断开驱动重连
func (s *Supervisor) heartbeatLoop(conn Conn, stop chan struct{}) {
	s.mu.Lock()
	interval := time.Duration(s.pingIntervalMs) * time.Millisecond
	s.mu.Unlock()
	if interval <= 0 {
		interval = 20 * time.Second
	}

	ticker := s.clk.Ticker(interval)
	defer ticker.Stop()

	staleAfter := s.cfg.HeartbeatInterval()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sendPing(conn)

			age := time.Duration(s.clk.Now().UnixNano() - atomic.LoadInt64(&s.lastHeartbeatNs))
			switch {
			case age > 2*staleAfter:
				s.logger.Warn("心跳超时，强制断开重连", zap.Duration("age", age))
				conn.Close()
				return
			case age > staleAfter:
				s.toDegraded(age)
			}
		}
	}
}

// sendPing 发送心跳
// 应用层 ping 优先，否则发送协议层 ping 帧
func (s *Supervisor) sendPing(conn Conn) {
	if payload, ok := s.adapter.AppPing(); ok {
		if err := s.sendPayload(conn, payload); err != nil {
			s.logger.Warn("发送应用层 ping 失败", zap.Error(err))
		}
		return
	}
	if err := conn.WriteControl(websocket.PingMessage, nil, s.clk.Now().Add(controlWriteTimeout)); err != nil {
		s.logger.Warn("发送 ping 帧失败", zap.Error(err))
	}
}

// renewalLoop 会话续期循环
// 续期被拒（如会话键失效）时强制断开驱动完整重连
func (s *Supervisor) renewalLoop(conn Conn, stop chan struct{}, interval time.Duration) {
	ticker := s.clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.AuthTimeoutMs)*time.Millisecond)
			err := s.adapter.RenewSession(ctx)
			cancel()

			if err == nil {
				s.logger.Debug("会话续期成功")
				continue
			}
			if exchange.IsAuthError(err) {
				s.logger.Warn("会话续期被拒，强制重连", zap.Error(err))
				conn.Close()
				return
			}
			s.logger.Warn("会话续期失败", zap.Error(err))
		}
	}
}

// recoveryLoop 恢复模式
// 定期探测服务可用性，探测成功后清零失败计数退出熔断
func (s *Supervisor) recoveryLoop() {
	s.setPhase(PhaseRecoveryMode)
	interval := time.Duration(s.cfg.RecoveryProbeIntervalMs) * time.Millisecond

	for {
		if !s.sleep(interval) {
			return
		}

		ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.ConnectTimeoutMs)*time.Millisecond)
		err := s.adapter.Probe(ctx)
		cancel()

		if err == nil {
			s.logger.Info("服务恢复可用，退出恢复模式")
			s.mu.Lock()
			s.consecutiveFailures = 0
			s.mu.Unlock()
			s.backoff.Reset()
			return
		}
		s.logger.Warn("可用性探测失败", zap.Error(err))
	}
}

// Subscribe 订阅交易对
// 幂等：重复订阅同一频道不会重复发送；
// 当前为 Live 时立即发送，否则等待下次订阅阶段重放
func (s *Supervisor) Subscribe(symbolCanon string, kinds []model.ChannelKind) error {
	s.mu.Lock()
	kindSet, ok := s.subs[symbolCanon]
	if !ok {
		kindSet = make(map[model.ChannelKind]struct{})
		s.subs[symbolCanon] = kindSet
	}
	added := make([]model.ChannelKind, 0, len(kinds))
	for _, k := range kinds {
		if _, exists := kindSet[k]; !exists {
			kindSet[k] = struct{}{}
			added = append(added, k)
		}
	}
	live := s.phase == PhaseLive
	conn := s.conn
	s.mu.Unlock()

	if len(added) == 0 {
		return nil
	}
	if !live || conn == nil {
		// 延迟到下次订阅阶段重放
		return nil
	}

	payload, err := s.adapter.BuildSubscribe(symbolCanon, added)
	if err != nil {
		return fmt.Errorf("构造 %s 订阅失败: %w", symbolCanon, err)
	}
	if err := s.sendPayload(conn, payload); err != nil {
		return fmt.Errorf("发送 %s 订阅失败: %w", symbolCanon, err)
	}
	return nil
}

// Unsubscribe 退订交易对
// 从活跃订阅移除；当前连接存活时发送交易所级退订
func (s *Supervisor) Unsubscribe(symbolCanon string) error {
	s.mu.Lock()
	kindSet, ok := s.subs[symbolCanon]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	kinds := make([]model.ChannelKind, 0, len(kindSet))
	for k := range kindSet {
		kinds = append(kinds, k)
	}
	delete(s.subs, symbolCanon)
	live := s.phase.IsConnected()
	conn := s.conn
	s.mu.Unlock()

	if !live || conn == nil {
		return nil
	}

	payload, err := s.adapter.BuildUnsubscribe(symbolCanon, kinds)
	if err != nil {
		return fmt.Errorf("构造 %s 退订失败: %w", symbolCanon, err)
	}
	if err := s.sendPayload(conn, payload); err != nil {
		return fmt.Errorf("发送 %s 退订失败: %w", symbolCanon, err)
	}
	return nil
}

// State 获取连接状态快照
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := make([]string, 0, len(s.subs))
	for canon := range s.subs {
		subs = append(subs, canon)
	}

	var lastHeartbeat time.Time
	if ns := atomic.LoadInt64(&s.lastHeartbeatNs); ns > 0 {
		lastHeartbeat = time.Unix(0, ns)
	}

	return State{
		Exchange:            s.Exchange(),
		Phase:               s.phase,
		LastHeartbeatAt:     lastHeartbeat,
		ConsecutiveFailures: s.consecutiveFailures,
		ReconnectAttempts:   s.reconnectAttempts,
		ConnectionQuality:   s.quality,
		ActiveSubscriptions: subs,
		SessionToken:        s.sessionToken,
		SessionExpiresAt:    s.sessionExpiresAt,
		Epoch:               atomic.LoadInt64(&s.epoch),
	}
}

// Metrics 获取连接运行指标
func (s *Supervisor) Metrics() Metrics {
	var ageMs int64
	if ns := atomic.LoadInt64(&s.lastHeartbeatNs); ns > 0 {
		ageMs = (s.clk.Now().UnixNano() - ns) / 1_000_000
	}
	return Metrics{
		ReconnectCount:    atomic.LoadInt64(&s.reconnectCount),
		ParseErrorCount:   atomic.LoadInt64(&s.parseErrorCount),
		DroppedEventCount: atomic.LoadInt64(&s.droppedCount),
		UpdateCount:       atomic.LoadInt64(&s.updateCount),
		LastMessageAgeMs:  ageMs,
	}
}

// Close 关闭监护器
// 关闭连接、取消所有定时器、汇合所有后台任务后返回
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		atomic.StoreInt32(&s.closed, 1)
		s.cancel()
		close(s.done)

		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}

		s.wg.Wait()
		close(s.events)

		s.mu.Lock()
		s.phase = PhaseDisconnected
		s.mu.Unlock()

		s.logger.Info("监护器已关闭")
	})
	return nil
}

// setPhase 切换阶段
func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	old := s.phase
	s.phase = p
	s.mu.Unlock()

	if old != p {
		s.logger.Debug("阶段切换",
			zap.String("from", old.String()),
			zap.String("to", p.String()))
	}
}

// toLive 进入 Live 阶段，清零连续失败并重置退避
func (s *Supervisor) toLive() {
	s.mu.Lock()
	s.phase = PhaseLive
	s.consecutiveFailures = 0
	s.mu.Unlock()
	s.backoff.Reset()
	s.logger.Info("连接就绪")
}

// toDegraded 进入降级阶段
func (s *Supervisor) toDegraded(age time.Duration) {
	s.mu.Lock()
	changed := s.phase == PhaseLive
	if changed {
		s.phase = PhaseDegraded
	}
	s.mu.Unlock()

	if changed {
		s.logger.Warn("连接降级", zap.Duration("heartbeat_age", age))
	}
}

// heartbeatRecovered 心跳恢复，质量复位
func (s *Supervisor) heartbeatRecovered() {
	s.mu.Lock()
	s.quality = 1.0
	recovered := s.phase == PhaseDegraded
	if recovered {
		s.phase = PhaseLive
	}
	s.mu.Unlock()

	if recovered {
		s.logger.Info("心跳恢复，连接回到正常状态")
	}
}

// noteFailure 记录一次连接失败
// 质量 ×0.8 衰减，失败与重连计数递增
func (s *Supervisor) noteFailure() {
	s.mu.Lock()
	s.quality *= 0.8
	s.consecutiveFailures++
	s.reconnectAttempts++
	s.mu.Unlock()
	atomic.AddInt64(&s.reconnectCount, 1)
}

// failures 获取连续失败次数
func (s *Supervisor) failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}

// rateLimited 处理限流错误
// 命中时等待服务端指定时长后返回 true
func (s *Supervisor) rateLimited(err error) bool {
	retryAfter, ok := exchange.AsRateLimit(err)
	if !ok {
		return false
	}
	s.setPhase(PhaseReconnecting)
	s.logger.Warn("被限流，按指定时长等待", zap.Duration("retry_after", retryAfter))
	s.sleep(retryAfter)
	return true
}

// markHeartbeat 刷新最后心跳时间
func (s *Supervisor) markHeartbeat() {
	atomic.StoreInt64(&s.lastHeartbeatNs, s.clk.Now().UnixNano())
}

// dropConn 关闭并清除当前连接
func (s *Supervisor) dropConn(conn Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()
}

// isClosed 判断是否已关闭
func (s *Supervisor) isClosed() bool {
	return atomic.LoadInt32(&s.closed) == 1
}

// sleep 可中断等待
// 返回 false 表示监护器已关闭
func (s *Supervisor) sleep(d time.Duration) bool {
	t := s.clk.Timer(d)
	defer t.Stop()
	select {
	case <-s.done:
		return false
	case <-t.C:
		return true
	}
}

// maybeLogParseError 采样记录解析错误原始消息，避免刷盘
// 采样策略：每 100 次错误记录 1 条，且同一类日志至少间隔 1 分钟。
func (s *Supervisor) maybeLogParseError(err error, data []byte) {
	count := atomic.AddUint64(&s.parseErrSampleCount, 1)
	if count != 1 && count%100 != 0 {
		return
	}

	nowNs := s.clk.Now().UnixNano()
	last := atomic.LoadInt64(&s.lastParseErrLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&s.lastParseErrLogNs, nowNs)

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	s.logger.Warn("解析消息失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}
