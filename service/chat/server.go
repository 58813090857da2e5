// Package chat websocket 网关：连接管理、入站帧分发、本节点投递。
package chat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"ChatRelay/logger"
	"ChatRelay/module/presence"
	"ChatRelay/service/delivery"
	"ChatRelay/service/metrics"
	"ChatRelay/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ServerConf struct {
	NodeID     string
	SendQueue  int           // 每连接发送队列长度
	ReadLimit  int64         // 单帧最大字节数
	WriteWait  time.Duration // 写超时
	PongWait   time.Duration // 读超时，收到 pong 续期
	PingPeriod time.Duration // 必须小于 PongWait

	RateLimit float64 // 每秒入站帧数，<=0 不限流
	RateBurst int

	FanoutWorkers int
	FanoutQueue   int

	Manager ManagerConf
}

func (c *ServerConf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.ReadLimit <= 0 {
		// 客户端文件上限 50MB，base64 后约 67MB
		c.ReadLimit = 70 << 20
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 20
	}
}

// LeaveFunc 某用户名在本节点的最后一条连接断开时回调
type LeaveFunc func(ctx context.Context, username string)

type ServerOption func(*Server)

func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithHolds 在线表跨节点共享时使用，见 presence.Holds
func WithHolds(h presence.Holds) ServerOption {
	return func(s *Server) { s.holds = h }
}

func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// Server 本节点的 websocket 网关，同时实现 delivery.Channel
type Server struct {
	conf     ServerConf
	conns    *ConnManager
	disp     *Dispatcher
	fanout   *Fanout
	upgrader websocket.Upgrader
	log      *zap.Logger
	metrics  *metrics.Metrics

	onLeave LeaveFunc
	holds   presence.Holds
	bindMu  sync.Mutex // 绑定/解绑与 holds 更新串行，避免最后一条连接的判断交错

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ delivery.Channel = (*Server)(nil)

func NewServer(conf ServerConf, disp *Dispatcher, opts ...ServerOption) *Server {
	conf.norm()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		conf:  conf,
		conns: NewConnManager(conf.Manager),
		disp:  disp,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin 由 middleware.Origin 在升级前校验
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:    logger.Named("gateway"),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.fanout = NewFanout(conf.FanoutWorkers, conf.FanoutQueue, func(c *Client) {
		s.metrics.DeliveryError("ws_queue_full")
		s.log.Debug("send queue full, skip", zap.String("conn", c.ConnID))
	})
	return s
}

// OnLeave 注册断线回调（通常是 Router.LeaveUser）
func (s *Server) OnLeave(fn LeaveFunc) { s.onLeave = fn }

func (s *Server) ConnMgr() *ConnManager { return s.conns }

func (s *Server) Disp() *Dispatcher { return s.disp }

func (s *Server) NodeID() string { return s.conf.NodeID }

func (s *Server) newLimiter() *rate.Limiter {
	if s.conf.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(s.conf.RateLimit), s.conf.RateBurst)
}

// Publish 广播给本节点所有连接
func (s *Server) Publish(_ context.Context, topic string, v any) error {
	data, err := EncodeFrame(topic, v)
	if err != nil {
		return err
	}
	if !s.fanout.Broadcast(s.conns.All(), data) {
		s.metrics.DeliveryError("ws_fanout_full")
		return errs.ErrTransport.WrapMsg("fanout queue full", "topic", topic)
	}
	return nil
}

// DeliverToUser 投递到该用户名在本节点的所有连接；本节点没有连接不算错误
func (s *Server) DeliverToUser(_ context.Context, user, channel string, v any) error {
	conns := s.conns.ListUser(user)
	if len(conns) == 0 {
		return nil
	}
	data, err := UserFrame(channel, v)
	if err != nil {
		return err
	}
	ok := 0
	for _, c := range conns {
		if c.Enqueue(data) {
			ok++
		}
	}
	if ok == 0 {
		s.metrics.DeliveryError("ws_queue_full")
		return errs.ErrTransport.WrapMsg("send queue full", "user", user, "channel", channel)
	}
	return nil
}

// Close 关闭所有连接并等待读写协程退出
func (s *Server) Close(ctx context.Context) error {
	s.cancel()
	s.conns.CloseAll()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	defer s.fanout.Close()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errs.WrapMsg(ctx.Err(), "wait connections")
	}
}
