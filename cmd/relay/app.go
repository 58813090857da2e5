package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"ChatRelay/global/config"
	"ChatRelay/logger"
	midsec "ChatRelay/middleware/security"
	"ChatRelay/module/call"
	chatmod "ChatRelay/module/chat"
	"ChatRelay/module/presence"
	"ChatRelay/service/chat"
	"ChatRelay/service/chat/handlers"
	"ChatRelay/service/delivery"
	"ChatRelay/service/health"
	"ChatRelay/service/metrics"
	"ChatRelay/service/natsx"
	"ChatRelay/service/storage/redis"
	"ChatRelay/tools/errs"
	"ChatRelay/tools/security"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serverConf(cfg config.AppConfig) chat.ServerConf {
	return chat.ServerConf{
		NodeID:        cfg.NodeID,
		SendQueue:     cfg.WS.SendQueue,
		ReadLimit:     cfg.WS.ReadLimit,
		RateLimit:     cfg.WS.RateLimit,
		RateBurst:     cfg.WS.RateBurst,
		FanoutWorkers: cfg.WS.FanoutWorkers,
		FanoutQueue:   cfg.WS.FanoutQueue,
		Manager: chat.ManagerConf{
			MaxPerUser:  cfg.WS.MaxPerUser,
			EvictOldest: cfg.WS.EvictOldest,
		},
	}
}

func authOptions(cfg config.AppConfig) *midsec.Options {
	if cfg.Auth.Secret == "" {
		return nil
	}
	jwt := security.DefaultOptions([]byte(cfg.Auth.Secret))
	if cfg.Auth.TTL > 0 {
		jwt.TTL = cfg.Auth.TTL
	}
	return midsec.DefaultOptions(jwt)
}

// openPresence 返回在线表、跨节点持有记录（内存后端为 nil）及关闭函数
func openPresence(ctx context.Context, cfg config.AppConfig) (presence.Registry, presence.Holds, func(), error) {
	if cfg.Presence.Backend != config.PresenceRedis {
		return presence.NewSet(), nil, func() {}, nil
	}
	rdb, err := redis.Open(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, nil, err
	}
	set := presence.NewRedisSet(rdb, cfg.Presence.Key)
	holds := presence.NewRedisHolds(rdb, cfg.Presence.Key, cfg.NodeID)
	if err := resetPresence(ctx, cfg, set, holds); err != nil {
		_ = rdb.Close()
		return nil, nil, nil, err
	}
	return set, holds, func() { _ = rdb.Close() }, nil
}

// resetPresence 进程启动时在线表应为空：冷启动清空整个集合，
// 否则只清理本节点上次残留的持有，并移出不再被任何节点持有的用户名
func resetPresence(ctx context.Context, cfg config.AppConfig, set *presence.RedisSet, holds *presence.RedisHolds) error {
	log := logger.Named("presence")
	if cfg.Presence.ResetOnStart {
		if err := set.Clear(ctx); err != nil {
			return err
		}
		if err := holds.Clear(ctx); err != nil {
			return err
		}
		log.Info("presence cleared", zap.String("key", set.Key()))
		return nil
	}
	orphans, err := holds.Sweep(ctx)
	if err != nil {
		return err
	}
	for _, name := range orphans {
		if _, err := set.Remove(ctx, name); err != nil {
			return err
		}
	}
	if len(orphans) > 0 {
		log.Info("stale presence removed", zap.String("node", cfg.NodeID), zap.Strings("users", orphans))
	}
	return nil
}

func run(ctx context.Context, cfg config.AppConfig) error {
	log := logger.Named("relay")

	reg, holds, closeReg, err := openPresence(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeReg()

	var (
		m       *metrics.Metrics
		promReg = prometheus.NewRegistry()
	)
	if cfg.Metrics.Enabled {
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if m, err = metrics.New(promReg); err != nil {
			return errs.WrapMsg(err, "register metrics")
		}
	}

	// 端口先占住：监听失败时还没有任何后台协程需要收尾
	var lis net.Listener
	if cfg.GRPC.Addr != "" {
		if lis, err = net.Listen("tcp", cfg.GRPC.Addr); err != nil {
			return errs.ErrConfig.WrapMsg("grpc listen", "addr", cfg.GRPC.Addr, "err", err)
		}
	}

	srvOpts := []chat.ServerOption{chat.WithMetrics(m), chat.WithLogger(logger.Named("gateway"))}
	if holds != nil {
		srvOpts = append(srvOpts, chat.WithHolds(holds))
	}
	srv := chat.NewServer(serverConf(cfg), chat.NewDispatcher(), srvOpts...)

	var nm *natsx.NatsManager
	// abort 启动中途失败时释放已经创建的资源
	abort := func(err error) error {
		if lis != nil {
			_ = lis.Close()
		}
		_ = nm.Close()
		_ = srv.Close(context.Background())
		return err
	}

	if err := m.WatchConnections(func() float64 { return float64(srv.ConnMgr().Count()) }); err != nil {
		return abort(errs.WrapMsg(err, "register connection gauge"))
	}
	if err := m.WatchPresence(func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, err := reg.Len(ctx)
		if err != nil {
			return 0
		}
		return float64(n)
	}); err != nil {
		return abort(errs.WrapMsg(err, "register presence gauge"))
	}

	var out delivery.Channel = srv
	if cfg.NATS.Enabled {
		idem := natsx.NewMemIdem(time.Minute)
		defer idem.Close()
		if nm, err = natsx.NewNatsManager(cfg.NATS.NatsxConfig, natsx.NatsxIdemMiddleware(idem, 0)); err != nil {
			return abort(err)
		}
		bridge := natsx.NewBridge(nm, srv, natsx.BridgeConf{Prefix: cfg.NATS.Prefix, NodeID: cfg.NodeID},
			natsx.WithBridgeMetrics(m))
		if err := bridge.Start(); err != nil {
			return abort(err)
		}
		out = bridge
	}

	router := chatmod.NewRouter(reg, out, chatmod.WithLogger(logger.Named("router")))
	handlers.Register(srv, router, call.NewForwarder(out, nil))

	httpConf := chat.HTTPConf{
		Roster:         router.Roster,
		Auth:           authOptions(cfg),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}
	if cfg.Metrics.Enabled {
		httpConf.Metrics = promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Engine(httpConf),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var hs *health.Server
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTP.Addr), zap.String("node", cfg.NodeID))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errs.ErrTransport.WrapMsg("http serve", "addr", cfg.HTTP.Addr, "err", err)
		}
		return nil
	})
	if lis != nil {
		hs = health.NewServer()
		g.Go(func() error { return hs.Serve(lis) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		if hs != nil {
			hs.Drain()
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		// 关 ws 会触发离线广播，要在 nats 关闭之前
		if err := srv.Close(sctx); err != nil {
			log.Warn("gateway close", zap.Error(err))
		}
		if hs != nil {
			hs.Stop(sctx)
		}
		if err := nm.Close(); err != nil {
			log.Warn("nats close", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}
