// Package health 提供 gRPC 健康检查服务，以及一个探活客户端。
package health

import (
	"context"
	"net"
	"time"

	"ChatRelay/logger"
	"ChatRelay/tools/errs"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Service 对外暴露的服务名，空串表示整个进程
const Service = "chatrelay"

type Server struct {
	srv *grpc.Server
	hs  *health.Server
	log *zap.Logger
}

func NewServer() *Server {
	srv := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(Service, grpc_health_v1.HealthCheckResponse_SERVING)
	return &Server{srv: srv, hs: hs, log: logger.Named("health")}
}

// Serve 阻塞直到 Stop
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
	if err := s.srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return errs.ErrTransport.WrapMsg("grpc serve", "err", err)
	}
	return nil
}

// Drain 所有服务置为 NOT_SERVING，之后的新状态更新会被忽略
func (s *Server) Drain() {
	s.hs.Shutdown()
}

// Stop 先摘流量再优雅关闭，ctx 到期后强制关闭
func (s *Server) Stop(ctx context.Context) {
	s.Drain()
	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.srv.Stop()
	}
}

// Probe 探活：连接 target 查询 service 的状态
func Probe(ctx context.Context, target, service string, timeout time.Duration) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, errs.ErrTransport.WrapMsg("grpc dial", "target", target, "err", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, errs.ErrTransport.WrapMsg("health check", "target", target, "err", err)
	}
	return resp.GetStatus(), nil
}
