package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ChatRelay/global/config"
	"ChatRelay/logger"
	"ChatRelay/service/health"
	"ChatRelay/tools/ids"
	"ChatRelay/tools/security"

	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	configPath := flag.String("config", "", "yaml 配置文件路径，留空只用默认值和环境变量")
	probe := flag.String("probe", "", "只做一次 grpc 健康探测，例如 127.0.0.1:9090")
	issue := flag.String("issue", "", "用 auth.secret 给该用户名签发一个 token 后退出")
	flag.Parse()

	if *probe != "" {
		os.Exit(runProbe(*probe))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config failed", zap.Error(err))
		os.Exit(1)
	}
	if *issue != "" {
		os.Exit(issueToken(cfg, *issue))
	}
	logger.Setup(cfg.LoggerOptions())
	ids.SetNodeID(cfg.NodeNum)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	logger.Sync()
	if err != nil {
		logger.Error("relay exited", zap.Error(err))
		os.Exit(1)
	}
}

func runProbe(addr string) int {
	st, err := health.Probe(context.Background(), addr, health.Service, 3*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(st.String())
	if st != grpc_health_v1.HealthCheckResponse_SERVING {
		return 1
	}
	return 0
}

func issueToken(cfg config.AppConfig, username string) int {
	opts := authOptions(cfg)
	if opts == nil {
		fmt.Fprintln(os.Stderr, "auth.secret is empty")
		return 1
	}
	token, exp, err := security.Generate(opts.JWT, username)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("%s\nexpires %s\n", token, exp.Format(time.RFC3339))
	return 0
}
