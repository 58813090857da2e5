package main

import (
	"context"
	"net"
	"testing"
	"time"

	"ChatRelay/global/config"
	"ChatRelay/module/presence"
	"ChatRelay/tools/errs"

	"github.com/alicebob/miniredis/v2"
)

func TestServerConfFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.WS.MaxPerUser = 3
	cfg.WS.EvictOldest = true
	sc := serverConf(cfg)
	if sc.NodeID != cfg.NodeID || sc.ReadLimit != 70<<20 || sc.RateBurst != 100 {
		t.Fatalf("unexpected %+v", sc)
	}
	if sc.Manager.MaxPerUser != 3 || !sc.Manager.EvictOldest {
		t.Fatalf("manager %+v", sc.Manager)
	}
}

func TestAuthOptions(t *testing.T) {
	cfg := config.Default()
	if authOptions(cfg) != nil {
		t.Fatal("auth should be off without secret")
	}
	cfg.Auth.Secret = "k"
	cfg.Auth.TTL = time.Minute
	opts := authOptions(cfg)
	if opts == nil || string(opts.JWT.Secret) != "k" || opts.JWT.TTL != time.Minute {
		t.Fatalf("opts %+v", opts)
	}
}

func TestOpenPresenceMemory(t *testing.T) {
	reg, holds, closeFn, err := openPresence(context.Background(), config.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if _, ok := reg.(*presence.Set); !ok {
		t.Fatalf("got %T", reg)
	}
	if holds != nil {
		t.Fatalf("memory backend should not track holds, got %T", holds)
	}
}

func TestOpenPresenceRedisUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.Presence.Backend = config.PresenceRedis
	cfg.Redis.Addr = "127.0.0.1:1"
	if _, _, _, err := openPresence(context.Background(), cfg); err == nil {
		t.Fatal("expected ping failure")
	}
}

func redisConfig(t *testing.T, mr *miniredis.Miniredis, node string) config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.NodeID = node
	cfg.Presence.Backend = config.PresenceRedis
	cfg.Redis.Addr = mr.Addr()
	return cfg
}

func TestOpenPresenceResetOnStart(t *testing.T) {
	mr := miniredis.RunT(t)
	key := config.Default().Presence.Key
	_, _ = mr.SetAdd(key, "ghost", "alice")
	_, _ = mr.SetAdd(key+":nodes:alice", "gw-2")

	cfg := redisConfig(t, mr, "gw-1")
	cfg.Presence.ResetOnStart = true
	reg, holds, closeFn, err := openPresence(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if holds == nil {
		t.Fatal("redis backend must track holds")
	}
	if n, _ := reg.Len(context.Background()); n != 0 {
		t.Fatalf("presence not cleared: %d names", n)
	}
	if mr.Exists(key + ":nodes:alice") {
		t.Fatal("holds not cleared")
	}
}

func TestOpenPresenceSweepsOwnNode(t *testing.T) {
	mr := miniredis.RunT(t)
	key := config.Default().Presence.Key
	// bob 只在上次崩掉的 gw-1 上；carol 还连在 gw-2
	_, _ = mr.SetAdd(key, "bob", "carol")
	_, _ = mr.SetAdd(key+":nodes:bob", "gw-1")
	_, _ = mr.SetAdd(key+":nodes:carol", "gw-1", "gw-2")

	reg, _, closeFn, err := openPresence(context.Background(), redisConfig(t, mr, "gw-1"))
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	ctx := context.Background()
	if ok, _ := reg.Contains(ctx, "bob"); ok {
		t.Fatal("bob was only held by the restarted node and must be gone")
	}
	if ok, _ := reg.Contains(ctx, "carol"); !ok {
		t.Fatal("carol is still held by gw-2")
	}
	members, _ := mr.Members(key + ":nodes:carol")
	if len(members) != 1 || members[0] != "gw-2" {
		t.Fatalf("carol holds = %v", members)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func TestRunFailsCleanlyWhenGRPCPortBusy(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	cfg := config.Default()
	cfg.HTTP.Addr = freeAddr(t)
	cfg.GRPC.Addr = busy.Addr().String()

	done := make(chan error, 1)
	go func() { done <- run(context.Background(), cfg) }()
	select {
	case err := <-done:
		if !errs.ErrConfig.Is(err) {
			t.Fatalf("want config error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after grpc listen failure")
	}

	// http 端口没有被占着
	l, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		t.Fatalf("http server left running: %v", err)
	}
	_ = l.Close()
}
