package redis

import (
	"context"
	"time"

	"ChatRelay/tools/errs"

	goredis "github.com/redis/go-redis/v9"
)

// Config 用于初始化 Redis
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// Open 建立连接并 Ping，3 秒内不通即返回错误
func Open(ctx context.Context, c Config) (*goredis.Client, error) {
	if c.Addr == "" {
		return nil, errs.ErrConfig.WrapMsg("redis addr missing")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.ErrRegistry.WrapMsg("redis ping failed", "addr", c.Addr, "err", err)
	}
	return rdb, nil
}
