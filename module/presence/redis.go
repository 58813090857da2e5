package presence

import (
	"context"
	"sort"

	"ChatRelay/tools/errs"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultRedisKey 多个网关共享的在线集合 key
const DefaultRedisKey = "relay:presence"

// RedisSet 基于 Redis SET 的实现，多个网关进程共享同一份在线名单。
// 与进程内实现不同，它不会随进程重启而清空，部署时需要在启动前清理或设置独立 key。
type RedisSet struct {
	rdb goredis.Cmdable
	key string
}

func NewRedisSet(rdb goredis.Cmdable, key string) *RedisSet {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSet{rdb: rdb, key: key}
}

func (s *RedisSet) Key() string { return s.key }

func (s *RedisSet) Add(ctx context.Context, name string) (bool, error) {
	n, err := s.rdb.SAdd(ctx, s.key, name).Result()
	if err != nil {
		return false, errs.ErrRegistry.WrapMsg("SADD", "key", s.key, "err", err)
	}
	return n == 1, nil
}

func (s *RedisSet) Remove(ctx context.Context, name string) (bool, error) {
	n, err := s.rdb.SRem(ctx, s.key, name).Result()
	if err != nil {
		return false, errs.ErrRegistry.WrapMsg("SREM", "key", s.key, "err", err)
	}
	return n == 1, nil
}

func (s *RedisSet) Contains(ctx context.Context, name string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, s.key, name).Result()
	if err != nil {
		return false, errs.ErrRegistry.WrapMsg("SISMEMBER", "key", s.key, "err", err)
	}
	return ok, nil
}

func (s *RedisSet) Snapshot(ctx context.Context) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, errs.ErrRegistry.WrapMsg("SMEMBERS", "key", s.key, "err", err)
	}
	sort.Strings(members)
	return members, nil
}

func (s *RedisSet) Len(ctx context.Context) (int, error) {
	n, err := s.rdb.SCard(ctx, s.key).Result()
	if err != nil {
		return 0, errs.ErrRegistry.WrapMsg("SCARD", "key", s.key, "err", err)
	}
	return int(n), nil
}

// Clear 删除整个集合，网关集群冷启动时调用
func (s *RedisSet) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return errs.ErrRegistry.WrapMsg("DEL", "key", s.key, "err", err)
	}
	return nil
}
