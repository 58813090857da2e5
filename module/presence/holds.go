package presence

import (
	"context"
	"strings"
	"sync"

	"ChatRelay/tools/errs"

	goredis "github.com/redis/go-redis/v9"
)

// Holds 记录一个用户名在哪些网关节点上还有连接。
// 在线表被多个节点共享时，某节点最后一条连接断开只释放本节点，
// Release 返回其余仍持有的节点数，为 0 才算真正离开。
type Holds interface {
	Hold(ctx context.Context, name string) error
	Release(ctx context.Context, name string) (others int, err error)
}

// MemHolds 进程内实现，多个网关实例在同一进程里共享（单测、单机多实例）
type MemHolds struct {
	mu    sync.Mutex
	nodes map[string]map[string]struct{} // name -> node set
}

func NewMemHolds() *MemHolds {
	return &MemHolds{nodes: make(map[string]map[string]struct{})}
}

// Node 返回绑定到某个节点的视图
func (m *MemHolds) Node(node string) Holds { return memNode{m: m, node: node} }

type memNode struct {
	m    *MemHolds
	node string
}

func (h memNode) Hold(_ context.Context, name string) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	set := h.m.nodes[name]
	if set == nil {
		set = make(map[string]struct{})
		h.m.nodes[name] = set
	}
	set[h.node] = struct{}{}
	return nil
}

func (h memNode) Release(_ context.Context, name string) (int, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	set := h.m.nodes[name]
	delete(set, h.node)
	if len(set) == 0 {
		delete(h.m.nodes, name)
	}
	return len(set), nil
}

// RedisHolds 每个用户名一个 SET：<presenceKey>:nodes:<name> -> {nodeID...}
type RedisHolds struct {
	rdb    goredis.Cmdable
	prefix string
	node   string
}

func NewRedisHolds(rdb goredis.Cmdable, presenceKey, node string) *RedisHolds {
	if presenceKey == "" {
		presenceKey = DefaultRedisKey
	}
	return &RedisHolds{rdb: rdb, prefix: presenceKey + ":nodes:", node: node}
}

func (h *RedisHolds) key(name string) string { return h.prefix + name }

func (h *RedisHolds) Hold(ctx context.Context, name string) error {
	if err := h.rdb.SAdd(ctx, h.key(name), h.node).Err(); err != nil {
		return errs.ErrRegistry.WrapMsg("SADD", "key", h.key(name), "err", err)
	}
	return nil
}

func (h *RedisHolds) Release(ctx context.Context, name string) (int, error) {
	var card *goredis.IntCmd
	_, err := h.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.SRem(ctx, h.key(name), h.node)
		card = p.SCard(ctx, h.key(name))
		return nil
	})
	if err != nil {
		return 0, errs.ErrRegistry.WrapMsg("release hold", "key", h.key(name), "err", err)
	}
	return int(card.Val()), nil
}

// Sweep 节点重启后清掉本节点残留的持有记录，
// 返回已经没有任何节点持有的用户名（调用方把它们移出在线表）
func (h *RedisHolds) Sweep(ctx context.Context) ([]string, error) {
	var orphans []string
	err := h.scan(ctx, func(key string) error {
		others, err := h.Release(ctx, strings.TrimPrefix(key, h.prefix))
		if err != nil {
			return err
		}
		if others == 0 {
			orphans = append(orphans, strings.TrimPrefix(key, h.prefix))
		}
		return nil
	})
	return orphans, err
}

// Clear 删除所有节点的持有记录，集群冷启动时和 RedisSet.Clear 一起用
func (h *RedisHolds) Clear(ctx context.Context) error {
	return h.scan(ctx, func(key string) error {
		if err := h.rdb.Del(ctx, key).Err(); err != nil {
			return errs.ErrRegistry.WrapMsg("DEL", "key", key, "err", err)
		}
		return nil
	})
}

func (h *RedisHolds) scan(ctx context.Context, fn func(key string) error) error {
	var cursor uint64
	for {
		keys, next, err := h.rdb.Scan(ctx, cursor, h.prefix+"*", 200).Result()
		if err != nil {
			return errs.ErrRegistry.WrapMsg("SCAN", "match", h.prefix+"*", "err", err)
		}
		for _, k := range keys {
			if err := fn(k); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

var (
	_ Holds = memNode{}
	_ Holds = (*RedisHolds)(nil)
)
