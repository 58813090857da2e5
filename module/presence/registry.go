// Package presence 维护当前在线的用户名集合。
package presence

import (
	"context"
	"sort"
	"sync"
)

// Registry 在线用户集合，所有方法都可并发调用
type Registry interface {
	// Add 新加入返回 true，已存在返回 false（幂等）
	Add(ctx context.Context, name string) (bool, error)
	// Remove 原本存在返回 true
	Remove(ctx context.Context, name string) (bool, error)
	Contains(ctx context.Context, name string) (bool, error)
	// Snapshot 当前名单，顺序无意义（实现按字典序返回）
	Snapshot(ctx context.Context) ([]string, error)
	Len(ctx context.Context) (int, error)
}

// Set 进程内实现，重启即清空
type Set struct {
	mu    sync.RWMutex
	users map[string]struct{}
}

func NewSet() *Set {
	return &Set{users: make(map[string]struct{})}
}

func (s *Set) Add(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[name]; ok {
		return false, nil
	}
	s.users[name] = struct{}{}
	return true, nil
}

func (s *Set) Remove(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[name]; !ok {
		return false, nil
	}
	delete(s.users, name)
	return true, nil
}

func (s *Set) Contains(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[name]
	return ok, nil
}

func (s *Set) Snapshot(_ context.Context) ([]string, error) {
	s.mu.RLock()
	out := make([]string, 0, len(s.users))
	for name := range s.users {
		out = append(out, name)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (s *Set) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}
