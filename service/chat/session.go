package chat

import (
	"context"

	"go.uber.org/zap"
)

// BindUser 把连接绑定到用户名；改绑时旧用户名在本节点没有连接了就释放本节点的持有。
// 返回被挤下线的连接，由调用方关闭。
func (s *Server) BindUser(ctx context.Context, c *Client, user string) (*Client, error) {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	if old := s.conns.UserOf(c.ConnID); old != "" && old != user {
		if _, remaining := s.conns.Unbind(c.ConnID); remaining == 0 {
			s.release(ctx, old)
		}
	}
	evicted, err := s.conns.BindUser(c.ConnID, user)
	if err != nil {
		return nil, err
	}
	s.hold(ctx, user)
	return evicted, nil
}

// UnbindUser 连接回到未绑定状态，返回原用户名
func (s *Server) UnbindUser(ctx context.Context, c *Client) string {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	user, remaining := s.conns.Unbind(c.ConnID)
	if user != "" && remaining == 0 {
		s.release(ctx, user)
	}
	return user
}

func (s *Server) hold(ctx context.Context, user string) {
	if s.holds == nil {
		return
	}
	if err := s.holds.Hold(ctx, user); err != nil {
		s.log.Warn("hold user failed", zap.String("user", user), zap.Error(err))
	}
}

// release 返回其他节点上的持有数；出错按 0 处理，离开照常进行
func (s *Server) release(ctx context.Context, user string) int {
	if s.holds == nil {
		return 0
	}
	others, err := s.holds.Release(ctx, user)
	if err != nil {
		s.log.Warn("release user failed", zap.String("user", user), zap.Error(err))
		return 0
	}
	return others
}
