package handlers

import (
	"context"

	"ChatRelay/service/chat"
)

// Register 挂载全部入站路由；OnLeave 在用户所有节点上的最后一条连接断开时触发离开
func Register(s *chat.Server, r ChatRouter, f CallForwarder) {
	s.Disp().Register(
		NewSendHandler(r),
		NewFileHandler(r),
		NewAddUserHandler(r, s),
		NewLeaveHandler(r, s),
		NewCallHandler(f),
	)
	s.OnLeave(func(ctx context.Context, username string) {
		r.LeaveUser(ctx, username)
	})
}
