package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"ChatRelay/logger"
	"ChatRelay/service/chat"
	"ChatRelay/service/delivery"

	"go.uber.org/zap"
)

// Sessions 连接与用户名的绑定，*chat.Server 实现
type Sessions interface {
	BindUser(ctx context.Context, c *chat.Client, user string) (evicted *chat.Client, err error)
	UnbindUser(ctx context.Context, c *chat.Client) string
}

var _ Sessions = (*chat.Server)(nil)

// AddUserHandler 会话属性先写入，再加入在线表
type AddUserHandler struct {
	router   ChatRouter
	sessions Sessions
	log      *zap.Logger
}

func NewAddUserHandler(r ChatRouter, sessions Sessions) chat.Handler {
	return &AddUserHandler{router: r, sessions: sessions, log: logger.Named("handler.join")}
}

func (h *AddUserHandler) Route() string { return chat.RouteAddUser }

func (h *AddUserHandler) Handle(ctx context.Context, c *chat.Client, body json.RawMessage) delivery.Outcome {
	ev, ok := decodeEvent(c, body, h.log)
	if !ok {
		return delivery.DroppedInvalid
	}
	username := ev.Sender
	if strings.TrimSpace(username) == "" {
		h.log.Warn("drop join: empty username", zap.String("conn", c.ConnID))
		return delivery.DroppedInvalid
	}

	evicted, err := h.sessions.BindUser(ctx, c, username)
	if err != nil {
		h.log.Warn("bind user failed", zap.String("conn", c.ConnID), zap.String("user", username), zap.Error(err))
		return delivery.DroppedInvalid
	}
	if evicted != nil {
		h.log.Info("evict oldest connection", zap.String("user", username), zap.String("conn", evicted.ConnID))
		evicted.Close()
	}
	c.SetAttr(chat.AttrUsername, username)

	return h.router.AddUser(ctx, username)
}

// LeaveHandler 主动离开；离开的是本连接的用户名时同时解绑
type LeaveHandler struct {
	router   ChatRouter
	sessions Sessions
	log      *zap.Logger
}

func NewLeaveHandler(r ChatRouter, sessions Sessions) chat.Handler {
	return &LeaveHandler{router: r, sessions: sessions, log: logger.Named("handler.leave")}
}

func (h *LeaveHandler) Route() string { return chat.RouteLeave }

func (h *LeaveHandler) Handle(ctx context.Context, c *chat.Client, body json.RawMessage) delivery.Outcome {
	ev, ok := decodeEvent(c, body, h.log)
	if !ok {
		return delivery.DroppedInvalid
	}
	if ev.Sender != "" && ev.Sender == c.Username() {
		h.sessions.UnbindUser(ctx, c)
		c.SetAttr(chat.AttrUsername, "")
	}
	return h.router.LeaveUser(ctx, ev.Sender)
}
