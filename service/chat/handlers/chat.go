// Package handlers 把入站帧解码后交给 Router / Forwarder。
package handlers

import (
	"context"
	"encoding/json"

	"ChatRelay/logger"
	"ChatRelay/module/chat/model"
	"ChatRelay/service/chat"
	"ChatRelay/service/delivery"

	"go.uber.org/zap"
)

// ChatRouter 由 module/chat.Router 实现
type ChatRouter interface {
	HandleChat(ctx context.Context, ev model.ChatEvent) delivery.Outcome
	HandleFile(ctx context.Context, ev model.ChatEvent) delivery.Outcome
	AddUser(ctx context.Context, username string) delivery.Outcome
	LeaveUser(ctx context.Context, username string) delivery.Outcome
}

type SendHandler struct {
	router ChatRouter
	log    *zap.Logger
}

func NewSendHandler(r ChatRouter) chat.Handler {
	return &SendHandler{router: r, log: logger.Named("handler.send")}
}

func (h *SendHandler) Route() string { return chat.RouteChatSend }

func (h *SendHandler) Handle(ctx context.Context, c *chat.Client, body json.RawMessage) delivery.Outcome {
	ev, ok := decodeEvent(c, body, h.log)
	if !ok {
		return delivery.DroppedInvalid
	}
	return h.router.HandleChat(ctx, *ev)
}

type FileHandler struct {
	router ChatRouter
	log    *zap.Logger
}

func NewFileHandler(r ChatRouter) chat.Handler {
	return &FileHandler{router: r, log: logger.Named("handler.file")}
}

func (h *FileHandler) Route() string { return chat.RouteFile }

func (h *FileHandler) Handle(ctx context.Context, c *chat.Client, body json.RawMessage) delivery.Outcome {
	ev, ok := decodeEvent(c, body, h.log)
	if !ok {
		return delivery.DroppedInvalid
	}
	return h.router.HandleFile(ctx, *ev)
}

// decodeEvent 解码 ChatEvent；sender 为空时按会话补齐，
// 开启鉴权后 sender 必须和 token 一致
func decodeEvent(c *chat.Client, body json.RawMessage, log *zap.Logger) (*model.ChatEvent, bool) {
	ev, err := chat.DecodeBody[model.ChatEvent](body)
	if err != nil {
		log.Info("decode chat event failed", zap.String("conn", c.ConnID), zap.Error(err))
		return nil, false
	}
	if ev.Sender == "" {
		ev.Sender = defaultSender(c)
	}
	if !senderAllowed(c, ev.Sender) {
		log.Warn("drop: sender does not match token",
			zap.String("conn", c.ConnID), zap.String("sender", ev.Sender), zap.String("subject", c.Subject))
		return nil, false
	}
	return ev, true
}

// defaultSender 会话用户名优先，其次 token 用户名
func defaultSender(c *chat.Client) string {
	if u := c.Username(); u != "" {
		return u
	}
	return c.Subject
}

func senderAllowed(c *chat.Client, sender string) bool {
	return c.Subject == "" || c.Subject == sender
}
