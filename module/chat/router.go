// Package chat 聊天消息路由：公共广播 / 私聊投递策略与在线名单维护。
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ChatRelay/logger"
	"ChatRelay/module/chat/model"
	"ChatRelay/module/presence"
	"ChatRelay/service/delivery"

	"go.uber.org/zap"
)

// Router 在线表的唯一写入方。每次调用相互独立，可并发执行
type Router struct {
	reg   presence.Registry
	out   delivery.Channel
	log   *zap.Logger
	clock func() time.Time
}

type Option func(*Router)

// WithClock 注入时钟（单测用）
func WithClock(fn func() time.Time) Option {
	return func(r *Router) {
		if fn != nil {
			r.clock = fn
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

func NewRouter(reg presence.Registry, out delivery.Channel, opts ...Option) *Router {
	r := &Router{
		reg:   reg,
		out:   out,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Named("router")
	}
	return r
}

// HandleChat 文本消息：接收者为空走公共广播，否则私聊双投 + 公共回显
func (r *Router) HandleChat(ctx context.Context, ev model.ChatEvent) delivery.Outcome {
	ev.Timestamp = r.clock()
	if ev.Type == "" {
		ev.Type = model.KindChat
	}
	return r.route(ctx, &ev, r.chatEcho)
}

// HandleFile 文件消息，流程同 HandleChat；公共回显只带文字说明，不带文件内容
func (r *Router) HandleFile(ctx context.Context, ev model.ChatEvent) delivery.Outcome {
	ev.Timestamp = r.clock()
	ev.Type = model.KindFile
	return r.route(ctx, &ev, r.fileEcho)
}

func (r *Router) route(ctx context.Context, ev *model.ChatEvent, echo func(*model.ChatEvent) model.ChatEvent) delivery.Outcome {
	log := r.log.With(
		zap.String("type", string(ev.Type)),
		zap.String("sender", ev.Sender),
		zap.String("receiver", ev.Receiver),
	)

	if strings.TrimSpace(ev.Sender) == "" {
		log.Warn("drop: empty sender")
		return delivery.DroppedInvalid
	}
	if oc := r.requirePresent(ctx, ev.Sender, delivery.DroppedUnknownSender, log); oc != delivery.Delivered {
		return oc
	}

	if ev.IsPublic() {
		r.publish(ctx, delivery.TopicPublic, *ev, log)
		log.Debug("public message sent")
		return delivery.Delivered
	}

	if oc := r.requirePresent(ctx, ev.Receiver, delivery.DroppedUnknownReceiver, log); oc != delivery.Delivered {
		return oc
	}

	r.deliver(ctx, ev.Receiver, *ev, log)
	// 发送者也收一份，多端/多标签页能看到自己发出的消息
	r.deliver(ctx, ev.Sender, *ev, log)
	r.publishPrivateEcho(ctx, echo(ev), log)
	log.Debug("private message sent")
	return delivery.Delivered
}

// publishPrivateEcho 私聊成功后往公共主题发一条脱敏回显（无接收者、无文件内容）。
// 现有客户端依赖这条消息，会暴露“有人在私聊”这一事实，改动前需要产品确认。
func (r *Router) publishPrivateEcho(ctx context.Context, echo model.ChatEvent, log *zap.Logger) {
	r.publish(ctx, delivery.TopicPublic, echo, log)
}

func (r *Router) chatEcho(ev *model.ChatEvent) model.ChatEvent {
	return model.ChatEvent{
		Type:      model.KindChat,
		Sender:    ev.Sender,
		Content:   ev.Content,
		Timestamp: r.clock(),
	}
}

func (r *Router) fileEcho(ev *model.ChatEvent) model.ChatEvent {
	return model.ChatEvent{
		Type:      model.KindChat,
		Sender:    ev.Sender,
		Content:   fmt.Sprintf("[FILE to %s]: %s", ev.Receiver, ev.Caption()),
		Timestamp: r.clock(),
	}
}

// AddUser 用户加入。重复加入不广播
func (r *Router) AddUser(ctx context.Context, username string) delivery.Outcome {
	log := r.log.With(zap.String("user", username))
	if strings.TrimSpace(username) == "" {
		log.Warn("drop join: empty username")
		return delivery.DroppedInvalid
	}

	added, err := r.reg.Add(ctx, username)
	if err != nil {
		log.Error("presence add failed", zap.Error(err))
		return delivery.DroppedUnavailable
	}
	if !added {
		log.Info("user already active")
		return delivery.Unchanged
	}

	r.publish(ctx, delivery.TopicPublic, model.ChatEvent{
		Type:      model.KindJoin,
		Sender:    username,
		Content:   username + " joined the chat",
		Timestamp: r.clock(),
	}, log)
	r.broadcastRoster(ctx, log)
	log.Info("user joined")
	return delivery.Delivered
}

// LeaveUser 用户离开。不在线则什么都不做
func (r *Router) LeaveUser(ctx context.Context, username string) delivery.Outcome {
	log := r.log.With(zap.String("user", username))
	if strings.TrimSpace(username) == "" {
		log.Warn("drop leave: empty username")
		return delivery.DroppedInvalid
	}

	removed, err := r.reg.Remove(ctx, username)
	if err != nil {
		log.Error("presence remove failed", zap.Error(err))
		return delivery.DroppedUnavailable
	}
	if !removed {
		log.Debug("leave ignored: user not active")
		return delivery.Unchanged
	}

	r.publish(ctx, delivery.TopicPublic, model.ChatEvent{
		Type:      model.KindLeave,
		Sender:    username,
		Content:   username + " left the chat",
		Timestamp: r.clock(),
	}, log)
	r.broadcastRoster(ctx, log)
	log.Info("user left")
	return delivery.Delivered
}

// Roster 当前在线名单（只读）
func (r *Router) Roster(ctx context.Context) ([]string, error) {
	return r.reg.Snapshot(ctx)
}

// broadcastRoster 成员变化后推送完整名单
func (r *Router) broadcastRoster(ctx context.Context, log *zap.Logger) {
	users, err := r.reg.Snapshot(ctx)
	if err != nil {
		log.Error("roster snapshot failed", zap.Error(err))
		return
	}
	r.publish(ctx, delivery.TopicRoster, model.ChatEvent{
		Type:      model.KindUserUpdate,
		Sender:    model.SystemSender,
		Content:   strings.Join(users, ","),
		Timestamp: r.clock(),
	}, log)
}

func (r *Router) requirePresent(ctx context.Context, name string, miss delivery.Outcome, log *zap.Logger) delivery.Outcome {
	ok, err := r.reg.Contains(ctx, name)
	if err != nil {
		log.Error("presence lookup failed", zap.String("name", name), zap.Error(err))
		return delivery.DroppedUnavailable
	}
	if !ok {
		log.Info("drop: user not active", zap.String("name", name), zap.Stringer("outcome", miss))
		return miss
	}
	return delivery.Delivered
}

// 投递失败只记录，不重试
func (r *Router) publish(ctx context.Context, topic string, ev model.ChatEvent, log *zap.Logger) {
	if err := r.out.Publish(ctx, topic, ev); err != nil {
		log.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (r *Router) deliver(ctx context.Context, user string, ev model.ChatEvent, log *zap.Logger) {
	if err := r.out.DeliverToUser(ctx, user, delivery.ChannelPrivate, ev); err != nil {
		log.Warn("deliver failed", zap.String("to", user), zap.Error(err))
	}
}
