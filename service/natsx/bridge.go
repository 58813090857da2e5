package natsx

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"ChatRelay/logger"
	"ChatRelay/service/delivery"
	"ChatRelay/service/metrics"
	"ChatRelay/tools/errs"

	"go.uber.org/zap"
)

// 跨节点转发用的消息头
const (
	HeaderOrigin = "Relay-Origin" // 发出节点
	HeaderDest   = "Relay-Dest"   // 原始 topic / channel
	HeaderUser   = "Relay-User"
)

const (
	bizTopic = "relay.topic"
	bizUser  = "relay.user"
)

// Transport 桥接依赖的最小 NATS 能力，NatsManager 实现
type Transport interface {
	RegisterRoute(r NatsxRoute) error
	PublishOnce(ctx context.Context, subject string, data []byte, hdr map[string]string, msgID string) error
	Subscribe(biz string, h NatsxHandler) error
}

var _ Transport = (*NatsManager)(nil)

// BridgeConf subject 前缀和本节点标识
type BridgeConf struct {
	Prefix string
	NodeID string
}

// Bridge 多节点投递：先投本节点，再经 NATS 广播给其他节点；
// 收到其他节点的消息后回放到本节点的 ws 网关。
type Bridge struct {
	tr      Transport
	local   delivery.Channel
	prefix  string
	node    string
	log     *zap.Logger
	metrics *metrics.Metrics
}

type BridgeOption func(*Bridge)

func WithBridgeMetrics(m *metrics.Metrics) BridgeOption {
	return func(b *Bridge) { b.metrics = m }
}

func WithBridgeLogger(l *zap.Logger) BridgeOption {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

func NewBridge(tr Transport, local delivery.Channel, conf BridgeConf, opts ...BridgeOption) *Bridge {
	prefix := strings.Trim(strings.TrimSpace(conf.Prefix), ".")
	if prefix == "" {
		prefix = "relay"
	}
	b := &Bridge{
		tr:     tr,
		local:  local,
		prefix: prefix,
		node:   conf.NodeID,
		log:    logger.Named("natsx.bridge"),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

var _ delivery.Channel = (*Bridge)(nil)

// Start 订阅 <prefix>.topic.> 和 <prefix>.user.>，每个节点各收一份
func (b *Bridge) Start() error {
	routes := []struct {
		r NatsxRoute
		h NatsxHandler
	}{
		{NatsxRoute{Biz: bizTopic, Subject: b.prefix + ".topic.>"}, b.onTopic},
		{NatsxRoute{Biz: bizUser, Subject: b.prefix + ".user.>"}, b.onUser},
	}
	for _, rt := range routes {
		if err := b.tr.RegisterRoute(rt.r); err != nil {
			return err
		}
		if err := b.tr.Subscribe(rt.r.Biz, rt.h); err != nil {
			return err
		}
	}
	b.log.Info("bridge started", zap.String("prefix", b.prefix), zap.String("node", b.node))
	return nil
}

func (b *Bridge) Publish(ctx context.Context, topic string, v any) error {
	localErr := b.local.Publish(ctx, topic, v)
	data, err := json.Marshal(v)
	if err != nil {
		return errs.ErrArgs.WrapMsg("marshal event", "topic", topic, "err", err)
	}
	hdr := map[string]string{HeaderOrigin: b.node, HeaderDest: topic}
	if err := b.tr.PublishOnce(ctx, b.TopicSubject(topic), data, hdr, ""); err != nil {
		b.metrics.DeliveryError("nats_publish")
		return err
	}
	return localErr
}

func (b *Bridge) DeliverToUser(ctx context.Context, user, channel string, v any) error {
	localErr := b.local.DeliverToUser(ctx, user, channel, v)
	data, err := json.Marshal(v)
	if err != nil {
		return errs.ErrArgs.WrapMsg("marshal event", "user", user, "err", err)
	}
	hdr := map[string]string{HeaderOrigin: b.node, HeaderDest: channel, HeaderUser: user}
	if err := b.tr.PublishOnce(ctx, b.UserSubject(user, channel), data, hdr, ""); err != nil {
		b.metrics.DeliveryError("nats_publish")
		return err
	}
	return localErr
}

// 自己发出的消息已经在本地投过，直接跳过
func (b *Bridge) fromSelf(msg NatsxMessage) bool {
	return b.node != "" && msg.Header[HeaderOrigin] == b.node
}

func (b *Bridge) onTopic(ctx context.Context, msg NatsxMessage) error {
	if b.fromSelf(msg) {
		return nil
	}
	topic := msg.Header[HeaderDest]
	if topic == "" {
		tok := strings.TrimPrefix(msg.Subject, b.prefix+".topic.")
		if tok == msg.Subject || tok == "" {
			b.log.Warn("bad topic subject", zap.String("subject", msg.Subject))
			return nil
		}
		topic = "/topic/" + tok
	}
	if err := b.local.Publish(ctx, topic, json.RawMessage(msg.Data)); err != nil {
		b.log.Warn("replay topic failed", zap.String("topic", topic), zap.Error(err))
	}
	return nil
}

func (b *Bridge) onUser(ctx context.Context, msg NatsxMessage) error {
	if b.fromSelf(msg) {
		return nil
	}
	user, channel, err := b.ParseUserSubject(msg.Subject)
	if err != nil {
		b.log.Warn("bad user subject", zap.String("subject", msg.Subject), zap.Error(err))
		return nil
	}
	if d := msg.Header[HeaderDest]; d != "" {
		channel = d
	}
	if err := b.local.DeliverToUser(ctx, user, channel, json.RawMessage(msg.Data)); err != nil {
		b.log.Warn("replay user failed", zap.String("user", user), zap.Error(err))
	}
	return nil
}

// TopicSubject /topic/public -> <prefix>.topic.public
func (b *Bridge) TopicSubject(topic string) string {
	return b.prefix + ".topic." + pathToken(topic, "/topic/")
}

// UserSubject 用户名做 base64url 编码，避免 . * > 空格 破坏 subject
func (b *Bridge) UserSubject(user, channel string) string {
	return b.prefix + ".user." + EscapeUser(user) + "." + pathToken(channel, "/queue/")
}

// ParseUserSubject UserSubject 的逆过程
func (b *Bridge) ParseUserSubject(subject string) (user, channel string, err error) {
	rest := strings.TrimPrefix(subject, b.prefix+".user.")
	if rest == subject {
		return "", "", errs.ErrArgs.WrapMsg("not a user subject", "subject", subject)
	}
	tok, ch, ok := strings.Cut(rest, ".")
	if !ok || tok == "" || ch == "" {
		return "", "", errs.ErrArgs.WrapMsg("malformed user subject", "subject", subject)
	}
	user, err = UnescapeUser(tok)
	if err != nil {
		return "", "", err
	}
	return user, "/queue/" + ch, nil
}

func EscapeUser(user string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(user))
}

func UnescapeUser(tok string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return "", errs.ErrArgs.WrapMsg("bad user token", "token", tok, "err", err)
	}
	return string(raw), nil
}

var tokenReplacer = strings.NewReplacer("/", "_", ".", "_", "*", "_", ">", "_", " ", "_")

func pathToken(p, prefix string) string {
	t := tokenReplacer.Replace(strings.TrimPrefix(p, prefix))
	if t == "" {
		return "_"
	}
	return t
}
