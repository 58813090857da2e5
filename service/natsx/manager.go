package natsx

import (
	"context"

	"ChatRelay/tools/errs"
)

// NatsManager 统一门面：对外只暴露这一个对象来用
type NatsManager struct {
	client   *NatsxClient
	producer *NatsxProducer
	consumer *NatsxConsumer
}

// NewNatsManager 初始化
func NewNatsManager(cfg NatsxConfig, middlewares ...NatsxMiddleware) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg)
	if err != nil {
		return nil, err
	}
	return &NatsManager{
		client:   c,
		producer: NewNatsxProducer(c),
		consumer: NewNatsxConsumer(c, middlewares...),
	}, nil
}

// Close 释放资源（优雅关闭订阅与连接）
func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// RegisterRoute 注册业务路由（biz -> subject / queue）
func (m *NatsManager) RegisterRoute(r NatsxRoute) error {
	if m == nil || m.client == nil {
		return errs.ErrInternal.WrapMsg("nats manager not initialized")
	}
	return m.client.RegisterRoute(r)
}

// PublishOnce 生产消息（带 Nats-Msg-Id）
func (m *NatsManager) PublishOnce(ctx context.Context, subject string, data []byte, hdr map[string]string, msgID string) error {
	if m == nil || m.producer == nil {
		return errs.ErrInternal.WrapMsg("nats manager not initialized")
	}
	return m.producer.PublishOnce(ctx, subject, data, hdr, msgID)
}

// Subscribe 订阅，同组内用 Queue 分摊；广播则 Queue 置空
func (m *NatsManager) Subscribe(biz string, h NatsxHandler) error {
	if m == nil || m.consumer == nil {
		return errs.ErrInternal.WrapMsg("nats manager not initialized")
	}
	return m.consumer.Subscribe(biz, h)
}
