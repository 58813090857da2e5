package natsx

import (
	"context"

	"ChatRelay/tools/errs"
	"ChatRelay/tools/ids"

	"github.com/nats-io/nats.go"
)

const HeaderMsgID = "Nats-Msg-Id"

// NatsxProducer 生产端
type NatsxProducer struct{ c *NatsxClient }

func NewNatsxProducer(c *NatsxClient) *NatsxProducer { return &NatsxProducer{c: c} }

// Publish 按 Biz 路由发送
func (p *NatsxProducer) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return errs.ErrArgs.WrapMsg("route not found", "biz", biz)
	}
	return p.PublishSubject(ctx, r.Subject, data, hdr)
}

// PublishSubject 直接发到具体 subject（用户通道的 subject 是动态的）
func (p *NatsxProducer) PublishSubject(_ context.Context, subject string, data []byte, hdr map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	if err := p.c.nc.PublishMsg(msg); err != nil {
		return errs.ErrTransport.WrapMsg("nats publish", "subject", subject, "err", err)
	}
	return nil
}

// PublishOnce 带 Nats-Msg-Id 发送，msgID 为空则用雪花 ID
func (p *NatsxProducer) PublishOnce(ctx context.Context, subject string, data []byte, hdr map[string]string, msgID string) error {
	if hdr == nil {
		hdr = map[string]string{}
	}
	if msgID == "" {
		msgID = ids.GenerateString()
	}
	hdr[HeaderMsgID] = msgID
	return p.PublishSubject(ctx, subject, data, hdr)
}
