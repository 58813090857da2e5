// Package call WebRTC 通话信令透传，不解析 SDP / ICE 内容。
package call

import (
	"context"

	"ChatRelay/logger"
	"ChatRelay/module/call/model"
	"ChatRelay/service/delivery"

	"go.uber.org/zap"
)

// Forwarder 无状态，不查在线表：通话可以先于聊天加入发起
type Forwarder struct {
	out delivery.Channel
	log *zap.Logger
}

func NewForwarder(out delivery.Channel, log *zap.Logger) *Forwarder {
	if log == nil {
		log = logger.Named("call")
	}
	return &Forwarder{out: out, log: log}
}

// Forward 校验收发双方后原样投递到接收者的 call 通道
func (f *Forwarder) Forward(ctx context.Context, env model.CallEnvelope) delivery.Outcome {
	log := f.log.With(
		zap.String("type", string(env.Type)),
		zap.String("sender", env.Sender),
		zap.String("receiver", env.Receiver),
	)
	if field, ok := env.Validate(); !ok {
		log.Warn("drop call signal: missing field", zap.String("field", field))
		return delivery.DroppedInvalid
	}

	if err := f.out.DeliverToUser(ctx, env.Receiver, delivery.ChannelCall, env); err != nil {
		log.Warn("deliver call signal failed", zap.Error(err))
	} else {
		log.Debug("call signal forwarded")
	}
	return delivery.Delivered
}
