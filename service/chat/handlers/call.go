package handlers

import (
	"context"
	"encoding/json"

	"ChatRelay/logger"
	"ChatRelay/module/call/model"
	"ChatRelay/service/chat"
	"ChatRelay/service/delivery"

	"go.uber.org/zap"
)

// CallForwarder 由 module/call.Forwarder 实现
type CallForwarder interface {
	Forward(ctx context.Context, env model.CallEnvelope) delivery.Outcome
}

type CallHandler struct {
	fwd CallForwarder
	log *zap.Logger
}

func NewCallHandler(f CallForwarder) chat.Handler {
	return &CallHandler{fwd: f, log: logger.Named("handler.call")}
}

func (h *CallHandler) Route() string { return chat.RouteCallSend }

// Handle offer/answer/candidate 需要原样透传，这里不走宽松解码
func (h *CallHandler) Handle(ctx context.Context, c *chat.Client, body json.RawMessage) delivery.Outcome {
	env, err := chat.DecodeBodyStrict[model.CallEnvelope](body)
	if err != nil {
		h.log.Info("decode call envelope failed", zap.String("conn", c.ConnID), zap.Error(err))
		return delivery.DroppedInvalid
	}
	if env.Sender == "" {
		env.Sender = defaultSender(c)
	}
	if !senderAllowed(c, env.Sender) {
		h.log.Warn("drop call: sender does not match token",
			zap.String("conn", c.ConnID), zap.String("sender", env.Sender), zap.String("subject", c.Subject))
		return delivery.DroppedInvalid
	}
	return h.fwd.Forward(ctx, *env)
}
