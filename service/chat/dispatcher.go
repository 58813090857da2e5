package chat

import (
	"context"

	"ChatRelay/service/delivery"
	"ChatRelay/tools/errs"
)

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register 启动阶段调用，非并发安全
func (d *Dispatcher) Register(hs ...Handler) {
	for _, h := range hs {
		d.handlers[h.Route()] = h
	}
}

// Dispatch 按帧的目的地（含 /app/... 别名）找到处理器
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, f *InboundFrame) (delivery.Outcome, error) {
	route := NormalizeRoute(f.Destination)
	h, ok := d.handlers[route]
	if !ok {
		return delivery.DroppedInvalid, errs.ErrArgs.WrapMsg("no handler", "destination", f.Destination)
	}
	return h.Handle(ctx, c, f.Body), nil
}
