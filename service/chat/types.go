package chat

import (
	"context"
	"encoding/json"

	"ChatRelay/service/delivery"
)

// Handler 处理某个路由的入站帧。body 为帧里原始的 JSON
type Handler interface {
	Route() string
	Handle(ctx context.Context, c *Client, body json.RawMessage) delivery.Outcome
}

// HandlerFunc 适配普通函数
type HandlerFunc struct {
	Name string
	Fn   func(ctx context.Context, c *Client, body json.RawMessage) delivery.Outcome
}

func (h HandlerFunc) Route() string { return h.Name }

func (h HandlerFunc) Handle(ctx context.Context, c *Client, body json.RawMessage) delivery.Outcome {
	return h.Fn(ctx, c, body)
}
