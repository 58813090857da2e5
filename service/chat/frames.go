package chat

import (
	"bytes"
	"encoding/json"
	"strings"

	"ChatRelay/service/delivery"
	"ChatRelay/tools/decode"
	"ChatRelay/tools/errs"
)

// 入站路由
const (
	RouteChatSend = "chat.send"
	RouteAddUser  = "chat.addUser"
	RouteLeave    = "chat.leave"
	RouteFile     = "chat.file"
	RouteCallSend = "call.send"
)

// 旧版 STOMP 客户端使用的目的地
var routeAliases = map[string]string{
	"/app/chat.sendMessage": RouteChatSend,
	"/app/chat.addUser":     RouteAddUser,
	"/app/chat.leave":       RouteLeave,
	"/app/chat.file":        RouteFile,
	"/app/call.sendMessage": RouteCallSend,
}

func NormalizeRoute(dest string) string {
	dest = strings.TrimSpace(dest)
	if r, ok := routeAliases[dest]; ok {
		return r
	}
	return dest
}

// InboundFrame 客户端 -> 服务端
type InboundFrame struct {
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body"`
}

// OutboundFrame 服务端 -> 客户端，Destination 为 /topic/... 或 /user/queue/...
type OutboundFrame struct {
	Destination string `json:"destination"`
	Body        any    `json:"body"`
}

func ParseFrameJSON(raw []byte) (*InboundFrame, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errs.ErrArgs.WrapMsg("empty frame")
	}
	f := &InboundFrame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errs.ErrArgs.WrapMsg("unmarshal frame failed", "err", err)
	}
	if strings.TrimSpace(f.Destination) == "" {
		return nil, errs.ErrArgs.WrapMsg("frame without destination")
	}
	return f, nil
}

// EncodeFrame 编码一次，广播时所有连接共用同一份字节
func EncodeFrame(destination string, body any) ([]byte, error) {
	data, err := json.Marshal(OutboundFrame{Destination: destination, Body: body})
	if err != nil {
		return nil, errs.WrapMsg(err, "marshal frame", "destination", destination)
	}
	return data, nil
}

// UserFrame 私有通道帧
func UserFrame(channel string, body any) ([]byte, error) {
	return EncodeFrame(delivery.UserDestination(channel), body)
}

// DecodeBody 宽松解码（"fileSize":"1024" 之类也能解）
func DecodeBody[T any](body json.RawMessage) (*T, error) {
	return decode.DecodeJSON[T](body)
}

// DecodeBodyStrict 按 encoding/json 解码，保留 json.RawMessage 字段原样
func DecodeBodyStrict[T any](body json.RawMessage) (*T, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errs.ErrArgs.WrapMsg("empty body")
	}
	out := new(T)
	if err := json.Unmarshal(body, out); err != nil {
		return nil, errs.ErrArgs.WrapMsg("decode body", "err", err)
	}
	return out, nil
}
