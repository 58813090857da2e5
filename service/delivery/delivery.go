// Package delivery 定义路由层依赖的投递原语，由传输层（本地 ws / nats）实现。
package delivery

import "context"

// 公共主题，所有连接隐式订阅
const (
	TopicPublic = "/topic/public"
	TopicRoster = "/topic/users"
)

// 用户私有通道
const (
	ChannelPrivate = "/queue/private"
	ChannelCall    = "/queue/call"
)

// Channel 投递通道。实现方应尽快返回（入队即可），失败由调用方记录日志，不重试。
type Channel interface {
	// Publish 广播给 topic 的所有订阅者
	Publish(ctx context.Context, topic string, v any) error
	// DeliverToUser 只投递给 user 的某个私有通道
	DeliverToUser(ctx context.Context, user, channel string, v any) error
}

// UserDestination 客户端看到的私有通道地址，如 /user/queue/private
func UserDestination(channel string) string {
	return "/user" + channel
}
