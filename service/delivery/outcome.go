package delivery

// Outcome 一次路由的处理结果。丢弃类结果只在进程内可见，不回传给发送端
type Outcome int

const (
	Delivered              Outcome = iota // 已交给投递通道
	Unchanged                             // 重复加入 / 离开不存在的用户，无广播
	DroppedInvalid                        // 必填字段为空
	DroppedUnknownSender                  // 发送者不在线
	DroppedUnknownReceiver                // 私聊接收者不在线
	DroppedUnavailable                    // 在线表后端出错
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Unchanged:
		return "unchanged"
	case DroppedInvalid:
		return "dropped_invalid"
	case DroppedUnknownSender:
		return "dropped_unknown_sender"
	case DroppedUnknownReceiver:
		return "dropped_unknown_receiver"
	case DroppedUnavailable:
		return "dropped_unavailable"
	default:
		return "unknown"
	}
}

// Dropped 是否被丢弃
func (o Outcome) Dropped() bool {
	return o >= DroppedInvalid
}
