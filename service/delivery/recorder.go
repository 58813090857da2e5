package delivery

import (
	"context"
	"sync"
)

// Delivery 一次投递记录；User 为空表示 topic 广播
type Delivery struct {
	Topic   string
	User    string
	Channel string
	Value   any
}

// Recorder 记录所有投递的内存通道，供测试和调试使用
type Recorder struct {
	mu   sync.Mutex
	sent []Delivery
	Err  error // 非空时每次投递都返回该错误（仍然记录）
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(_ context.Context, topic string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Delivery{Topic: topic, Value: v})
	return r.Err
}

func (r *Recorder) DeliverToUser(_ context.Context, user, channel string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Delivery{User: user, Channel: channel, Value: v})
	return r.Err
}

// All 按投递顺序返回快照
func (r *Recorder) All() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.sent...)
}

// OnTopic 只返回某个 topic 的广播
func (r *Recorder) OnTopic(topic string) []Delivery {
	var out []Delivery
	for _, d := range r.All() {
		if d.User == "" && d.Topic == topic {
			out = append(out, d)
		}
	}
	return out
}

// ToUser 只返回投递给 user 某通道的记录
func (r *Recorder) ToUser(user, channel string) []Delivery {
	var out []Delivery
	for _, d := range r.All() {
		if d.User == user && d.Channel == channel {
			out = append(out, d)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
