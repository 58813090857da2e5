package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// AttrUsername 会话属性：chat.addUser 时写入的用户名
const AttrUsername = "username"

// Client 一条 websocket 连接。同一用户名可以有多条（多标签页）。
type Client struct {
	ConnID    string // 本节点内唯一
	Subject   string // token 中的用户名，未开启鉴权时为空
	WS        *websocket.Conn
	Send      chan []byte // 发送队列，只由写协程消费
	CreatedAt time.Time

	limiter *rate.Limiter

	mu    sync.RWMutex
	attrs map[string]string

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(connID string, ws *websocket.Conn, sendQueueSize int, limiter *rate.Limiter) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	return &Client{
		ConnID:    connID,
		WS:        ws,
		Send:      make(chan []byte, sendQueueSize),
		CreatedAt: time.Now(),
		limiter:   limiter,
		attrs:     make(map[string]string),
		done:      make(chan struct{}),
	}
}

func (c *Client) SetAttr(key, val string) {
	c.mu.Lock()
	c.attrs[key] = val
	c.mu.Unlock()
}

func (c *Client) Attr(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attrs[key]
}

func (c *Client) Username() string { return c.Attr(AttrUsername) }

// Allow 限流，未配置 limiter 时总是放行
func (c *Client) Allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// Enqueue 非阻塞入队；队列满或连接已关闭返回 false
func (c *Client) Enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

// Close 通知写协程收尾；Send 不关闭，避免并发写入 panic
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) Done() <-chan struct{} { return c.done }
