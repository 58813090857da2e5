package chat

import (
	"sync"
	"time"

	"ChatRelay/tools/errs"
)

type ManagerConf struct {
	MaxPerUser  int              // 每个用户名最大连接数（<=0 不限制）
	EvictOldest bool             // 超限时淘汰最老连接，否则 BindUser 报错
	Clock       func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// ConnManager 本节点连接表：connID -> client，username -> (connID -> client)
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*Client
	byUser map[string]map[string]*Client
	bound  map[string]string // connID -> username

	conf ManagerConf
}

func NewConnManager(conf ManagerConf) *ConnManager {
	conf.norm()
	return &ConnManager{
		byConn: make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
		bound:  make(map[string]string),
		conf:   conf,
	}
}

// Add 登记一条尚未绑定用户名的连接
func (m *ConnManager) Add(c *Client) error {
	if c == nil || c.ConnID == "" {
		return errs.ErrArgs.WrapMsg("empty client")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byConn[c.ConnID]; ok {
		return errs.ErrArgs.WrapMsg("connID exists", "connID", c.ConnID)
	}
	c.CreatedAt = m.conf.Clock()
	m.byConn[c.ConnID] = c
	return nil
}

// BindUser 把连接挂到用户名下。已绑定其他用户名时先从旧索引摘除。
// 返回被挤下线的连接（可能为 nil），由调用方在锁外关闭。
func (m *ConnManager) BindUser(connID, user string) (*Client, error) {
	if connID == "" || user == "" {
		return nil, errs.ErrArgs.WrapMsg("connID/user empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byConn[connID]
	if !ok {
		return nil, errs.ErrArgs.WrapMsg("connID not found", "connID", connID)
	}
	if old := m.bound[connID]; old != "" {
		if old == user {
			return nil, nil
		}
		m.unbindLocked(connID, old)
	}

	var evicted *Client
	if m.conf.MaxPerUser > 0 && len(m.byUser[user]) >= m.conf.MaxPerUser {
		if !m.conf.EvictOldest {
			return nil, errs.ErrArgs.WrapMsg("too many connections", "user", user, "max", m.conf.MaxPerUser)
		}
		evicted = m.oldestLocked(user)
		m.unbindLocked(evicted.ConnID, user)
	}

	if m.byUser[user] == nil {
		m.byUser[user] = make(map[string]*Client)
	}
	m.byUser[user][connID] = c
	m.bound[connID] = user
	return evicted, nil
}

// Remove 移除连接，返回它绑定的用户名以及该用户名剩余的连接数
func (m *ConnManager) Remove(connID string) (user string, remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.byConn, connID)
	user = m.bound[connID]
	if user == "" {
		return "", 0
	}
	m.unbindLocked(connID, user)
	return user, len(m.byUser[user])
}

// UserOf 连接当前绑定的用户名，未绑定为空
func (m *ConnManager) UserOf(connID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bound[connID]
}

// ListUser 用户名下的所有连接
func (m *ConnManager) ListUser(user string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byUser[user]
	if len(mm) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(mm))
	for _, c := range mm {
		out = append(out, c)
	}
	return out
}

// All 所有连接快照（广播用）
func (m *ConnManager) All() []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Client, 0, len(m.byConn))
	for _, c := range m.byConn {
		out = append(out, c)
	}
	return out
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}

// CloseAll 通知所有连接收尾
func (m *ConnManager) CloseAll() {
	for _, c := range m.All() {
		c.Close()
	}
}

// 需要在持锁状态下调用（*Locked）
func (m *ConnManager) unbindLocked(connID, user string) {
	delete(m.bound, connID)
	if mm := m.byUser[user]; mm != nil {
		delete(mm, connID)
		if len(mm) == 0 {
			delete(m.byUser, user)
		}
	}
}

func (m *ConnManager) oldestLocked(user string) *Client {
	var oldest *Client
	for _, c := range m.byUser[user] {
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	return oldest
}

// Unbind 连接回到未绑定状态，返回该用户名剩余的连接数
func (m *ConnManager) Unbind(connID string) (user string, remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user = m.bound[connID]
	if user == "" {
		return "", 0
	}
	m.unbindLocked(connID, user)
	return user, len(m.byUser[user])
}
