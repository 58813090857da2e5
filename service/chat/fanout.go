package chat

import "sync"

type fanoutJob struct {
	conns   []*Client
	payload []byte
}

// Fanout 广播工作池：把同一份 payload 投到一批连接的发送队列
type Fanout struct {
	jobs   chan fanoutJob
	onDrop func(c *Client)

	mu     sync.RWMutex
	closed bool
}

func NewFanout(workers, queue int, onDrop func(c *Client)) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 1024
	}
	f := &Fanout{jobs: make(chan fanoutJob, queue), onDrop: onDrop}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range f.jobs {
				for _, c := range job.conns {
					if !c.Enqueue(job.payload) && f.onDrop != nil {
						// 慢客户端直接跳过
						f.onDrop(c)
					}
				}
			}
		}()
	}
	return f
}

// Broadcast 非阻塞；任务队列满或已关闭时返回 false
func (f *Fanout) Broadcast(conns []*Client, payload []byte) bool {
	if len(conns) == 0 || len(payload) == 0 {
		return true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	select {
	case f.jobs <- fanoutJob{conns: conns, payload: payload}:
		return true
	default:
		return false
	}
}

// Close 停止 worker，已入队的任务会处理完
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.jobs)
	}
}
