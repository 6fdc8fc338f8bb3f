package optimizer

import "sync"

// call 一次进行中的查询，完成后关闭 done
type call struct {
	done chan struct{}
	val  interface{}
	err  error
}

// inflightRegistry 按键登记进行中的查询，每个键最多一个
type inflightRegistry struct {
	mu    sync.Mutex
	calls map[string]*call
}

func newInflightRegistry() *inflightRegistry {
	return &inflightRegistry{calls: make(map[string]*call)}
}

// lookup 返回键上进行中的查询
func (r *inflightRegistry) lookup(key string) (*call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[key]
	return c, ok
}

// acquire 原子地获取或登记查询。leader 为 true 时调用方负责执行并 release。
func (r *inflightRegistry) acquire(key string) (c *call, leader bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.calls[key]; ok {
		return c, false
	}
	c = &call{done: make(chan struct{})}
	r.calls[key] = c
	return c, true
}

// release 移除登记。只移除 c 本身，避免误删之后登记的新查询。
func (r *inflightRegistry) release(key string, c *call) {
	r.mu.Lock()
	if r.calls[key] == c {
		delete(r.calls, key)
	}
	r.mu.Unlock()
}

func (r *inflightRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
