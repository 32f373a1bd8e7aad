package cubetiling

import "sync"

// DefaultMaxIdle is the number of idle sessions kept per op type.
const DefaultMaxIdle = 8

// SessionCache pools Impl sessions per op type. Acquire hands out an idle
// session or builds a new one, so concurrent callers never share an Impl.
type SessionCache struct {
	mu      sync.Mutex
	idle    map[OpType][]*Impl
	maxIdle int
	created int
}

func NewSessionCache(maxIdle int) *SessionCache {
	if maxIdle < 0 {
		maxIdle = 0
	}
	return &SessionCache{
		idle:    make(map[OpType][]*Impl),
		maxIdle: maxIdle,
	}
}

// Acquire returns a session for op. Unknown op types return ErrUnknownOpType.
func (c *SessionCache) Acquire(op OpType) (*Impl, error) {
	c.mu.Lock()
	if pool := c.idle[op]; len(pool) > 0 {
		impl := pool[len(pool)-1]
		c.idle[op] = pool[:len(pool)-1]
		c.mu.Unlock()
		return impl, nil
	}
	c.mu.Unlock()

	impl, err := NewImpl(op)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.created++
	c.mu.Unlock()
	return impl, nil
}

// Release clears impl and returns it to the pool.
func (c *SessionCache) Release(impl *Impl) {
	if impl == nil {
		return
	}
	impl.Clear()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.idle[impl.opType]) < c.maxIdle {
		c.idle[impl.opType] = append(c.idle[impl.opType], impl)
	}
}

// Reset drops every pooled session.
func (c *SessionCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idle = make(map[OpType][]*Impl)
	c.created = 0
}

// SessionStats is a snapshot of the pool.
type SessionStats struct {
	Idle    int `json:"idle"`
	Created int `json:"created"`
}

func (c *SessionCache) Stats() SessionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	idle := 0
	for _, pool := range c.idle {
		idle += len(pool)
	}
	return SessionStats{Idle: idle, Created: c.created}
}
