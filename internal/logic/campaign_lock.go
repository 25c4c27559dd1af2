package logic

import "sync"

// campaignLocks 按活动 ID 加锁，不同活动互不阻塞
type campaignLocks struct {
	mu    sync.Mutex
	locks map[int64]*campaignLock
}

type campaignLock struct {
	sync.Mutex
	refs int
}

func newCampaignLocks() *campaignLocks {
	return &campaignLocks{locks: make(map[int64]*campaignLock)}
}

// lock 获取活动锁，返回解锁函数；无人持有时条目被回收
func (c *campaignLocks) lock(id int64) func() {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &campaignLock{}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, id)
		}
		c.mu.Unlock()
	}
}

func (c *campaignLocks) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}
