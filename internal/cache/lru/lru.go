package lru

import (
	"container/list"
	"sync"
	"time"
)

// Cache 按估算字节数限制容量的LRU缓存，并发安全
type Cache[V any] struct {
	mu       sync.Mutex
	maxBytes int64 // <=0 不限容量
	ttl      time.Duration
	sizeOf   func(V) int
	order    *list.List // 队首最新
	items    map[string]*list.Element
	used     int64
	stats    Stats
	onEvict  func(key string, value V)
	now      func() time.Time
}

// Item 缓存条目
type Item[V any] struct {
	Key      string
	Value    V
	StoredAt time.Time
}

// Stats 命中统计
type Stats struct {
	Entries   int    `json:"entries"`
	UsedBytes int64  `json:"used_bytes"`
	MaxBytes  int64  `json:"max_bytes"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// New 创建缓存；sizeOf估算单个值的字节数，ttl<=0表示条目不过期
func New[V any](maxBytes int64, ttl time.Duration, sizeOf func(V) int) *Cache[V] {
	return &Cache[V]{
		maxBytes: maxBytes,
		ttl:      ttl,
		sizeOf:   sizeOf,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// OnEvict 设置淘汰回调（容量或过期淘汰，不含Delete）
func (c *Cache[V]) OnEvict(fn func(key string, value V)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get 取值并标记为最近使用，过期条目视为未命中并清除
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	ele, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	item := ele.Value.(*Item[V])
	if c.stale(item, c.now()) {
		c.evict(ele)
		c.stats.Misses++
		return zero, false
	}
	c.order.MoveToFront(ele)
	c.stats.Hits++
	return item.Value, true
}

// Put 写入当前时间的条目
func (c *Cache[V]) Put(key string, value V) {
	c.PutAt(key, value, c.now())
}

// PutAt 以给定写入时间存入，快照恢复时保留原时间
func (c *Cache[V]) PutAt(key string, value V, storedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ele, ok := c.items[key]; ok {
		item := ele.Value.(*Item[V])
		c.used += int64(c.sizeOf(value) - c.sizeOf(item.Value))
		item.Value, item.StoredAt = value, storedAt
		c.order.MoveToFront(ele)
	} else {
		c.items[key] = c.order.PushFront(&Item[V]{Key: key, Value: value, StoredAt: storedAt})
		c.used += c.cost(key, value)
	}

	c.trim()
}

// Delete 删除条目，返回是否存在
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ele, ok := c.items[key]
	if !ok {
		return false
	}
	c.unlink(ele)
	return true
}

// Purge 清空缓存，统计保留
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.items = make(map[string]*list.Element)
	c.used = 0
}

// Len 条目数
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats 当前统计
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = c.order.Len()
	s.UsedBytes = c.used
	s.MaxBytes = c.maxBytes
	return s
}

// Items 从新到旧返回未过期的条目
func (c *Cache[V]) Items() []Item[V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	items := make([]Item[V], 0, c.order.Len())
	for ele := c.order.Front(); ele != nil; ele = ele.Next() {
		item := ele.Value.(*Item[V])
		if !c.stale(item, now) {
			items = append(items, *item)
		}
	}
	return items
}

func (c *Cache[V]) cost(key string, value V) int64 {
	return int64(len(key) + c.sizeOf(value))
}

func (c *Cache[V]) stale(item *Item[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(item.StoredAt) > c.ttl
}

// trim 先清过期条目，再按容量从最旧的开始淘汰
func (c *Cache[V]) trim() {
	now := c.now()
	for ele := c.order.Back(); ele != nil; {
		prev := ele.Prev()
		if c.stale(ele.Value.(*Item[V]), now) {
			c.evict(ele)
		}
		ele = prev
	}
	for c.maxBytes > 0 && c.used > c.maxBytes && c.order.Len() > 0 {
		c.evict(c.order.Back())
	}
}

func (c *Cache[V]) evict(ele *list.Element) {
	item := c.unlink(ele)
	c.stats.Evictions++
	if c.onEvict != nil {
		c.onEvict(item.Key, item.Value)
	}
}

func (c *Cache[V]) unlink(ele *list.Element) *Item[V] {
	item := c.order.Remove(ele).(*Item[V])
	delete(c.items, item.Key)
	c.used -= c.cost(item.Key, item.Value)
	return item
}
