package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"FundPrep/pkg/common"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RoutePolicy 一类路由的令牌桶参数
type RoutePolicy struct {
	Name      string
	Match     func(path string) bool
	QPS       float64 // 可以小于1
	Burst     int
	PerClient bool // 按客户端IP分别限流
}

// DefaultRoutePolicies 触发作业最贵，单个客户端每分钟最多6次；其余接口只读schema
func DefaultRoutePolicies() []RoutePolicy {
	return []RoutePolicy{
		{Name: "run", Match: pathContains("/run/"), QPS: 0.1, Burst: 2, PerClient: true},
		{Name: "script", Match: pathContains("/script/"), QPS: 20, Burst: 40},
		{Name: "plan", Match: func(p string) bool { return strings.HasSuffix(p, "/plan") }, QPS: 20, Burst: 40},
	}
}

func pathContains(sub string) func(string) bool {
	return func(p string) bool { return strings.Contains(p, sub) }
}

// 按客户端的桶闲置多久后回收，以及同时保留的上限
const (
	defaultClientIdle = 10 * time.Minute
	defaultMaxClients = 10000
)

// RateLimiter 按路由策略限流，未命中任何策略的请求走default桶
type RateLimiter struct {
	mu         sync.Mutex
	policies   []RoutePolicy
	fallback   RoutePolicy
	shared     map[string]*rate.Limiter // 按策略名
	clients    map[string]*clientBucket // 按 策略|IP
	counts     map[string]*limitCounts
	clientIdle time.Duration
	maxClients int
	lastSweep  time.Time
	now        func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limitCounts struct {
	Allowed int64 `json:"allowed"`
	Blocked int64 `json:"blocked"`
}

// NewRateLimiter 创建限流器，policies为nil时使用默认策略
func NewRateLimiter(policies []RoutePolicy) *RateLimiter {
	if policies == nil {
		policies = DefaultRoutePolicies()
	}
	l := &RateLimiter{
		policies: policies,
		fallback:   RoutePolicy{Name: "default", QPS: 100, Burst: 200},
		shared:     make(map[string]*rate.Limiter),
		clients:    make(map[string]*clientBucket),
		counts:     make(map[string]*limitCounts),
		clientIdle: defaultClientIdle,
		maxClients: defaultMaxClients,
		now:        time.Now,
	}
	for _, p := range policies {
		l.counts[p.Name] = &limitCounts{}
	}
	l.counts[l.fallback.Name] = &limitCounts{}
	return l
}

// policyFor 第一条匹配的策略
func (l *RateLimiter) policyFor(path string) RoutePolicy {
	for _, p := range l.policies {
		if p.Match != nil && p.Match(path) {
			return p
		}
	}
	return l.fallback
}

// Allow 判断请求是否放行并计数，返回命中的策略名
func (l *RateLimiter) Allow(path, client string) (bool, string) {
	p := l.policyFor(path)

	l.mu.Lock()
	defer l.mu.Unlock()

	var limiter *rate.Limiter
	if p.PerClient {
		limiter = l.clientLimiter(p, client)
	} else {
		limiter = l.shared[p.Name]
		if limiter == nil {
			limiter = rate.NewLimiter(rate.Limit(p.QPS), p.Burst)
			l.shared[p.Name] = limiter
		}
	}
	allowed := limiter.Allow()
	if allowed {
		l.counts[p.Name].Allowed++
	} else {
		l.counts[p.Name].Blocked++
	}
	return allowed, p.Name
}

// clientLimiter 取客户端的桶；定期回收闲置的桶，超过上限时淘汰最久未见的
func (l *RateLimiter) clientLimiter(p RoutePolicy, client string) *rate.Limiter {
	now := l.now()
	key := p.Name + "|" + client
	if b, ok := l.clients[key]; ok {
		b.lastSeen = now
		return b.limiter
	}

	if now.Sub(l.lastSweep) >= l.clientIdle || len(l.clients) >= l.maxClients {
		l.sweep(now)
	}
	if len(l.clients) >= l.maxClients {
		l.evictOldest()
	}

	b := &clientBucket{limiter: rate.NewLimiter(rate.Limit(p.QPS), p.Burst), lastSeen: now}
	l.clients[key] = b
	return b.limiter
}

func (l *RateLimiter) sweep(now time.Time) {
	for key, b := range l.clients {
		if now.Sub(b.lastSeen) >= l.clientIdle {
			delete(l.clients, key)
		}
	}
	l.lastSweep = now
}

func (l *RateLimiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, b := range l.clients {
		if oldestKey == "" || b.lastSeen.Before(oldest) {
			oldestKey, oldest = key, b.lastSeen
		}
	}
	delete(l.clients, oldestKey)
}

// Stats 各策略的放行/拒绝次数
func (l *RateLimiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]interface{}, len(l.counts))
	for name, c := range l.counts {
		out[name] = *c
	}
	return out
}

// RateLimitMiddleware 限流中间件
func RateLimitMiddleware(l *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ok, policy := l.Allow(c.Request.URL.Path, c.ClientIP()); !ok {
			c.JSON(http.StatusTooManyRequests,
				common.NewErrorResponse(429, "Too Many Requests - "+policy+" rate limit exceeded"))
			c.Abort()
			return
		}
		c.Next()
	}
}
