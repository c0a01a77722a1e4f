package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"FundPrep/pkg/common"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// BreakerState 熔断状态
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // 正常放行
	BreakerOpen                         // 拒绝触发新作业
	BreakerHalfOpen                     // 冷却结束，放行一个探测作业
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// JobBreakerConfig 作业熔断配置
type JobBreakerConfig struct {
	FailureLimit uint32        // 连续失败多少次后熔断
	Cooldown     time.Duration // 熔断后多久允许探测
}

// DefaultJobBreakerConfig SAS失败多为许可证或环境问题，重复触发没有意义
func DefaultJobBreakerConfig() *JobBreakerConfig {
	return &JobBreakerConfig{
		FailureLimit: 3,
		Cooldown:     10 * time.Minute,
	}
}

// tableBreaker 单张表的熔断状态
type tableBreaker struct {
	state     BreakerState
	failures  uint32 // 连续失败次数
	probing   bool   // 半开状态下探测作业是否在执行
	trips     int
	changedAt time.Time
}

// JobBreaker 按作业分别熔断，年度作业失败不影响季度作业
type JobBreaker struct {
	mu     sync.Mutex
	config *JobBreakerConfig
	tables map[string]*tableBreaker
	now    func() time.Time
}

// NewJobBreaker 创建作业熔断器，config为nil时使用默认配置
func NewJobBreaker(config *JobBreakerConfig) *JobBreaker {
	if config == nil {
		config = DefaultJobBreakerConfig()
	}
	if config.FailureLimit == 0 {
		config.FailureLimit = 1
	}
	return &JobBreaker{
		config: config,
		tables: make(map[string]*tableBreaker),
		now:    time.Now,
	}
}

func (b *JobBreaker) table(name string) *tableBreaker {
	t, ok := b.tables[name]
	if !ok {
		t = &tableBreaker{changedAt: b.now()}
		b.tables[name] = t
	}
	return t
}

// Allow 是否允许为该表触发作业；返回false时附带剩余冷却时间
func (b *JobBreaker) Allow(name string) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.table(name)
	switch t.state {
	case BreakerOpen:
		wait := t.changedAt.Add(b.config.Cooldown).Sub(b.now())
		if wait > 0 {
			return false, wait
		}
		b.setState(name, t, BreakerHalfOpen)
		t.probing = true
		return true, 0
	case BreakerHalfOpen:
		if t.probing {
			return false, 0
		}
		t.probing = true
		return true, 0
	}
	return true, 0
}

// Record 记录作业结果
func (b *JobBreaker) Record(name string, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.table(name)
	t.probing = false
	if success {
		t.failures = 0
		if t.state != BreakerClosed {
			b.setState(name, t, BreakerClosed)
		}
		return
	}

	t.failures++
	// 探测失败直接重新熔断
	if t.state == BreakerHalfOpen || t.failures >= b.config.FailureLimit {
		t.trips++
		b.setState(name, t, BreakerOpen)
	}
}

func (b *JobBreaker) setState(name string, t *tableBreaker, state BreakerState) {
	logrus.Infof("[JobBreaker] %s: %s -> %s", name, t.state, state)
	t.state = state
	t.changedAt = b.now()
}

// State 当前状态，未见过的表为CLOSED
func (b *JobBreaker) State(name string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.tables[name]; ok {
		return t.state
	}
	return BreakerClosed
}

// Stats 各表的熔断统计
func (b *JobBreaker) Stats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]interface{}, len(b.tables))
	for name, t := range b.tables {
		out[name] = map[string]interface{}{
			"state":            t.state.String(),
			"consecutive_fail": t.failures,
			"trips":            t.trips,
			"state_changed_at": t.changedAt.Format("2006-01-02 15:04:05"),
		}
	}
	return out
}

// JobResolver 把路由参数解析为作业名，未知的表返回false
type JobResolver func(table string) (string, bool)

// JobBreakerMiddleware 按作业熔断，5xx视为作业失败
// 未知的表不建熔断状态，直接交给handler返回404
func JobBreakerMiddleware(b *JobBreaker, resolve JobResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, known := resolve(c.Param("table"))
		if !known {
			c.Next()
			return
		}

		ok, wait := b.Allow(name)
		if !ok {
			logrus.Warnf("[JobBreaker] run of %s rejected", name)
			if wait > 0 {
				c.Header("Retry-After", fmt.Sprintf("%d", int(wait.Seconds())+1))
			}
			c.JSON(http.StatusServiceUnavailable,
				common.NewErrorResponse(503, fmt.Sprintf("%s jobs are suspended after repeated failures", name)))
			c.Abort()
			return
		}

		c.Next()

		b.Record(name, c.Writer.Status() < http.StatusInternalServerError)
	}
}
