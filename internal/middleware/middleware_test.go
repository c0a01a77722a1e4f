package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeClock 可手动推进的时钟
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func newTestBreaker(limit uint32) (*JobBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)}
	b := NewJobBreaker(&JobBreakerConfig{FailureLimit: limit, Cooldown: time.Minute})
	b.now = clock.now
	return b, clock
}

func TestJobBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(2)

	ok, _ := b.Allow("funda")
	assert.True(t, ok)
	b.Record("funda", false)
	assert.Equal(t, BreakerClosed, b.State("funda"))

	b.Record("funda", false)
	assert.Equal(t, BreakerOpen, b.State("funda"))

	ok, wait := b.Allow("funda")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, wait)

	// 其他表不受影响
	ok, _ = b.Allow("fundq")
	assert.True(t, ok)
}

func TestJobBreaker_SuccessResetsStreak(t *testing.T) {
	b, _ := newTestBreaker(2)

	b.Record("fundq", false)
	b.Record("fundq", true)
	b.Record("fundq", false)
	assert.Equal(t, BreakerClosed, b.State("fundq"))
}

func TestJobBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(1)
	b.Record("funda", false)
	require.Equal(t, BreakerOpen, b.State("funda"))

	clock.t = clock.t.Add(2 * time.Minute)
	ok, _ := b.Allow("funda")
	assert.True(t, ok)
	assert.Equal(t, BreakerHalfOpen, b.State("funda"))

	// 探测期间只放行一个作业
	ok, _ = b.Allow("funda")
	assert.False(t, ok)

	// 探测失败重新熔断
	b.Record("funda", false)
	assert.Equal(t, BreakerOpen, b.State("funda"))

	clock.t = clock.t.Add(2 * time.Minute)
	ok, _ = b.Allow("funda")
	require.True(t, ok)
	b.Record("funda", true)
	assert.Equal(t, BreakerClosed, b.State("funda"))

	stats := b.Stats()["funda"].(map[string]interface{})
	assert.Equal(t, 2, stats["trips"])
}

// resolveJob 与流水线一致：类别名和输出表名指向同一个作业
func resolveJob(table string) (string, bool) {
	switch table {
	case "annual", "funda":
		return "annual", true
	case "quarterly", "fundq":
		return "quarterly", true
	}
	return "", false
}

func breakerRouter(b *JobBreaker) *gin.Engine {
	r := gin.New()
	r.POST("/run/:table", JobBreakerMiddleware(b, resolveJob), func(c *gin.Context) {
		job, ok := resolveJob(c.Param("table"))
		switch {
		case !ok:
			c.Status(http.StatusNotFound)
		case job == "annual":
			c.Status(http.StatusBadGateway)
		default:
			c.Status(http.StatusOK)
		}
	})
	return r
}

func TestJobBreakerMiddleware(t *testing.T) {
	b, _ := newTestBreaker(1)
	r := breakerRouter(b)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/run/funda", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)

	// 类别名与表名共用一个熔断器
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/run/annual", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "61", w.Header().Get("Retry-After"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/run/fundq", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJobBreakerMiddleware_UnknownTablesKeepNoState(t *testing.T) {
	b, _ := newTestBreaker(1)
	r := breakerRouter(b)

	for _, table := range []string{"crsp", "funda_x", "fundy"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/run/"+table, nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	}
	assert.Empty(t, b.Stats())
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter([]RoutePolicy{
		{Name: "run", Match: pathContains("/run/"), QPS: 0.001, Burst: 1},
	})

	r := gin.New()
	r.Use(RateLimitMiddleware(limiter))
	r.POST("/fundprep/api/v1/run/:table", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/fundprep/api/v1/run/funda", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/fundprep/api/v1/run/fundq", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// 其他路由走default桶
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	stats := limiter.Stats()
	assert.Equal(t, limitCounts{Allowed: 1, Blocked: 1}, stats["run"])
	assert.Equal(t, limitCounts{Allowed: 1}, stats["default"])
}

func TestRateLimiter_PerClientBuckets(t *testing.T) {
	limiter := NewRateLimiter(nil)

	ok, policy := limiter.Allow("/fundprep/api/v1/run/funda", "10.0.0.1")
	assert.True(t, ok)
	assert.Equal(t, "run", policy)
	ok, _ = limiter.Allow("/fundprep/api/v1/run/funda", "10.0.0.1")
	assert.True(t, ok)
	ok, _ = limiter.Allow("/fundprep/api/v1/run/funda", "10.0.0.1")
	assert.False(t, ok)

	// 另一个客户端有自己的桶
	ok, _ = limiter.Allow("/fundprep/api/v1/run/funda", "10.0.0.2")
	assert.True(t, ok)
}

func TestRateLimiter_ClientBucketsExpire(t *testing.T) {
	limiter := NewRateLimiter(nil)
	now := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	run := "/fundprep/api/v1/run/funda"

	limiter.Allow(run, "10.0.0.1")
	limiter.Allow(run, "10.0.0.2")
	assert.Len(t, limiter.clients, 2)

	// 10.0.0.2 保持活跃，10.0.0.1 闲置超时后被回收
	now = now.Add(6 * time.Minute)
	limiter.Allow(run, "10.0.0.2")
	now = now.Add(6 * time.Minute)
	limiter.Allow(run, "10.0.0.3")

	assert.Len(t, limiter.clients, 2)
	assert.Contains(t, limiter.clients, "run|10.0.0.2")
	assert.Contains(t, limiter.clients, "run|10.0.0.3")
}

func TestRateLimiter_ClientBucketCap(t *testing.T) {
	limiter := NewRateLimiter(nil)
	limiter.maxClients = 2
	now := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	run := "/fundprep/api/v1/run/funda"

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		limiter.Allow(run, ip)
		now = now.Add(time.Second)
	}

	assert.Len(t, limiter.clients, 2)
	assert.NotContains(t, limiter.clients, "run|10.0.0.1")
}

func TestRateLimiter_PolicyMatching(t *testing.T) {
	limiter := NewRateLimiter(nil)
	assert.Equal(t, "run", limiter.policyFor("/fundprep/api/v1/run/funda").Name)
	assert.Equal(t, "script", limiter.policyFor("/fundprep/api/v1/script/fundq").Name)
	assert.Equal(t, "plan", limiter.policyFor("/fundprep/api/v1/plan").Name)
	assert.Equal(t, "default", limiter.policyFor("/fundprep/api/v1/runs").Name)
}
