package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// 空闲条目保留时间，必须大于登录限流的15分钟窗口，
	// 否则窗口内的计数会被提前清掉
	limiterIdleTTL = 30 * time.Minute
	// 清理周期
	limiterSweepPeriod = 5 * time.Minute
)

// ipLimiterEntry 单个IP的令牌桶和最近访问时间
type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter 按客户端IP维护令牌桶，长时间不活跃的IP会被定期清理
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiterEntry
	limit    rate.Limit
	burst    int
	message  string
}

// NewIPRateLimiter 创建按IP限流器
func NewIPRateLimiter(limit rate.Limit, burst int, message string) *IPRateLimiter {
	l := &IPRateLimiter{
		limiters: make(map[string]*ipLimiterEntry),
		limit:    limit,
		burst:    burst,
		message:  message,
	}
	go l.sweep()
	return l
}

func (l *IPRateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// sweep 定期清理空闲IP，防止伪造源IP的扫描撑爆内存
func (l *IPRateLimiter) sweep() {
	ticker := time.NewTicker(limiterSweepPeriod)
	defer ticker.Stop()

	for range ticker.C {
		l.removeIdle(time.Now().Add(-limiterIdleTTL))
	}
}

// removeIdle 删除在before之前最后一次出现的IP条目
func (l *IPRateLimiter) removeIdle(before time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(before) {
			delete(l.limiters, ip)
		}
	}
}

// Middleware 返回gin中间件，超限时响应429
func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.limiterFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false, "message": l.message,
			})
			return
		}
		c.Next()
	}
}

// NewVoteLimiter 投票接口限流：每IP每秒rps个请求，突发burst
func NewVoteLimiter(rps, burst int) *IPRateLimiter {
	return NewIPRateLimiter(rate.Limit(rps), burst, "请求过于频繁，请稍后再试")
}

// NewLoginLimiter 登录接口限流：每IP在window窗口内最多attempts次尝试
func NewLoginLimiter(attempts int, window time.Duration) *IPRateLimiter {
	perSecond := rate.Limit(float64(attempts) / window.Seconds())
	return NewIPRateLimiter(perSecond, attempts, "登录尝试次数过多，请15分钟后再试")
}
