package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// limiterIdleTTL 之后未访问的 IP 令牌桶会被清理
	limiterIdleTTL = 10 * time.Minute
	// maxLimiters 限制同时跟踪的 IP 数
	maxLimiters = 10000
)

// LocalRateLimit 单实例、按客户端 IP 的令牌桶，保护管理接口；
// 未配置 Redis 时也能工作。
func LocalRateLimit(perSec float64, burst int) gin.HandlerFunc {
	set := newIPLimiters(perSec, burst, limiterIdleTTL, maxLimiters, time.Now)

	return func(c *gin.Context) {
		if !set.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": http.StatusTooManyRequests,
				"msg":  "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ipLimiters 按 IP 保存令牌桶。闲置超过 idleTTL 的条目在下一次清扫时删除，
// 条目数达到上限时淘汰最久未访问的一个。
type ipLimiters struct {
	mu         sync.Mutex
	entries    map[string]*ipLimiter
	perSec     rate.Limit
	burst      int
	idleTTL    time.Duration
	maxEntries int
	lastSweep  time.Time
	now        func() time.Time
}

func newIPLimiters(perSec float64, burst int, idleTTL time.Duration, maxEntries int, now func() time.Time) *ipLimiters {
	// 闲置时间至少要够桶重新装满，否则清理会变相重置限流
	if perSec > 0 {
		if refill := time.Duration(float64(burst) / perSec * float64(time.Second)); refill > idleTTL {
			idleTTL = refill
		}
	}
	return &ipLimiters{
		entries:    make(map[string]*ipLimiter),
		perSec:     rate.Limit(perSec),
		burst:      burst,
		idleTTL:    idleTTL,
		maxEntries: maxEntries,
		lastSweep:  now(),
		now:        now,
	}
}

func (s *ipLimiters) allow(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= s.idleTTL {
		s.sweep(now)
	}
	e, ok := s.entries[ip]
	if !ok {
		if len(s.entries) >= s.maxEntries {
			s.evictOldest()
		}
		e = &ipLimiter{lim: rate.NewLimiter(s.perSec, s.burst)}
		s.entries[ip] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

func (s *ipLimiters) sweep(now time.Time) {
	for ip, e := range s.entries {
		if now.Sub(e.lastSeen) >= s.idleTTL {
			delete(s.entries, ip)
		}
	}
	s.lastSweep = now
}

func (s *ipLimiters) evictOldest() {
	var oldestIP string
	var oldest time.Time
	for ip, e := range s.entries {
		if oldestIP == "" || e.lastSeen.Before(oldest) {
			oldestIP, oldest = ip, e.lastSeen
		}
	}
	delete(s.entries, oldestIP)
}
