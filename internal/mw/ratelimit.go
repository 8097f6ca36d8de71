package mw

import (
	"net"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc 决定请求落入哪个令牌桶，返回空串表示不限速。
type KeyFunc func(c *gin.Context) string

// ByIP 以客户端 IP 和路由模板分桶。
func ByIP(c *gin.Context) string {
	return clientIP(c.Request.RemoteAddr) + "|" + route(c)
}

// ByUser 以认证后的用户和路由模板分桶，未认证时退回 IP。
func ByUser(c *gin.Context) string {
	if id := c.GetString("userID"); id != "" {
		return "u:" + id + "|" + route(c)
	}
	return ByIP(c)
}

func route(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter 维护按 key 分配的令牌桶，闲置超过 ttl 的桶会被回收。
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	r       rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

func NewLimiter(r rate.Limit, burst int, ttl time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		r:       r,
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// Allow 消耗 key 对应桶中的一个令牌。
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.r, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Sweep 删除闲置超过 ttl 的桶，返回剩余数量。
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.ttl {
			delete(l.buckets, k)
		}
	}
	return len(l.buckets)
}

func (l *Limiter) run(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Stop 停止回收 goroutine，可重复调用。
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// RateLimit 返回令牌桶限速中间件，超限时返回 429 并带 Retry-After。
func RateLimit(r rate.Limit, burst int, key KeyFunc) gin.HandlerFunc {
	l := NewLimiter(r, burst, 2*time.Minute)
	go l.run(30 * time.Second)
	return Limit(l, key)
}

// Limit 用给定的 Limiter 构造中间件，便于测试注入时钟。
func Limit(l *Limiter, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		k := key(c)
		if k == "" || l.Allow(k) {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(429, gin.H{"error": "too many requests"})
	}
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
