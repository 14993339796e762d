package main

import (
	"strconv"
	"sync"
	"time"

	"gemini-relay/core"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

// corsMiddleware CORS中间件（前端部署在其它域名下）
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept, Accept-Encoding, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", requestIDHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware 透传或生成请求 ID
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString("request_id")
}

// requestLoggerMiddleware 访问日志，不记录请求体（可能包含对话内容和附件）
func requestLoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		statusCode := c.Writer.Status()
		fields := logrus.Fields{
			"request_id":  requestID(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      statusCode,
			"latency_ms":  time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
			"content_len": c.Request.ContentLength,
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		entry := log.WithFields(fields)
		switch {
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Debug("Request processed")
		}
	}
}

// metricsMiddleware 记录 HTTP 请求数和耗时，path 使用路由模板避免标签爆炸
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		class := strconv.Itoa(c.Writer.Status()/100) + "xx"
		core.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, class).Inc()
		core.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, class).Observe(time.Since(start).Seconds())
	}
}

// client 包装限流器及其最后访问时间
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter 按 IP 限流，不活跃的 IP 定期清理
type IPRateLimiter struct {
	clients map[string]*client
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	stop    chan struct{}
	once    sync.Once
}

func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	i := &IPRateLimiter{
		clients: make(map[string]*client),
		rate:    r,
		burst:   b,
		stop:    make(chan struct{}),
	}
	go i.cleanupClients(time.Minute, 3*time.Minute)
	return i
}

// GetLimiter 获取或创建 IP 对应的限流器，并更新访问时间
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	c, exists := i.clients[ip]
	if !exists {
		c = &client{limiter: rate.NewLimiter(i.rate, i.burst)}
		i.clients[ip] = c
	}

	c.lastSeen = time.Now()
	return c.limiter
}

func (i *IPRateLimiter) cleanupClients(every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-i.stop:
			return
		case <-ticker.C:
			i.mu.Lock()
			for ip, c := range i.clients {
				if time.Since(c.lastSeen) > idle {
					delete(i.clients, ip)
				}
			}
			i.mu.Unlock()
		}
	}
}

// Stop 停止后台清理
func (i *IPRateLimiter) Stop() {
	i.once.Do(func() { close(i.stop) })
}

// rateLimitMiddleware limiter 为 nil 时不限流
func rateLimitMiddleware(limiter *IPRateLimiter, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		clientIP := c.ClientIP()
		if !limiter.GetLimiter(clientIP).Allow() {
			log.WithField("client_ip", clientIP).Warn("Rate limit exceeded")
			c.AbortWithStatusJSON(429, gin.H{"error": "Too Many Requests"})
			return
		}
		c.Next()
	}
}
