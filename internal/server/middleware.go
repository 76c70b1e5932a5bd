package server

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kratos/kratos/v2/log"
)

// LoggingMiddleware 结构化日志中间件
func LoggingMiddleware(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		_ = log.WithContext(c.Request.Context(), logger).Log(
			log.LevelInfo,
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", latency.String(),
			"ip", c.ClientIP(),
		)

		if len(c.Errors) > 0 {
			for _, e := range c.Errors {
				_ = log.WithContext(c.Request.Context(), logger).Log(
					log.LevelError,
					"error", e.Error(),
					"path", path,
				)
			}
		}
	}
}

// RecoveryMiddleware 恢复中间件
func RecoveryMiddleware(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				_ = log.WithContext(c.Request.Context(), logger).Log(
					log.LevelError,
					"panic", fmt.Sprintf("%v", err),
					"path", c.Request.URL.Path,
				)
				c.JSON(500, gin.H{"code": 500, "message": "internal server error"})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
