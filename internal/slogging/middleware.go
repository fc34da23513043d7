package slogging

import (
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

const contextLoggerKey = "logger"

// LoggerMiddleware logs one record per request. Upgrade URLs are logged with
// their token parameter masked.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := Get().WithContext(c)
		c.Set(contextLoggerKey, logger)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", RedactURL(c.Request.URL.RequestURI())),
			slog.Int("status_code", status),
			slog.Duration("duration", time.Since(start)),
			slog.Int("response_size", c.Writer.Size()),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.ErrorCtx("Request completed with server error", attrs...)
		case status >= http.StatusBadRequest:
			logger.WarnCtx("Request completed with client error", attrs...)
		default:
			logger.InfoCtx("Request completed", attrs...)
		}
	}
}

// Recoverer turns a handler panic into a 500 and logs the stack.
func Recoverer() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				FromGin(c).ErrorCtx("Panic recovered",
					slog.Any("panic_value", r),
					slog.String("stack_trace", string(buf[:n])),
					slog.String("method", c.Request.Method),
					slog.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "server_error",
					"message": "internal server error",
				})
			}
		}()
		c.Next()
	}
}
