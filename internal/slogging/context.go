package slogging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation id between client, gateway and server.
const RequestIDHeader = "X-Request-ID"

// GinContextLike is the subset of *gin.Context the request logger needs.
type GinContextLike interface {
	Get(key any) (any, bool)
	GetHeader(key string) string
	ClientIP() string
}

// ContextLogger is a Logger bound to one HTTP request.
type ContextLogger struct {
	*Logger
	ctx       context.Context
	requestID string
}

// WithContext binds request id, client address and user to the logger. A
// request id is generated when the caller did not send one.
func (l *Logger) WithContext(c GinContextLike) *ContextLogger {
	requestID := c.GetHeader(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
		if setter, ok := c.(interface{ Header(string, string) }); ok {
			setter.Header(RequestIDHeader, requestID)
		}
	}
	userID := ""
	if v, ok := c.Get("userID"); ok && v != nil {
		userID = fmt.Sprintf("%v", v)
	}

	ctx := context.Background()
	if gc, ok := c.(*gin.Context); ok && gc.Request != nil {
		ctx = gc.Request.Context()
	}

	return &ContextLogger{
		Logger: l.With(
			slog.String("request_id", requestID),
			slog.String("client_ip", c.ClientIP()),
			slog.String("user_id", userID),
		),
		ctx:       ctx,
		requestID: requestID,
	}
}

// RequestID returns the correlation id bound to this logger.
func (cl *ContextLogger) RequestID() string { return cl.requestID }

func (cl *ContextLogger) DebugCtx(msg string, attrs ...slog.Attr) {
	cl.Logger.DebugCtx(cl.ctx, msg, attrs...)
}

func (cl *ContextLogger) InfoCtx(msg string, attrs ...slog.Attr) {
	cl.Logger.InfoCtx(cl.ctx, msg, attrs...)
}

func (cl *ContextLogger) WarnCtx(msg string, attrs ...slog.Attr) {
	cl.Logger.WarnCtx(cl.ctx, msg, attrs...)
}

func (cl *ContextLogger) ErrorCtx(msg string, attrs ...slog.Attr) {
	cl.Logger.ErrorCtx(cl.ctx, msg, attrs...)
}

// FromGin returns the request logger stored by LoggerMiddleware, or a fresh
// one bound to c.
func FromGin(c GinContextLike) *ContextLogger {
	if v, ok := c.Get(contextLoggerKey); ok {
		if cl, ok := v.(*ContextLogger); ok {
			return cl
		}
	}
	return Get().WithContext(c)
}
