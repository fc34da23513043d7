package slogging

import (
	"context"
	"encoding/json"
	"log/slog"
)

// WebSocketLoggingConfig controls per-frame debug logging.
type WebSocketLoggingConfig struct {
	Enabled bool
	// MaxMessageSize skips the body of larger frames; only their size is logged.
	MaxMessageSize int
}

// WSMessageDirection is relative to the server.
type WSMessageDirection string

const (
	WSMessageInbound  WSMessageDirection = "INBOUND"
	WSMessageOutbound WSMessageDirection = "OUTBOUND"
)

// LogWebSocketMessage writes one debug record for a socket frame. Frame
// payloads go through the redaction rules, so tokens and canvas blobs
// embedded in them never reach the log.
func LogWebSocketMessage(direction WSMessageDirection, sessionID, userID, frameType string, data []byte, config WebSocketLoggingConfig) {
	if !config.Enabled {
		return
	}
	logger := Get()
	if logger.level > LogLevelDebug {
		return
	}

	attrs := []slog.Attr{
		slog.String("direction", string(direction)),
		slog.String("session_id", sessionID),
		slog.String("user_id", userID),
		slog.String("frame_type", frameType),
		slog.Int("size_bytes", len(data)),
	}
	if config.MaxMessageSize > 0 && len(data) > config.MaxMessageSize {
		attrs = append(attrs, slog.Bool("truncated", true))
		logger.DebugCtx(context.Background(), "WebSocket frame", attrs...)
		return
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err == nil {
		attrs = append(attrs, slog.Attr{Key: "frame", Value: jsonGroup(body)})
	} else {
		attrs = append(attrs, slog.String("frame_raw", SanitizeLogMessage(string(data))))
	}
	logger.DebugCtx(context.Background(), "WebSocket frame", attrs...)
}

// jsonGroup converts decoded JSON into nested slog groups so the redaction
// handler sees every key.
func jsonGroup(m map[string]any) slog.Value {
	attrs := make([]slog.Attr, 0, len(m))
	for k, v := range m {
		if inner, ok := v.(map[string]any); ok {
			attrs = append(attrs, slog.Attr{Key: k, Value: jsonGroup(inner)})
			continue
		}
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}
