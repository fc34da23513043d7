package slogging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// RedactionAction says what happens to an attribute whose key matches a rule.
type RedactionAction string

const (
	RedactionOmit      RedactionAction = "omit"
	RedactionObfuscate RedactionAction = "obfuscate"
	RedactionPartial   RedactionAction = "partial"
)

// RedactionRule matches attribute keys against FieldPattern.
type RedactionRule struct {
	FieldPattern string          `yaml:"field_pattern"`
	Action       RedactionAction `yaml:"action"`

	compiled *regexp.Regexp
}

// RedactionConfig is the ordered rule list. The first matching rule wins.
type RedactionConfig struct {
	Enabled bool            `yaml:"enabled"`
	Rules   []RedactionRule `yaml:"rules"`
}

// DefaultRedactionConfig hides credentials and canvas payloads.
func DefaultRedactionConfig() RedactionConfig {
	return RedactionConfig{
		Enabled: true,
		Rules: []RedactionRule{
			{FieldPattern: `(?i)^(authorization|bearer|token|jwt|access_token)$`, Action: RedactionPartial},
			{FieldPattern: `(?i)(password|secret|private_key|signing_key)`, Action: RedactionOmit},
			{FieldPattern: `(?i)^(cookie|set-cookie)$`, Action: RedactionPartial},
			// Canvas blobs can be up to a megabyte.
			{FieldPattern: `(?i)^(canvas|snapshot_payload)$`, Action: RedactionOmit},
		},
	}
}

func (rc *RedactionConfig) compile() error {
	for i := range rc.Rules {
		re, err := regexp.Compile(rc.Rules[i].FieldPattern)
		if err != nil {
			return fmt.Errorf("failed to compile redaction pattern %q: %w", rc.Rules[i].FieldPattern, err)
		}
		rc.Rules[i].compiled = re
	}
	return nil
}

func (rc *RedactionConfig) match(key string) *RedactionRule {
	for i := range rc.Rules {
		if rc.Rules[i].compiled != nil && rc.Rules[i].compiled.MatchString(key) {
			return &rc.Rules[i]
		}
	}
	return nil
}

// partialRedactValue keeps enough of a credential to correlate log lines.
func partialRedactValue(value string) string {
	if value == "" {
		return value
	}
	if len(value) <= 12 {
		return "[REDACTED]"
	}
	if strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return value[:7] + partialRedactValue(value[7:])
	}
	if parts := strings.Split(value, "."); len(parts) == 3 && strings.HasPrefix(value, "eyJ") {
		head, sig := parts[0], parts[2]
		if len(head) > 8 {
			head = head[:8] + "..."
		}
		if len(sig) > 4 {
			sig = "..." + sig[len(sig)-4:]
		}
		return head + ".REDACTED." + sig
	}
	start, end := 6, 4
	if len(value) < 20 {
		start, end = 3, 2
	}
	return value[:start] + "...REDACTED..." + value[len(value)-end:]
}

type redactionHandler struct {
	handler slog.Handler
	config  RedactionConfig
}

// NewRedactionHandler wraps handler so that attributes matching config are
// rewritten or dropped before they are written.
func NewRedactionHandler(handler slog.Handler, config RedactionConfig) (slog.Handler, error) {
	if err := config.compile(); err != nil {
		return nil, err
	}
	return &redactionHandler{handler: handler, config: config}, nil
}

func (h *redactionHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *redactionHandler) Handle(ctx context.Context, record slog.Record) error {
	if !h.config.Enabled {
		return h.handler.Handle(ctx, record)
	}
	out := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(a slog.Attr) bool {
		if ra, keep := h.redact(a); keep {
			out.AddAttrs(ra)
		}
		return true
	})
	return h.handler.Handle(ctx, out)
}

func (h *redactionHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	kept := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		if ra, keep := h.redact(a); keep {
			kept = append(kept, ra)
		}
	}
	return &redactionHandler{handler: h.handler.WithAttrs(kept), config: h.config}
}

func (h *redactionHandler) WithGroup(name string) slog.Handler {
	return &redactionHandler{handler: h.handler.WithGroup(name), config: h.config}
}

func (h *redactionHandler) redact(a slog.Attr) (slog.Attr, bool) {
	if !h.config.Enabled {
		return a, true
	}
	rule := h.config.match(a.Key)
	if rule == nil {
		if a.Value.Kind() != slog.KindGroup {
			return a, true
		}
		inner := a.Value.Group()
		kept := make([]slog.Attr, 0, len(inner))
		for _, ia := range inner {
			if ra, keep := h.redact(ia); keep {
				kept = append(kept, ra)
			}
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(kept...)}, true
	}
	switch rule.Action {
	case RedactionOmit:
		return slog.Attr{}, false
	case RedactionObfuscate:
		return slog.String(a.Key, "[REDACTED]"), true
	case RedactionPartial:
		return slog.String(a.Key, partialRedactValue(a.Value.String())), true
	}
	return a, true
}

// SanitizeLogMessage flattens control whitespace so user-supplied text cannot
// forge extra log lines.
func SanitizeLogMessage(message string) string {
	message = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ").Replace(message)
	return strings.Join(strings.Fields(message), " ")
}

var queryTokenPattern = regexp.MustCompile(`(?i)([?&](?:token|access_token)=)[^&\s]+`)

// RedactURL masks token query parameters, as carried by socket upgrade URLs.
func RedactURL(raw string) string {
	return queryTokenPattern.ReplaceAllString(raw, "${1}[REDACTED]")
}
