package whiteboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"runtime/debug"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/liveboard/liveboard/internal/slogging"
)

const rgbColorTag = "rgbcolor"

var rgbColorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Inbound is a validated client frame.
type Inbound struct {
	Type string
	// Payload is the client's payload, forwarded verbatim for broadcast kinds.
	Payload json.RawMessage
	// Snapshot is set for snapshot-request frames.
	Snapshot *SnapshotRequestPayload
}

// Broadcast reports whether the frame is fanned out without persistence.
func (in Inbound) Broadcast() bool {
	return in.Type != FrameSnapshotRequest
}

// FrameHandler validates one inbound frame type.
type FrameHandler interface {
	FrameType() string
	Handle(p *Protocol, payload json.RawMessage) (Inbound, error)
}

// Protocol routes inbound frames to their handler and validates them.
type Protocol struct {
	validate        *validator.Validate
	handlers        map[string]FrameHandler
	maxSnapshotSize int
}

// NewProtocol creates a protocol with the four client frame handlers.
// maxSnapshotSize bounds snapshot-request payloads.
func NewProtocol(maxSnapshotSize int) *Protocol {
	if maxSnapshotSize <= 0 {
		maxSnapshotSize = DefaultMaxSnapshotBytes
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation(rgbColorTag, func(fl validator.FieldLevel) bool {
		return rgbColorPattern.MatchString(fl.Field().String())
	})

	p := &Protocol{
		validate:        v,
		handlers:        make(map[string]FrameHandler),
		maxSnapshotSize: maxSnapshotSize,
	}
	p.RegisterHandler(drawHandler{})
	p.RegisterHandler(cursorHandler{})
	p.RegisterHandler(clearHandler{})
	p.RegisterHandler(snapshotRequestHandler{})
	return p
}

// RegisterHandler adds or replaces the handler for its frame type.
func (p *Protocol) RegisterHandler(h FrameHandler) {
	p.handlers[h.FrameType()] = h
}

// Parse decodes and validates a raw client frame. Every failure wraps
// ErrMalformedMessage.
func (p *Protocol) Parse(data []byte) (in Inbound, err error) {
	defer func() {
		if r := recover(); r != nil {
			slogging.Get().Error("PANIC in Protocol.Parse: %v, Stack: %s", r, debug.Stack())
			in, err = Inbound{}, fmt.Errorf("handler panic: %w", ErrMalformedMessage)
		}
	}()

	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Inbound{}, fmt.Errorf("invalid JSON: %w", ErrMalformedMessage)
	}
	h, ok := p.handlers[frame.Type]
	if !ok {
		return Inbound{}, fmt.Errorf("unsupported frame type %q: %w", frame.Type, ErrMalformedMessage)
	}
	return h.Handle(p, frame.Payload)
}

// decode unmarshals payload into dst and runs struct validation.
func (p *Protocol) decode(payload json.RawMessage, dst any) error {
	if isNull(payload) {
		return fmt.Errorf("payload is required: %w", ErrMalformedMessage)
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("invalid payload: %w", ErrMalformedMessage)
	}
	if err := p.validate.Struct(dst); err != nil {
		return fmt.Errorf("%s: %w", describeValidation(err), ErrMalformedMessage)
	}
	return nil
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace()+" failed "+fe.Tag())
	}
	return strings.Join(fields, "; ")
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

type drawHandler struct{}

func (drawHandler) FrameType() string { return FrameDraw }

func (drawHandler) Handle(p *Protocol, payload json.RawMessage) (Inbound, error) {
	var d DrawPayload
	if err := p.decode(payload, &d); err != nil {
		return Inbound{}, err
	}
	return Inbound{Type: FrameDraw, Payload: payload}, nil
}

type cursorHandler struct{}

func (cursorHandler) FrameType() string { return FrameCursorMove }

func (cursorHandler) Handle(p *Protocol, payload json.RawMessage) (Inbound, error) {
	var c CursorPayload
	if err := p.decode(payload, &c); err != nil {
		return Inbound{}, err
	}
	return Inbound{Type: FrameCursorMove, Payload: payload}, nil
}

type clearHandler struct{}

func (clearHandler) FrameType() string { return FrameClear }

// Handle accepts a missing, null or empty-object payload only.
func (clearHandler) Handle(_ *Protocol, payload json.RawMessage) (Inbound, error) {
	if !isNull(payload) {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(payload, &fields); err != nil || len(fields) != 0 {
			return Inbound{}, fmt.Errorf("clear takes no payload: %w", ErrMalformedMessage)
		}
	}
	return Inbound{Type: FrameClear, Payload: json.RawMessage(`{}`)}, nil
}

type snapshotRequestHandler struct{}

func (snapshotRequestHandler) FrameType() string { return FrameSnapshotRequest }

func (snapshotRequestHandler) Handle(p *Protocol, payload json.RawMessage) (Inbound, error) {
	var req SnapshotRequestPayload
	if err := p.decode(payload, &req); err != nil {
		return Inbound{}, err
	}
	if isNull(req.Payload) {
		return Inbound{}, fmt.Errorf("snapshot payload is required: %w", ErrMalformedMessage)
	}
	if len(req.Payload) > p.maxSnapshotSize {
		return Inbound{}, fmt.Errorf("snapshot payload of %d bytes exceeds %d: %w", len(req.Payload), p.maxSnapshotSize, ErrMalformedMessage)
	}
	return Inbound{Type: FrameSnapshotRequest, Snapshot: &req}, nil
}
