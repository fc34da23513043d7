package whiteboard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocol_Parse(t *testing.T) {
	p := NewProtocol(64)

	valid := []struct {
		name  string
		frame string
		typ   string
	}{
		{"draw minimal", `{"type":"draw","payload":{"x":10,"y":20,"color":"#000000","size":2}}`, FrameDraw},
		{"draw short color and tool", `{"type":"draw","payload":{"x":0,"y":100000,"color":"#fA0","size":200,"tool":"highlighter"}}`, FrameDraw},
		{"draw with points", `{"type":"draw","payload":{"x":1,"y":1,"color":"#123456","size":1,"points":[{"x":1,"y":2},{"x":3,"y":4}],"stroke_id":"s1"}}`, FrameDraw},
		{"cursor", `{"type":"cursor-move","payload":{"x":5.5,"y":7}}`, FrameCursorMove},
		{"clear without payload", `{"type":"clear"}`, FrameClear},
		{"clear with empty object", `{"type":"clear","payload":{}}`, FrameClear},
		{"clear with null", `{"type":"clear","payload":null}`, FrameClear},
		{"snapshot request", `{"type":"snapshot-request","payload":{"payload":{"objects":[]},"name":"end of lesson"}}`, FrameSnapshotRequest},
	}
	for _, tt := range valid {
		t.Run(tt.name, func(t *testing.T) {
			in, err := p.Parse([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.typ, in.Type)
			assert.Equal(t, tt.typ != FrameSnapshotRequest, in.Broadcast())
		})
	}

	invalid := []struct {
		name  string
		frame string
	}{
		{"not json", `{"type":`},
		{"unknown type", `{"type":"erase-all","payload":{}}`},
		{"server only type", `{"type":"session-ended","payload":{}}`},
		{"draw missing x", `{"type":"draw","payload":{"y":20,"color":"#000000","size":2}}`},
		{"draw x out of range", `{"type":"draw","payload":{"x":100001,"y":20,"color":"#000000","size":2}}`},
		{"draw negative y", `{"type":"draw","payload":{"x":1,"y":-1,"color":"#000000","size":2}}`},
		{"draw bad color", `{"type":"draw","payload":{"x":1,"y":1,"color":"black","size":2}}`},
		{"draw four digit color", `{"type":"draw","payload":{"x":1,"y":1,"color":"#0000","size":2}}`},
		{"draw size zero", `{"type":"draw","payload":{"x":1,"y":1,"color":"#000","size":0}}`},
		{"draw unknown tool", `{"type":"draw","payload":{"x":1,"y":1,"color":"#000","size":2,"tool":"spray"}}`},
		{"draw string coordinate", `{"type":"draw","payload":{"x":"1","y":1,"color":"#000","size":2}}`},
		{"draw bad point", `{"type":"draw","payload":{"x":1,"y":1,"color":"#000","size":2,"points":[{"x":1}]}}`},
		{"draw null payload", `{"type":"draw","payload":null}`},
		{"cursor missing y", `{"type":"cursor-move","payload":{"x":1}}`},
		{"clear with fields", `{"type":"clear","payload":{"all":true}}`},
		{"clear with array", `{"type":"clear","payload":[]}`},
		{"snapshot without payload", `{"type":"snapshot-request","payload":{"name":"x"}}`},
		{"snapshot null payload", `{"type":"snapshot-request","payload":{"payload":null}}`},
		{"snapshot too large", `{"type":"snapshot-request","payload":{"payload":"` + strings.Repeat("x", 80) + `"}}`},
		{"snapshot long name", `{"type":"snapshot-request","payload":{"payload":{},"name":"` + strings.Repeat("n", 201) + `"}}`},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse([]byte(tt.frame))
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestProtocol_DrawPayloadForwardedVerbatim(t *testing.T) {
	p := NewProtocol(0)
	in, err := p.Parse([]byte(`{"type":"draw","payload":{"x":10,"y":20,"color":"#000000","size":2}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":10,"y":20,"color":"#000000","size":2}`, string(in.Payload))
}

func TestProtocol_TooManyPoints(t *testing.T) {
	p := NewProtocol(0)
	var b strings.Builder
	b.WriteString(`{"type":"draw","payload":{"x":1,"y":1,"color":"#000","size":2,"points":[`)
	for i := 0; i < 2001; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"x":1,"y":1}`)
	}
	b.WriteString(`]}}`)

	_, err := p.Parse([]byte(b.String()))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}
