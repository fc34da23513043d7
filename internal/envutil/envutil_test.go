package envutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	t.Run("exact key", func(t *testing.T) {
		t.Setenv("WB_TEST_EXACT", "a")
		assert.Equal(t, "a", Get("WB_TEST_EXACT", "fallback"))
	})

	t.Run("prefixed key", func(t *testing.T) {
		t.Setenv("LIVEBOARD_WB_TEST_PREFIXED", "b")
		assert.Equal(t, "b", Get("WB_TEST_PREFIXED", "fallback"))
	})

	t.Run("exact wins over prefixed", func(t *testing.T) {
		t.Setenv("WB_TEST_BOTH", "exact")
		t.Setenv("LIVEBOARD_WB_TEST_BOTH", "prefixed")
		assert.Equal(t, "exact", Get("WB_TEST_BOTH", "fallback"))
	})

	t.Run("fallback", func(t *testing.T) {
		assert.Equal(t, "fallback", Get("WB_TEST_MISSING", "fallback"))
	})

	t.Run("empty value counts as set", func(t *testing.T) {
		t.Setenv("WB_TEST_EMPTY", "")
		v, ok := Lookup("WB_TEST_EMPTY")
		assert.True(t, ok)
		assert.Equal(t, "", v)
	})
}
