package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	t.Run("should ignore key order at every depth", func(t *testing.T) {
		a := map[string]any{"given_name": "Ana", "address": map[string]any{"city": "Lisbon", "country": "PT"}}
		b := map[string]any{"address": map[string]any{"country": "PT", "city": "Lisbon"}, "given_name": "Ana"}
		assert.Equal(t, Generate(a), Generate(b))
	})

	t.Run("should change with content", func(t *testing.T) {
		a := map[string]any{"email": "ana@example.org"}
		b := map[string]any{"email": "ana@example.com"}
		assert.NotEqual(t, Generate(a), Generate(b))
	})

	t.Run("should keep list order significant", func(t *testing.T) {
		a := map[string]any{"ids": []any{"1", "2"}}
		b := map[string]any{"ids": []any{"2", "1"}}
		assert.NotEqual(t, Generate(a), Generate(b))
	})

	t.Run("should match the fingerprint of the same JSON", func(t *testing.T) {
		fp, err := GenerateFromJSON([]byte(`{"b":1,"a":{"y":true,"x":null}}`))
		require.NoError(t, err)
		assert.Equal(t, Generate(map[string]any{"a": map[string]any{"x": nil, "y": true}, "b": 1.0}), fp)
		assert.Len(t, fp, 64)
	})

	t.Run("should reject invalid JSON", func(t *testing.T) {
		_, err := GenerateFromJSON([]byte(`[`))
		assert.Error(t, err)
	})
}
