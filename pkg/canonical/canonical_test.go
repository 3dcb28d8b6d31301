package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	out, err := Marshal(map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(out))
}

func TestHashDeterministic(t *testing.T) {
	type doc struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}
	h1, err := Hash(doc{Name: "x", Score: 5})
	require.NoError(t, err)
	h2, err := Hash(doc{Name: "x", Score: 5})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Contains(t, h1, "sha256:")
}

func TestHashDiffersOnContent(t *testing.T) {
	h1, err := Hash(map[string]string{"k": "v1"})
	require.NoError(t, err)
	h2, err := Hash(map[string]string{"k": "v2"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
