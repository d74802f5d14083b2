package canonicalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_SortsKeysRecursively(t *testing.T) {
	input := map[string]any{
		"z": map[string]any{"y": "foo", "x": "bar"},
		"a": 1,
	}

	b, err := JCS(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"z":{"x":"bar","y":"foo"}}`, string(b))
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	b, err := JCS(map[string]string{"html": "<b>a & b</b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<b>a & b</b>"}`, string(b))
}

func TestJCS_RawMessageIsCanonicalized(t *testing.T) {
	b, err := JCS(json.RawMessage(`{ "b": 2, "a": [1, 2.50] }`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1,2.5],"b":2}`, string(b))
}

func TestJCS_StructTags(t *testing.T) {
	type event struct {
		Action   string `json:"action"`
		PrevHash string `json:"prevHash"`
	}
	b, err := JCS(event{Action: "PROMPT_SUBMITTED"})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"PROMPT_SUBMITTED","prevHash":""}`, string(b))
}

func TestCanonicalHash_OrderIndependent(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)
	h2, err := CanonicalHash(json.RawMessage(`{"b":"x","a":1}`))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashString(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashString(""))
}
