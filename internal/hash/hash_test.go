package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashStableAcrossWhitespaceAndKeyOrder(t *testing.T) {
	t.Parallel()

	h := New()

	a, err := h.Hash([]byte(`{"name":"Arsenal","founded":1886}`))
	require.NoError(t, err)

	b, err := h.Hash([]byte("  {\n  \"founded\": 1886,\n  \"name\": \"Arsenal\"\n}\n"))
	require.NoError(t, err)

	require.Equal(t, a, b)
}

func TestHashDetectsFieldChange(t *testing.T) {
	t.Parallel()

	h := New()

	a, err := h.Hash([]byte(`{"name":"Arsenal","founded":1886}`))
	require.NoError(t, err)

	b, err := h.Hash([]byte(`{"name":"Arsenal FC","founded":1886}`))
	require.NoError(t, err)

	require.NotEqual(t, a, b)
}

func TestHashNonJSONTrimsWhitespace(t *testing.T) {
	t.Parallel()

	h := New()

	a, err := h.Hash([]byte("plain text payload"))
	require.NoError(t, err)

	b, err := h.Hash([]byte("  plain text payload\n"))
	require.NoError(t, err)

	require.Equal(t, a, b)
}

func TestHashDeterministicAcrossInvocations(t *testing.T) {
	t.Parallel()

	h := New()
	payload := []byte(`{"items":[{"id":"1"},{"id":"2"}],"count":2}`)

	first, err := h.Hash(payload)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := h.Hash(payload)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}
