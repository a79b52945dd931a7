package uuid

import (
	"testing"

	guuid "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewIDUniqueAndParseable(t *testing.T) {
	t.Parallel()

	g := New()
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id, err := g.NewID()
		require.NoError(t, err)
		_, err = guuid.Parse(id)
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}
