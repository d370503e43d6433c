package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequentialIDGeneratorNew(t *testing.T) {
	t.Run("returns a new id", func(t *testing.T) {
		var idGen SequentialIDGenerator

		for i := 1; i <= 5; i++ {
			id := idGen.New()
			require.Equal(t, uint64(i), id)
		}
		require.Equal(t, 5, idGen.Count())
	})

	t.Run("returns the last reusable id first", func(t *testing.T) {
		var idGen SequentialIDGenerator

		for i := 1; i <= 5; i++ {
			idGen.New()
		}

		idGen.Reuse(2)
		idGen.Reuse(4)
		require.Equal(t, 3, idGen.Count())
		require.Equal(t, uint64(4), idGen.New())
		require.Equal(t, uint64(2), idGen.New())
		require.Equal(t, uint64(6), idGen.New())
	})

	t.Run("ignores ids that were never generated", func(t *testing.T) {
		var idGen SequentialIDGenerator
		idGen.New()

		idGen.Reuse(0)
		idGen.Reuse(42)
		require.Equal(t, uint64(2), idGen.New())
	})
}
