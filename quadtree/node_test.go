package quadtree

import (
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestNodeSplit(t *testing.T) {
	t.Run("creates 4 children one level down", func(t *testing.T) {
		n := newNode(NewRegion(0, 0, 100, 100), 3, nil, time.Now())
		n.Split(SplitRatio)

		require.False(t, n.IsLeaf())
		require.Len(t, n.Children(), 4)
		for _, c := range n.Children() {
			require.Equal(t, 2, c.Level())
			require.Equal(t, n, c.Parent())
			require.True(t, n.Bounds().Contains(c.Bounds()))
			require.True(t, c.IsLeaf())
		}
		require.InDelta(t, n.Bounds().Area(), unionArea(childBounds(n)), 1e-6)
	})

	t.Run("children of a valid node are valid", func(t *testing.T) {
		n := newNode(NewRegion(0, 0, 100, 100), 3, nil, time.Now())
		n.Entry().SetValid()
		n.Split(SplitRatio)

		for _, c := range n.Children() {
			require.True(t, c.IsValid())
		}
	})

	t.Run("splitting a non-leaf node panics", func(t *testing.T) {
		n := newNode(NewRegion(0, 0, 100, 100), 3, nil, time.Now())
		n.Split(SplitRatio)

		require.Panics(t, func() {
			n.Split(SplitRatio)
		})
	})

	t.Run("splitting at maximum depth panics", func(t *testing.T) {
		n := newNode(NewRegion(0, 0, 100, 100), 0, nil, time.Now())
		require.Panics(t, func() {
			n.Split(SplitRatio)
		})
	})
}

func TestNodeRecords(t *testing.T) {
	t.Run("insert grows the record array", func(t *testing.T) {
		n := newNode(NewRegion(0, 0, 10, 10), 0, nil, time.Now())
		for i := 1; i <= 9; i++ {
			n.InsertData(uint64(i), NewRegion(1, 1, 2, 2), []byte{byte(i)})
		}

		require.Equal(t, 9, n.RecordCount())
		require.Len(t, n.Records(), 9)
		require.GreaterOrEqual(t, cap(n.records), 9)
	})

	t.Run("delete swaps with the last record", func(t *testing.T) {
		n := newNode(NewRegion(0, 0, 10, 10), 0, nil, time.Now())
		n.Attach(
			Record{ID: 1, Shape: NewRegion(1, 1, 2, 2)},
			Record{ID: 2, Shape: NewRegion(1, 1, 2, 2)},
			Record{ID: 3, Shape: NewRegion(1, 1, 2, 2)},
		)

		err := n.DeleteData(0)
		require.NoError(t, err)
		require.Equal(t, 2, n.RecordCount())
		require.Equal(t, uint64(3), n.Records()[0].ID)
		require.Equal(t, uint64(2), n.Records()[1].ID)
	})

	t.Run("attach replaces records with the same id", func(t *testing.T) {
		n := newNode(NewRegion(0, 0, 10, 10), 0, nil, time.Now())
		n.Attach(
			Record{ID: 1, Shape: NewRegion(1, 1, 2, 2), Payload: []byte("a")},
			Record{ID: 2, Shape: NewRegion(1, 1, 2, 2)},
		)
		n.Attach(Record{ID: 1, Shape: NewRegion(3, 3, 4, 4), Payload: []byte("b")})

		require.Equal(t, 2, n.RecordCount())
		require.Equal(t, uint64(1), n.Records()[0].ID)
		require.Equal(t, NewRegion(3, 3, 4, 4), n.Records()[0].Shape)
		require.Equal(t, []byte("b"), n.Records()[0].Payload)
	})

	t.Run("delete out of range returns an error", func(t *testing.T) {
		n := newNode(NewRegion(0, 0, 10, 10), 0, nil, time.Now())
		n.InsertData(1, NewRegion(1, 1, 2, 2), nil)

		err := n.DeleteData(1)
		require.Error(t, err)
		require.Equal(t, ErrTypeIndexRange, errors.Type(err))

		err = n.DeleteData(-1)
		require.Error(t, err)
		require.Equal(t, 1, n.RecordCount())
	})
}

func TestCacheEntry(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("hit updates access statistics", func(t *testing.T) {
		n := newNode(NewRegion(0, 0, 10, 10), 1, nil, start)
		e := n.Entry()
		require.Equal(t, start, e.CreationTime())
		require.Equal(t, start, e.LastAccessTime())

		e.Hit(start.Add(time.Minute))
		require.Equal(t, uint64(1), e.Hits())
		require.Equal(t, start.Add(time.Minute), e.LastAccessTime())
		require.Equal(t, start, e.CreationTime())
	})

	t.Run("oldest child access is recomputed after a hit", func(t *testing.T) {
		n := newNode(NewRegion(0, 0, 10, 10), 2, nil, start)
		n.split(SplitRatio, start)
		for i, c := range n.Children() {
			c.Entry().Hit(start.Add(time.Duration(i+1) * time.Minute))
		}
		require.Equal(t, start.Add(time.Minute), n.Entry().OldestChildAccess())

		n.Child(0).Entry().Hit(start.Add(time.Hour))
		require.Equal(t, start.Add(2*time.Minute), n.Entry().OldestChildAccess())
	})

	t.Run("oldest child access of a leaf is its last access", func(t *testing.T) {
		n := newNode(NewRegion(0, 0, 10, 10), 0, nil, start)
		n.Entry().Hit(start.Add(time.Second))
		require.Equal(t, start.Add(time.Second), n.Entry().OldestChildAccess())
	})

	t.Run("invalidate drops records", func(t *testing.T) {
		n := newNode(NewRegion(0, 0, 10, 10), 0, nil, start)
		n.Entry().SetValid()
		n.InsertData(1, NewRegion(1, 1, 2, 2), nil)

		n.Entry().Invalidate()
		require.False(t, n.IsValid())
		require.Zero(t, n.RecordCount())
	})
}

func childBounds(n *Node) []Region {
	bounds := make([]Region, 0, len(n.Children()))
	for _, c := range n.Children() {
		bounds = append(bounds, c.Bounds())
	}
	return bounds
}
