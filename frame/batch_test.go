package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchSerializeRoundTrip(t *testing.T) {
	b := NewBatch(3, []Row{
		{ID: 300, Data: []byte("a"), LSN: 10},
		{ID: 301, Data: []byte("b"), LSN: 12},
	})

	enc, err := b.Serialize()
	require.NoError(t, err)

	got, err := DeserializeBatch(enc)
	require.NoError(t, err)
	require.Equal(t, b, got)
}

func TestBatchMaxLSN(t *testing.T) {
	require.Equal(t, NoLSN, NewBatch(0, nil).MaxLSN())

	b := NewBatch(0, []Row{{ID: 0, LSN: 5}, {ID: 1, LSN: 9}, {ID: 2, LSN: 2}})
	require.Equal(t, 9, b.MaxLSN())
}

func TestBatchFilterIsInclusiveAndClones(t *testing.T) {
	b := NewBatch(0, []Row{{ID: 0, Data: []byte("x")}, {ID: 1, Data: []byte("y")}, {ID: 2, Data: []byte("z")}})

	filtered := b.Filter(1, 2)
	require.Len(t, filtered.Rows, 2)
	require.Equal(t, 1, filtered.Rows[0].ID)
	require.Equal(t, 2, filtered.Rows[1].ID)

	filtered.Rows[0].Data[0] = 'Q'
	require.Equal(t, byte('y'), b.Rows[1].Data[0], "Filter must not alias the source batch's bytes")
}

func TestRowCloneIsIndependent(t *testing.T) {
	r := Row{ID: 0, Data: []byte{1, 2, 3}, LSN: 1}
	cp := r.Clone()
	cp.Data[0] = 99
	require.Equal(t, byte(1), r.Data[0])
}
