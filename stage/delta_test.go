package stage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luigitni/vtxlog/frame"
)

func TestWriteThenReadDeltaRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txn", "clip.mp4.v1_old_3")
	batch := frame.NewBatch(3, []frame.Row{{ID: 300, Data: []byte("x"), LSN: 5}})

	require.NoError(t, WriteDelta(path, batch))

	got, err := ReadDelta(path)
	require.NoError(t, err)
	require.Equal(t, batch, got)
}

func TestDeltaPathAndGroupFromPath(t *testing.T) {
	path := DeltaPath("/tmp/txn/7", "clip.mp4", 2, 5, "old")
	require.Equal(t, "/tmp/txn/7/clip.mp4.v2_old_5", path)

	group, err := GroupFromPath(path)
	require.NoError(t, err)
	require.Equal(t, 5, group)
}

func TestGroupFromPathRejectsMalformedPath(t *testing.T) {
	_, err := GroupFromPath("/tmp/no-underscore-suffix-here")
	require.Error(t, err)
}
