package wal

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luigitni/vtxlog/apply"
	"github.com/luigitni/vtxlog/buffer"
	"github.com/luigitni/vtxlog/catalog"
	"github.com/luigitni/vtxlog/frame"
	"github.com/luigitni/vtxlog/ops"
	"github.com/luigitni/vtxlog/pagestore"
	"github.com/luigitni/vtxlog/pressure"
	"github.com/luigitni/vtxlog/stage"
)

func pngOf(c color.NRGBA) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type testStack struct {
	wal   *Manager
	buf   *buffer.Manager
	proc  *ops.Processor
	meta  catalog.Metadata
	dir   string
	store *pagestore.Store
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	pressure.Reset()

	dir := t.TempDir()
	store, err := pagestore.NewStore(filepath.Join(dir, "data"))
	require.NoError(t, err)

	meta := catalog.NewMetadata("clip.mp4", 2, 2, true)
	require.NoError(t, store.Create(meta))
	require.NoError(t, store.Write(meta, frame.NewBatch(0, []frame.Row{
		{ID: 0, Data: pngOf(color.NRGBA{R: 10, G: 20, B: 30, A: 255}), LSN: frame.NoLSN},
	})))

	buf := buffer.NewManager(store, 4)
	proc := ops.NewProcessor()

	w, err := NewManager(filepath.Join(dir, "log.wal"), buf, proc, 100)
	require.NoError(t, err)

	return &testStack{wal: w, buf: buf, proc: proc, meta: meta, dir: dir, store: store}
}

// forwardLogical mirrors what the transaction manager does for a logical
// update: apply the named operation to group 0's single row and stamp lsn.
func (ts *testStack) forwardLogical(t *testing.T, args catalog.UpdateArgs, lsn int32) {
	t.Helper()
	require.NoError(t, apply.ForwardGroups(ts.buf, ts.proc, ts.meta, args, int(lsn), []int{0}))
}

// stageBefore filters ts's group 0 slot down to args' frame range and writes
// it out as a before-delta file, mirroring what the transaction manager
// does ahead of logging a PHYSICAL_UPDATE or PPHYSICAL_UPDATE record.
func (ts *testStack) stageBefore(t *testing.T, args catalog.UpdateArgs, kind string) string {
	t.Helper()
	resident, err := ts.buf.ReadSlot(ts.meta, 0)
	require.NoError(t, err)
	before := resident.Filter(args.StartFrame, args.EndFrame)
	require.False(t, before.Empty())

	path := stage.DeltaPath(ts.dir, ts.meta.FileURL, 1, 0, kind)
	require.NoError(t, stage.WriteDelta(path, before))
	return path
}

// recoverOntoFreshStack simulates a crash: it opens a new store, buffer and
// log manager against ts's same on-disk files and runs Recover, returning
// the fresh buffer manager for the caller to assert against.
func (ts *testStack) recoverOntoFreshStack(t *testing.T) *buffer.Manager {
	t.Helper()

	store2, err := pagestore.NewStore(filepath.Join(ts.dir, "data"))
	require.NoError(t, err)
	buf2 := buffer.NewManager(store2, 4)
	proc2 := ops.NewProcessor()
	w2, err := NewManager(filepath.Join(ts.dir, "log.wal"), buf2, proc2, 100)
	require.NoError(t, err)

	require.NoError(t, w2.Recover())
	return buf2
}

func TestLogicalUpdateThenCommit(t *testing.T) {
	ts := newTestStack(t)

	txn := uint32(1)
	_, err := ts.wal.Begin(txn)
	require.NoError(t, err)

	args := catalog.NewUpdateArgs("invert_color", 0, 0, nil)
	lsn, err := ts.wal.LogLogicalUpdate(txn, ts.meta, args)
	require.NoError(t, err)
	ts.forwardLogical(t, args, lsn)

	_, err = ts.wal.Commit(txn)
	require.NoError(t, err)

	batch, err := ts.buf.ReadSlot(ts.meta, 0)
	require.NoError(t, err)
	require.Equal(t, int(lsn), batch.Rows[0].LSN)
}

func TestLogicalAbortRestoresOriginalBytes(t *testing.T) {
	ts := newTestStack(t)

	txn := uint32(1)
	_, err := ts.wal.Begin(txn)
	require.NoError(t, err)

	original, err := ts.buf.ReadSlot(ts.meta, 0)
	require.NoError(t, err)
	originalData := append([]byte(nil), original.Rows[0].Data...)

	args := catalog.NewUpdateArgs("invert_color", 0, 0, nil)
	lsn, err := ts.wal.LogLogicalUpdate(txn, ts.meta, args)
	require.NoError(t, err)
	ts.forwardLogical(t, args, lsn)

	require.NoError(t, ts.wal.Rollback(txn))

	restored, err := ts.buf.ReadSlot(ts.meta, 0)
	require.NoError(t, err)
	require.Equal(t, originalData, restored.Rows[0].Data)
}

func TestPressurePointCLROnlyRecovery(t *testing.T) {
	ts := newTestStack(t)

	txn := uint32(1)
	_, err := ts.wal.Begin(txn)
	require.NoError(t, err)

	args := catalog.NewUpdateArgs("invert_color", 0, 0, nil)
	lsn, err := ts.wal.LogLogicalUpdate(txn, ts.meta, args)
	require.NoError(t, err)
	ts.forwardLogical(t, args, lsn)
	require.NoError(t, ts.buf.FlushAllSlots(context.Background()))

	pressure.Add(pressure.Point{Location: pressure.LogManagerRollbackAfterCLR, Behavior: pressure.EarlyReturn})
	require.NoError(t, ts.wal.Rollback(txn))
	pressure.Reset()

	inverted, err := ts.buf.ReadSlot(ts.meta, 0)
	require.NoError(t, err)
	require.NoError(t, ts.buf.FlushAllSlots(context.Background()))

	store2, err := pagestore.NewStore(filepath.Join(ts.dir, "data"))
	require.NoError(t, err)
	buf2 := buffer.NewManager(store2, 4)
	proc2 := ops.NewProcessor()
	w2, err := NewManager(filepath.Join(ts.dir, "log.wal"), buf2, proc2, 100)
	require.NoError(t, err)

	require.NoError(t, w2.Recover())

	recovered, err := buf2.ReadSlot(ts.meta, 0)
	require.NoError(t, err)
	require.NotEqual(t, inverted.Rows[0].Data, recovered.Rows[0].Data, "recover must finish the rollback the pressure point interrupted")
}

func TestPhysicalUpdateCommitThenRedoOnRecover(t *testing.T) {
	ts := newTestStack(t)

	txn := uint32(1)
	_, err := ts.wal.Begin(txn)
	require.NoError(t, err)

	args := catalog.NewUpdateArgs("grayscale", 0, 0, nil)
	beforePath := ts.stageBefore(t, args, "old")

	lsn, err := ts.wal.LogPhysicalUpdate(txn, ts.meta, args, beforePath)
	require.NoError(t, err)

	rec, err := ts.wal.readAt(lsn)
	require.NoError(t, err)
	_, ok := rec.(PhysicalUpdateRecord)
	require.True(t, ok, "expected a PhysicalUpdateRecord at the logged lsn")

	require.NoError(t, apply.ForwardGroups(ts.buf, ts.proc, ts.meta, args, int(lsn), []int{0}))
	_, err = ts.wal.Commit(txn)
	require.NoError(t, err)

	committed, err := ts.buf.ReadSlot(ts.meta, 0)
	require.NoError(t, err)

	// No flush before the crash: group 0's only durable record of the
	// update is the PHYSICAL_UPDATE record and its staged before-delta.
	recovered := ts.recoverOntoFreshStack(t)
	got, err := recovered.ReadSlot(ts.meta, 0)
	require.NoError(t, err)
	require.Equal(t, committed.Rows[0].Data, got.Rows[0].Data, "redo must replay the hybrid-physical update from the log")
}

func TestPhysicalUpdateRollbackAppliesPhysicalCLR(t *testing.T) {
	ts := newTestStack(t)

	txn := uint32(1)
	_, err := ts.wal.Begin(txn)
	require.NoError(t, err)

	original, err := ts.buf.ReadSlot(ts.meta, 0)
	require.NoError(t, err)
	originalData := append([]byte(nil), original.Rows[0].Data...)

	args := catalog.NewUpdateArgs("grayscale", 0, 0, nil)
	beforePath := ts.stageBefore(t, args, "old")

	lsn, err := ts.wal.LogPhysicalUpdate(txn, ts.meta, args, beforePath)
	require.NoError(t, err)
	require.NoError(t, apply.ForwardGroups(ts.buf, ts.proc, ts.meta, args, int(lsn), []int{0}))

	require.NoError(t, ts.wal.Rollback(txn))

	restored, err := ts.buf.ReadSlot(ts.meta, 0)
	require.NoError(t, err)
	require.Equal(t, originalData, restored.Rows[0].Data, "undo must reinstall the staged before-delta via a PhysicalCLRRecord")

	var sawCLR bool
	require.NoError(t, ts.wal.scanForward(func(_ int32, rec Record) error {
		if _, ok := rec.(PhysicalCLRRecord); ok {
			sawCLR = true
		}
		return nil
	}))
	require.True(t, sawCLR, "rollback must log a PhysicalCLRRecord compensating the PhysicalUpdateRecord")
}

func TestPPhysicalUpdateCommitThenRedoOnRecover(t *testing.T) {
	ts := newTestStack(t)

	txn := uint32(1)
	_, err := ts.wal.Begin(txn)
	require.NoError(t, err)

	args := catalog.NewUpdateArgs("invert_color", 0, 0, nil)
	beforePath := ts.stageBefore(t, args, "old")

	resident, err := ts.buf.ReadSlot(ts.meta, 0)
	require.NoError(t, err)
	before := resident.Filter(args.StartFrame, args.EndFrame)
	out, err := ts.proc.Apply(ops.Frame{Width: ts.meta.Width, Height: ts.meta.Height, Data: before.Rows[0].Data}, ops.Args{FunctionName: args.FunctionName})
	require.NoError(t, err)
	after := frame.NewBatch(0, []frame.Row{{ID: before.Rows[0].ID, Data: out.Data}})

	afterPath := filepath.Join(ts.dir, "clip.mp4.v1_new_0")
	require.NoError(t, stage.WriteDelta(afterPath, after))

	lsn, err := ts.wal.LogPPhysicalUpdate(txn, ts.meta, beforePath, afterPath)
	require.NoError(t, err)

	rec, err := ts.wal.readAt(lsn)
	require.NoError(t, err)
	_, ok := rec.(PPhysicalUpdateRecord)
	require.True(t, ok, "expected a PPhysicalUpdateRecord at the logged lsn")

	require.NoError(t, apply.InstallBatch(ts.buf, ts.meta, after, int(lsn)))
	_, err = ts.wal.Commit(txn)
	require.NoError(t, err)

	committed, err := ts.buf.ReadSlot(ts.meta, 0)
	require.NoError(t, err)

	recovered := ts.recoverOntoFreshStack(t)
	got, err := recovered.ReadSlot(ts.meta, 0)
	require.NoError(t, err)
	require.Equal(t, committed.Rows[0].Data, got.Rows[0].Data, "redo must replay the pure-physical update from its staged after-delta")
}

func TestPPhysicalUpdateRollbackAppliesPPhysicalCLR(t *testing.T) {
	ts := newTestStack(t)

	txn := uint32(1)
	_, err := ts.wal.Begin(txn)
	require.NoError(t, err)

	original, err := ts.buf.ReadSlot(ts.meta, 0)
	require.NoError(t, err)
	originalData := append([]byte(nil), original.Rows[0].Data...)

	args := catalog.NewUpdateArgs("invert_color", 0, 0, nil)
	beforePath := ts.stageBefore(t, args, "old")

	resident, err := ts.buf.ReadSlot(ts.meta, 0)
	require.NoError(t, err)
	before := resident.Filter(args.StartFrame, args.EndFrame)
	out, err := ts.proc.Apply(ops.Frame{Width: ts.meta.Width, Height: ts.meta.Height, Data: before.Rows[0].Data}, ops.Args{FunctionName: args.FunctionName})
	require.NoError(t, err)
	after := frame.NewBatch(0, []frame.Row{{ID: before.Rows[0].ID, Data: out.Data}})

	afterPath := filepath.Join(ts.dir, "clip.mp4.v1_new_0")
	require.NoError(t, stage.WriteDelta(afterPath, after))

	lsn, err := ts.wal.LogPPhysicalUpdate(txn, ts.meta, beforePath, afterPath)
	require.NoError(t, err)
	require.NoError(t, apply.InstallBatch(ts.buf, ts.meta, after, int(lsn)))

	require.NoError(t, ts.wal.Rollback(txn))

	restored, err := ts.buf.ReadSlot(ts.meta, 0)
	require.NoError(t, err)
	require.Equal(t, originalData, restored.Rows[0].Data, "undo must reinstall the staged before-delta via a PPhysicalCLRRecord")

	var sawCLR bool
	require.NoError(t, ts.wal.scanForward(func(_ int32, rec Record) error {
		if _, ok := rec.(PPhysicalCLRRecord); ok {
			sawCLR = true
		}
		return nil
	}))
	require.True(t, sawCLR, "rollback must log a PPhysicalCLRRecord compensating the PPhysicalUpdateRecord")
}

func TestRecoverCalledTwiceIsIdempotent(t *testing.T) {
	ts := newTestStack(t)

	txn := uint32(1)
	_, err := ts.wal.Begin(txn)
	require.NoError(t, err)

	args := catalog.NewUpdateArgs("invert_color", 0, 0, nil)
	lsn, err := ts.wal.LogLogicalUpdate(txn, ts.meta, args)
	require.NoError(t, err)
	ts.forwardLogical(t, args, lsn)
	_, err = ts.wal.Commit(txn)
	require.NoError(t, err)

	store2, err := pagestore.NewStore(filepath.Join(ts.dir, "data"))
	require.NoError(t, err)
	buf2 := buffer.NewManager(store2, 4)
	proc2 := ops.NewProcessor()
	w2, err := NewManager(filepath.Join(ts.dir, "log.wal"), buf2, proc2, 100)
	require.NoError(t, err)

	require.NoError(t, w2.Recover())
	first, err := buf2.ReadSlot(ts.meta, 0)
	require.NoError(t, err)

	require.NoError(t, w2.Recover())
	second, err := buf2.ReadSlot(ts.meta, 0)
	require.NoError(t, err)

	require.Equal(t, first.Rows[0].Data, second.Rows[0].Data)
	require.Equal(t, first.Rows[0].LSN, second.Rows[0].LSN)
}

func TestRecoverAfterDiscardingBufferRecoversCommittedLogicalTxn(t *testing.T) {
	ts := newTestStack(t)

	txn := uint32(1)
	_, err := ts.wal.Begin(txn)
	require.NoError(t, err)

	args := catalog.NewUpdateArgs("invert_color", 0, 0, nil)
	lsn, err := ts.wal.LogLogicalUpdate(txn, ts.meta, args)
	require.NoError(t, err)
	ts.forwardLogical(t, args, lsn)
	_, err = ts.wal.Commit(txn)
	require.NoError(t, err)

	committed, err := ts.buf.ReadSlot(ts.meta, 0)
	require.NoError(t, err)

	// Discard the buffer without flushing: the only remaining trace of the
	// committed update is the log record itself.
	ts.buf.DiscardAllSlots()

	recovered := ts.recoverOntoFreshStack(t)
	got, err := recovered.ReadSlot(ts.meta, 0)
	require.NoError(t, err)
	require.Equal(t, committed.Rows[0].Data, got.Rows[0].Data)
}
