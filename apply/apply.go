// Package apply is the glue between the transaction/log layer and the
// buffer manager + update processor: it turns a catalog.UpdateArgs into
// concrete per-row frame edits, and turns a staged before/after batch into a
// direct buffer installation. Both the transaction manager's forward apply
// and the log manager's redo/undo paths go through here. The one exception
// is the transaction manager's pure-physical mode, which computes its
// after-images by calling the update processor directly.
package apply

import (
	"fmt"

	"github.com/luigitni/vtxlog/catalog"
	"github.com/luigitni/vtxlog/frame"
	"github.com/luigitni/vtxlog/ops"
)

// bufferManager is the subset of buffer.Manager this package needs.
type bufferManager interface {
	ReadSlot(meta catalog.Metadata, group int) (frame.Batch, error)
	WriteSlot(meta catalog.Metadata, delta frame.Batch) error
}

// processor is the subset of ops.Processor this package needs.
type processor interface {
	Apply(src ops.Frame, args ops.Args) (ops.Frame, error)
}

func groupOf(id, batchSize int) int {
	return id / batchSize
}

// TouchedGroups returns every group index args' frame range spans.
func TouchedGroups(args catalog.UpdateArgs, batchSize int) []int {
	first := groupOf(args.StartFrame, batchSize)
	last := groupOf(args.EndFrame, batchSize)
	groups := make([]int, 0, last-first+1)
	for g := first; g <= last; g++ {
		groups = append(groups, g)
	}
	return groups
}

func asOpsArgs(args catalog.UpdateArgs) ops.Args {
	return ops.Args{FunctionName: args.FunctionName, Kwargs: args.Kwargs}
}

// Forward applies args to every row in [args.StartFrame, args.EndFrame]
// through proc, stamping every touched row with lsn, and returns the set of
// groups it touched (for the caller to stage before/after deltas around).
func Forward(buf bufferManager, proc processor, meta catalog.Metadata, args catalog.UpdateArgs, lsn, batchSize int) ([]int, error) {
	groups := TouchedGroups(args, batchSize)
	return groups, ForwardGroups(buf, proc, meta, args, lsn, groups)
}

// ForwardGroups is Forward restricted to an explicit set of groups, used by
// the log manager's redo path, where only groups whose max LSN trails this
// record's LSN should be re-applied.
func ForwardGroups(buf bufferManager, proc processor, meta catalog.Metadata, args catalog.UpdateArgs, lsn int, groups []int) error {
	for _, g := range groups {
		resident, err := buf.ReadSlot(meta, g)
		if err != nil {
			return err
		}

		touched := resident.Filter(args.StartFrame, args.EndFrame)
		if touched.Empty() {
			continue
		}

		edited := make([]frame.Row, 0, len(touched.Rows))
		for _, row := range touched.Rows {
			out, err := proc.Apply(ops.Frame{Width: meta.Width, Height: meta.Height, Data: row.Data}, asOpsArgs(args))
			if err != nil {
				return fmt.Errorf("apply: row %d: %w", row.ID, err)
			}
			edited = append(edited, frame.Row{ID: row.ID, Data: out.Data, LSN: lsn})
		}

		if err := buf.WriteSlot(meta, frame.NewBatch(g, edited)); err != nil {
			return err
		}
	}

	return nil
}

// InstallBatch writes batch's rows directly into the buffer, stamping every
// row with lsn regardless of its own LSN field. It is how physical and
// pure-physical staged deltas are re-installed during rollback and redo.
func InstallBatch(buf bufferManager, meta catalog.Metadata, batch frame.Batch, lsn int) error {
	stamped := make([]frame.Row, len(batch.Rows))
	for i, r := range batch.Rows {
		stamped[i] = frame.Row{ID: r.ID, Data: r.Data, LSN: lsn}
	}
	return buf.WriteSlot(meta, frame.NewBatch(batch.Group, stamped))
}
