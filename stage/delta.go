// Package stage persists and reads back the before/after delta files that
// hybrid-physical and pure-physical log records reference by path. A delta
// file holds one group's batch, encoded the same way the page store and
// buffer manager encode batches, so the log manager and transaction manager
// share a single on-disk representation for staged row content.
package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/luigitni/vtxlog/frame"
)

// WriteDelta serializes batch and writes it to path, creating any missing
// parent directories (a transaction's scratch directory).
func WriteDelta(path string, batch frame.Batch) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("stage: creating directory for %q: %w", path, err)
	}
	encoded, err := batch.Serialize()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("stage: writing delta %q: %w", path, err)
	}
	return nil
}

// ReadDelta reads back a batch previously written with WriteDelta.
func ReadDelta(path string) (frame.Batch, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return frame.Batch{}, fmt.Errorf("stage: reading delta %q: %w", path, err)
	}
	return frame.DeserializeBatch(b)
}

// DeltaPath builds the staged delta file name for one touched group of a
// transaction's update, per spec.md §4.5:
// {txn_dir}/{file_url}.v{ver}_{kind}_{group}, kind being "old" or "new".
func DeltaPath(txnDir, fileURL string, ver, group int, kind string) string {
	return filepath.Join(txnDir, fmt.Sprintf("%s.v%d_%s_%d", fileURL, ver, kind, group))
}

// GroupFromPath recovers the group number encoded in the trailing
// _<group> component of a path built by DeltaPath.
func GroupFromPath(path string) (int, error) {
	idx := strings.LastIndex(path, "_")
	if idx < 0 {
		return 0, fmt.Errorf("stage: malformed delta path %q", path)
	}
	n, err := strconv.Atoi(path[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("stage: malformed delta path %q: %w", path, err)
	}
	return n, nil
}
