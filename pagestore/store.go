// Package pagestore is the page store adapter (C1): it persists and iterates
// the frame groups of a dataset. It is a narrow stand-in for the columnar
// dataset store named as an external collaborator in spec.md §1 — a real
// deployment would point this interface at that store instead.
//
// On disk, a dataset lives under a directory named after its file_url; each
// group is one msgpack-encoded file named group_<n>.batch. This mirrors the
// per-group directory layout of the original Python petastorm adapter
// (one materialized parquet partition per group) without pulling in a real
// columnar format, which is out of scope here.
package pagestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/luigitni/vtxlog/catalog"
	"github.com/luigitni/vtxlog/frame"
)

// ErrGroupMissing is returned when a caller asks to read a group that does
// not exist on disk.
var ErrGroupMissing = errors.New("pagestore: group does not exist")

const groupFilePrefix = "group_"
const groupFileSuffix = ".batch"

// Store persists datasets as directories of per-group files under root.
type Store struct {
	root string
	log  zerolog.Logger

	mu sync.Mutex
}

// NewStore returns a page store rooted at the given directory, creating it
// if necessary.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("pagestore: creating root %q: %w", root, err)
	}
	return &Store{
		root: root,
		log:  log.With().Str("component", "pagestore").Logger(),
	}, nil
}

func (s *Store) datasetDir(meta catalog.Metadata) string {
	return filepath.Join(s.root, meta.FileURL)
}

func (s *Store) groupPath(meta catalog.Metadata, group int) string {
	return filepath.Join(s.datasetDir(meta), groupFilePrefix+strconv.Itoa(group)+groupFileSuffix)
}

// Create initializes an empty, partitioned dataset directory for meta.
func (s *Store) Create(meta catalog.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.datasetDir(meta), 0o755); err != nil {
		return fmt.Errorf("pagestore: creating dataset %q: %w", meta.FileURL, err)
	}
	s.log.Info().Str("dataset", meta.FileURL).Msg("created dataset")
	return nil
}

// Write appends or overwrites rows in the batch's group; writes within a
// group replace matching ids and append ids that were not previously
// present, keeping rows sorted by id.
func (s *Store) Write(meta catalog.Metadata, batch frame.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.datasetDir(meta), 0o755); err != nil {
		return fmt.Errorf("pagestore: creating dataset %q: %w", meta.FileURL, err)
	}

	existing, err := s.readGroupLocked(meta, batch.Group)
	if err != nil && !errors.Is(err, ErrGroupMissing) {
		return err
	}

	byID := make(map[int]frame.Row, len(existing.Rows))
	for _, r := range existing.Rows {
		byID[r.ID] = r
	}
	for _, r := range batch.Rows {
		byID[r.ID] = r
	}

	merged := make([]frame.Row, 0, len(byID))
	for _, r := range byID {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })

	out := frame.NewBatch(batch.Group, merged)
	encoded, err := out.Serialize()
	if err != nil {
		return err
	}

	path := s.groupPath(meta, batch.Group)
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("pagestore: writing group %d of %q: %w", batch.Group, meta.FileURL, err)
	}
	s.log.Debug().Str("dataset", meta.FileURL).Int("group", batch.Group).Int("rows", len(merged)).Msg("wrote group")
	return nil
}

// Read returns a lazy sequence of batches for meta. If group is non-nil,
// only that group is yielded (or ErrGroupMissing if it does not exist);
// otherwise every existing group is yielded in ascending order.
func (s *Store) Read(meta catalog.Metadata, group *int) func(yield func(frame.Batch, error) bool) {
	return func(yield func(frame.Batch, error) bool) {
		if group != nil {
			b, err := s.ReadGroup(meta, *group)
			yield(b, err)
			return
		}

		groups, err := s.listGroups(meta)
		if err != nil {
			yield(frame.Batch{}, err)
			return
		}
		for _, g := range groups {
			b, err := s.ReadGroup(meta, g)
			if !yield(b, err) {
				return
			}
		}
	}
}

// ReadGroup returns the single group's batch, or ErrGroupMissing.
func (s *Store) ReadGroup(meta catalog.Metadata, group int) (frame.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readGroupLocked(meta, group)
}

func (s *Store) readGroupLocked(meta catalog.Metadata, group int) (frame.Batch, error) {
	path := s.groupPath(meta, group)
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return frame.Batch{}, fmt.Errorf("%w: %s group %d", ErrGroupMissing, meta.FileURL, group)
	}
	if err != nil {
		return frame.Batch{}, fmt.Errorf("pagestore: reading group %d of %q: %w", group, meta.FileURL, err)
	}
	return frame.DeserializeBatch(b)
}

func (s *Store) listGroups(meta catalog.Metadata) ([]int, error) {
	entries, err := os.ReadDir(s.datasetDir(meta))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pagestore: listing dataset %q: %w", meta.FileURL, err)
	}

	var groups []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, groupFilePrefix) || !strings.HasSuffix(name, groupFileSuffix) {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, groupFilePrefix), groupFileSuffix)
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		groups = append(groups, n)
	}
	sort.Ints(groups)
	return groups, nil
}
