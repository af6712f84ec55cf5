// Package catalog holds the serializable descriptors carried by log records:
// dataset metadata and update-operation arguments. Both are immutable once
// constructed and must round-trip byte-for-byte through Serialize/Deserialize,
// since the log manager treats their encoded form as opaque payload bytes.
package catalog

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Metadata describes a dataset (a "table" of frames). No separate schema is
// kept: FileURL, Height, Width and HasLSN are the whole descriptor, and
// Deserialize restores exactly those four fields, matching the four-field
// wire contract of spec.md §4.7.
type Metadata struct {
	FileURL string `msgpack:"file_url"`
	Height  int    `msgpack:"height"`
	Width   int    `msgpack:"width"`
	HasLSN  bool   `msgpack:"has_lsn"`
}

// NewMetadata builds dataset metadata for a new or existing dataset.
func NewMetadata(fileURL string, height, width int, hasLSN bool) Metadata {
	return Metadata{
		FileURL: fileURL,
		Height:  height,
		Width:   width,
		HasLSN:  hasLSN,
	}
}

// Equal reports whether two Metadata values describe the same dataset.
func (m Metadata) Equal(other Metadata) bool {
	return m.FileURL == other.FileURL &&
		m.Height == other.Height &&
		m.Width == other.Width &&
		m.HasLSN == other.HasLSN
}

// Serialize encodes the metadata with a self-describing encoding so that it
// can be embedded as a length-prefixed field in a log record.
func (m Metadata) Serialize() ([]byte, error) {
	b, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("catalog: serializing metadata: %w", err)
	}
	return b, nil
}

// DeserializeMetadata decodes a Metadata value previously produced by Serialize.
func DeserializeMetadata(b []byte) (Metadata, error) {
	var m Metadata
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return Metadata{}, fmt.Errorf("catalog: deserializing metadata: %w", err)
	}
	return m, nil
}
