// Package tilingdata implements the compiled tiling container.
//
// A container is a single little-endian file holding a table of fixed-size
// tiling records that a kernel launcher can map and index directly. The
// package knows nothing about how the records were produced.
package tilingdata

// Format constants must never change.
const (
	// Magic is the file magic, encoded as "CTD\0".
	Magic = "CTD\x00"

	// CurrentMajor changes only with breaking layout changes.
	CurrentMajor uint16 = 1

	// CurrentMinor changes when optional record flags are added.
	CurrentMinor uint16 = 0

	// OpNameSize is the fixed, NUL padded width of the op name in a record.
	OpNameSize = 32

	// MaxFields bounds the int32 fields per record.
	MaxFields = 1024
)

// Record flags.
const (
	// FlagSingleCoreFallback marks a tiling that was placed on one core
	// because no multi-core split fit.
	FlagSingleCoreFallback uint32 = 1 << 0
)

const (
	headerSize       = 32
	recordFixedBytes = OpNameSize + 8 + 4 + 4
)

// Header is the fixed file header.
type Header struct {
	Magic       [4]byte
	Major       uint16
	Minor       uint16
	HeaderSize  uint32
	FieldCount  uint32
	RecordCount uint64
	FileSize    uint64
}

// Valid checks the magic and the header size.
func (h *Header) Valid() bool {
	return string(h.Magic[:]) == Magic && h.HeaderSize >= headerSize
}

// Compatible reports whether this package can read the file.
func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

// RecordSize is the encoded size of one record in bytes.
func (h *Header) RecordSize() int {
	return recordSize(int(h.FieldCount))
}

func recordSize(fields int) int {
	return recordFixedBytes + 4*fields
}

// Record is one tiling: the op it belongs to, its kernel variant id,
// flags and the int32 fields in kernel order.
type Record struct {
	Op       string  `json:"op"`
	TilingID uint64  `json:"tiling_id"`
	Flags    uint32  `json:"flags"`
	Fields   []int32 `json:"fields"`
}
