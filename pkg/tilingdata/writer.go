package tilingdata

import (
	"fmt"
	"os"
	"path/filepath"
)

func validateRecords(fieldCount int, recs []Record) error {
	if fieldCount < 1 || fieldCount > MaxFields {
		return fmt.Errorf("%w: field count %d out of range [1, %d]", ErrInvalidRecord, fieldCount, MaxFields)
	}
	for i, r := range recs {
		if len(r.Fields) != fieldCount {
			return fmt.Errorf("%w: record %d has %d fields, want %d", ErrInvalidRecord, i, len(r.Fields), fieldCount)
		}
		if len(r.Op) > OpNameSize {
			return fmt.Errorf("%w: record %d op name %q longer than %d bytes", ErrInvalidRecord, i, r.Op, OpNameSize)
		}
	}
	return nil
}

// Marshal encodes recs into a complete container. Every record must carry
// exactly fieldCount fields.
func Marshal(fieldCount int, recs []Record) ([]byte, error) {
	if err := validateRecords(fieldCount, recs); err != nil {
		return nil, err
	}
	size := headerSize + len(recs)*recordSize(fieldCount)
	out := make([]byte, size)
	h := Header{
		Major:       CurrentMajor,
		Minor:       CurrentMinor,
		HeaderSize:  headerSize,
		FieldCount:  uint32(fieldCount),
		RecordCount: uint64(len(recs)),
		FileSize:    uint64(size),
	}
	copy(h.Magic[:], Magic)
	encodeHeader(out, h)

	rs := recordSize(fieldCount)
	for i, r := range recs {
		start := headerSize + i*rs
		encodeRecord(out[start:start+rs], r)
	}
	return out, nil
}

// WriteFile writes the container to path. The file is written next to its
// destination and renamed into place, so readers never see a partial file.
func WriteFile(path string, fieldCount int, recs []Record) error {
	data, err := Marshal(fieldCount, recs)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
