package tilingdata

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// File is an opened container.
type File struct {
	Data    []byte
	Header  *Header
	mmapped bool
}

// Open maps a container read-only and validates it. If mmap is
// unavailable it falls back to reading the file into memory. The returned
// file must be closed to release any mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < headerSize || size64 > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		tf, parseErr := parse(data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return tf, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parse(data, false)
}

// OpenReaderAt loads a container from a random-access reader without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < 0 || size > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return parse(data, false)
}

// Parse validates an in-memory container. data is retained.
func Parse(data []byte) (*File, error) {
	return parse(data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parse(data []byte, mmapped bool) (*File, error) {
	hdr, ok := decodeHeader(data)
	if !ok {
		return nil, ErrCorruptFile
	}
	if !hdr.Valid() {
		return nil, ErrInvalidMagic
	}
	if !hdr.Compatible() {
		return nil, ErrUnsupportedMajor
	}
	if hdr.FileSize != uint64(len(data)) || uint64(hdr.HeaderSize) > uint64(len(data)) {
		return nil, ErrCorruptFile
	}
	if hdr.FieldCount < 1 || hdr.FieldCount > MaxFields {
		return nil, fmt.Errorf("%w: field count %d", ErrCorruptFile, hdr.FieldCount)
	}
	body := uint64(len(data)) - uint64(hdr.HeaderSize)
	if hdr.RecordCount > body/uint64(hdr.RecordSize()) || hdr.RecordCount*uint64(hdr.RecordSize()) != body {
		return nil, fmt.Errorf("%w: %d records of %d bytes do not fill %d bytes", ErrCorruptFile, hdr.RecordCount, hdr.RecordSize(), body)
	}
	return &File{Data: data, Header: &hdr, mmapped: mmapped}, nil
}

// Len is the number of records.
func (f *File) Len() int {
	if f == nil || f.Header == nil {
		return 0
	}
	return int(f.Header.RecordCount)
}

// Record decodes record i. The result does not alias the file data.
func (f *File) Record(i int) (Record, error) {
	if i < 0 || i >= f.Len() {
		return Record{}, fmt.Errorf("%w: index %d out of range [0, %d)", ErrInvalidRecord, i, f.Len())
	}
	rs := f.Header.RecordSize()
	start := int(f.Header.HeaderSize) + i*rs
	return decodeRecord(f.Data[start:start+rs], int(f.Header.FieldCount)), nil
}

// Records decodes every record.
func (f *File) Records() []Record {
	out := make([]Record, 0, f.Len())
	for i := range f.Len() {
		r, _ := f.Record(i)
		out = append(out, r)
	}
	return out
}

// Close releases the file and any mmap backing.
func (f *File) Close() error {
	if f == nil || f.Data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.Data)
	}
	f.Data = nil
	f.Header = nil
	f.mmapped = false
	return err
}
