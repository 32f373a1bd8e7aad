package tilingdata

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleRecords() []Record {
	return []Record{
		{Op: "MatMul", TilingID: 0x3f05, Flags: 0, Fields: []int32{1, 2, 3, -4}},
		{Op: "Conv2DBackpropFilter", TilingID: 1 << 16, Flags: FlagSingleCoreFallback, Fields: []int32{5, 6, 7, 8}},
	}
}

func TestWriteFileOpenRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tilings.ctd")
	recs := sampleRecords()
	if err := WriteFile(path, 4, recs); err != nil {
		t.Fatalf("write file: %v", err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			t.Fatalf("close: %v", cerr)
		}
	}()
	if f.Len() != 2 || f.Header.FieldCount != 4 {
		t.Fatalf("header: got %+v", f.Header)
	}
	if diff := cmp.Diff(recs, f.Records()); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	if _, err := f.Record(2); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
}

func TestOpenReaderAt(t *testing.T) {
	t.Parallel()
	data, err := Marshal(4, sampleRecords())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f, err := OpenReaderAt(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open reader at: %v", err)
	}
	if f.mmapped {
		t.Fatal("OpenReaderAt should not mmap")
	}
	r, err := f.Record(1)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if r.Op != "Conv2DBackpropFilter" || r.Flags&FlagSingleCoreFallback == 0 {
		t.Fatalf("record 1: got %+v", r)
	}
}

func TestHeaderLittleEndian(t *testing.T) {
	t.Parallel()
	h := Header{
		Magic:       [4]byte{'C', 'T', 'D', 0},
		Major:       0x1122,
		Minor:       0x3344,
		HeaderSize:  headerSize,
		FieldCount:  0x55667788,
		RecordCount: 0x0102030405060708,
		FileSize:    0x1112131415161718,
	}
	var raw [headerSize]byte
	if !encodeHeader(raw[:], h) {
		t.Fatal("encode header failed")
	}
	if raw[4] != 0x22 || raw[5] != 0x11 {
		t.Fatalf("major is not little-endian: %x", raw[4:6])
	}
	if raw[16] != 0x08 || raw[23] != 0x01 {
		t.Fatalf("record count is not little-endian: %x", raw[16:24])
	}
	got, ok := decodeHeader(raw[:])
	if !ok || got != h {
		t.Fatalf("header round trip: got %+v want %+v", got, h)
	}
}

func TestMarshalRejectsBadRecords(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		fields int
		recs   []Record
	}{
		{"zero fields", 0, nil},
		{"too many fields", MaxFields + 1, nil},
		{"short record", 4, []Record{{Op: "MatMul", Fields: []int32{1}}}},
		{"long op name", 1, []Record{{Op: string(make([]byte, OpNameSize+1)), Fields: []int32{1}}}},
	}
	for _, tc := range tests {
		if _, err := Marshal(tc.fields, tc.recs); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("%s: expected ErrInvalidRecord, got %v", tc.name, err)
		}
	}
}

func TestParseRejectsCorruptData(t *testing.T) {
	t.Parallel()
	good, err := Marshal(4, sampleRecords())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	badMagic := bytes.Clone(good)
	badMagic[0] = 'X'
	if _, err := Parse(badMagic); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("bad magic: got %v", err)
	}

	badMajor := bytes.Clone(good)
	badMajor[4] = 9
	if _, err := Parse(badMajor); !errors.Is(err, ErrUnsupportedMajor) {
		t.Fatalf("bad major: got %v", err)
	}

	if _, err := Parse(good[:len(good)-1]); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("truncated: got %v", err)
	}
	if _, err := Parse(good[:10]); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("short header: got %v", err)
	}

	badCount := bytes.Clone(good)
	badCount[16] = 3
	if _, err := Parse(badCount); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("record count mismatch: got %v", err)
	}
}

func TestEmptyContainer(t *testing.T) {
	t.Parallel()
	data, err := Marshal(36, nil)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Len() != 0 || len(f.Records()) != 0 {
		t.Fatalf("expected no records, got %d", f.Len())
	}
}
