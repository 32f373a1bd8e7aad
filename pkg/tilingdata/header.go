package tilingdata

import "encoding/binary"

func encodeHeader(dst []byte, h Header) bool {
	if len(dst) < headerSize {
		return false
	}
	copy(dst[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(dst[4:6], h.Major)
	binary.LittleEndian.PutUint16(dst[6:8], h.Minor)
	binary.LittleEndian.PutUint32(dst[8:12], h.HeaderSize)
	binary.LittleEndian.PutUint32(dst[12:16], h.FieldCount)
	binary.LittleEndian.PutUint64(dst[16:24], h.RecordCount)
	binary.LittleEndian.PutUint64(dst[24:32], h.FileSize)
	return true
}

func decodeHeader(src []byte) (Header, bool) {
	if len(src) < headerSize {
		return Header{}, false
	}
	var h Header
	copy(h.Magic[:], src[0:4])
	h.Major = binary.LittleEndian.Uint16(src[4:6])
	h.Minor = binary.LittleEndian.Uint16(src[6:8])
	h.HeaderSize = binary.LittleEndian.Uint32(src[8:12])
	h.FieldCount = binary.LittleEndian.Uint32(src[12:16])
	h.RecordCount = binary.LittleEndian.Uint64(src[16:24])
	h.FileSize = binary.LittleEndian.Uint64(src[24:32])
	return h, true
}

// encodeRecord writes r into dst, which must be exactly one record long.
func encodeRecord(dst []byte, r Record) {
	clear(dst[:OpNameSize])
	copy(dst[:OpNameSize], r.Op)
	off := OpNameSize
	binary.LittleEndian.PutUint64(dst[off:off+8], r.TilingID)
	off += 8
	binary.LittleEndian.PutUint32(dst[off:off+4], r.Flags)
	off += 8 // flags plus reserved word
	for _, v := range r.Fields {
		binary.LittleEndian.PutUint32(dst[off:off+4], uint32(v))
		off += 4
	}
}

func decodeRecord(src []byte, fields int) Record {
	name := src[:OpNameSize]
	n := 0
	for n < len(name) && name[n] != 0 {
		n++
	}
	r := Record{Op: string(name[:n])}
	off := OpNameSize
	r.TilingID = binary.LittleEndian.Uint64(src[off : off+8])
	off += 8
	r.Flags = binary.LittleEndian.Uint32(src[off : off+4])
	off += 8
	r.Fields = make([]int32, fields)
	for i := range r.Fields {
		r.Fields[i] = int32(binary.LittleEndian.Uint32(src[off : off+4]))
		off += 4
	}
	return r
}
