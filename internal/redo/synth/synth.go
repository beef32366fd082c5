// Package synth builds literal redo byte streams for tests. It mirrors the
// encode-then-write style of the teacher's wal.Writer, but targets static
// byte slices instead of a file, since tests need reproducible fixtures
// rather than a live log.
package synth

import (
	"encoding/binary"

	"github.com/leengari/oracdc/internal/redo"
)

// Field is one change-vector field to encode; Data may be nil for a
// zero-length (present-but-empty) field.
type Field struct {
	Data []byte
}

// Vector describes one change vector to encode into a record. The envelope
// fields default to their zero value when a test doesn't care about them.
type Vector struct {
	Layer     uint8
	Sub       uint8
	Cls       uint16
	Afn       uint16
	Dba       redo.Dba
	ScnRecord redo.Scn
	Seq       uint8
	Typ       uint8
	ConId     uint16
	FlgRecord uint16
	Fields    []Field
}

// Record describes one redo record, built from an ordered list of vectors.
type Record struct {
	Scn     redo.Scn
	SubScn  redo.SubScn
	Vectors []Vector
}

// EncodeRecord serializes r in the 12.1+ on-disk record format (vectors at
// offset 32, con_id/flg_record present). Use EncodeRecordPre121 for the
// older layout.
func EncodeRecord(r Record) []byte {
	return encodeRecord(r, true)
}

// EncodeRecordPre121 serializes r in the pre-12.1 format: vectors at offset
// 24, no con_id/flg_record in the vector envelope.
func EncodeRecordPre121(r Record) []byte {
	return encodeRecord(r, false)
}

func encodeRecord(r Record, post121 bool) []byte {
	headerSize := 24
	if post121 {
		headerSize = 32
	}
	var body []byte
	for _, v := range r.Vectors {
		body = append(body, encodeVector(v, post121)...)
	}

	total := headerSize + len(body)
	out := make([]byte, headerSize, total)
	binary.LittleEndian.PutUint32(out[0:4], uint32(total))
	putScn48(out[4:10], r.Scn)
	binary.LittleEndian.PutUint16(out[10:12], uint16(r.SubScn))
	binary.LittleEndian.PutUint16(out[12:14], uint16(len(r.Vectors)))
	// remaining header bytes reserved/alignment padding.
	out = append(out, body...)
	return out
}

// encodeVector lays one vector down: the envelope (24 bytes, plus
// con_id/flg_record up to 32 on 12.1+), then the field table — a u16 raw
// count of (field_count+1)*2 followed by the u16 sizes — then each field
// padded to 4 bytes.
func encodeVector(v Vector, post121 bool) []byte {
	fieldOffset := 24
	if post121 {
		fieldOffset = 32
	}
	cntRaw := (len(v.Fields) + 1) * 2
	tableBytes := (cntRaw + 2) &^ 3

	fieldsLen := 0
	for _, f := range v.Fields {
		fieldsLen += pad4(len(f.Data))
	}

	out := make([]byte, fieldOffset+tableBytes+fieldsLen)
	out[0] = v.Layer
	out[1] = v.Sub
	binary.LittleEndian.PutUint16(out[2:4], v.Cls)
	binary.LittleEndian.PutUint16(out[4:6], v.Afn)
	binary.LittleEndian.PutUint32(out[8:12], uint32(v.Dba))
	putScn48(out[12:18], v.ScnRecord)
	out[20] = v.Seq
	out[21] = v.Typ
	if post121 {
		binary.LittleEndian.PutUint16(out[24:26], v.ConId)
		binary.LittleEndian.PutUint16(out[28:30], v.FlgRecord)
	}

	binary.LittleEndian.PutUint16(out[fieldOffset:fieldOffset+2], uint16(cntRaw))
	for i, f := range v.Fields {
		binary.LittleEndian.PutUint16(out[fieldOffset+2+i*2:fieldOffset+4+i*2], uint16(len(f.Data)))
	}

	cursor := fieldOffset + tableBytes
	for _, f := range v.Fields {
		copy(out[cursor:cursor+len(f.Data)], f.Data)
		cursor += pad4(len(f.Data))
	}
	return out
}

func putScn48(dst []byte, scn redo.Scn) {
	v := uint64(scn)
	for i := 0; i < 6; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

func pad4(n int) int { return (n + 3) &^ 3 }

// LwnHeaderSize mirrors redo.LwnHeaderSize for callers building a full group.
const LwnHeaderSize = redo.LwnHeaderSize

// EncodeLwnHeader builds one 68-byte LWN header: group number num, the
// group's total header count numMax, and sizeBlocks blocks until the next
// header, stamped at scn.
func EncodeLwnHeader(scn redo.Scn, num, numMax uint16, sizeBlocks uint32) []byte {
	out := make([]byte, LwnHeaderSize)
	out[4] = redo.LwnVldFullHeader
	binary.LittleEndian.PutUint16(out[24:26], num)
	binary.LittleEndian.PutUint16(out[26:28], numMax)
	binary.LittleEndian.PutUint32(out[28:32], sizeBlocks)
	putScn48(out[40:46], scn)
	// timestamp at 64 left zero: the oracle epoch.
	return out
}

// EncodeGroup concatenates a single-header group into one byte stream — the
// header followed by each record back to back — as LwnAssembler.Feed
// consumes it once the caller strips the header. Tests that want to
// exercise straddling call Feed in caller-chosen chunks of this stream
// instead of all at once.
func EncodeGroup(scn redo.Scn, records []Record) []byte {
	var body []byte
	for _, r := range records {
		body = append(body, EncodeRecord(r)...)
	}
	header := EncodeLwnHeader(scn, 1, 1, 0)
	return append(header, body...)
}

// FileHeader carries the attributes EncodeFileHeader stamps into block 0 of
// a synthetic log. A zero Version encodes as 12.2.
type FileHeader struct {
	BlockSize  uint32
	Seq        redo.Seq
	Resetlogs  uint32
	Activation uint32
	FirstScn   redo.Scn
	NextScn    redo.Scn
	Version    redo.Version
}

// EncodeFileHeader builds the first block of a log file.
func EncodeFileHeader(h FileHeader) []byte {
	if h.Version == 0 {
		h.Version = redo.Version12_2
	}
	out := make([]byte, h.BlockSize)
	out[1] = 0x7D // little-endian marker
	binary.LittleEndian.PutUint16(out[20:22], uint16(h.BlockSize))
	binary.LittleEndian.PutUint32(out[24:28], uint32(h.Seq))
	binary.LittleEndian.PutUint32(out[28:32], h.Resetlogs)
	binary.LittleEndian.PutUint32(out[32:36], h.Activation)
	putScn48(out[36:42], h.FirstScn)
	putScn48(out[44:50], h.NextScn)
	binary.LittleEndian.PutUint32(out[52:56], uint32(h.Version))
	return out
}

// Group is one LWN group to frame into blocks: the SCN it was written at
// and the records it carries. Writes, when set, splits the group into that
// many chained headers (one per element), the way the redo writer chains
// several physical writes into one logical group; otherwise the whole
// group rides behind a single header.
type Group struct {
	Scn     redo.Scn
	Records []Record
	Writes  [][]Record
}

func (g Group) writes() [][]Record {
	if g.Writes != nil {
		return g.Writes
	}
	return [][]Record{g.Records}
}

// BuildLog frames hdr and groups into a complete sequence of fixed-size
// blocks: block 0 is the file header, and each group's chained headers
// start on block boundaries with records flowing across blocks as they do
// on disk. The result is what a BlockSource serves.
func BuildLog(hdr FileHeader, groups []Group) [][]byte {
	if hdr.Version == 0 {
		hdr.Version = redo.Version12_2
	}
	post121 := hdr.Version >= redo.Version12_1
	blockSize := int(hdr.BlockSize)
	payloadPerBlock := blockSize - redo.BlockHeaderSize

	blocks := [][]byte{EncodeFileHeader(hdr)}
	for gi, g := range groups {
		writes := g.writes()
		num := uint16(gi + 1)
		numMax := uint16(len(writes))
		for _, records := range writes {
			var body []byte
			for _, r := range records {
				body = append(body, encodeRecord(r, post121)...)
			}
			sizeBlocks := uint32((LwnHeaderSize + len(body) + payloadPerBlock - 1) / payloadPerBlock)
			stream := append(EncodeLwnHeader(g.Scn, num, numMax, sizeBlocks), body...)

			for pos := 0; pos < len(stream); pos += payloadPerBlock {
				end := pos + payloadPerBlock
				if end > len(stream) {
					end = len(stream)
				}
				block := make([]byte, blockSize)
				block[0] = 0x22
				copy(block[redo.BlockHeaderSize:], stream[pos:end])
				blocks = append(blocks, block)
			}
		}
	}
	return blocks
}
