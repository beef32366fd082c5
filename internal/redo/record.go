package redo

// Version is the redo-format version stamped in the file header, in
// Oracle's packed hex form (0x0C100000 = 12.1).
type Version uint32

// Redo-format versions the splitter cares about: 12.1 is where the vector
// header grew con_id/flg_record and the field table moved from offset 24 to
// 32.
const (
	Version12_1 Version = 0x0C100000
	Version12_2 Version = 0x0C200000
	Version19_0 Version = 0x13000000
)

// recordHeaderSize is the size of the fixed portion of a redo record header
// preceding its change vectors on pre-12.1 logs; 12.1+ records reserve
// eight more bytes.
const recordHeaderSize = 24

const recordHeaderSize121 = 32

// RecordHeader is the fixed portion of one redo record, shared by every
// vector it carries.
type RecordHeader struct {
	Length     uint32
	Scn        Scn
	SubScn     SubScn
	VectorSize uint16
}

// RedoLogRecord is the normalized, fully-parsed form of one redo record:
// its header plus the ordered list of change vectors it carries, each still
// holding its own raw field table for the opcode dispatcher to interpret.
type RedoLogRecord struct {
	Header  RecordHeader
	Vectors []ChangeVector
	Offset  FileOffset
}

// ChangeVector is one (layer, sub) change entry inside a record, with its
// field table already split into individually bounds-checked fields. The
// envelope fields are the attributes every opcode handler may need
// regardless of layer; ConId and FlgRecord exist only on 12.1+ logs and
// stay zero for older ones.
type ChangeVector struct {
	Layer     uint8
	Sub       uint8
	Cls       uint16
	Afn       uint16
	Dba       Dba
	ScnRecord Scn
	Seq       uint8
	Typ       uint8
	ConId     uint16
	FlgRecord uint16
	Fields    [][]byte
}

// Field returns the field at idx, or TruncatedField if the vector doesn't
// carry that many fields — the bounds-checked accessor every opcode handler
// goes through instead of indexing Fields directly.
func (v ChangeVector) Field(idx int) ([]byte, error) {
	if idx < 0 || idx >= len(v.Fields) {
		return nil, &TruncatedField{Field: "vector_field", Want: idx + 1, Have: len(v.Fields)}
	}
	return v.Fields[idx], nil
}

// FieldOpt returns the field at idx, or nil with no error if the vector has
// fewer fields than idx — used for trailing optional fields (many KDO
// vectors grow extra trailing fields across Oracle versions) where absence
// is a normal, not-truncated, condition.
func (v ChangeVector) FieldOpt(idx int) []byte {
	if idx < 0 || idx >= len(v.Fields) {
		return nil
	}
	return v.Fields[idx]
}

// RecordSplitter parses one whole record (as handed over by the
// LwnAssembler) into its RecordHeader and ordered ChangeVectors, decoding
// each vector's field-count/field-size table and slicing out the
// individually 4-byte-padded fields it describes. The redo-format version
// fixes where vectors start within the record and whether each vector
// header carries con_id/flg_record.
type RecordSplitter struct {
	post121 bool
}

// NewRecordSplitter constructs a splitter for logs written at version. It
// carries no mutable state; one instance can be reused across records.
func NewRecordSplitter(version Version) *RecordSplitter {
	return &RecordSplitter{post121: version >= Version12_1}
}

// vectorStart returns the offset of the first change vector within a
// record.
func (s *RecordSplitter) vectorStart() int {
	if s.post121 {
		return recordHeaderSize121
	}
	return recordHeaderSize
}

// Split parses data (one complete record, header and all vectors, as
// produced by LwnAssembler.Drain) into a RedoLogRecord.
func (s *RecordSplitter) Split(data []byte, off FileOffset) (RedoLogRecord, error) {
	if len(data) < s.vectorStart() {
		return RedoLogRecord{}, &TruncatedField{Field: "record_header", Want: s.vectorStart(), Have: len(data)}
	}
	r := NewBinaryReader(data, ByteOrder)
	length, err := r.U32(0)
	if err != nil {
		return RedoLogRecord{}, err
	}
	scn, err := r.Scn(4)
	if err != nil {
		return RedoLogRecord{}, err
	}
	subScn, err := r.U16(10)
	if err != nil {
		return RedoLogRecord{}, err
	}
	vectorCount, err := r.U16(12)
	if err != nil {
		return RedoLogRecord{}, err
	}

	header := RecordHeader{
		Length:     length,
		Scn:        scn,
		SubScn:     SubScn(subScn),
		VectorSize: vectorCount,
	}

	pos := s.vectorStart()
	vectors := make([]ChangeVector, 0, vectorCount)
	for i := uint16(0); i < vectorCount; i++ {
		v, next, err := s.splitVector(data, pos)
		if err != nil {
			return RedoLogRecord{}, err
		}
		vectors = append(vectors, v)
		pos = next
	}

	return RedoLogRecord{Header: header, Vectors: vectors, Offset: off}, nil
}

// vectorEnvelopeSize is the version-independent prefix of one change
// vector: opcode (layer:8, sub:8), cls:16, afn:16, dba:32, scn_record:48,
// seq:8, typ:8. Pre-12.1 the field table follows immediately at 24; 12.1+
// inserts con_id at 24 and flg_record at 28 and the table starts at 32.
const vectorEnvelopeSize = 24

const vectorEnvelopeSize121 = 32

// splitVector decodes one change vector starting at pos: its envelope, its
// field-size table (a u16 raw count followed by the sizes; the raw count is
// (field_count+1)*2), and the field bytes themselves, each field padded up
// to a 4-byte boundary on disk. It returns the offset just past the vector
// so the caller can continue with the next one.
func (s *RecordSplitter) splitVector(data []byte, pos int) (ChangeVector, int, error) {
	fieldOffset := vectorEnvelopeSize
	if s.post121 {
		fieldOffset = vectorEnvelopeSize121
	}

	r := NewBinaryReader(data, ByteOrder)
	if err := r.require("vector_header", pos, fieldOffset); err != nil {
		return ChangeVector{}, 0, err
	}
	layer, _ := r.U8(pos)
	sub, _ := r.U8(pos + 1)
	cls, _ := r.U16(pos + 2)
	afn, _ := r.U16(pos + 4)
	dba, _ := r.Dba(pos + 8)
	scnRecord, _ := r.Scn(pos + 12)
	seq, _ := r.U8(pos + 20)
	typ, _ := r.U8(pos + 21)
	var conId, flgRecord uint16
	if s.post121 {
		conId, _ = r.U16(pos + 24)
		flgRecord, _ = r.U16(pos + 28)
	}

	tableOff := pos + fieldOffset
	cntRaw, err := r.U16(tableOff)
	if err != nil {
		return ChangeVector{}, 0, err
	}
	if cntRaw < 2 || cntRaw%2 != 0 {
		return ChangeVector{}, 0, &RedoFramingError{Reason: "malformed vector field count"}
	}
	fieldCount := int(cntRaw-2) / 2
	sizesBytes := fieldCount * 2
	if err := r.require("field_size_table", tableOff+2, sizesBytes); err != nil {
		return ChangeVector{}, 0, err
	}

	sizes := make([]uint16, fieldCount)
	for i := range sizes {
		sz, err := r.U16(tableOff + 2 + i*2)
		if err != nil {
			return ChangeVector{}, 0, err
		}
		sizes[i] = sz
	}

	cursor := tableOff + (int(cntRaw+2) &^ 3)
	fields := make([][]byte, fieldCount)
	for i, sz := range sizes {
		field, err := r.Bytes(cursor, int(sz))
		if err != nil {
			return ChangeVector{}, 0, err
		}
		fields[i] = field
		cursor += pad4(int(sz))
	}

	v := ChangeVector{
		Layer: layer, Sub: sub, Cls: cls, Afn: afn,
		Dba: dba, ScnRecord: scnRecord, Seq: seq, Typ: typ,
		ConId: conId, FlgRecord: flgRecord, Fields: fields,
	}
	return v, cursor, nil
}

// pad4 rounds n up to the next multiple of 4, the alignment every redo
// vector field is padded to on disk.
func pad4(n int) int {
	return (n + 3) &^ 3
}
