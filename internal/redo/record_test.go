package redo_test

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/leengari/oracdc/internal/redo"
	"github.com/leengari/oracdc/internal/redo/synth"
)

func TestRecordSplitterSplitsVectorsAndFields(t *testing.T) {
	rec := synth.Record{
		Scn:    redo.Scn(0xABCDEF),
		SubScn: redo.SubScn(3),
		Vectors: []synth.Vector{
			{
				Layer: 11, Sub: 2,
				ConId: 5, FlgRecord: 0x20,
				Fields: []synth.Field{
					{Data: []byte{1, 2, 3}},
					{Data: []byte{4, 5}},
				},
			},
			{
				Layer: 5, Sub: 4,
				Fields: []synth.Field{
					{Data: []byte("hello")},
				},
			},
		},
	}
	data := synth.EncodeRecord(rec)

	splitter := redo.NewRecordSplitter(redo.Version19_0)
	parsed, err := splitter.Split(data, redo.FileOffset{Block: 1, BlockSize: 512})
	assert.NilError(t, err)

	assert.Equal(t, parsed.Header.Scn, redo.Scn(0xABCDEF))
	assert.Equal(t, parsed.Header.SubScn, redo.SubScn(3))
	assert.Equal(t, len(parsed.Vectors), 2)

	v0 := parsed.Vectors[0]
	assert.Equal(t, v0.Layer, uint8(11))
	assert.Equal(t, v0.Sub, uint8(2))
	assert.Equal(t, v0.ConId, uint16(5))
	assert.Equal(t, v0.FlgRecord, uint16(0x20))
	f0, err := v0.Field(0)
	assert.NilError(t, err)
	assert.DeepEqual(t, f0, []byte{1, 2, 3})
	f1, err := v0.Field(1)
	assert.NilError(t, err)
	assert.DeepEqual(t, f1, []byte{4, 5})

	_, err = v0.Field(2)
	assert.ErrorType(t, err, &redo.TruncatedField{})
	assert.Equal(t, v0.FieldOpt(2) == nil, true)

	v1 := parsed.Vectors[1]
	assert.Equal(t, v1.Layer, uint8(5))
	f, err := v1.Field(0)
	assert.NilError(t, err)
	assert.Equal(t, string(f), "hello")
}

func TestRecordSplitterPre121Layout(t *testing.T) {
	// Pre-12.1 records start their vectors at offset 24 and the vector
	// envelope carries no con_id/flg_record.
	rec := synth.Record{
		Scn: 9,
		Vectors: []synth.Vector{
			{
				Layer: 11, Sub: 2, Typ: 0x04, Cls: 17,
				Fields: []synth.Field{{Data: []byte("col")}},
			},
		},
	}
	data := synth.EncodeRecordPre121(rec)

	splitter := redo.NewRecordSplitter(0x0B200000) // 11.2
	parsed, err := splitter.Split(data, redo.FileOffset{})
	assert.NilError(t, err)
	assert.Equal(t, len(parsed.Vectors), 1)
	v := parsed.Vectors[0]
	assert.Equal(t, v.Cls, uint16(17))
	assert.Equal(t, v.Typ, uint8(0x04))
	assert.Equal(t, v.ConId, uint16(0))
	assert.Equal(t, v.FlgRecord, uint16(0))
	f, err := v.Field(0)
	assert.NilError(t, err)
	assert.Equal(t, string(f), "col")

	// The same bytes read with a 12.1+ splitter desync: the field table is
	// eight bytes off and the split must not succeed silently with the
	// right field.
	wrong := redo.NewRecordSplitter(redo.Version12_1)
	parsedWrong, err := wrong.Split(data, redo.FileOffset{})
	if err == nil {
		got, ferr := parsedWrong.Vectors[0].Field(0)
		if ferr == nil {
			assert.Assert(t, string(got) != "col")
		}
	}
}

func TestRecordSplitterTruncatedHeader(t *testing.T) {
	splitter := redo.NewRecordSplitter(redo.Version12_2)
	_, err := splitter.Split([]byte{1, 2, 3}, redo.FileOffset{})
	assert.ErrorType(t, err, &redo.TruncatedField{})
}

func TestRecordSplitterRejectsMalformedFieldCount(t *testing.T) {
	rec := synth.Record{Scn: 1, Vectors: []synth.Vector{{Layer: 5, Sub: 1}}}
	data := synth.EncodeRecord(rec)
	// Stamp an odd raw field count into the table (vector at 32, envelope
	// of 32 bytes, so the count sits at 64).
	data[64] = 3
	data[65] = 0
	_, err := redo.NewRecordSplitter(redo.Version12_2).Split(data, redo.FileOffset{})
	assert.ErrorType(t, err, &redo.RedoFramingError{})
}
