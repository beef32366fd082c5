package opcode

import (
	"encoding/binary"
	"errors"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/leengari/oracdc/internal/redo"
)

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func xidBytes(x redo.Xid) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:2], uint16(x.Usn()))
	binary.LittleEndian.PutUint16(b[2:4], uint16(x.Slt()))
	binary.LittleEndian.PutUint32(b[4:8], uint32(x.Sqn()))
	return b
}

func TestDispatchUndoHeader(t *testing.T) {
	d := NewDispatcher()
	v := redo.ChangeVector{
		Layer:  5,
		Sub:    1,
		Fields: [][]byte{le32(0x1234), le32(0x1235)},
	}
	row, err := d.Dispatch(v)
	assert.NilError(t, err)
	assert.Equal(t, row.Obj, redo.TypeObj(0x1234))
	assert.Equal(t, row.DataObj, redo.TypeDataObj(0x1235))
	assert.Equal(t, row.Op, OpUndoHeader)
}

func TestDispatchBeginTransaction(t *testing.T) {
	d := NewDispatcher()
	xid := redo.NewXid(1, 2, 3)
	v := redo.ChangeVector{
		Layer:  5,
		Sub:    2,
		Fields: [][]byte{xidBytes(xid)},
	}
	row, err := d.Dispatch(v)
	assert.NilError(t, err)
	assert.Equal(t, row.Xid, xid)
}

func TestDispatchCommitRollbackFlag(t *testing.T) {
	d := NewDispatcher()
	v := redo.ChangeVector{
		Layer:     5,
		Sub:       4,
		FlgRecord: FlgRollbackOp0504,
		Fields:    [][]byte{xidBytes(redo.NewXid(1, 2, 3))},
	}
	row, err := d.Dispatch(v)
	assert.NilError(t, err)
	assert.Assert(t, IsRollback(row.Flags))

	v.FlgRecord = 0
	row, err = d.Dispatch(v)
	assert.NilError(t, err)
	assert.Assert(t, !IsRollback(row.Flags))
}

func TestParseKtbWireBytes(t *testing.T) {
	// 0x11 = KTBOP_F | KTBOP_BLOCKCLEANOUT on the wire.
	f := make([]byte, 12)
	f[0] = 0x11
	copy(f[4:], xidBytes(redo.NewXid(3, 4, 5)))
	ktb, err := ParseKtb(f)
	assert.NilError(t, err)
	assert.Equal(t, ktb.Op, KtbOpF)
	assert.Assert(t, ktb.BlockCleanout)
	assert.Equal(t, ktb.Xid, redo.NewXid(3, 4, 5))

	// 0x02 = KTBOP_C, carrying an uba.
	c := make([]byte, 12)
	c[0] = 0x02
	binary.LittleEndian.PutUint32(c[4:8], 0xAABB)
	binary.LittleEndian.PutUint16(c[8:10], 0x11)
	c[10] = 0x7
	ktb, err = ParseKtb(c)
	assert.NilError(t, err)
	assert.Equal(t, ktb.Op, KtbOpC)
	assert.Assert(t, !ktb.BlockCleanout)
	assert.Equal(t, ktb.Uba, redo.NewUba(0xAABB, 0x11, 0x7))
}

func TestDispatchKdoInsert(t *testing.T) {
	d := NewDispatcher()
	ktb := make([]byte, 24)
	ktb[0] = KtbOpF
	copy(ktb[4:], xidBytes(redo.NewXid(9, 8, 7)))

	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint16(hdr[0:2], 42) // slot
	hdr[2] = FbF | FbL | FbH                    // fb
	hdr[3] = 2                                  // cc

	v := redo.ChangeVector{
		Layer: 11,
		Sub:   2,
		Typ:   KdoIRP,
		Dba:   redo.NewDba(3, 100),
		Fields: [][]byte{
			ktb,
			hdr,
			{0x01},                   // nulls bitmap
			[]byte("alpha"),          // col 0
			[]byte("beta"),           // col 1
		},
	}
	row, err := d.Dispatch(v)
	assert.NilError(t, err)
	assert.Equal(t, row.Slot, uint16(42))
	assert.Equal(t, row.Cc, uint8(2))
	assert.Equal(t, row.KdoOp, KdoIRP)
	assert.Equal(t, row.KtbOp, KtbOpF)
	assert.Equal(t, row.KtbXid, redo.NewXid(9, 8, 7))
	assert.Equal(t, len(row.SuppLogCols), 2)
	assert.DeepEqual(t, row.SuppLogCols[0], []byte("alpha"))
}

func TestDetectLobKey(t *testing.T) {
	key := make([]byte, 16)
	key[0] = lobKeyMarker
	for i := 1; i <= 10; i++ {
		key[i] = byte(i)
	}
	key[11] = 4
	key[12], key[13], key[14], key[15] = 0, 0, 0x01, 0x02 // page 0x0102 big-endian

	info, ok := DetectLobKey(key)
	assert.Assert(t, ok)
	assert.Equal(t, info.PageNo, uint32(0x0102))
	assert.Equal(t, info.LobId[0], byte(1))

	// Wrong length, wrong marker, wrong type byte all fail.
	_, ok = DetectLobKey(key[:15])
	assert.Assert(t, !ok)
	bad := append([]byte(nil), key...)
	bad[0] = 0x0B
	_, ok = DetectLobKey(bad)
	assert.Assert(t, !ok)
	bad = append([]byte(nil), key...)
	bad[11] = 5
	_, ok = DetectLobKey(bad)
	assert.Assert(t, !ok)
}

func TestDispatchLobDirectLoad(t *testing.T) {
	d := NewDispatcher()
	hdr := make([]byte, lobDirectHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], 77)
	binary.LittleEndian.PutUint32(hdr[4:8], 78)
	for i := 0; i < 10; i++ {
		hdr[8+i] = byte(0xA0 + i)
	}
	binary.LittleEndian.PutUint32(hdr[20:24], 5) // page_no
	page := []byte("lob page payload")
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(len(page)))

	v := redo.ChangeVector{Layer: 19, Sub: 1, Fields: [][]byte{hdr, page}}
	row, err := d.Dispatch(v)
	assert.NilError(t, err)
	assert.Equal(t, row.DataObj, redo.TypeDataObj(78))
	assert.Equal(t, row.LobPageNo, uint32(5))
	assert.DeepEqual(t, row.LobData, page)
	assert.Equal(t, row.LobDataSize, uint32(len(page)))
}

func TestDispatchKdliDataWithInfo(t *testing.T) {
	d := NewDispatcher()
	common := make([]byte, kdliCommonSize)
	common[0] = KdliOpLoad
	common[1] = KdliTypeData
	binary.LittleEndian.PutUint16(common[2:4], 8132)

	info := make([]byte, 16)
	info[0] = KdliCodeInfo
	for i := 0; i < 10; i++ {
		info[2+i] = byte(0xB0 + i)
	}
	binary.LittleEndian.PutUint32(info[12:16], 3)

	data := append([]byte{KdliCodeLoadData, 0, 0, 0}, []byte("chunk")...)

	v := redo.ChangeVector{Layer: 26, Sub: 2, Fields: [][]byte{common, info, data}}
	row, err := d.Dispatch(v)
	assert.NilError(t, err)
	assert.Equal(t, row.KdliOp, KdliOpLoad)
	assert.Equal(t, row.KdliType, KdliTypeData)
	assert.Equal(t, row.LobPageNo, uint32(3))
	assert.Equal(t, row.LobId[0], byte(0xB0))
	assert.DeepEqual(t, row.LobData, []byte("chunk"))
}

func TestDispatchKdliSuplogCarriesXid(t *testing.T) {
	d := NewDispatcher()
	common := make([]byte, kdliCommonSize)
	sup := make([]byte, 12)
	sup[0] = KdliCodeSuplog
	copy(sup[4:], xidBytes(redo.NewXid(4, 5, 6)))

	v := redo.ChangeVector{Layer: 26, Sub: 6, Fields: [][]byte{common, sup}}
	row, err := d.Dispatch(v)
	assert.NilError(t, err)
	assert.Equal(t, row.Xid, redo.NewXid(4, 5, 6))
}

func TestDispatchDDL(t *testing.T) {
	d := NewDispatcher()
	hdr := append(le32(901), le32(902)...)
	text := append([]byte("ALTER TABLE t ADD c NUMBER"), 0)
	v := redo.ChangeVector{Layer: 24, Sub: 1, Fields: [][]byte{hdr, text}}
	row, err := d.Dispatch(v)
	assert.NilError(t, err)
	assert.Equal(t, row.DdlObj, redo.TypeObj(901))
	assert.Equal(t, row.DdlText, "ALTER TABLE t ADD c NUMBER")
}

func TestDispatchUnknownOpcode(t *testing.T) {
	d := NewDispatcher()
	v := redo.ChangeVector{Layer: 0xFE, Sub: 0xFE}
	_, err := d.Dispatch(v)
	var unknown *redo.UnknownOpcode
	assert.Assert(t, errors.As(err, &unknown))
	assert.Equal(t, unknown.Layer, uint16(0xFE))
}
