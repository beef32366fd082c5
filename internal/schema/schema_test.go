package schema

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/leengari/oracdc/internal/filterexpr"
	"github.com/leengari/oracdc/internal/redo"
)

func TestMemoryLookup(t *testing.T) {
	m := NewMemory()
	tbl := &Table{
		Obj:     100,
		DataObj: 101,
		Owner:   "SCOTT",
		Name:    "EMP",
		Columns: []Column{{Num: 1, Name: "EMPNO"}, {Num: 2, Name: "ENAME", Nullable: true}},
		Lobs:    []Lob{{Obj: 200, DataObj: 201, TableObj: 100, Col: 3, PageSize: 8132}},
	}
	m.AddTable(tbl)
	m.AddLobIndex(301, &tbl.Lobs[0])

	got, ok := m.LookupTable(100)
	assert.Assert(t, ok)
	assert.Equal(t, got.FullName(), "SCOTT.EMP")

	_, ok = m.LookupTable(999)
	assert.Assert(t, !ok)

	lob, ok := m.LookupLob(201)
	assert.Assert(t, ok)
	assert.Equal(t, lob.TableObj, redo.TypeObj(100))

	idx, ok := m.LookupLobIndex(301)
	assert.Assert(t, ok)
	assert.Equal(t, idx.DataObj, redo.TypeDataObj(201))

	byName, ok := m.LookupTableByName("SCOTT", "EMP")
	assert.Assert(t, ok)
	assert.Equal(t, byName.Obj, redo.TypeObj(100))
}

func TestTableOptions(t *testing.T) {
	tbl := &Table{Options: OptionSystem | OptionDebugTable}
	assert.Assert(t, tbl.IsSystem())
	assert.Assert(t, tbl.IsDebug())
	assert.Assert(t, !tbl.IsSchemaTable())
}

func TestTableCondition(t *testing.T) {
	cond, err := filterexpr.Parse("[os_user_name] == 'batch'")
	assert.NilError(t, err)
	tbl := &Table{Condition: cond}
	assert.Assert(t, tbl.Condition.Eval(filterexpr.AttributeMap{filterexpr.AttrOsUserName: "batch"}))
	assert.Assert(t, !tbl.Condition.Eval(filterexpr.AttributeMap{filterexpr.AttrOsUserName: "other"}))

	var none *Table = &Table{}
	assert.Assert(t, none.Condition.Eval(nil))
}
