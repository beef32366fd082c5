// Package schema defines the read-only schema lookup the parser consults to
// resolve object ids to tables, columns and LOB segments. Population of the
// schema (from a live database dictionary or a saved snapshot) happens
// outside the core; the parser only ever reads through the View interface.
package schema

import (
	"sync"

	"github.com/leengari/oracdc/internal/filterexpr"
	"github.com/leengari/oracdc/internal/redo"
)

// Table option bits.
const (
	OptionSystem uint64 = 1 << iota
	OptionSchema
	OptionDebugTable
)

// Column describes one table column as the parser needs it: enough to map a
// redo column index to a name and to know whether absence means NULL.
type Column struct {
	Num      int
	Name     string
	Type     string
	Nullable bool
	Length   int
}

// Lob describes one LOB segment. The owning table is referenced by object id
// rather than a back-pointer; callers resolve it through the View when they
// need the table.
type Lob struct {
	Obj      redo.TypeObj
	DataObj  redo.TypeDataObj
	TableObj redo.TypeObj
	Col      int
	PageSize uint32
}

// Table describes one replicated table.
type Table struct {
	Obj     redo.TypeObj
	DataObj redo.TypeDataObj
	Owner   string
	Name    string
	Options uint64
	Columns []Column
	Lobs    []Lob

	// Condition is the optional row-filter expression; nil means replicate
	// everything.
	Condition *filterexpr.Expression
}

// IsSystem reports whether the table is one of Oracle's own dictionary
// tables.
func (t *Table) IsSystem() bool { return t.Options&OptionSystem != 0 }

// IsSchemaTable reports whether the table is part of the replicated schema's
// bookkeeping rather than user data.
func (t *Table) IsSchemaTable() bool { return t.Options&OptionSchema != 0 }

// IsDebug reports whether extra per-row diagnostics were requested for this
// table.
func (t *Table) IsDebug() bool { return t.Options&OptionDebugTable != 0 }

// FullName returns OWNER.NAME.
func (t *Table) FullName() string { return t.Owner + "." + t.Name }

// View is the lookup interface the parser holds. Implementations must keep
// lookups stable between RLock/RUnlock pairs; updates (from the schema
// loader) happen only between LWN group boundaries.
type View interface {
	LookupTable(obj redo.TypeObj) (*Table, bool)
	LookupLob(dataObj redo.TypeDataObj) (*Lob, bool)
	LookupLobIndex(dataObj redo.TypeDataObj) (*Lob, bool)
	RLock()
	RUnlock()
}

// Memory is an in-process View backed by maps, used by tests and by hosts
// that load the whole schema up front.
type Memory struct {
	mu         sync.RWMutex
	tables     map[redo.TypeObj]*Table
	byName     map[string]*Table
	lobs       map[redo.TypeDataObj]*Lob
	lobIndexes map[redo.TypeDataObj]*Lob
}

// NewMemory builds an empty in-memory schema.
func NewMemory() *Memory {
	return &Memory{
		tables:     make(map[redo.TypeObj]*Table),
		byName:     make(map[string]*Table),
		lobs:       make(map[redo.TypeDataObj]*Lob),
		lobIndexes: make(map[redo.TypeDataObj]*Lob),
	}
}

// AddTable registers t, replacing any previous registration for its object
// id. Keyed primarily by the numeric object id; the (owner, name) index is
// secondary since only obj is guaranteed unique across renames within one
// incarnation.
func (m *Memory) AddTable(t *Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[t.Obj] = t
	m.byName[t.FullName()] = t
	for i := range t.Lobs {
		lob := &t.Lobs[i]
		m.lobs[lob.DataObj] = lob
	}
}

// AddLobIndex registers the LOB index segment for a LOB, keyed by the index
// segment's data object id.
func (m *Memory) AddLobIndex(dataObj redo.TypeDataObj, lob *Lob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lobIndexes[dataObj] = lob
}

func (m *Memory) LookupTable(obj redo.TypeObj) (*Table, bool) {
	t, ok := m.tables[obj]
	return t, ok
}

// LookupTableByName resolves OWNER.NAME, for hosts configuring filters by
// name rather than object id.
func (m *Memory) LookupTableByName(owner, name string) (*Table, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byName[owner+"."+name]
	return t, ok
}

func (m *Memory) LookupLob(dataObj redo.TypeDataObj) (*Lob, bool) {
	l, ok := m.lobs[dataObj]
	return l, ok
}

func (m *Memory) LookupLobIndex(dataObj redo.TypeDataObj) (*Lob, bool) {
	l, ok := m.lobIndexes[dataObj]
	return l, ok
}

func (m *Memory) RLock()   { m.mu.RLock() }
func (m *Memory) RUnlock() { m.mu.RUnlock() }
