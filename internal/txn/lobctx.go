package txn

import (
	"log/slog"
	"sort"

	"github.com/leengari/oracdc/internal/redo"
)

// DefaultLobPageSize is the page size assumed when the schema's LOB entry
// doesn't declare one. A page whose actual size disagrees is surfaced with a
// warning the first time rather than silently clamped.
const DefaultLobPageSize = 8132

// LobCtx is one transaction's LOB page store: for each lob_id, the pages
// written so far keyed by page number. Pages arrive in redo order, which is
// not page order; Pages() sorts on read.
type LobCtx struct {
	pages map[redo.LobId]map[uint32][]byte
	sizeWarned map[redo.LobId]struct{}
}

// NewLobCtx builds an empty page store.
func NewLobCtx() *LobCtx {
	return &LobCtx{pages: make(map[redo.LobId]map[uint32][]byte)}
}

// AddPage stores one page, overwriting a duplicate page number — redo can
// legitimately rewrite a page within one transaction, and the last write
// wins.
func (l *LobCtx) AddPage(lobId redo.LobId, pageNo uint32, data []byte) {
	m, ok := l.pages[lobId]
	if !ok {
		m = make(map[uint32][]byte)
		l.pages[lobId] = m
	}
	m[pageNo] = data
}

// CheckPageSize compares a page's declared size against what the schema
// says (or the default when the schema is silent), warning once per lob on
// disagreement.
func (l *LobCtx) CheckPageSize(lobId redo.LobId, declared uint32, schemaPageSize uint32, log *slog.Logger) uint32 {
	expect := schemaPageSize
	if expect == 0 {
		expect = DefaultLobPageSize
	}
	if declared != 0 && declared != expect {
		if l.sizeWarned == nil {
			l.sizeWarned = make(map[redo.LobId]struct{})
		}
		if _, seen := l.sizeWarned[lobId]; !seen {
			l.sizeWarned[lobId] = struct{}{}
			if log != nil {
				log.Warn("LOB page size disagrees with schema",
					"lob", lobId.String(), "declared", declared, "expected", expect)
			}
		}
		return declared
	}
	return expect
}

// Page is one (page_no, bytes) pair of a LOB.
type Page struct {
	PageNo uint32
	Data   []byte
}

// Pages returns the pages of lobId in page-number order.
func (l *LobCtx) Pages(lobId redo.LobId) []Page {
	m, ok := l.pages[lobId]
	if !ok {
		return nil
	}
	out := make([]Page, 0, len(m))
	for no, data := range m {
		out = append(out, Page{PageNo: no, Data: data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNo < out[j].PageNo })
	return out
}

// Lobs lists the lob ids with at least one page, in unspecified order.
func (l *LobCtx) Lobs() []redo.LobId {
	out := make([]redo.LobId, 0, len(l.pages))
	for id := range l.pages {
		out = append(out, id)
	}
	return out
}

// PageCount returns the number of pages held for lobId.
func (l *LobCtx) PageCount(lobId redo.LobId) int {
	return len(l.pages[lobId])
}
