package core

import (
	"time"

	"github.com/leengari/oracdc/internal/redo"
)

// EventType represents different lifecycle phases in a parse run
type EventType string

const (
	EventFileStart  EventType = "file_start"
	EventLwnStart   EventType = "lwn_start"
	EventLwnEnd     EventType = "lwn_end"
	EventTxnCommit  EventType = "txn_commit"
	EventCheckpoint EventType = "checkpoint"
	EventFileEnd    EventType = "file_end"
)

// Event represents a lifecycle event in a parse run
type Event struct {
	Type      EventType
	Scn       redo.Scn
	Seq       redo.Seq
	Timestamp time.Time   // When the event occurred
	Data      interface{} // Phase-specific data (e.g., block number, xid, op count)
}

// Observer interface for event subscribers
// Observers receive events at major parse phases
type Observer interface {
	OnEvent(event Event)
}
