// Package checkpoint persists and restores the parser's resume point: the
// durable (sequence, block, SCN, oldest-in-flight-transaction) snapshot that
// lets a restart reproduce the same output stream.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/leengari/oracdc/internal/redo"
)

// Name keys one persisted state blob.
type Name string

// NameCheckpoint is the resume-point blob; schema snapshots ride alongside
// under per-SCN names.
const NameCheckpoint Name = "checkpoint"

// SchemaName returns the name a schema snapshot taken at scn is stored
// under.
func SchemaName(scn redo.Scn) Name {
	return Name(fmt.Sprintf("schema_%d", uint64(scn)))
}

// MaxPayload bounds a single Read; a state blob larger than this is corrupt
// by definition.
const MaxPayload = 16 << 20

// StateStore is the persistence collaborator. Write must replace
// atomically: a reader never observes a half-written blob.
type StateStore interface {
	List() ([]Name, error)
	Read(name Name) ([]byte, bool, error)
	Write(name Name, scn redo.Scn, data []byte) error
	Drop(name Name) error
}

// FileStore is the disk-backed StateStore: one JSON file per name under a
// directory, replaced via temp file + rename.
type FileStore struct {
	dir string
}

// NewFileStore builds a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name Name) string {
	return filepath.Join(s.dir, string(name)+".json")
}

func (s *FileStore) List() ([]Name, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []Name
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, Name(strings.TrimSuffix(e.Name(), ".json")))
	}
	return names, nil
}

func (s *FileStore) Read(name Name) ([]byte, bool, error) {
	f, err := os.Open(s.path(name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxPayload+1))
	if err != nil {
		return nil, false, err
	}
	if len(data) > MaxPayload {
		return nil, false, fmt.Errorf("state blob %s exceeds %d bytes", name, MaxPayload)
	}
	return data, true, nil
}

func (s *FileStore) Write(name Name, scn redo.Scn, data []byte) error {
	target := s.path(name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp state file for %s: %w", name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename temp state file for %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) Drop(name Name) error {
	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Payload is the JSON document persisted under the checkpoint name. The
// Min* fields are null when no transaction was in flight at checkpoint
// time.
type Payload struct {
	Resetlogs          uint32  `json:"resetlogs"`
	Activation         uint32  `json:"activation"`
	Sequence           uint32  `json:"sequence"`
	FileOffsetBlock    uint64  `json:"file_offset_block"`
	Scn                uint64  `json:"scn"`
	TimestampEpoch     int64   `json:"timestamp_epoch"`
	LwnIdx             uint32  `json:"lwn_idx"`
	MinSequence        *uint32 `json:"min_sequence"`
	MinFileOffsetBlock *uint64 `json:"min_file_offset_block"`
	MinXid             *string `json:"min_xid"`
}

// Encode marshals the payload.
func (p *Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload unmarshals a checkpoint blob.
func DecodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &p, nil
}

// ResumeBlock returns the block the parser restarts at: the older of the
// checkpointed position and the oldest in-flight transaction's first
// record, since that transaction's vectors must be re-read to re-buffer it.
func (p *Payload) ResumeBlock() uint64 {
	if p.MinFileOffsetBlock != nil && *p.MinFileOffsetBlock < p.FileOffsetBlock {
		return *p.MinFileOffsetBlock
	}
	return p.FileOffsetBlock
}
