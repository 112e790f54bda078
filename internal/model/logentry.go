package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/devrev/gamecatalog/internal/util"
	"github.com/google/uuid"
)

// Action is the kind of write a log entry replays
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Valid reports whether the action is replayable
func (a Action) Valid() bool {
	return a == ActionInsert || a == ActionUpdate || a == ActionDelete
}

// LogEntry is one pending write that failed against TargetNode
type LogEntry struct {
	ID         string          `json:"id"`
	Action     Action          `json:"action"`
	TargetNode NodeRole        `json:"target_node"`
	Statement  string          `json:"statement"`
	Params     json.RawMessage `json:"params"`
	Timestamp  time.Time       `json:"timestamp"`
	Checksum   uint32          `json:"checksum"`
}

// IdentifierParams is the payload of a delete entry
type IdentifierParams struct {
	InfoID int64 `json:"info_id"`
}

// NewLogEntry builds a sealed entry. params is the full record for inserts
// and updates and IdentifierParams for deletes.
func NewLogEntry(action Action, target NodeRole, statement string, params interface{}) (*LogEntry, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal log params: %w", err)
	}
	entry := &LogEntry{
		ID:         uuid.New().String(),
		Action:     action,
		TargetNode: target,
		Statement:  statement,
		Params:     raw,
		// microsecond precision survives every log backend unchanged
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
	}
	entry.Seal()
	return entry, nil
}

// InfoID extracts the record identifier from the params
func (e *LogEntry) InfoID() (int64, error) {
	var p IdentifierParams
	if err := json.Unmarshal(e.Params, &p); err != nil {
		return 0, fmt.Errorf("failed to decode log params: %w", err)
	}
	return p.InfoID, nil
}

// Record decodes the full record payload of an insert or update entry
func (e *LogEntry) Record() (*Record, error) {
	var rec Record
	if err := json.Unmarshal(e.Params, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode log record: %w", err)
	}
	return &rec, nil
}

// Seal computes and stores the checksum
func (e *LogEntry) Seal() {
	e.Checksum = util.ComputeChecksum(e.checksumInput())
}

// Verify reports whether the stored checksum matches the entry's fields
func (e *LogEntry) Verify() bool {
	return util.ValidateChecksum(e.checksumInput(), e.Checksum)
}

func (e *LogEntry) checksumInput() []byte {
	buf := make([]byte, 0, 128+len(e.Params))
	buf = append(buf, e.ID...)
	buf = append(buf, '|')
	buf = append(buf, e.Action...)
	buf = append(buf, '|')
	buf = append(buf, e.TargetNode...)
	buf = append(buf, '|')
	buf = append(buf, e.Statement...)
	buf = append(buf, '|')
	buf = append(buf, e.Params...)
	buf = append(buf, '|')
	buf = strconv.AppendInt(buf, e.Timestamp.UTC().UnixMicro(), 10)
	return buf
}
