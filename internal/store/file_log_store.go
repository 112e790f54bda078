package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/devrev/gamecatalog/internal/errors"
	"github.com/devrev/gamecatalog/internal/model"
	"go.uber.org/zap"
)

// maxLogLine bounds one JSON line; records carry free-text fields
const maxLogLine = 4 * 1024 * 1024

// FileLogStore implements LogStore as a JSON lines file
type FileLogStore struct {
	path       string
	syncWrites bool
	logger     *zap.Logger
	mu         sync.Mutex
}

// NewFileLogStore creates a file backed recovery log at path
func NewFileLogStore(path string, syncWrites bool, logger *zap.Logger) (*FileLogStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create recovery log directory: %w", err)
	}

	return &FileLogStore{
		path:       path,
		syncWrites: syncWrites,
		logger:     logger,
	}, nil
}

// Append appends an entry to the end of the log
func (s *FileLogStore) Append(ctx context.Context, entry *model.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	data = append(data, '\n')

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open recovery log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write to recovery log: %w", err)
	}

	if s.syncWrites {
		if err := file.Sync(); err != nil {
			return fmt.Errorf("failed to sync recovery log: %w", err)
		}
	}

	return file.Close()
}

// Load reads every entry. Lines that do not parse or fail their checksum are
// logged and skipped.
func (s *FileLogStore) Load(ctx context.Context) ([]*model.LogEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open recovery log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLogLine)

	entries := make([]*model.LogEntry, 0)
	corrupt := 0
	line := 0

	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		entry, err := decodeEntry(raw)
		if err != nil {
			corrupt++
			s.logger.Warn("Skipping corrupt recovery log line",
				zap.String("path", s.path),
				zap.Error(errors.LogCorrupt(line, err)))
			continue
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return entries, corrupt, fmt.Errorf("failed to read recovery log: %w", err)
	}

	return entries, corrupt, nil
}

// Rewrite replaces the log by writing a temporary file and renaming it over
// the old one
func (s *FileLogStore) Rewrite(ctx context.Context, entries []*model.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary recovery log: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("failed to marshal entry %s: %w", entry.ID, err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temporary recovery log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temporary recovery log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary recovery log: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace recovery log: %w", err)
	}

	if dir, err := os.Open(filepath.Dir(s.path)); err == nil {
		dir.Sync()
		dir.Close()
	}

	return nil
}

// Path returns the log file location
func (s *FileLogStore) Path() string {
	return s.path
}

// Close is a no-op; the file is opened per operation
func (s *FileLogStore) Close() error {
	return nil
}

func decodeEntry(raw []byte) (*model.LogEntry, error) {
	var entry model.LogEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	if err := validateEntry(&entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func validateEntry(entry *model.LogEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("entry has no id")
	}
	if !entry.Action.Valid() {
		return fmt.Errorf("unknown action %q", entry.Action)
	}
	if !entry.TargetNode.Valid() {
		return fmt.Errorf("unknown target node %q", entry.TargetNode)
	}
	if !entry.Verify() {
		return fmt.Errorf("checksum mismatch for entry %s", entry.ID)
	}
	return nil
}
