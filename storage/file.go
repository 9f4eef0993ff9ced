package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eddielth/telemetry-bridge/logger"
	"github.com/eddielth/telemetry-bridge/transformer"
)

// FileStorage appends records as JSON lines to <dir>/LogsESP.jsonl.
type FileStorage struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewFileStorage creates basePath if needed and appends records to LogsESP.jsonl inside it.
func NewFileStorage(basePath string) (*FileStorage, error) {
	fs := &FileStorage{
		path: filepath.Join(basePath, TableName+".jsonl"),
		now:  time.Now,
	}

	if err := fs.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}

	logger.Info("init file storage: %s", fs.path)
	return fs, nil
}

// EnsureSchema creates the directory and an empty log file.
func (fs *FileStorage) EnsureSchema(_ context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(fs.path), 0755); err != nil {
		return fmt.Errorf("%w: create dir %s failed: %v", ErrStore, filepath.Dir(fs.path), err)
	}

	f, err := os.OpenFile(fs.path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: open %s failed: %v", ErrStore, fs.path, err)
	}
	return f.Close()
}

// Insert appends one line; the line is written with a single call.
func (fs *FileStorage) Insert(_ context.Context, record transformer.TelemetryRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	record.RegisteredAt = fs.now().UTC()
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: serialize record failed: %v", ErrStore, err)
	}
	line = append(line, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: open %s failed: %v", ErrStore, fs.path, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("%w: write %s failed: %v", ErrStore, fs.path, err)
	}

	logger.Debug("has stored telemetry to file: %s", fs.path)
	return nil
}

// Reset truncates the file.
func (fs *FileStorage) Reset(_ context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Truncate(fs.path, 0); err != nil {
		return fmt.Errorf("%w: truncate %s failed: %v", ErrStore, fs.path, err)
	}
	return nil
}

// Close implement Store
func (fs *FileStorage) Close() error {
	return nil
}
