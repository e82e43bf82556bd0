package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"conductor/internal/domain"
)

// FileStore persists session state, pipeline executions, and
// calibration adjustments as JSON files. Every save is a full-state
// rewrite through a temp file and rename: concurrent hooks coordinate
// only through these records, last write wins.
type FileStore struct {
	dir string

	mu          sync.RWMutex
	sessions    map[string]domain.SessionState
	executions  map[string]domain.PipelineExecution // keyed by session id
	calibration map[string]domain.CalibrationAdjustment
}

// NewFileStore opens (or creates) the state directory and loads any
// existing records. A corrupted file is replaced with an empty set
// rather than failing the process.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("statestore: create dir: %w", err)
	}
	s := &FileStore{
		dir:         dir,
		sessions:    make(map[string]domain.SessionState),
		executions:  make(map[string]domain.PipelineExecution),
		calibration: make(map[string]domain.CalibrationAdjustment),
	}
	loadJSON(s.sessionsPath(), &s.sessions)
	loadJSON(s.executionsPath(), &s.executions)
	loadJSON(s.calibrationPath(), &s.calibration)
	return s, nil
}

func (s *FileStore) sessionsPath() string    { return filepath.Join(s.dir, "sessions.json") }
func (s *FileStore) executionsPath() string  { return filepath.Join(s.dir, "executions.json") }
func (s *FileStore) calibrationPath() string { return filepath.Join(s.dir, "calibration.json") }

// GetSession implements domain.SessionStore.
func (s *FileStore) GetSession(_ context.Context, sessionID string) (*domain.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.NewSubSystemError("state", "FileStore.GetSession", domain.ErrNotFound, sessionID)
	}
	return &state, nil
}

// SaveSession implements domain.SessionStore.
func (s *FileStore) SaveSession(_ context.Context, state domain.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.SessionID] = state
	return writeJSON(s.sessionsPath(), s.sessions)
}

// GetExecution implements domain.ExecutionStore.
func (s *FileStore) GetExecution(_ context.Context, sessionID string) (*domain.PipelineExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[sessionID]
	if !ok {
		return nil, domain.NewSubSystemError("state", "FileStore.GetExecution", domain.ErrNotFound, sessionID)
	}
	return &exec, nil
}

// SaveExecution implements domain.ExecutionStore.
func (s *FileStore) SaveExecution(_ context.Context, exec domain.PipelineExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.SessionID] = exec
	return writeJSON(s.executionsPath(), s.executions)
}

// All implements domain.CalibrationStore.
func (s *FileStore) All() ([]domain.CalibrationAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CalibrationAdjustment, 0, len(s.calibration))
	for _, adj := range s.calibration {
		out = append(out, adj)
	}
	return out, nil
}

// Get implements domain.CalibrationStore. A missing entry is (nil, nil).
func (s *FileStore) Get(signalKey, targetID string) (*domain.CalibrationAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	adj, ok := s.calibration[signalKey+":"+targetID]
	if !ok {
		return nil, nil
	}
	return &adj, nil
}

// Put implements domain.CalibrationStore.
func (s *FileStore) Put(adj domain.CalibrationAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calibration[adj.CalibrationKey()] = adj
	return writeJSON(s.calibrationPath(), s.calibration)
}

// loadJSON fills dst from path. Missing or corrupted files leave dst
// empty; persisted state is recoverable, never fatal.
func loadJSON(path string, dst any) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, dst)
}

// writeJSON atomically writes v as indented JSON to path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domain.WrapOp("marshal", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return domain.WrapOp("write", err)
	}
	return os.Rename(tmp, path)
}
