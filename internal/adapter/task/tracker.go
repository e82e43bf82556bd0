package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"conductor/internal/domain"
)

// FileTracker is a JSON file backed implementation of
// domain.TaskTracker. The host usually owns task tracking; this
// tracker serves standalone runs and tests.
type FileTracker struct {
	dir string

	mu    sync.RWMutex
	tasks map[string]domain.Task
}

// NewFileTracker opens (or creates) the tracker directory.
func NewFileTracker(dir string) (*FileTracker, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("tasktracker: create dir: %w", err)
	}
	t := &FileTracker{dir: dir, tasks: make(map[string]domain.Task)}
	t.load()
	return t, nil
}

func (t *FileTracker) path() string {
	return filepath.Join(t.dir, "tasks.json")
}

func (t *FileTracker) load() {
	data, err := os.ReadFile(t.path())
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, &t.tasks)
}

func (t *FileTracker) persist() error {
	data, err := json.MarshalIndent(t.tasks, "", "  ")
	if err != nil {
		return domain.WrapOp("marshal", err)
	}
	tmp := t.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return domain.WrapOp("write", err)
	}
	return os.Rename(tmp, t.path())
}

// CreateTask implements domain.TaskTracker.
func (t *FileTracker) CreateTask(_ context.Context, task domain.Task) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.tasks[task.ID]; exists {
		return domain.NewSubSystemError("task", "FileTracker.CreateTask", domain.ErrDuplicate, task.ID)
	}
	if task.Status == "" {
		task.Status = domain.TaskPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.UpdatedAt = task.CreatedAt
	t.tasks[task.ID] = task
	return t.persist()
}

// UpdateStatus implements domain.TaskTracker.
func (t *FileTracker) UpdateStatus(_ context.Context, taskID, status string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[taskID]
	if !ok {
		return domain.NewSubSystemError("task", "FileTracker.UpdateStatus", domain.ErrNotFound, taskID)
	}
	task.Status = status
	task.UpdatedAt = time.Now()
	t.tasks[taskID] = task
	return t.persist()
}

// TasksByAgent implements domain.TaskTracker, oldest first.
func (t *FileTracker) TasksByAgent(_ context.Context, agentID string) ([]domain.Task, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []domain.Task
	for _, task := range t.tasks {
		if task.AgentID == agentID {
			out = append(out, task)
		}
	}
	sortByCreation(out)
	return out, nil
}

// TasksBlockedBy implements domain.TaskTracker, oldest first.
func (t *FileTracker) TasksBlockedBy(_ context.Context, taskID string) ([]domain.Task, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []domain.Task
	for _, task := range t.tasks {
		for _, b := range task.BlockedBy {
			if b == taskID {
				out = append(out, task)
				break
			}
		}
	}
	sortByCreation(out)
	return out, nil
}

func sortByCreation(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}
