package upload

import (
	"fmt"
	"sync"

	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/files"
)

type TaskState int

const (
	TaskPending TaskState = iota
	TaskUploading
	TaskSucceeded
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskUploading:
		return "uploading"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	}
	return "unknown"
}

func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

// Task tracks one file through the upload. States only move forward:
// pending -> uploading -> succeeded | failed | cancelled, or pending -> cancelled.
type Task struct {
	File        *files.File
	Path        string
	Size        int64
	ContentHash string

	mu       sync.RWMutex
	state    TaskState
	progress float64
	attempts int
}

func newTask(f *files.File, hash string) *Task {
	return &Task{File: f, Path: f.Path, Size: f.Size, ContentHash: hash}
}

// Transition moves the task to next, rejecting any move that is not forward.
func (t *Task) Transition(next TaskState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !allowed(t.state, next) {
		return fmt.Errorf("task %s: illegal transition %s -> %s", t.Path, t.state, next)
	}
	t.state = next
	if next == TaskSucceeded {
		t.progress = 100
	}
	return nil
}

func allowed(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskUploading || to == TaskCancelled
	case TaskUploading:
		return to == TaskSucceeded || to == TaskFailed || to == TaskCancelled
	}
	return false
}

func (t *Task) State() TaskState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// ProgressPercent is the share of the current attempt already sent, 0-100.
func (t *Task) ProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress
}

func (t *Task) Attempts() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.attempts
}

func (t *Task) startAttempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	t.progress = 0
	return t.attempts
}

func (t *Task) setProgress(p float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TaskUploading {
		t.progress = p
	}
}
