// Package file provides file-based persistence implementation for workflows and executions.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/leadpilot/automation/pkg/persistence"
)

const lockRetryDelay = 10 * time.Millisecond

// Persistence implements the persistence.Persistence interface using the file system.
//
// Every read-modify-write runs under an in-process mutex and an advisory lock file, so
// an API process and a worker process can share one root directory.
type Persistence struct {
	root string

	mu   sync.Mutex
	lock *flock.Flock

	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	err := os.MkdirAll(cleanRoot, 0750)
	if err != nil {
		return nil, fmt.Errorf("failed to create persistence root %s: %w", cleanRoot, err)
	}

	p := &Persistence{
		root: cleanRoot,
		lock: flock.New(filepath.Join(cleanRoot, ".lock")),
	}
	p.workflowRepo = &WorkflowRepository{store: p}
	p.executionRepo = &ExecutionRepository{store: p}

	return p, nil
}

// Close releases the lock file handle.
func (fp *Persistence) Close(_ context.Context) error {
	return fp.lock.Close()
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// WorkflowRepository returns the workflow repository implementation for file persistence.
func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

// ExecutionRepository returns the execution repository implementation for file persistence.
func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) withLock(ctx context.Context, fn func() error) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	locked, err := fp.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !locked {
		return errors.New("failed to acquire lock")
	}

	defer func() { _ = fp.lock.Unlock() }()

	return fn()
}

func (fp *Persistence) path(kind, id string) string {
	return filepath.Join(fp.root, kind, id+".json")
}

func (fp *Persistence) read(kind, id string, out any) (bool, error) {
	body, err := os.ReadFile(filepath.Clean(fp.path(kind, id)))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	err = json.Unmarshal(body, out)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}

	return true, nil
}

// write replaces the record atomically through a temp file in the same directory.
func (fp *Persistence) write(kind, id string, value any) error {
	dir := filepath.Join(fp.root, kind)

	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(dir, id+".*.tmp")
	if err != nil {
		return err
	}

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Chmod(tmp.Name(), 0600)
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return err
	}

	return os.Rename(tmp.Name(), fp.path(kind, id))
}

func (fp *Persistence) remove(kind, id string) (bool, error) {
	err := os.Remove(fp.path(kind, id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// ids lists the record ids stored under kind.
func (fp *Persistence) ids(kind string) ([]string, error) {
	files, err := fs.Glob(os.DirFS(filepath.Join(fp.root, kind)), "*.json")
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}

func validateID(id string) error {
	if id == "" || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return persistence.ErrInvalidID
	}

	return nil
}
