package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
	"github.com/viant/overseer/internal/log"
	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/service/dao"
	taskdao "github.com/viant/overseer/service/dao/task"
)

// Service stores authoritative task records as JSON files, one per task.
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

// Ensure Service implements dao.Service
var _ dao.Service[string, task.Task] = (*Service)(nil)

// Save persists a task.
func (s *Service) Save(ctx context.Context, aTask *task.Task) error {
	if aTask == nil {
		return dao.ErrNilEntity
	}
	if aTask.ID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(aTask)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	filePath := s.taskPath(aTask.ID)
	if err = s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write task %s: %w", filePath, err)
	}
	return nil
}

// Load retrieves a task.
func (s *Service) Load(ctx context.Context, id string) (*task.Task, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	filePath := s.taskPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check if task exists: %w", err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}

	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	var aTask task.Task
	if err := json.Unmarshal(data, &aTask); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", id, err)
	}
	return &aTask, nil
}

// Delete removes a task record.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.taskPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to check if task exists: %w", err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	if err := s.fs.Delete(ctx, filePath); err != nil {
		return fmt.Errorf("failed to delete task file: %w", err)
	}
	return nil
}

// List returns matching tasks ordered by creation time.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(false))
	if err != nil {
		return nil, fmt.Errorf("failed to list task files: %w", err)
	}

	var tasks []*task.Task
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			log.With("taskdao").WithError(err).Warnf("skipping unreadable task file %s", object.URL())
			continue
		}
		var aTask task.Task
		if err := json.Unmarshal(data, &aTask); err != nil {
			log.With("taskdao").WithError(err).Warnf("skipping malformed task file %s", object.URL())
			continue
		}
		if taskdao.Match(&aTask, parameters...) {
			tasks = append(tasks, &aTask)
		}
	}
	taskdao.SortByCreated(tasks)
	return tasks, nil
}

func (s *Service) taskPath(id string) string {
	return url.Join(s.basePath, id+".json")
}

// New creates a filesystem task DAO rooted at basePath.
func New(basePath string) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	fs := afs.New()
	basePath = url.Normalize(basePath, file.Scheme)

	ctx := context.Background()
	exists, _ := fs.Exists(ctx, basePath)
	if !exists {
		if err := fs.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}

	return &Service{
		basePath: basePath,
		fs:       fs,
	}, nil
}
