package taskstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"github.com/viant/overseer/model/task"
)

// Projector mirrors task records into one vault folder per status so that
// operators can browse the lifecycle as plain files. The projection is
// derived: the DAO record is authoritative and Rebuild restores the folders
// from it.
type Projector struct {
	baseURL string
	fs      afs.Service
}

func (p *Projector) path(status task.Status, id string) string {
	return url.Join(p.baseURL, string(status), id+".json")
}

// Project writes aTask into its status folder and removes it from prev.
func (p *Projector) Project(ctx context.Context, aTask *task.Task, prev task.Status) error {
	data, err := json.MarshalIndent(aTask, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode projection of %s: %w", aTask.ID, err)
	}
	if err = p.fs.Upload(ctx, p.path(aTask.Status, aTask.ID), file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to project %s into %s: %w", aTask.ID, aTask.Status, err)
	}
	if prev == "" || prev == aTask.Status {
		return nil
	}
	return p.remove(ctx, prev, aTask.ID)
}

func (p *Projector) remove(ctx context.Context, status task.Status, id string) error {
	location := p.path(status, id)
	exists, err := p.fs.Exists(ctx, location)
	if err != nil || !exists {
		return err
	}
	if err = p.fs.Delete(ctx, location); err != nil {
		return fmt.Errorf("failed to remove stale projection %s: %w", location, err)
	}
	return nil
}

// Rebuild re-derives every folder from the supplied authoritative records.
func (p *Projector) Rebuild(ctx context.Context, tasks []*task.Task) error {
	for _, aTask := range tasks {
		for _, status := range task.Statuses {
			if status == aTask.Status {
				continue
			}
			if err := p.remove(ctx, status, aTask.ID); err != nil {
				return err
			}
		}
		if err := p.Project(ctx, aTask, ""); err != nil {
			return err
		}
	}
	return nil
}

// NewProjector creates a projector rooted at the vault.
func NewProjector(vault string) (*Projector, error) {
	if vault == "" {
		return nil, fmt.Errorf("vault path cannot be empty")
	}
	fs := afs.New()
	baseURL := url.Normalize(vault, file.Scheme)
	ctx := context.Background()
	for _, status := range task.Statuses {
		folder := url.Join(baseURL, string(status))
		if exists, _ := fs.Exists(ctx, folder); exists {
			continue
		}
		if err := fs.Create(ctx, folder, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create folder %s: %w", folder, err)
		}
	}
	return &Projector{baseURL: baseURL, fs: fs}, nil
}
