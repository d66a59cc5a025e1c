// Package spool provides a generic watcher unit that reads raw events
// written as JSON files by external platform pollers.
package spool

import (
	"context"
	"path"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/viant/afs"
	"github.com/viant/overseer/internal/log"
	model "github.com/viant/overseer/model/watcher"
	fsq "github.com/viant/overseer/service/messaging/fs"
	"github.com/viant/overseer/service/watcher"
)

// DefaultInterval is the spool poll period.
const DefaultInterval = 5 * time.Second

// Dir returns the spool directory of a watcher.
func Dir(vault, name string) string { return path.Join(vault, "Spool", name) }

// Unit polls <vault>/Spool/<name>.
type Unit struct {
	name     string
	interval time.Duration
	queue    *fsq.Queue[model.RawEvent]
	logger   *logrus.Entry
}

// Name implements watcher.Unit.
func (u *Unit) Name() string { return u.name }

// Run heartbeats on every cycle and drains the spool into the sink.
func (u *Unit) Run(ctx context.Context, sink watcher.Sink) error {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		sink.Heartbeat()
		u.drain(ctx, sink)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (u *Unit) drain(ctx context.Context, sink watcher.Sink) {
	for ctx.Err() == nil {
		message, err := u.queue.Consume(ctx)
		if err != nil {
			u.logger.WithError(err).Warn("spool read failed")
			return
		}
		if message == nil {
			return
		}
		if err = sink.Emit(ctx, message.T()); err != nil {
			_ = message.Nack(err)
			return
		}
		_ = message.Ack()
	}
}

// New creates the spool unit and its directories.
func New(ctx context.Context, fs afs.Service, vault, name string, interval time.Duration) (*Unit, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	queue, err := fsq.NewQueue[model.RawEvent](ctx, fs, fsq.DefaultConfig(Dir(vault, name)))
	if err != nil {
		return nil, err
	}
	return &Unit{name: name, interval: interval, queue: queue, logger: log.With("spool").WithField("watcher", name)}, nil
}
