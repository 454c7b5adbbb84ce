package store

import (
	"context"

	"github.com/me/mowctt/pkg/model"
)

// Store defines the persistence layer for run records.
type Store interface {
	// Run CRUD
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	UpdateRun(ctx context.Context, run *model.Run) error

	// FindRun returns the latest completed run computed with key, or nil.
	FindRun(ctx context.Context, key model.RunKey) (*model.Run, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
