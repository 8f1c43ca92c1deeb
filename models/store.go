package models

import (
	"context"
	"errors"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrProjectExists   = errors.New("project already exists")
	ErrJobNotFound     = errors.New("job not found")
	ErrInvalidState    = errors.New("invalid project state")
)

// ProjectStore 按项目 ID 存取的文档存储；每次写入对单个文档是原子的
type ProjectStore interface {
	Create(ctx context.Context, meta Project, state ProjectState) error
	LoadMeta(ctx context.Context, id string) (Project, error)
	SaveMeta(ctx context.Context, meta Project) error
	LoadState(ctx context.Context, id string) (ProjectState, error)
	SaveState(ctx context.Context, id string, state ProjectState) error
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
}
