package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

const (
	metaFileName  = "metadata.json"
	stateFileName = "state.json"
)

// FileStore 每个项目一个目录：<root>/<id>/metadata.json + state.json
type FileStore struct {
	fs   afero.Fs
	root string
}

func NewFileStore(fs afero.Fs, root string) (*FileStore, error) {
	if err := fs.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create projects dir: %w", err)
	}
	return &FileStore{fs: fs, root: root}, nil
}

func (s *FileStore) projectDir(id string) string {
	return filepath.Join(s.root, id)
}

// requireDir 项目目录不存在时返回 ErrProjectNotFound
func (s *FileStore) requireDir(id string) (string, error) {
	if id == "" || id == "." || id == ".." || id != filepath.Base(id) {
		return "", fmt.Errorf("%w: %q", ErrProjectNotFound, id)
	}
	dir := s.projectDir(id)
	ok, err := afero.DirExists(s.fs, dir)
	if err != nil {
		return "", fmt.Errorf("stat project dir: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return dir, nil
}

func (s *FileStore) Create(_ context.Context, meta Project, state ProjectState) error {
	dir := s.projectDir(meta.ID)
	exists, err := afero.DirExists(s.fs, dir)
	if err != nil {
		return fmt.Errorf("stat project dir: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrProjectExists, meta.ID)
	}
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	if err := s.writeJSON(filepath.Join(dir, metaFileName), meta); err != nil {
		return err
	}
	state.normalize()
	return s.writeJSON(filepath.Join(dir, stateFileName), state)
}

func (s *FileStore) LoadMeta(_ context.Context, id string) (Project, error) {
	dir, err := s.requireDir(id)
	if err != nil {
		return Project{}, err
	}
	meta := Project{ID: id, Title: id, Mode: ProjectModeStory, Status: "unknown"}
	data, err := afero.ReadFile(s.fs, filepath.Join(dir, metaFileName))
	if errors.Is(err, os.ErrNotExist) {
		return meta, nil
	}
	if err != nil {
		return Project{}, fmt.Errorf("read project meta: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return Project{}, fmt.Errorf("decode project meta: %w", err)
	}
	return meta, nil
}

func (s *FileStore) SaveMeta(_ context.Context, meta Project) error {
	dir, err := s.requireDir(meta.ID)
	if err != nil {
		return err
	}
	return s.writeJSON(filepath.Join(dir, metaFileName), meta)
}

func (s *FileStore) LoadState(_ context.Context, id string) (ProjectState, error) {
	dir, err := s.requireDir(id)
	if err != nil {
		return ProjectState{}, err
	}
	data, err := afero.ReadFile(s.fs, filepath.Join(dir, stateFileName))
	if errors.Is(err, os.ErrNotExist) {
		return DefaultState(), nil
	}
	if err != nil {
		return ProjectState{}, fmt.Errorf("read project state: %w", err)
	}
	return DecodeState(data)
}

func (s *FileStore) SaveState(_ context.Context, id string, state ProjectState) error {
	dir, err := s.requireDir(id)
	if err != nil {
		return err
	}
	state.normalize()
	return s.writeJSON(filepath.Join(dir, stateFileName), state)
}

// List 返回所有项目 ID（按字典序）
func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete 删除项目目录，不可恢复
func (s *FileStore) Delete(_ context.Context, id string) error {
	dir, err := s.requireDir(id)
	if err != nil {
		return err
	}
	if err := s.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

// writeJSON 先写临时文件再 rename，避免崩溃时留下半截文档
func (s *FileStore) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(s.fs, path, data)
}

// WriteFileAtomic 临时文件 + rename；目标目录不存在时创建
func WriteFileAtomic(fs afero.Fs, path string, data []byte) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
