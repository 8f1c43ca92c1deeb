package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"ShortsStudio-server/models"
)

const createdAtLayout = "20060102-150405"

// ProjectSync Engine 用来把任务状态镜像到项目文档的接口
type ProjectSync interface {
	Exists(ctx context.Context, projectID string) error
	BeginJob(ctx context.Context, projectID string, snap models.JobSnapshot) error
	MirrorProgress(ctx context.Context, projectID, jobID string, progress models.ProgressMirror) error
	FinishJob(ctx context.Context, projectID string, progress models.ProgressMirror, savedResults []string, succeeded bool) error
	AbandonJob(ctx context.Context, projectID, jobID string, progress models.ProgressMirror) error
}

// ProjectService 项目文档的读改写。
// 同一进程内对同一项目的读改写串行执行；跨进程仍然是 last-write-wins。
type ProjectService struct {
	store models.ProjectStore
	now   func() time.Time
	locks sync.Map // project id -> *sync.Mutex
}

func NewProjectService(store models.ProjectStore) *ProjectService {
	return &ProjectService{store: store, now: time.Now}
}

func (s *ProjectService) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Create 新建项目：id = slug(title)-时间戳，同一秒内重名追加序号
func (s *ProjectService) Create(ctx context.Context, title, mode string) (models.Project, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = models.DefaultProjectTitle
	}
	ts := s.now().Format(createdAtLayout)
	base := fmt.Sprintf("%s-%s", Slugify(title), ts)

	state := models.DefaultState()
	state.Title = title
	for n := 1; n <= 100; n++ {
		id := base
		if n > 1 {
			id = fmt.Sprintf("%s-%d", base, n)
		}
		meta := models.Project{
			ID:        id,
			Title:     title,
			CreatedAt: ts,
			Status:    models.ProjectStatusCreated,
			Mode:      models.NormalizeMode(mode),
		}
		err := s.store.Create(ctx, meta, state)
		if errors.Is(err, models.ErrProjectExists) {
			continue
		}
		if err != nil {
			return models.Project{}, fmt.Errorf("创建项目失败: %w", err)
		}
		log.Printf("[Store] 项目已创建: %s", id)
		return meta, nil
	}
	return models.Project{}, fmt.Errorf("%w: %s", models.ErrProjectExists, base)
}

func (s *ProjectService) Get(ctx context.Context, id string) (models.ProjectDetail, error) {
	meta, err := s.store.LoadMeta(ctx, id)
	if err != nil {
		return models.ProjectDetail{}, err
	}
	state, err := s.store.LoadState(ctx, id)
	if err != nil {
		return models.ProjectDetail{}, err
	}
	return models.ProjectDetail{Meta: meta, State: state}, nil
}

// Exists 项目不存在时返回 ErrProjectNotFound
func (s *ProjectService) Exists(ctx context.Context, id string) error {
	_, err := s.store.LoadMeta(ctx, id)
	return err
}

// List 所有项目的元数据；元数据损坏的项目跳过并记录日志
func (s *ProjectService) List(ctx context.Context) ([]models.Project, error) {
	ids, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Project, 0, len(ids))
	for _, id := range ids {
		meta, err := s.store.LoadMeta(ctx, id)
		if err != nil {
			log.Printf("[Store] 读取项目元数据失败 %s: %v", id, err)
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

// Patch 局部更新项目状态；非空 title 同步到元数据
func (s *ProjectService) Patch(ctx context.Context, id string, patch models.StatePatch) (models.ProjectDetail, error) {
	if err := patch.Validate(); err != nil {
		return models.ProjectDetail{}, err
	}
	unlock := s.lock(id)
	defer unlock()

	detail, err := s.Get(ctx, id)
	if err != nil {
		return models.ProjectDetail{}, err
	}
	if patch.IsEmpty() {
		return detail, nil
	}
	detail.State.Apply(patch)
	if patch.Title != nil && *patch.Title != "" {
		detail.Meta.Title = *patch.Title
		if err := s.store.SaveMeta(ctx, detail.Meta); err != nil {
			return models.ProjectDetail{}, err
		}
	}
	if err := s.store.SaveState(ctx, id, detail.State); err != nil {
		return models.ProjectDetail{}, err
	}
	return detail, nil
}

func (s *ProjectService) Delete(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.locks.Delete(id)
	log.Printf("[Store] 项目已删除: %s", id)
	return nil
}

// StoryboardUpdate 分镜结果写回项目时需要的内容
type StoryboardUpdate struct {
	Story            string
	RequestTitle     string
	MinShotsPerScene int
	Storyboard       models.Storyboard
	Prompts          []string
}

// ApplyStoryboard 写入故事、分镜、提示词，并清空上一次的生成结果和任务关联
func (s *ProjectService) ApplyStoryboard(ctx context.Context, id string, u StoryboardUpdate) (models.ProjectDetail, error) {
	unlock := s.lock(id)
	defer unlock()

	detail, err := s.Get(ctx, id)
	if err != nil {
		return models.ProjectDetail{}, err
	}
	st := &detail.State
	st.Story = u.Story
	switch {
	case u.Storyboard.Title != "":
		st.Title = u.Storyboard.Title
	case st.Title != "":
	default:
		st.Title = u.RequestTitle
	}
	if u.MinShotsPerScene > 0 {
		st.MinShotsPerScene = u.MinShotsPerScene
	}
	st.Cuts = models.CloneCuts(u.Storyboard.Cuts)
	st.Prompts = append([]string{}, u.Prompts...)
	st.SavedResults = []string{}
	st.ImageJobID = ""
	st.ImageProgress = models.ProgressMirror{}
	if err := s.store.SaveState(ctx, id, *st); err != nil {
		return models.ProjectDetail{}, err
	}

	if u.Storyboard.Title != "" {
		detail.Meta.Title = u.Storyboard.Title
	}
	detail.Meta.Status = models.ProjectStatusStoryboardReady
	if err := s.store.SaveMeta(ctx, detail.Meta); err != nil {
		return models.ProjectDetail{}, err
	}
	return detail, nil
}

// BeginJob 在请求路径上登记新任务：覆盖 image_job_id、写入 queued 快照、清空旧结果。失败直接返回给调用方。
func (s *ProjectService) BeginJob(ctx context.Context, projectID string, snap models.JobSnapshot) error {
	return s.update(ctx, projectID, func(st *models.ProjectState) {
		st.ImageJobID = snap.JobID
		st.ImageProgress = snap.Mirror()
		st.SavedResults = []string{}
	})
}

// MirrorProgress 镜像中间进度（image_job_id 保持为当前任务）
func (s *ProjectService) MirrorProgress(ctx context.Context, projectID, jobID string, progress models.ProgressMirror) error {
	return s.update(ctx, projectID, func(st *models.ProjectState) {
		st.ImageJobID = jobID
		st.ImageProgress = progress
	})
}

// FinishJob 终态：清空 image_job_id，写入终态进度；成功时整体替换 saved_results
func (s *ProjectService) FinishJob(ctx context.Context, projectID string, progress models.ProgressMirror, savedResults []string, succeeded bool) error {
	return s.update(ctx, projectID, func(st *models.ProjectState) {
		st.ImageJobID = ""
		st.ImageProgress = progress
		if succeeded {
			st.SavedResults = append([]string{}, savedResults...)
		}
	})
}

// AbandonJob 释放一个已无法追踪的任务：只有 image_job_id 仍指向该任务时才清空，不动 saved_results
func (s *ProjectService) AbandonJob(ctx context.Context, projectID, jobID string, progress models.ProgressMirror) error {
	return s.update(ctx, projectID, func(st *models.ProjectState) {
		if st.ImageJobID != jobID {
			return
		}
		st.ImageJobID = ""
		st.ImageProgress = progress
	})
}

func (s *ProjectService) update(ctx context.Context, id string, fn func(*models.ProjectState)) error {
	unlock := s.lock(id)
	defer unlock()
	state, err := s.store.LoadState(ctx, id)
	if err != nil {
		return err
	}
	fn(&state)
	return s.store.SaveState(ctx, id, state)
}
