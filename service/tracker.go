package service

import (
	"fmt"
	"sync"
	"time"

	"ShortsStudio-server/models"

	"github.com/google/uuid"
)

const queuedMessage = "queued"

// JobTracker 任务进度的读写接口，Engine 只依赖它
type JobTracker interface {
	Submit() string
	Update(jobID string, status models.JobStatus, progress float64, message string) error
	Complete(jobID string, results []models.ImageResult, message string) error
	Fail(jobID string, errMsg string) error
	Get(jobID string) (models.JobSnapshot, error)
}

// Tracker 进程内的任务进度表：job_id -> 快照。
// 快照在进程生命周期内一直保留（重启即丢失），不提供删除。
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*models.JobSnapshot
	now  func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		jobs: make(map[string]*models.JobSnapshot),
		now:  time.Now,
	}
}

// Submit 生成新的 job_id 并写入 queued 初始快照
func (t *Tracker) Submit() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := uuid.NewString()
	for _, exists := t.jobs[id]; exists; _, exists = t.jobs[id] {
		id = uuid.NewString()
	}
	t.jobs[id] = &models.JobSnapshot{
		JobID:     id,
		Status:    models.JobStatusQueued,
		Progress:  0,
		Message:   queuedMessage,
		UpdatedAt: t.now(),
	}
	return id
}

// Update 覆盖状态/进度/消息并刷新时间戳；终态之后的更新被拒绝
func (t *Tracker) Update(jobID string, status models.JobStatus, progress float64, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap, err := t.writable(jobID)
	if err != nil {
		return err
	}
	snap.Status = status
	snap.Progress = clampProgress(progress)
	snap.Message = message
	snap.UpdatedAt = t.now()
	return nil
}

// Complete 写入 completed 终态和有序结果列表
func (t *Tracker) Complete(jobID string, results []models.ImageResult, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap, err := t.writable(jobID)
	if err != nil {
		return err
	}
	snap.Status = models.JobStatusCompleted
	snap.Progress = 100
	snap.Message = message
	snap.Results = append([]models.ImageResult{}, results...)
	snap.Error = ""
	snap.UpdatedAt = t.now()
	return nil
}

// Fail 写入 error 终态；已产生的部分结果不会出现在快照里
func (t *Tracker) Fail(jobID string, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap, err := t.writable(jobID)
	if err != nil {
		return err
	}
	snap.Status = models.JobStatusError
	snap.Message = errMsg
	snap.Error = errMsg
	snap.Results = nil
	snap.UpdatedAt = t.now()
	return nil
}

// Get 返回快照副本，调用方可以随意修改
func (t *Tracker) Get(jobID string) (models.JobSnapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.jobs[jobID]
	if !ok {
		return models.JobSnapshot{}, fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
	}
	out := *snap
	if snap.Results != nil {
		out.Results = append([]models.ImageResult{}, snap.Results...)
	}
	return out, nil
}

func (t *Tracker) writable(jobID string) (*models.JobSnapshot, error) {
	snap, ok := t.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
	}
	if snap.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobFinished, jobID, snap.Status)
	}
	return snap, nil
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
