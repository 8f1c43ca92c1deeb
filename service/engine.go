package service

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"

	"ShortsStudio-server/models"
)

// ImageJobRequest 提交生图任务的请求
type ImageJobRequest struct {
	ProjectID string   `json:"project_id"`
	Prompts   []string `json:"prompts"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
	Size      string   `json:"size"`
	Steps     int      `json:"steps"`
	OutputDir string   `json:"output_dir"`
}

// ImageJob 已登记、待执行的任务；可序列化后交给队列
type ImageJob struct {
	JobID     string       `json:"job_id"`
	ProjectID string       `json:"project_id,omitempty"`
	Prompts   []string     `json:"prompts"`
	Provider  ProviderKind `json:"provider"`
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	Steps     int          `json:"steps"`
	OutputDir string       `json:"output_dir"`
}

// JobRunner 在请求之外执行一个任务直到终态
type JobRunner interface {
	Run(ctx context.Context, job ImageJob)
}

// Dispatcher 把任务交给后台执行，不等待结果
type Dispatcher interface {
	Dispatch(ctx context.Context, job ImageJob) error
}

// Engine 生图任务的后台执行引擎。
// 维护三处状态：Tracker 中的快照、项目的 image_job_id、项目的结果/进度镜像。
// 同一项目同一时刻只允许一个未完成的任务，第二次提交会被拒绝。
type Engine struct {
	tracker    JobTracker
	projects   ProjectSync
	providers  ProviderSet
	dispatcher Dispatcher
	outputsDir string

	mu       sync.Mutex
	inflight map[string]string // project id -> job id
}

func NewEngine(tracker JobTracker, projects ProjectSync, providers ProviderSet, outputsDir string) *Engine {
	e := &Engine{
		tracker:    tracker,
		projects:   projects,
		providers:  providers,
		outputsDir: outputsDir,
		inflight:   make(map[string]string),
	}
	e.dispatcher = NewLocalDispatcher(context.Background(), e)
	return e
}

// UseDispatcher 替换默认的进程内 goroutine 调度
func (e *Engine) UseDispatcher(d Dispatcher) {
	e.dispatcher = d
}

// Dispatcher 当前使用的调度器
func (e *Engine) Dispatcher() Dispatcher {
	return e.dispatcher
}

// Submit 登记任务并交给后台执行，立即返回 job_id
func (e *Engine) Submit(ctx context.Context, req ImageJobRequest) (string, error) {
	if len(req.Prompts) == 0 {
		return "", fmt.Errorf("%w: prompts must not be empty", ErrInvalidRequest)
	}
	kind, err := ResolveProvider(req.Provider, req.Model)
	if err != nil {
		return "", err
	}
	if _, err := e.providers.Get(kind); err != nil {
		return "", err
	}

	projectID := strings.TrimSpace(req.ProjectID)
	if projectID != "" {
		if e.projects == nil {
			return "", fmt.Errorf("%w: project sync not configured", ErrInvalidRequest)
		}
		if err := e.projects.Exists(ctx, projectID); err != nil {
			return "", err
		}
		if err := e.reserve(projectID); err != nil {
			return "", err
		}
	}

	jobID := e.tracker.Submit()
	width, height := ParseSize(req.Size)
	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(e.outputsDir, jobID)
	}
	job := ImageJob{
		JobID:     jobID,
		ProjectID: projectID,
		Prompts:   append([]string{}, req.Prompts...),
		Provider:  kind,
		Width:     width,
		Height:    height,
		Steps:     req.Steps,
		OutputDir: outputDir,
	}

	if projectID != "" {
		e.bind(projectID, jobID)
		snap, _ := e.tracker.Get(jobID)
		if err := e.projects.BeginJob(ctx, projectID, snap); err != nil {
			e.abort(job, fmt.Errorf("登记项目任务失败: %w", err))
			return "", err
		}
	}

	if err := e.dispatcher.Dispatch(ctx, job); err != nil {
		err = fmt.Errorf("任务调度失败: %w", err)
		e.abort(job, err)
		if projectID != "" {
			e.finishProject(context.Background(), job, false, nil, models.ProgressMirror{
				Status: string(models.JobStatusError), Message: err.Error(),
			})
		}
		return "", err
	}
	log.Printf("[Job] 任务已提交: job=%s project=%q provider=%s prompts=%d", jobID, projectID, kind, len(job.Prompts))
	return jobID, nil
}

// Progress 查询任务快照
func (e *Engine) Progress(jobID string) (models.JobSnapshot, error) {
	return e.tracker.Get(jobID)
}

// ActiveJob 项目当前未完成的任务
func (e *Engine) ActiveJob(projectID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.inflight[projectID]
	return id, ok
}

// Run 执行任务直到终态；任务内部的 panic 只会变成该任务的 error 终态。
// Tracker 不认识的任务（例如进程重启后队列重新投递的任务）不执行，只释放项目上的关联。
func (e *Engine) Run(ctx context.Context, job ImageJob) {
	if _, err := e.tracker.Get(job.JobID); err != nil {
		log.Printf("[Job] 跳过无法追踪的任务 %s: %v", job.JobID, err)
		e.abandonProject(ctx, job)
		return
	}
	defer e.release(job.ProjectID, job.JobID)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Job] 任务 %s panic: %v\n%s", job.JobID, r, debug.Stack())
			e.fail(ctx, job, fmt.Errorf("job panicked: %v", r))
		}
	}()

	results, err := e.execute(ctx, job)
	if err != nil {
		log.Printf("[Job] 任务 %s 失败: %v", job.JobID, err)
		e.fail(ctx, job, err)
		return
	}
	if e.complete(ctx, job, results) {
		log.Printf("[Job] 任务 %s 完成, 共 %d 张", job.JobID, len(results))
	}
}

func (e *Engine) execute(ctx context.Context, job ImageJob) ([]models.ImageResult, error) {
	provider, err := e.providers.Get(job.Provider)
	if err != nil {
		return nil, err
	}

	e.emit(ctx, job, models.JobStatusLoadingModel, 0, "checking model")
	if err := provider.Prepare(ctx); err != nil {
		return nil, err
	}
	e.emit(ctx, job, models.JobStatusLoadingModel, 100, "model ready")

	total := len(job.Prompts)
	results := make([]models.ImageResult, 0, total)
	for i, prompt := range job.Prompts {
		idx := i + 1
		e.emit(ctx, job, models.JobStatusGenerating, float64(i)/float64(total)*100,
			fmt.Sprintf("generating image %d/%d", idx, total))

		res, err := provider.Generate(ctx, GenerateRequest{
			JobID:     job.JobID,
			Prompt:    prompt,
			Width:     job.Width,
			Height:    job.Height,
			Steps:     job.Steps,
			OutputDir: job.OutputDir,
			Index:     idx,
		})
		if err != nil {
			return nil, err
		}
		results = append(results, models.ImageResult{Index: idx, Prompt: prompt, Path: res.Path, URL: res.URL})

		e.emit(ctx, job, models.JobStatusGenerating, float64(idx)/float64(total)*100,
			fmt.Sprintf("image %d/%d done", idx, total))
	}
	return results, nil
}

// emit 写快照并尽力镜像到项目；镜像失败只记日志，不影响任务
func (e *Engine) emit(ctx context.Context, job ImageJob, status models.JobStatus, progress float64, message string) {
	if err := e.tracker.Update(job.JobID, status, progress, message); err != nil {
		log.Printf("[Job] 更新进度失败 %s: %v", job.JobID, err)
	}
	if job.ProjectID == "" || e.projects == nil {
		return
	}
	mirror := models.ProgressMirror{Status: string(status), Progress: progress, Message: message}
	if err := e.projects.MirrorProgress(ctx, job.ProjectID, job.JobID, mirror); err != nil {
		log.Printf("[Job] 镜像进度到项目 %s 失败(忽略): %v", job.ProjectID, err)
	}
}

// complete 返回 false 表示 Tracker 拒绝了完成状态；项目关联仍会被清空
func (e *Engine) complete(ctx context.Context, job ImageJob, results []models.ImageResult) bool {
	const message = "all images generated"
	if err := e.tracker.Complete(job.JobID, results, message); err != nil {
		log.Printf("[Job] 写入完成状态失败 %s: %v", job.JobID, err)
		e.finishProject(ctx, job, false, nil, models.ProgressMirror{
			Status: string(models.JobStatusError), Progress: 100, Message: err.Error(),
		})
		return false
	}
	locations := make([]string, len(results))
	for i, r := range results {
		locations[i] = r.Location()
	}
	e.finishProject(ctx, job, true, locations, models.ProgressMirror{
		Status: string(models.JobStatusCompleted), Progress: 100, Message: message,
	})
	return true
}

func (e *Engine) fail(ctx context.Context, job ImageJob, cause error) {
	if err := e.tracker.Fail(job.JobID, cause.Error()); err != nil {
		log.Printf("[Job] 写入失败状态失败 %s: %v", job.JobID, err)
	}
	e.finishProject(ctx, job, false, nil, models.ProgressMirror{
		Status: string(models.JobStatusError), Message: cause.Error(),
	})
}

// abort 提交阶段失败：任务直接进入 error 终态并释放项目占用
func (e *Engine) abort(job ImageJob, cause error) {
	if err := e.tracker.Fail(job.JobID, cause.Error()); err != nil {
		log.Printf("[Job] 写入失败状态失败 %s: %v", job.JobID, err)
	}
	e.release(job.ProjectID, job.JobID)
}

// finishProject 清空项目的 image_job_id 并复制终态快照。
// Tracker 中的快照是终态时以它为准，否则用 fallback。
func (e *Engine) finishProject(ctx context.Context, job ImageJob, succeeded bool, locations []string, fallback models.ProgressMirror) {
	if job.ProjectID == "" || e.projects == nil {
		return
	}
	mirror := fallback
	if snap, err := e.tracker.Get(job.JobID); err == nil && snap.Status.Terminal() {
		mirror = snap.Mirror()
		succeeded = succeeded && snap.Status == models.JobStatusCompleted
	}
	if err := e.projects.FinishJob(ctx, job.ProjectID, mirror, locations, succeeded); err != nil {
		log.Printf("[Job] 写回项目 %s 终态失败(忽略): %v", job.ProjectID, err)
	}
}

// abandonProject 任务已不在 Tracker 中：项目若仍指向它，则以 error 结束关联
func (e *Engine) abandonProject(ctx context.Context, job ImageJob) {
	if job.ProjectID == "" || e.projects == nil {
		return
	}
	mirror := models.ProgressMirror{
		Status:  string(models.JobStatusError),
		Message: fmt.Sprintf("job %s is no longer tracked", job.JobID),
	}
	if err := e.projects.AbandonJob(ctx, job.ProjectID, job.JobID, mirror); err != nil {
		log.Printf("[Job] 释放项目 %s 的任务关联失败(忽略): %v", job.ProjectID, err)
	}
}

func (e *Engine) reserve(projectID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.inflight[projectID]; ok {
		return fmt.Errorf("%w: project %s (job %s)", ErrJobInProgress, projectID, cur)
	}
	e.inflight[projectID] = ""
	return nil
}

func (e *Engine) bind(projectID, jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight[projectID] = jobID
}

// release 只释放属于该任务的占用
func (e *Engine) release(projectID, jobID string) {
	if projectID == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.inflight[projectID]; ok && (cur == jobID || cur == "") {
		delete(e.inflight, projectID)
	}
}
