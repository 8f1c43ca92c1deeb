package models

import "time"

// JobStatus 生图任务状态（封闭集合）
type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusLoadingModel JobStatus = "loading_model"
	JobStatusGenerating   JobStatus = "generating"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusError        JobStatus = "error"
)

// Terminal completed / error 之后不再接受任何更新
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// ImageResult 单张图片的生成结果
type ImageResult struct {
	Index  int    `json:"index"`
	Prompt string `json:"prompt"`
	Path   string `json:"path"`
	URL    string `json:"url,omitempty"`
}

// Location 优先返回可访问的 URL，否则返回本地路径
func (r ImageResult) Location() string {
	if r.URL != "" {
		return r.URL
	}
	return r.Path
}

// JobSnapshot 任务进度快照，轮询接口直接返回它
type JobSnapshot struct {
	JobID     string        `json:"job_id"`
	Status    JobStatus     `json:"status"`
	Progress  float64       `json:"progress"`
	Message   string        `json:"message"`
	UpdatedAt time.Time     `json:"updated_at"`
	Results   []ImageResult `json:"results,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Mirror 截取写入项目状态的三个字段
func (s JobSnapshot) Mirror() ProgressMirror {
	return ProgressMirror{Status: string(s.Status), Progress: s.Progress, Message: s.Message}
}
