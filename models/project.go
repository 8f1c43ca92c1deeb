package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// 项目状态常量
const (
	ProjectStatusCreated         = "created"          // 项目已创建
	ProjectStatusStoryboardReady = "storyboard_ready" // 分镜与提示词已写入状态
)

// 项目模式
const (
	ProjectModeStory  = "story"
	ProjectModeFusion = "fusion"
)

const DefaultProjectTitle = "Untitled Project"

// Project 项目元数据（metadata.json）
type Project struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"createdAt"`
	Status    string `json:"status"`
	Mode      string `json:"mode"`
}

// NormalizeMode 非法模式回退为 story
func NormalizeMode(mode string) string {
	switch mode {
	case ProjectModeStory, ProjectModeFusion:
		return mode
	default:
		return ProjectModeStory
	}
}

// ProgressMirror 项目状态中内嵌的生图进度快照
type ProgressMirror struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
}

// ProjectState 项目的工作文档（state.json）
type ProjectState struct {
	Title            string         `json:"title"`
	Story            string         `json:"story"`
	MinShotsPerScene int            `json:"min_shots_per_scene"`
	Prompts          []string       `json:"prompts"`
	Cuts             []Cut          `json:"cuts"`
	SavedResults     []string       `json:"saved_results"`
	ImageJobID       string         `json:"image_job_id"`
	ImageProgress    ProgressMirror `json:"image_progress"`
}

// DefaultState 新项目的默认状态
func DefaultState() ProjectState {
	return ProjectState{
		MinShotsPerScene: 1,
		Prompts:          []string{},
		Cuts:             []Cut{},
		SavedResults:     []string{},
	}
}

// DecodeState 将持久化文档覆盖到默认值之上；缺失的键（包括 image_progress 内部的键）保留默认值
func DecodeState(data []byte) (ProjectState, error) {
	state := DefaultState()
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return DefaultState(), fmt.Errorf("decode project state: %w", err)
	}
	state.normalize()
	return state, nil
}

// normalize 保证序列化后的切片为 [] 而不是 null
func (s *ProjectState) normalize() {
	if s.Prompts == nil {
		s.Prompts = []string{}
	}
	if s.Cuts == nil {
		s.Cuts = []Cut{}
	}
	if s.SavedResults == nil {
		s.SavedResults = []string{}
	}
}

// Value 实现 driver.Valuer: Go Struct -> JSON (存入数据库)
func (s ProjectState) Value() (driver.Value, error) {
	s.normalize()
	return json.Marshal(s)
}

// Scan 实现 sql.Scanner: JSON -> Go Struct (从数据库读取)
func (s *ProjectState) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*s = DefaultState()
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	state, err := DecodeState(data)
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// ProgressPatch image_progress 的局部更新，按键合并
type ProgressPatch struct {
	Status   *string  `json:"status,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
	Message  *string  `json:"message,omitempty"`
}

// StatePatch 项目状态的局部更新：只有非 nil 字段会被写入
type StatePatch struct {
	Title            *string        `json:"title,omitempty"`
	Story            *string        `json:"story,omitempty"`
	MinShotsPerScene *int           `json:"min_shots_per_scene,omitempty"`
	Prompts          *[]string      `json:"prompts,omitempty"`
	Cuts             *[]Cut         `json:"cuts,omitempty"`
	SavedResults     *[]string      `json:"saved_results,omitempty"`
	ImageJobID       *string        `json:"image_job_id,omitempty"`
	ImageProgress    *ProgressPatch `json:"image_progress,omitempty"`
}

// IsEmpty 请求中没有任何字段
func (p StatePatch) IsEmpty() bool {
	return p.Title == nil && p.Story == nil && p.MinShotsPerScene == nil && p.Prompts == nil &&
		p.Cuts == nil && p.SavedResults == nil && p.ImageJobID == nil && p.ImageProgress == nil
}

// Validate 校验局部更新的取值范围
func (p StatePatch) Validate() error {
	if p.MinShotsPerScene != nil && *p.MinShotsPerScene < 1 {
		return fmt.Errorf("%w: min_shots_per_scene must be >= 1", ErrInvalidState)
	}
	if p.ImageProgress != nil && p.ImageProgress.Progress != nil {
		if v := *p.ImageProgress.Progress; v < 0 || v > 100 {
			return fmt.Errorf("%w: image_progress.progress must be within [0, 100]", ErrInvalidState)
		}
	}
	if p.Cuts != nil {
		for i, cut := range *p.Cuts {
			if cut.CutID < 1 {
				return fmt.Errorf("%w: cuts[%d].cut_id must be >= 1", ErrInvalidState, i)
			}
		}
	}
	return nil
}

// Apply 浅层按键合并；image_progress 也是按键合并而不是整体替换
func (s *ProjectState) Apply(p StatePatch) {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Story != nil {
		s.Story = *p.Story
	}
	if p.MinShotsPerScene != nil {
		s.MinShotsPerScene = *p.MinShotsPerScene
	}
	if p.Prompts != nil {
		s.Prompts = append([]string{}, (*p.Prompts)...)
	}
	if p.Cuts != nil {
		s.Cuts = CloneCuts(*p.Cuts)
	}
	if p.SavedResults != nil {
		s.SavedResults = append([]string{}, (*p.SavedResults)...)
	}
	if p.ImageJobID != nil {
		s.ImageJobID = *p.ImageJobID
	}
	if pp := p.ImageProgress; pp != nil {
		if pp.Status != nil {
			s.ImageProgress.Status = *pp.Status
		}
		if pp.Progress != nil {
			s.ImageProgress.Progress = *pp.Progress
		}
		if pp.Message != nil {
			s.ImageProgress.Message = *pp.Message
		}
	}
	s.normalize()
}

// ProjectDetail 项目详情（元数据 + 状态）
type ProjectDetail struct {
	Meta  Project      `json:"meta"`
	State ProjectState `json:"state"`
}
