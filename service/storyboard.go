package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"ShortsStudio-server/models"
)

const (
	fallbackTitle   = "Untitled"
	continuedSuffix = " (continued)"
	promptStyle     = "cinematic anime illustration, detailed lineart, soft shading, dramatic lighting"
)

// StoryboardSchema 发给 LLM 的输出结构约束
const StoryboardSchema = `{
  "type": "object",
  "required": ["title", "cuts"],
  "properties": {
    "title": {"type": "string"},
    "cuts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["cut_id", "cut_name", "composition", "background"],
        "properties": {
          "cut_id": {"type": "integer", "minimum": 1, "description": "cut number, starting at 1"},
          "cut_name": {"type": "string", "description": "name of the cut / scene"},
          "composition": {"type": "string", "description": "camera framing and character placement"},
          "dialogues": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["speaker", "text"],
              "properties": {
                "speaker": {"type": "string"},
                "text": {"type": "string"},
                "emotion": {"type": ["string", "null"]}
              }
            }
          },
          "background": {"type": "string", "description": "setting, mood and sound"},
          "actions": {"type": "array", "items": {"type": "string"}},
          "characters": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

const storyboardSystemPrompt = "You are a storyboard planning assistant for short videos. " +
	"Split the user's story into cinematic cuts and, for each cut, extract composition, dialogue, " +
	"background, actions and characters as structured JSON. Output JSON only, without code fences."

// StoryboardSynthesizer 调用 LLM 把故事拆成分镜
type StoryboardSynthesizer struct {
	llm LLM
}

func NewStoryboardSynthesizer(llm LLM) *StoryboardSynthesizer {
	return &StoryboardSynthesizer{llm: llm}
}

// Synthesize LLM 调用失败直接返回错误；输出无法解析时降级为只有标题的空分镜
func (s *StoryboardSynthesizer) Synthesize(ctx context.Context, story, title string, minCuts int) (models.Storyboard, error) {
	if s.llm == nil {
		return models.Storyboard{}, ErrLLMUnavailable
	}
	fallback := strings.TrimSpace(title)
	if fallback == "" {
		fallback = fallbackTitle
	}

	content, err := s.llm.CompleteJSON(ctx, storyboardSystemPrompt, storyboardUserPrompt(story, fallback, minCuts))
	if err != nil {
		return models.Storyboard{}, fmt.Errorf("storyboard generation failed: %w", err)
	}

	board, err := ParseStoryboard(content)
	if err != nil {
		log.Printf("[Storyboard] LLM 输出无法解析, 返回空分镜: %v", err)
		return models.Storyboard{Title: fallback, Cuts: []models.Cut{}}, nil
	}
	if strings.TrimSpace(board.Title) == "" {
		board.Title = fallback
	}
	board.Cuts = PadCuts(board.Cuts, minCuts)
	return board, nil
}

func storyboardUserPrompt(story, title string, minCuts int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n\nStory:\n%s\n\n", title, story)
	fmt.Fprintf(&b, "Produce a storyboard matching this JSON schema:\n%s\n\n", StoryboardSchema)
	b.WriteString("Notes:\n")
	b.WriteString("- Split the story naturally into several cuts.\n")
	b.WriteString("- Every cut has a unique cut_id starting at 1.\n")
	if minCuts > 1 {
		fmt.Fprintf(&b, "- Produce at least %d cuts.\n", minCuts)
	}
	b.WriteString("- composition describes camera framing and character placement.\n")
	b.WriteString("- dialogues contains every line spoken in the cut.\n")
	b.WriteString("- background describes mood, sound and environment.\n")
	b.WriteString("- actions lists what the characters do; characters lists who appears.")
	return b.String()
}

// StripCodeFence 去掉 ``` / ```json 包裹
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		lang := strings.TrimSpace(s[:nl])
		if lang == "" || strings.EqualFold(lang, "json") {
			s = s[nl+1:]
		}
	} else if strings.HasPrefix(strings.ToLower(s), "json") {
		s = s[4:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseStoryboard 解析 LLM 输出；结构不符合约束时返回错误
func ParseStoryboard(content string) (models.Storyboard, error) {
	var board models.Storyboard
	if err := json.Unmarshal([]byte(StripCodeFence(content)), &board); err != nil {
		return models.Storyboard{}, fmt.Errorf("decode storyboard: %w", err)
	}
	for i, cut := range board.Cuts {
		if cut.CutID < 1 {
			return models.Storyboard{}, fmt.Errorf("cuts[%d]: cut_id must be >= 1", i)
		}
	}
	board.Cuts = normalizeCuts(board.Cuts)
	return board, nil
}

// normalizeCuts 空切片统一为 []，编号重排为 1..n
func normalizeCuts(cuts []models.Cut) []models.Cut {
	out := make([]models.Cut, len(cuts))
	for i, c := range cuts {
		c = c.Clone()
		c.CutID = i + 1
		out[i] = c
	}
	return out
}

// PadCuts 镜头数不足 minCuts 时复制最后一个镜头补齐（名称加 " (continued)"）；
// 一个镜头都没有时先补一个中性占位镜头。结果编号始终是连续的 1..n。
func PadCuts(cuts []models.Cut, minCuts int) []models.Cut {
	out := normalizeCuts(cuts)
	if minCuts < 1 {
		minCuts = 1
	}
	if len(out) == 0 {
		out = append(out, placeholderCut())
	}
	last := out[len(out)-1]
	for len(out) < minCuts {
		c := last.Clone()
		c.CutID = len(out) + 1
		c.CutName = last.CutName + continuedSuffix
		out = append(out, c)
	}
	return out
}

func placeholderCut() models.Cut {
	return models.Cut{
		CutID:       1,
		CutName:     "Scene 1",
		Composition: "wide establishing shot",
		Dialogues:   []models.DialogueLine{},
		Background:  "neutral background",
		Actions:     []string{},
		Characters:  []string{},
	}
}

// BuildPrompts 每个镜头生成一条生图提示词
func BuildPrompts(cuts []models.Cut) []string {
	prompts := make([]string, 0, len(cuts))
	for _, cut := range cuts {
		characters := "characters"
		if len(cut.Characters) > 0 {
			characters = strings.Join(cut.Characters, ", ")
		}
		lines := make([]string, 0, 3)
		for i, d := range cut.Dialogues {
			if i == 3 {
				break
			}
			lines = append(lines, d.Speaker+": "+d.Text)
		}
		prompts = append(prompts, fmt.Sprintf("%s, %s. characters: %s. background: %s. dialogues: %s. %s",
			cut.CutName, cut.Composition, characters, cut.Background, strings.Join(lines, "; "), promptStyle))
	}
	return prompts
}

// CleanStory 统一换行并去掉首尾空白
func CleanStory(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}

// StoryboardRequest POST /api/storyboard 的请求体
type StoryboardRequest struct {
	ProjectID        string `json:"project_id"`
	Title            string `json:"title"`
	Story            string `json:"story"`
	MinShotsPerScene int    `json:"min_shots_per_scene"`
}

// StoryboardResult 分镜和对应的生图提示词
type StoryboardResult struct {
	Title   string       `json:"title"`
	Cuts    []models.Cut `json:"cuts"`
	Prompts []string     `json:"prompts"`
}

// StoryboardService 生成分镜，带 project_id 时写回项目
type StoryboardService struct {
	synth    *StoryboardSynthesizer
	projects *ProjectService
}

func NewStoryboardService(synth *StoryboardSynthesizer, projects *ProjectService) *StoryboardService {
	return &StoryboardService{synth: synth, projects: projects}
}

func (s *StoryboardService) Generate(ctx context.Context, req StoryboardRequest) (StoryboardResult, error) {
	story := CleanStory(req.Story)
	if story == "" {
		return StoryboardResult{}, fmt.Errorf("%w: story must not be empty", ErrInvalidRequest)
	}
	if req.MinShotsPerScene < 0 {
		return StoryboardResult{}, fmt.Errorf("%w: min_shots_per_scene must be >= 1", ErrInvalidRequest)
	}
	projectID := strings.TrimSpace(req.ProjectID)
	if projectID != "" && s.projects != nil {
		if err := s.projects.Exists(ctx, projectID); err != nil {
			return StoryboardResult{}, err
		}
	}
	minCuts := req.MinShotsPerScene
	if minCuts == 0 {
		minCuts = 1
	}

	board, err := s.synth.Synthesize(ctx, story, req.Title, minCuts)
	if err != nil {
		return StoryboardResult{}, err
	}
	result := StoryboardResult{Title: board.Title, Cuts: board.Cuts, Prompts: BuildPrompts(board.Cuts)}
	log.Printf("[Storyboard] 生成完成: title=%q cuts=%d", result.Title, len(result.Cuts))

	if projectID == "" || s.projects == nil {
		return result, nil
	}
	_, err = s.projects.ApplyStoryboard(ctx, projectID, StoryboardUpdate{
		Story:            req.Story,
		RequestTitle:     req.Title,
		MinShotsPerScene: req.MinShotsPerScene,
		Storyboard:       board,
		Prompts:          result.Prompts,
	})
	if err != nil {
		return StoryboardResult{}, fmt.Errorf("写回项目失败: %w", err)
	}
	return result, nil
}
