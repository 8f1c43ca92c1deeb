package models

// DialogueLine 一句台词
type DialogueLine struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Emotion *string `json:"emotion,omitempty"`
}

// Cut 分镜中的一个镜头
type Cut struct {
	CutID       int            `json:"cut_id"`
	CutName     string         `json:"cut_name"`
	Composition string         `json:"composition"`
	Dialogues   []DialogueLine `json:"dialogues"`
	Background  string         `json:"background"`
	Actions     []string       `json:"actions"`
	Characters  []string       `json:"characters"`
}

// Storyboard 由 LLM 生成的分镜脚本，只通过复制进 ProjectState 持久化
type Storyboard struct {
	Title string `json:"title"`
	Cuts  []Cut  `json:"cuts"`
}

// Clone 深拷贝，保证镜头之间不共享切片
func (c Cut) Clone() Cut {
	out := c
	out.Dialogues = make([]DialogueLine, len(c.Dialogues))
	for i, d := range c.Dialogues {
		out.Dialogues[i] = d
		if d.Emotion != nil {
			e := *d.Emotion
			out.Dialogues[i].Emotion = &e
		}
	}
	out.Actions = append([]string{}, c.Actions...)
	out.Characters = append([]string{}, c.Characters...)
	return out
}

func CloneCuts(cuts []Cut) []Cut {
	out := make([]Cut, len(cuts))
	for i, c := range cuts {
		out[i] = c.Clone()
	}
	return out
}
