package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"ShortsStudio-server/models"

	"github.com/spf13/afero"
)

var (
	imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}
	videoExts = map[string]bool{".mp4": true, ".mov": true, ".webm": true}
)

// HomeDirs 数据目录
type HomeDirs struct {
	Outputs  string `json:"outputs"`
	Temp     string `json:"temp"`
	Projects string `json:"projects"`
}

type HomeCounts struct {
	Prompts  int `json:"prompts"`
	Images   int `json:"images"`
	Videos   int `json:"videos"`
	Projects int `json:"projects"`
}

type HomeLists struct {
	Prompts  []string         `json:"prompts"`
	Images   []string         `json:"images"`
	Videos   []string         `json:"videos"`
	Projects []models.Project `json:"projects"`
}

// HomeListing 首页概览
type HomeListing struct {
	Dirs   HomeDirs   `json:"dirs"`
	Counts HomeCounts `json:"counts"`
	Lists  HomeLists  `json:"lists"`
}

// HomeService 列出输出目录中的素材和所有项目
type HomeService struct {
	fs       afero.Fs
	dirs     HomeDirs
	projects *ProjectService
}

func NewHomeService(fs afero.Fs, dirs HomeDirs, projects *ProjectService) *HomeService {
	return &HomeService{fs: fs, dirs: dirs, projects: projects}
}

func (h *HomeService) Listing(ctx context.Context) (HomeListing, error) {
	for _, dir := range []string{h.dirs.Outputs, h.dirs.Temp, h.dirs.Projects} {
		if err := h.fs.MkdirAll(dir, 0755); err != nil {
			return HomeListing{}, fmt.Errorf("create data dir %s: %w", dir, err)
		}
	}

	entries, err := afero.ReadDir(h.fs, h.dirs.Outputs)
	if err != nil {
		return HomeListing{}, fmt.Errorf("list outputs: %w", err)
	}
	lists := HomeLists{Prompts: []string{}, Images: []string{}, Videos: []string{}, Projects: []models.Project{}}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(h.dirs.Outputs, name)
		ext := strings.ToLower(filepath.Ext(name))
		if ok, _ := filepath.Match("prompt_*.txt", name); ok {
			lists.Prompts = append(lists.Prompts, path)
		}
		switch {
		case imageExts[ext]:
			lists.Images = append(lists.Images, path)
		case videoExts[ext]:
			lists.Videos = append(lists.Videos, path)
		}
	}
	sort.Strings(lists.Prompts)
	sort.Strings(lists.Images)
	sort.Strings(lists.Videos)

	if h.projects != nil {
		projects, err := h.projects.List(ctx)
		if err != nil {
			return HomeListing{}, err
		}
		lists.Projects = projects
	}

	return HomeListing{
		Dirs: h.dirs,
		Counts: HomeCounts{
			Prompts:  len(lists.Prompts),
			Images:   len(lists.Images),
			Videos:   len(lists.Videos),
			Projects: len(lists.Projects),
		},
		Lists: lists,
	}, nil
}
