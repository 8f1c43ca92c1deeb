package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ProviderKind 生图后端类型
type ProviderKind string

const (
	ProviderLocal  ProviderKind = "local"  // 本地 diffusion 管线
	ProviderRemote ProviderKind = "remote" // 远程订阅式队列 API
)

// remoteModelMarkers 模型名中出现任一标记即路由到远程后端（大小写不敏感）
var remoteModelMarkers = []string{"fal-ai", "fal/", "flux"}

// ParseProviderKind 显式指定的后端名称
func ParseProviderKind(s string) (ProviderKind, error) {
	switch ProviderKind(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderLocal:
		return ProviderLocal, nil
	case ProviderRemote:
		return ProviderRemote, nil
	default:
		return "", fmt.Errorf("%w: unknown provider %q", ErrInvalidRequest, s)
	}
}

// ProviderForModel 兼容旧请求只传 model 的情况：按标记子串匹配，未匹配默认本地
func ProviderForModel(model string) ProviderKind {
	m := strings.ToLower(model)
	for _, marker := range remoteModelMarkers {
		if strings.Contains(m, marker) {
			return ProviderRemote
		}
	}
	return ProviderLocal
}

// ResolveProvider provider 字段优先，否则根据 model 推断
func ResolveProvider(provider, model string) (ProviderKind, error) {
	if strings.TrimSpace(provider) != "" {
		return ParseProviderKind(provider)
	}
	return ProviderForModel(model), nil
}

// GenerateRequest 单张图片的生成参数
type GenerateRequest struct {
	JobID     string
	Prompt    string
	Width     int
	Height    int
	Steps     int // 0 表示使用后端默认步数
	OutputDir string
	Index     int // 从 1 开始
}

// OutputPath 由输出目录和序号确定的文件路径
func (r GenerateRequest) OutputPath() string {
	return filepath.Join(r.OutputDir, fmt.Sprintf("image_%02d.png", r.Index))
}

// GenerateResult path 一定存在，url 仅在后端或对象存储给出时存在
type GenerateResult struct {
	Path string
	URL  string
}

// Provider 统一的生图后端能力
type Provider interface {
	Kind() ProviderKind
	// Prepare 确认后端就绪（本地后端在此加载模型，远程后端无需加载）
	Prepare(ctx context.Context) error
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}

// ProviderSet 已配置的后端集合
type ProviderSet map[ProviderKind]Provider

func (s ProviderSet) Get(kind ProviderKind) (Provider, error) {
	p, ok := s[kind]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, kind)
	}
	return p, nil
}

// ParseSize "512x768" -> (512, 768)，无法解析时回退 512x512
func ParseSize(size string) (int, int) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(size)), "x")
	if len(parts) != 2 {
		return 512, 512
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 512, 512
	}
	return w, h
}
