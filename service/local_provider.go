package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"ShortsStudio-server/models"

	"github.com/spf13/afero"
)

const negativePrompt = "lowres, blurry, bad anatomy, bad hands, extra fingers, text, watermark"

// Pipeline 本地推理 worker 上的模型管线句柄。
// 模型只在第一次使用时加载一次，之后所有调用复用；并发的首次调用只会触发一次加载。
// 句柄只按进程生命周期缓存，不区分模型，切换模型需要先 Reset。
type Pipeline struct {
	client  *http.Client
	addr    string
	modelID string

	mu     sync.Mutex
	loaded atomic.Bool
	loads  atomic.Int32
}

func NewPipeline(addr, modelID string, client *http.Client) *Pipeline {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Pipeline{client: client, addr: addr, modelID: modelID}
}

// Ensure 双重检查加锁，保证模型只加载一次；加载失败不缓存，下次调用会重试
func (p *Pipeline) Ensure(ctx context.Context) error {
	if p.loaded.Load() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded.Load() {
		return nil
	}

	log.Printf("[Local] 加载模型管线: %s", p.modelID)
	body, _ := json.Marshal(map[string]string{"model_id": p.modelID})
	if _, err := p.post(ctx, "/v1/pipeline/load", body, "load"); err != nil {
		return err
	}
	p.loads.Add(1)
	p.loaded.Store(true)
	log.Printf("[Local] 模型管线就绪: %s", p.modelID)
	return nil
}

// Reset 丢弃已缓存的管线，下次 Ensure 重新加载
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded.Store(false)
}

// LoadCount 实际发生的加载次数
func (p *Pipeline) LoadCount() int {
	return int(p.loads.Load())
}

type txt2imgRequest struct {
	ModelID        string `json:"model_id"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Steps          int    `json:"num_inference_steps"`
}

// Txt2Img 返回 PNG 字节
func (p *Pipeline) Txt2Img(ctx context.Context, req txt2imgRequest) ([]byte, error) {
	req.ModelID = p.modelID
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &BackendError{Provider: ProviderLocal, Op: "txt2img", Err: err}
	}
	return p.post(ctx, "/v1/txt2img", body, "txt2img")
}

func (p *Pipeline) post(ctx context.Context, path string, body []byte, op string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.addr+path, bytes.NewReader(body))
	if err != nil {
		return nil, &BackendError{Provider: ProviderLocal, Op: op, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &BackendError{Provider: ProviderLocal, Op: op, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendError{Provider: ProviderLocal, Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &BackendError{Provider: ProviderLocal, Op: op, StatusCode: resp.StatusCode, Err: errors.New(truncate(string(data), 300))}
	}
	return data, nil
}

// LocalProvider 通过本地推理管线生图
type LocalProvider struct {
	pipeline     *Pipeline
	defaultSteps int
	fs           afero.Fs
}

func NewLocalProvider(pipeline *Pipeline, defaultSteps int) *LocalProvider {
	if defaultSteps <= 0 {
		defaultSteps = 25
	}
	return &LocalProvider{pipeline: pipeline, defaultSteps: defaultSteps, fs: afero.NewOsFs()}
}

// UseFs 替换图片写入的文件系统
func (p *LocalProvider) UseFs(fs afero.Fs) {
	p.fs = fs
}

func (p *LocalProvider) Kind() ProviderKind { return ProviderLocal }

func (p *LocalProvider) Prepare(ctx context.Context) error {
	return p.pipeline.Ensure(ctx)
}

func (p *LocalProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if err := p.pipeline.Ensure(ctx); err != nil {
		return GenerateResult{}, err
	}
	steps := req.Steps
	if steps <= 0 {
		steps = p.defaultSteps
	}
	png, err := p.pipeline.Txt2Img(ctx, txt2imgRequest{
		Prompt:         req.Prompt,
		NegativePrompt: negativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          steps,
	})
	if err != nil {
		return GenerateResult{}, err
	}
	path := req.OutputPath()
	if err := models.WriteFileAtomic(p.fs, path, png); err != nil {
		return GenerateResult{}, &BackendError{Provider: ProviderLocal, Op: "save", Err: err}
	}
	return GenerateResult{Path: path}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
