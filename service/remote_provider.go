package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"ShortsStudio-server/models"

	"github.com/spf13/afero"
)

// RemoteConfig 远程队列后端参数
type RemoteConfig struct {
	BaseURL      string
	APIKey       string
	ModelID      string
	Steps        int
	PollInterval time.Duration
	Timeout      time.Duration
}

// RemoteProvider 订阅式远程生图：提交 -> 轮询状态 -> 拉取结果 -> 下载到本地
type RemoteProvider struct {
	cfg    RemoteConfig
	client *http.Client
	fs     afero.Fs
}

func NewRemoteProvider(cfg RemoteConfig, client *http.Client) *RemoteProvider {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Steps <= 0 {
		cfg.Steps = 28
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &RemoteProvider{cfg: cfg, client: client, fs: afero.NewOsFs()}
}

// UseFs 替换下载图片写入的文件系统
func (p *RemoteProvider) UseFs(fs afero.Fs) {
	p.fs = fs
}

func (p *RemoteProvider) Kind() ProviderKind { return ProviderRemote }

// Prepare 远程后端没有独立的加载步骤
func (p *RemoteProvider) Prepare(ctx context.Context) error {
	return nil
}

type remoteSubmitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type remoteStatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type remoteResult struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

func (p *RemoteProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	steps := req.Steps
	if steps <= 0 {
		steps = p.cfg.Steps
	}
	payload := map[string]interface{}{
		"prompt":              req.Prompt,
		"image_size":          map[string]int{"width": req.Width, "height": req.Height},
		"num_inference_steps": steps,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return GenerateResult{}, p.fail("submit", 0, err)
	}

	var submitted remoteSubmitResponse
	if err := p.doJSON(ctx, http.MethodPost, p.cfg.BaseURL+"/"+p.cfg.ModelID, body, "submit", &submitted); err != nil {
		return GenerateResult{}, err
	}
	// 没有 request_id 时只能使用响应里给出的完整地址
	if submitted.RequestID == "" && (submitted.StatusURL == "" || submitted.ResponseURL == "") {
		return GenerateResult{}, p.fail("submit", 0, errors.New("response missing request_id"))
	}
	base := fmt.Sprintf("%s/%s/requests/%s", p.cfg.BaseURL, p.cfg.ModelID, submitted.RequestID)
	if submitted.StatusURL == "" {
		submitted.StatusURL = base + "/status"
	}
	if submitted.ResponseURL == "" {
		submitted.ResponseURL = base
	}
	log.Printf("[Remote] 已提交 request_id=%s, 开始轮询...", submitted.RequestID)

	if err := p.waitCompleted(ctx, submitted.StatusURL); err != nil {
		return GenerateResult{}, err
	}

	var result remoteResult
	if err := p.doJSON(ctx, http.MethodGet, submitted.ResponseURL, nil, "result", &result); err != nil {
		return GenerateResult{}, err
	}
	if len(result.Images) == 0 || result.Images[0].URL == "" {
		return GenerateResult{}, p.fail("result", 0, errors.New("result has no images"))
	}
	imageURL := result.Images[0].URL

	data, err := p.download(ctx, imageURL)
	if err != nil {
		return GenerateResult{}, err
	}
	path := req.OutputPath()
	if err := models.WriteFileAtomic(p.fs, path, data); err != nil {
		return GenerateResult{}, p.fail("save", 0, err)
	}
	return GenerateResult{Path: path, URL: imageURL}, nil
}

// waitCompleted 轮询状态直到 COMPLETED；瞬时网络错误重试，非 2xx 立即失败
func (p *RemoteProvider) waitCompleted(ctx context.Context, statusURL string) error {
	timeout := time.NewTimer(p.cfg.Timeout)
	defer timeout.Stop()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-timeout.C:
			return p.fail("poll", 0, errors.New("polling timeout"))
		case <-ctx.Done():
			return p.fail("poll", 0, ctx.Err())
		case <-ticker.C:
			var status remoteStatusResponse
			err := p.doJSON(ctx, http.MethodGet, statusURL, nil, "poll", &status)
			if err != nil {
				var be *BackendError
				if errors.As(err, &be) && be.StatusCode == 0 && ctx.Err() == nil {
					log.Printf("[Remote] 轮询网络错误(重试中): %v", err)
					continue
				}
				return err
			}
			switch strings.ToUpper(status.Status) {
			case "COMPLETED", "OK", "SUCCEEDED":
				if status.Error != "" {
					return p.fail("poll", 0, errors.New(status.Error))
				}
				return nil
			case "FAILED", "ERROR", "CANCELLED":
				msg := status.Error
				if msg == "" {
					msg = "remote job " + strings.ToLower(status.Status)
				}
				return p.fail("poll", 0, errors.New(msg))
			}
			// IN_QUEUE / IN_PROGRESS 继续轮询
		}
	}
}

func (p *RemoteProvider) doJSON(ctx context.Context, method, url string, body []byte, op string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return p.fail(op, 0, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Key "+p.cfg.APIKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return p.fail(op, 0, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return p.fail(op, 0, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return p.fail(op, resp.StatusCode, errors.New(truncate(string(data), 300)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return p.fail(op, resp.StatusCode, fmt.Errorf("decode response failed: %w", err))
	}
	return nil
}

func (p *RemoteProvider) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, p.fail("download", 0, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, p.fail("download", 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, p.fail("download", resp.StatusCode, errors.New("unexpected status"))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.fail("download", 0, err)
	}
	return data, nil
}

func (p *RemoteProvider) fail(op string, status int, err error) error {
	return &BackendError{Provider: ProviderRemote, Op: op, StatusCode: status, Err: err}
}
