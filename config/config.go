package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const DefaultPath = "config/config.yaml"

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Data struct {
		OutputsDir  string `yaml:"outputs_dir"`
		TempDir     string `yaml:"temp_dir"`
		ProjectsDir string `yaml:"projects_dir"`
	} `yaml:"data"`
	Store struct {
		Backend string `yaml:"backend"` // file | mysql
	} `yaml:"store"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	OpenAI struct {
		APIKey      string  `yaml:"api_key"`
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"openai"`
	// 本地推理 worker（diffusers 管线）
	Local struct {
		Addr    string `yaml:"addr"`
		ModelID string `yaml:"model_id"`
		Steps   int    `yaml:"steps"`
	} `yaml:"local"`
	// 远程订阅式生图（fal 队列 API）
	Remote struct {
		BaseURL      string        `yaml:"base_url"`
		APIKey       string        `yaml:"api_key"`
		ModelID      string        `yaml:"model_id"`
		Steps        int           `yaml:"steps"`
		PollInterval time.Duration `yaml:"poll_interval"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"remote"`
	Queue struct {
		Backend     string `yaml:"backend"` // local | asynq
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"queue"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"minio"`
	Video struct {
		FFmpeg          string  `yaml:"ffmpeg"`
		SecondsPerImage float64 `yaml:"seconds_per_image"`
	} `yaml:"video"`
}

// AppConfig 当前进程使用的配置，启动时由命令行入口设置
var AppConfig *Config

// Load 读取并解析 YAML 配置，补齐默认值并应用环境变量覆盖
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	cfg := &Config{}
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv 密钥优先从环境变量读取
func (c *Config) ApplyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("FAL_KEY"); v != "" {
		c.Remote.APIKey = v
	}
}

func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8000"
	}
	if c.Data.OutputsDir == "" {
		c.Data.OutputsDir = "data/outputs"
	}
	if c.Data.TempDir == "" {
		c.Data.TempDir = "data/temp"
	}
	if c.Data.ProjectsDir == "" {
		c.Data.ProjectsDir = "data/projects"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "file"
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.Temperature == 0 {
		c.OpenAI.Temperature = 0.3
	}
	if c.Local.ModelID == "" {
		c.Local.ModelID = "andite/anything-v5.0"
	}
	if c.Local.Steps <= 0 {
		c.Local.Steps = 25
	}
	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = "https://queue.fal.run"
	}
	if c.Remote.ModelID == "" {
		c.Remote.ModelID = "fal-ai/flux/dev"
	}
	if c.Remote.Steps <= 0 {
		c.Remote.Steps = 28
	}
	if c.Remote.PollInterval <= 0 {
		c.Remote.PollInterval = 2 * time.Second
	}
	if c.Remote.Timeout <= 0 {
		c.Remote.Timeout = 10 * time.Minute
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = "local"
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 2
	}
	if c.Video.FFmpeg == "" {
		c.Video.FFmpeg = "ffmpeg"
	}
	if c.Video.SecondsPerImage <= 0 {
		c.Video.SecondsPerImage = 3
	}
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "file":
	case "mysql":
		if c.MySQL.DSN == "" {
			return fmt.Errorf("config.mysql.dsn is required when store.backend=mysql")
		}
	default:
		return fmt.Errorf("config.store.backend must be 'file' or 'mysql', got %q", c.Store.Backend)
	}
	switch c.Queue.Backend {
	case "local":
	case "asynq":
		if c.Redis.Addr == "" {
			return fmt.Errorf("config.redis.addr is required when queue.backend=asynq")
		}
	default:
		return fmt.Errorf("config.queue.backend must be 'local' or 'asynq', got %q", c.Queue.Backend)
	}
	return nil
}

// MinIOEnabled 是否配置了对象存储（未配置时只保留本地文件）
func (c *Config) MinIOEnabled() bool {
	return c.MinIO.Endpoint != "" && c.MinIO.Bucket != ""
}
