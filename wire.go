package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"ShortsStudio-server/config"
	"ShortsStudio-server/models"
	"ShortsStudio-server/routers/api"
	"ShortsStudio-server/service"

	"github.com/spf13/afero"
)

// app 按配置组装好的服务
type app struct {
	cfg        *config.Config
	projects   *service.ProjectService
	storyboard *service.StoryboardService
	engine     *service.Engine
	video      *service.VideoComposer
	home       *service.HomeService
	queue      *service.AsynqDispatcher
}

func buildApp(cfg *config.Config) (*app, error) {
	fs := afero.NewOsFs()

	var store models.ProjectStore
	switch cfg.Store.Backend {
	case "mysql":
		db, err := models.OpenDB(cfg.MySQL.DSN)
		if err != nil {
			return nil, err
		}
		store = models.NewGormStore(db)
	default:
		fileStore, err := models.NewFileStore(fs, cfg.Data.ProjectsDir)
		if err != nil {
			return nil, err
		}
		store = fileStore
	}
	log.Printf("[Store] 项目存储: %s", cfg.Store.Backend)
	projects := service.NewProjectService(store)

	var uploader service.Uploader
	if cfg.MinIOEnabled() {
		u, err := service.NewMinIOUploader(service.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		uploader = u
	}

	providers := service.ProviderSet{}
	if cfg.Local.Addr != "" {
		pipeline := service.NewPipeline(cfg.Local.Addr, cfg.Local.ModelID, nil)
		providers[service.ProviderLocal] = service.NewLocalProvider(pipeline, cfg.Local.Steps)
	}
	if cfg.Remote.APIKey != "" {
		providers[service.ProviderRemote] = service.NewRemoteProvider(service.RemoteConfig{
			BaseURL:      cfg.Remote.BaseURL,
			APIKey:       cfg.Remote.APIKey,
			ModelID:      cfg.Remote.ModelID,
			Steps:        cfg.Remote.Steps,
			PollInterval: cfg.Remote.PollInterval,
			Timeout:      cfg.Remote.Timeout,
		}, &http.Client{Timeout: 60 * time.Second})
	}
	if uploader != nil {
		for kind, p := range providers {
			providers[kind] = service.NewPublishingProvider(p, uploader)
		}
	}
	if len(providers) == 0 {
		log.Printf("[Job] 未配置任何生图后端, /api/images 将返回 503")
	}

	engine := service.NewEngine(service.NewTracker(), projects, providers, cfg.Data.OutputsDir)
	a := &app{cfg: cfg, projects: projects, engine: engine}
	if cfg.Queue.Backend == "asynq" {
		a.queue = service.NewAsynqDispatcher(service.AsynqConfig{
			RedisAddr:     cfg.Redis.Addr,
			RedisPassword: cfg.Redis.Password,
			Concurrency:   cfg.Queue.Concurrency,
		}, engine)
		engine.UseDispatcher(a.queue)
	}

	llm := service.NewOpenAIClient(service.OpenAIConfig{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
	}, nil)
	a.storyboard = service.NewStoryboardService(service.NewStoryboardSynthesizer(llm), projects)
	a.video = service.NewVideoComposer(cfg.Video.FFmpeg, cfg.Video.SecondsPerImage, cfg.Data.OutputsDir, cfg.Data.TempDir, uploader)
	a.home = service.NewHomeService(fs, service.HomeDirs{
		Outputs:  cfg.Data.OutputsDir,
		Temp:     cfg.Data.TempDir,
		Projects: cfg.Data.ProjectsDir,
	}, projects)
	return a, nil
}

// startWorkers asynq 模式下启动队列消费者；进程内模式无需启动
func (a *app) startWorkers() error {
	if a.queue == nil {
		return nil
	}
	if err := a.queue.Start(); err != nil {
		return fmt.Errorf("启动队列消费者失败: %w", err)
	}
	return nil
}

func (a *app) handler() *api.Handler {
	return &api.Handler{
		Projects:   a.projects,
		Storyboard: a.storyboard,
		Engine:     a.engine,
		Video:      a.video,
		Home:       a.home,
	}
}

func (a *app) Close() {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			log.Printf("[Queue] 关闭失败: %v", err)
		}
	}
}
