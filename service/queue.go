package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeImageJob = "images:generate"
)

// LocalDispatcher 每个任务一个 goroutine，进程内执行
type LocalDispatcher struct {
	ctx    context.Context
	runner JobRunner
	wg     sync.WaitGroup
}

// NewLocalDispatcher ctx 是所有任务共享的基础 context，与请求的 context 无关
func NewLocalDispatcher(ctx context.Context, runner JobRunner) *LocalDispatcher {
	return &LocalDispatcher{ctx: ctx, runner: runner}
}

func (d *LocalDispatcher) Dispatch(_ context.Context, job ImageJob) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runner.Run(d.ctx, job)
	}()
	return nil
}

// Wait 等待所有已调度的任务结束
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}

// AsynqConfig Redis 队列参数
type AsynqConfig struct {
	RedisAddr     string
	RedisPassword string
	Concurrency   int
	Timeout       time.Duration
}

// AsynqDispatcher 经 Redis 队列调度，消费者在同一进程内运行。
// 任务进度仍记录在本进程的 Tracker 中。
type AsynqDispatcher struct {
	client  *asynq.Client
	server  *asynq.Server
	runner  JobRunner
	timeout time.Duration
}

func NewAsynqDispatcher(cfg AsynqConfig, runner JobRunner) *AsynqDispatcher {
	redis := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &AsynqDispatcher{
		client: asynq.NewClient(redis),
		server: asynq.NewServer(redis, asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		}),
		runner:  runner,
		timeout: timeout,
	}
}

// Dispatch 任务入队；失败不重试，错误以任务终态体现
func (d *AsynqDispatcher) Dispatch(ctx context.Context, job ImageJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}
	task := asynq.NewTask(TypeImageJob, payload,
		asynq.MaxRetry(0),
		asynq.Timeout(d.timeout),
		asynq.Retention(24*time.Hour),
	)
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	log.Printf("[Queue] Task Enqueued: JobID=%s, TaskID=%s", job.JobID, info.ID)
	return nil
}

// Start 启动队列消费者
func (d *AsynqDispatcher) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeImageJob, d.HandleImageJob)
	log.Printf("[Queue] Starting image job consumer...")
	return d.server.Start(mux)
}

// HandleImageJob 解析任务并执行到终态
func (d *AsynqDispatcher) HandleImageJob(ctx context.Context, t *asynq.Task) error {
	var job ImageJob
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if job.JobID == "" {
		return fmt.Errorf("payload missing job_id: %w", asynq.SkipRetry)
	}
	d.runner.Run(ctx, job)
	return nil
}

// Close 停止消费者并关闭客户端
func (d *AsynqDispatcher) Close() error {
	d.server.Shutdown()
	return d.client.Close()
}
