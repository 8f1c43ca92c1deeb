package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"ShortsStudio-server/models"
)

// fakeProvider 记录调用并按配置在第 failAt 张失败
type fakeProvider struct {
	kind     ProviderKind
	failAt   int
	failErr  error
	panicAt  int
	prepared int
	block    chan struct{}

	mu    sync.Mutex
	calls []GenerateRequest
}

func (f *fakeProvider) Kind() ProviderKind { return f.kind }

func (f *fakeProvider) Prepare(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared++
	return nil
}

func (f *fakeProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return GenerateResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.panicAt == req.Index {
		panic("decoder exploded")
	}
	if f.failAt == req.Index {
		if f.failErr != nil {
			return GenerateResult{}, f.failErr
		}
		return GenerateResult{}, errors.New("backend failure")
	}
	return GenerateResult{Path: req.OutputPath()}, nil
}

func (f *fakeProvider) Calls() []GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]GenerateRequest{}, f.calls...)
}

// recordingTracker 包装 Tracker，记录每一次成功写入的快照
type recordingTracker struct {
	*Tracker
	mu      sync.Mutex
	history map[string][]models.JobSnapshot
}

func newRecordingTracker() *recordingTracker {
	return &recordingTracker{Tracker: NewTracker(), history: map[string][]models.JobSnapshot{}}
}

func (r *recordingTracker) record(jobID string) {
	snap, err := r.Tracker.Get(jobID)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.history[jobID] = append(r.history[jobID], snap)
	r.mu.Unlock()
}

func (r *recordingTracker) Update(jobID string, status models.JobStatus, progress float64, message string) error {
	err := r.Tracker.Update(jobID, status, progress, message)
	if err == nil {
		r.record(jobID)
	}
	return err
}

func (r *recordingTracker) Complete(jobID string, results []models.ImageResult, message string) error {
	err := r.Tracker.Complete(jobID, results, message)
	if err == nil {
		r.record(jobID)
	}
	return err
}

func (r *recordingTracker) Fail(jobID string, errMsg string) error {
	err := r.Tracker.Fail(jobID, errMsg)
	if err == nil {
		r.record(jobID)
	}
	return err
}

func (r *recordingTracker) History(jobID string) []models.JobSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.JobSnapshot{}, r.history[jobID]...)
}

// fakeUploader 内存里的对象存储
type fakeUploader struct {
	mu      sync.Mutex
	objects map[string]string
	err     error
}

func (u *fakeUploader) Upload(ctx context.Context, localPath, objectName string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.objects == nil {
		u.objects = map[string]string{}
	}
	u.objects[objectName] = localPath
	return fmt.Sprintf("https://cdn.test/%s", filepath.ToSlash(objectName)), nil
}
