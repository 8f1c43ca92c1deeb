package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"ShortsStudio-server/models"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func imageJobTask(t *testing.T, job ImageJob) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(job)
	require.NoError(t, err)
	return asynq.NewTask(TypeImageJob, payload)
}

func TestAsynqDispatcher_HandleImageJob(t *testing.T) {
	tests := []struct {
		name     string
		task     func(t *testing.T, f *engineFixture, projectID string) *asynq.Task
		skip     bool
		wantJob  string
		wantRuns int
	}{
		{
			name: "malformed payload",
			task: func(t *testing.T, _ *engineFixture, _ string) *asynq.Task {
				return asynq.NewTask(TypeImageJob, []byte(`{"job_id":`))
			},
			skip: true,
		},
		{
			name: "missing job id",
			task: func(t *testing.T, _ *engineFixture, projectID string) *asynq.Task {
				return imageJobTask(t, ImageJob{ProjectID: projectID, Prompts: []string{"a"}, Provider: ProviderLocal})
			},
			skip: true,
		},
		{
			name: "queued job runs to completion",
			task: func(t *testing.T, f *engineFixture, projectID string) *asynq.Task {
				stub := &stubDispatcher{}
				f.engine.UseDispatcher(stub)
				_, err := f.engine.Submit(context.Background(), ImageJobRequest{ProjectID: projectID, Prompts: []string{"a", "b"}})
				require.NoError(t, err)
				require.Len(t, stub.jobs, 1)
				return imageJobTask(t, stub.jobs[0])
			},
			wantRuns: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t, &fakeProvider{})
			projectID := f.newProject(t)
			d := &AsynqDispatcher{runner: f.engine}

			err := d.HandleImageJob(context.Background(), tt.task(t, f, projectID))
			if tt.skip {
				require.Error(t, err)
				assert.True(t, errors.Is(err, asynq.SkipRetry))
				assert.Empty(t, f.provider.Calls())
				return
			}
			require.NoError(t, err)
			assert.Len(t, f.provider.Calls(), tt.wantRuns)

			detail, err := f.projects.Get(context.Background(), projectID)
			require.NoError(t, err)
			assert.Empty(t, detail.State.ImageJobID)
			assert.Equal(t, string(models.JobStatusCompleted), detail.State.ImageProgress.Status)
			assert.Len(t, detail.State.SavedResults, 2)
			_, busy := f.engine.ActiveJob(projectID)
			assert.False(t, busy)
		})
	}
}

// 进程重启后 Redis 重新投递的任务：新 Tracker 中没有该 job_id
func TestAsynqDispatcher_RedeliveredJobAfterRestart(t *testing.T) {
	f := newEngineFixture(t, &fakeProvider{})
	ctx := context.Background()
	projectID := f.newProject(t)
	_, err := f.projects.Patch(ctx, projectID, models.StatePatch{
		ImageJobID:   ptrTo("stale-job"),
		SavedResults: &[]string{"old.png"},
	})
	require.NoError(t, err)

	d := &AsynqDispatcher{runner: f.engine}
	err = d.HandleImageJob(ctx, imageJobTask(t, ImageJob{
		JobID:     "stale-job",
		ProjectID: projectID,
		Prompts:   []string{"a"},
		Provider:  ProviderLocal,
		OutputDir: "/outputs/stale-job",
	}))
	require.NoError(t, err)

	assert.Empty(t, f.provider.Calls(), "untracked job must not generate")
	_, err = f.engine.Progress("stale-job")
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	detail, err := f.projects.Get(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, "", detail.State.ImageJobID)
	assert.Equal(t, string(models.JobStatusError), detail.State.ImageProgress.Status)
	assert.Contains(t, detail.State.ImageProgress.Message, "stale-job")
	assert.Equal(t, []string{"old.png"}, detail.State.SavedResults)
}

func TestAsynqDispatcher_RedeliveredJobKeepsNewerJob(t *testing.T) {
	f := newEngineFixture(t, &fakeProvider{})
	ctx := context.Background()
	projectID := f.newProject(t)
	_, err := f.projects.Patch(ctx, projectID, models.StatePatch{ImageJobID: ptrTo("current-job")})
	require.NoError(t, err)

	d := &AsynqDispatcher{runner: f.engine}
	require.NoError(t, d.HandleImageJob(ctx, imageJobTask(t, ImageJob{
		JobID: "stale-job", ProjectID: projectID, Prompts: []string{"a"}, Provider: ProviderLocal,
	})))

	detail, err := f.projects.Get(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, "current-job", detail.State.ImageJobID)
}
