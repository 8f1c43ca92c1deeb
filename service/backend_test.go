package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakePNG = []byte("\x89PNG\r\n\x1a\nfake")

func newLocalWorker(t *testing.T, loads *atomic.Int32, failTxt2Img bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/pipeline/load", func(w http.ResponseWriter, r *http.Request) {
		loads.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/v1/txt2img", func(w http.ResponseWriter, r *http.Request) {
		if failTxt2Img {
			http.Error(w, "CUDA out of memory", http.StatusInternalServerError)
			return
		}
		var req txt2imgRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Steps != 25 || req.NegativePrompt == "" || req.ModelID != "test-model" {
			http.Error(w, "unexpected params", http.StatusBadRequest)
			return
		}
		_, _ = w.Write(fakePNG)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPipeline_LoadsOnceUnderConcurrentFirstUse(t *testing.T) {
	var loads atomic.Int32
	srv := newLocalWorker(t, &loads, false)
	pipe := NewPipeline(srv.URL, "test-model", srv.Client())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, pipe.Ensure(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, 1, pipe.LoadCount())

	pipe.Reset()
	require.NoError(t, pipe.Ensure(context.Background()))
	assert.Equal(t, int32(2), loads.Load())
}

func TestLocalProvider_GenerateWritesIndexedFile(t *testing.T) {
	var loads atomic.Int32
	srv := newLocalWorker(t, &loads, false)
	provider := NewLocalProvider(NewPipeline(srv.URL, "test-model", srv.Client()), 25)
	dir := t.TempDir()

	res, err := provider.Generate(context.Background(), GenerateRequest{Prompt: "a cat", Width: 512, Height: 512, OutputDir: dir, Index: 2})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "image_02.png"), res.Path)
	assert.Empty(t, res.URL)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, fakePNG, data)
}

func TestLocalProvider_WritesThroughFs(t *testing.T) {
	var loads atomic.Int32
	srv := newLocalWorker(t, &loads, false)
	provider := NewLocalProvider(NewPipeline(srv.URL, "test-model", srv.Client()), 25)
	fs := afero.NewMemMapFs()
	provider.UseFs(fs)

	res, err := provider.Generate(context.Background(), GenerateRequest{Prompt: "a cat", OutputDir: "/outputs/job-1", Index: 1})
	require.NoError(t, err)
	data, err := afero.ReadFile(fs, res.Path)
	require.NoError(t, err)
	assert.Equal(t, fakePNG, data)
	ok, err := afero.Exists(fs, res.Path+".tmp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalProvider_FailureIsLocal(t *testing.T) {
	var loads atomic.Int32
	srv := newLocalWorker(t, &loads, true)
	provider := NewLocalProvider(NewPipeline(srv.URL, "test-model", srv.Client()), 25)

	_, err := provider.Generate(context.Background(), GenerateRequest{Prompt: "a cat", OutputDir: t.TempDir(), Index: 1})
	require.Error(t, err)
	assert.True(t, IsLocalFailure(err))
	assert.False(t, IsRemoteFailure(err))
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

type remoteFake struct {
	srv       *httptest.Server
	polls     atomic.Int32
	submitted atomic.Int32
}

func newRemoteFake(t *testing.T, finalStatus string, submitStatus int) *remoteFake {
	t.Helper()
	f := &remoteFake{}
	mux := http.NewServeMux()
	mux.HandleFunc("/fal-ai/flux/dev", func(w http.ResponseWriter, r *http.Request) {
		f.submitted.Add(1)
		if r.Header.Get("Authorization") != "Key secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if submitStatus != http.StatusOK {
			http.Error(w, "quota exceeded", submitStatus)
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["num_inference_steps"] != float64(28) {
			http.Error(w, "bad steps", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"request_id": "req-1"})
	})
	mux.HandleFunc("/fal-ai/flux/dev/requests/req-1/status", func(w http.ResponseWriter, r *http.Request) {
		n := f.polls.Add(1)
		status := "IN_PROGRESS"
		if n >= 2 {
			status = finalStatus
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
	mux.HandleFunc("/fal-ai/flux/dev/requests/req-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"images": []map[string]string{{"url": f.srv.URL + "/files/out.png"}},
		})
	})
	mux.HandleFunc("/files/out.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(fakePNG)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *remoteFake) provider() *RemoteProvider {
	return NewRemoteProvider(RemoteConfig{
		BaseURL:      f.srv.URL,
		APIKey:       "secret",
		ModelID:      "fal-ai/flux/dev",
		PollInterval: 5 * time.Millisecond,
		Timeout:      2 * time.Second,
	}, f.srv.Client())
}

func TestRemoteProvider_SubmitPollDownload(t *testing.T) {
	f := newRemoteFake(t, "COMPLETED", http.StatusOK)
	dir := t.TempDir()

	res, err := f.provider().Generate(context.Background(), GenerateRequest{Prompt: "a dog", Width: 768, Height: 1344, OutputDir: dir, Index: 1})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "image_01.png"), res.Path)
	assert.Equal(t, f.srv.URL+"/files/out.png", res.URL)
	assert.GreaterOrEqual(t, f.polls.Load(), int32(2))

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, fakePNG, data)
}

func TestRemoteProvider_Non2xxIsRemoteFailure(t *testing.T) {
	f := newRemoteFake(t, "COMPLETED", http.StatusTooManyRequests)

	_, err := f.provider().Generate(context.Background(), GenerateRequest{Prompt: "a dog", OutputDir: t.TempDir(), Index: 1})
	require.Error(t, err)
	assert.True(t, IsRemoteFailure(err))
	assert.False(t, IsLocalFailure(err))

	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusTooManyRequests, be.StatusCode)
	assert.Equal(t, "submit", be.Op)
}

func TestRemoteProvider_JobFailure(t *testing.T) {
	f := newRemoteFake(t, "FAILED", http.StatusOK)

	_, err := f.provider().Generate(context.Background(), GenerateRequest{Prompt: "a dog", OutputDir: t.TempDir(), Index: 1})
	require.Error(t, err)
	assert.True(t, IsRemoteFailure(err))
}

func TestRemoteProvider_NetworkFailure(t *testing.T) {
	f := newRemoteFake(t, "COMPLETED", http.StatusOK)
	p := f.provider()
	f.srv.Close()

	_, err := p.Generate(context.Background(), GenerateRequest{Prompt: "a dog", OutputDir: t.TempDir(), Index: 1})
	require.Error(t, err)
	assert.True(t, IsRemoteFailure(err))
}

func TestRemoteProvider_PrepareIsNoop(t *testing.T) {
	p := NewRemoteProvider(RemoteConfig{BaseURL: "http://unused"}, nil)
	assert.NoError(t, p.Prepare(context.Background()))
	assert.Equal(t, ProviderRemote, p.Kind())
}

func TestRemoteProvider_WritesThroughFs(t *testing.T) {
	f := newRemoteFake(t, "COMPLETED", http.StatusOK)
	p := f.provider()
	fs := afero.NewMemMapFs()
	p.UseFs(fs)

	res, err := p.Generate(context.Background(), GenerateRequest{Prompt: "a dog", OutputDir: "/outputs/job-2", Index: 3})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/outputs/job-2", "image_03.png"), res.Path)
	data, err := afero.ReadFile(fs, res.Path)
	require.NoError(t, err)
	assert.Equal(t, fakePNG, data)
}

func TestRemoteProvider_SubmitWithoutRequestID(t *testing.T) {
	tests := []struct {
		name   string
		submit map[string]string
	}{
		{name: "nothing", submit: map[string]string{}},
		{name: "status url only", submit: map[string]string{"status_url": "/status"}},
		{name: "response url only", submit: map[string]string{"response_url": "/result"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var polled atomic.Int32
			mux := http.NewServeMux()
			mux.HandleFunc("/m", func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(tt.submit)
			})
			mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
				polled.Add(1)
				http.NotFound(w, r)
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			p := NewRemoteProvider(RemoteConfig{BaseURL: srv.URL, APIKey: "k", ModelID: "m", PollInterval: time.Millisecond, Timeout: time.Second}, srv.Client())
			_, err := p.Generate(context.Background(), GenerateRequest{Prompt: "x", OutputDir: t.TempDir(), Index: 1})
			require.Error(t, err)
			assert.True(t, IsRemoteFailure(err))
			var be *BackendError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, "submit", be.Op)
			assert.Zero(t, polled.Load(), "no request with an empty id")
		})
	}
}
