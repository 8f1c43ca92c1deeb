package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// VideoRequest POST /api/video 的请求体
type VideoRequest struct {
	ImagePaths []string `json:"image_paths"`
	FPS        int      `json:"fps"`
	AudioPath  string   `json:"audio_path"`
	OutputPath string   `json:"output_path"`
}

// VideoResult 合成后的视频位置
type VideoResult struct {
	Output string `json:"output"`
	URL    string `json:"url,omitempty"`
}

// CommandRunner 执行外部命令，测试中替换
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// VideoComposer 用 ffmpeg 的 concat demuxer 把图片序列合成为幻灯片视频
type VideoComposer struct {
	ffmpeg          string
	secondsPerImage float64
	outputsDir      string
	tempDir         string
	uploader        Uploader
	run             CommandRunner
}

func NewVideoComposer(ffmpeg string, secondsPerImage float64, outputsDir, tempDir string, uploader Uploader) *VideoComposer {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if secondsPerImage <= 0 {
		secondsPerImage = 3
	}
	return &VideoComposer{
		ffmpeg:          ffmpeg,
		secondsPerImage: secondsPerImage,
		outputsDir:      outputsDir,
		tempDir:         tempDir,
		uploader:        uploader,
		run:             execRunner,
	}
}

// UseRunner 替换命令执行方式
func (v *VideoComposer) UseRunner(run CommandRunner) {
	v.run = run
}

func (v *VideoComposer) Compose(ctx context.Context, req VideoRequest) (VideoResult, error) {
	if len(req.ImagePaths) == 0 {
		return VideoResult{}, fmt.Errorf("%w: image_paths must not be empty", ErrInvalidRequest)
	}
	fps := req.FPS
	if fps <= 0 {
		fps = 24
	}
	output := req.OutputPath
	if output == "" {
		output = filepath.Join(v.outputsDir, "final.mp4")
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return VideoResult{}, fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := os.MkdirAll(v.tempDir, 0755); err != nil {
		return VideoResult{}, fmt.Errorf("failed to create temp dir: %w", err)
	}

	listFile, err := os.CreateTemp(v.tempDir, "concat-*.txt")
	if err != nil {
		return VideoResult{}, fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(listFile.Name())
	if _, err := listFile.WriteString(v.concatList(req.ImagePaths)); err != nil {
		listFile.Close()
		return VideoResult{}, fmt.Errorf("failed to write concat list: %w", err)
	}
	if err := listFile.Close(); err != nil {
		return VideoResult{}, fmt.Errorf("failed to write concat list: %w", err)
	}

	args := v.buildArgs(listFile.Name(), req.AudioPath, fps, output)
	log.Printf("[Video] 合成视频: %d 张图片 -> %s", len(req.ImagePaths), output)
	if out, err := v.run(ctx, v.ffmpeg, args...); err != nil {
		return VideoResult{}, fmt.Errorf("ffmpeg failed: %v: %s", err, truncate(strings.TrimSpace(string(out)), 500))
	}

	result := VideoResult{Output: output}
	if v.uploader != nil {
		url, err := v.uploader.Upload(ctx, output, "videos/"+filepath.Base(output))
		if err != nil {
			return VideoResult{}, fmt.Errorf("上传视频失败: %w", err)
		}
		result.URL = url
	}
	return result, nil
}

// concatList 每张图片持续 secondsPerImage 秒；最后一张需要重复一次才能生效
func (v *VideoComposer) concatList(paths []string) string {
	var b strings.Builder
	duration := strconv.FormatFloat(v.secondsPerImage, 'f', -1, 64)
	for _, p := range paths {
		fmt.Fprintf(&b, "file '%s'\nduration %s\n", escapeConcatPath(absPath(p)), duration)
	}
	fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(absPath(paths[len(paths)-1])))
	return b.String()
}

func (v *VideoComposer) buildArgs(listPath, audioPath string, fps int, output string) []string {
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}
	args = append(args,
		"-vf", fmt.Sprintf("fps=%d,format=yuv420p", fps),
		"-c:v", "libx264",
	)
	if audioPath != "" {
		args = append(args, "-c:a", "aac", "-shortest")
	}
	return append(args, output)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}
