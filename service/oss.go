package service

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader 把本地文件发布到对象存储，返回可访问的 URL
type Uploader interface {
	Upload(ctx context.Context, localPath, objectName string) (string, error)
}

// MinIOConfig 对象存储连接参数
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Expiry    time.Duration
}

// MinIOUploader 基于 MinIO 的 Uploader
type MinIOUploader struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewMinIOUploader 初始化连接
func NewMinIOUploader(cfg MinIOConfig) (*MinIOUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("MinIO 初始化失败: %w", err)
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 72 * time.Hour
	}
	log.Println("MinIO 连接成功")
	return &MinIOUploader{client: client, bucket: cfg.Bucket, expiry: expiry}, nil
}

// Upload 上传本地文件并生成预签名 URL
func (u *MinIOUploader) Upload(ctx context.Context, localPath, objectName string) (string, error) {
	// 确保 Bucket 存在
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return "", fmt.Errorf("检查 Bucket 失败: %w", err)
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
			return "", fmt.Errorf("创建 Bucket 失败: %w", err)
		}
		log.Printf("Bucket '%s' 已创建", u.bucket)
	}

	_, err = u.client.FPutObject(ctx, u.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: contentTypeFor(objectName),
	})
	if err != nil {
		return "", fmt.Errorf("上传到 MinIO 失败: %w", err)
	}

	presignedURL, err := u.client.PresignedGetObject(ctx, u.bucket, objectName, u.expiry, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("生成签名 URL 失败: %w", err)
	}
	log.Printf("文件已上传: %s", objectName)
	return presignedURL.String(), nil
}

// contentTypeFor 根据文件扩展名确定 ContentType
func contentTypeFor(name string) string {
	switch filepath.Ext(name) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// PublishingProvider 在生成后把图片上传到对象存储，结果带上可访问 URL。
// 上传失败视为该后端的失败。
type PublishingProvider struct {
	Provider
	uploader Uploader
}

func NewPublishingProvider(p Provider, uploader Uploader) *PublishingProvider {
	return &PublishingProvider{Provider: p, uploader: uploader}
}

func (p *PublishingProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	res, err := p.Provider.Generate(ctx, req)
	if err != nil {
		return res, err
	}
	objectName := fmt.Sprintf("jobs/%s/%s", req.JobID, filepath.Base(res.Path))
	publicURL, err := p.uploader.Upload(ctx, res.Path, objectName)
	if err != nil {
		return GenerateResult{}, &BackendError{Provider: p.Kind(), Op: "publish", Err: err}
	}
	res.URL = publicURL
	return res, nil
}
