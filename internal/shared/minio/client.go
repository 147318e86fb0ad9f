// Package objstore 封装 MinIO 对象存储客户端
//
// 用于归档上传的测验源文档。
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"eagle-task/internal/config"
	"eagle-task/pkg/logging"
)

// QuizUploadPrefix 测验源文档的对象前缀
const QuizUploadPrefix = "quiz-uploads"

// Client MinIO 客户端封装
type Client struct {
	mc     *minio.Client
	bucket string
	log    *logging.Logger
	now    func() time.Time
}

// NewClient 创建 MinIO 客户端
func NewClient(cfg config.MinIOConfig, log *logging.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio access_key and secret_key are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "eagle-task"
	}
	if log == nil {
		log = logging.Nop()
	}

	return &Client{mc: mc, bucket: bucket, log: log, now: time.Now}, nil
}

// EnsureBucket 确保 bucket 存在
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		c.log.Info().Str("bucket", c.bucket).Msg("minio bucket created")
	}
	return nil
}

// Upload 上传对象
func (c *Client) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := c.mc.PutObject(ctx, c.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// ArchiveDocument 归档测验源文档，返回对象 key
func (c *Client) ArchiveDocument(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	key := DocumentKey(c.now(), uuid.NewString(), filename)
	if err := c.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", err
	}
	return key, nil
}

// DocumentKey quiz-uploads/{yyyy/mm/dd}/{id}{ext}
func DocumentKey(t time.Time, id, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return path.Join(QuizUploadPrefix, t.UTC().Format("2006/01/02"), id+ext)
}
