package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"portraitStudio/internal/config"
)

// Client 封装 MinIO：上传用户素材、镜像任务产物、生成限时下载链接。
// 内网客户端负责读写，公网客户端只用于签名，保证签出的 URL 指向外部可访问的域名。
type Client struct {
	internal *minio.Client
	public   *minio.Client
	bucket   string
}

// ObjectInfo 描述 Bucket 中的一个对象。
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

func parseBucketLookup(raw string) (minio.BucketLookupType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return minio.BucketLookupAuto, nil
	case "dns":
		return minio.BucketLookupDNS, nil
	case "path":
		return minio.BucketLookupPath, nil
	default:
		return minio.BucketLookupAuto, fmt.Errorf("invalid minio bucket lookup %q", raw)
	}
}

// NewClient 根据配置初始化 MinIO 客户端，并确保目标 Bucket 存在。
func NewClient(ctx context.Context, cfg config.MinIOConfig) (*Client, error) {
	lookup, err := parseBucketLookup(cfg.BucketLookup)
	if err != nil {
		return nil, err
	}
	creds := credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")

	internal, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        creds,
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("init internal minio client: %w", err)
	}

	public := internal
	if strings.TrimSpace(cfg.PublicEndpoint) != "" {
		u, err := url.Parse(cfg.PublicEndpoint)
		if err != nil {
			return nil, fmt.Errorf("parse minio public endpoint: %w", err)
		}
		if u.Host == "" {
			return nil, errors.New("invalid minio public endpoint, host missing")
		}
		public, err = minio.New(u.Host, &minio.Options{
			Creds:        creds,
			Secure:       u.Scheme == "https",
			Region:       cfg.Region,
			BucketLookup: lookup,
		})
		if err != nil {
			return nil, fmt.Errorf("init public minio client: %w", err)
		}
	}

	c := &Client{internal: internal, public: public, bucket: cfg.Bucket}
	if err := c.ensureBucket(ctx, cfg); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureBucket(ctx context.Context, cfg config.MinIOConfig) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := c.internal.BucketExists(ctx, c.bucket)
	if err != nil && !IsNoSuchBucket(err) {
		return fmt.Errorf("check bucket %q: %w", c.bucket, err)
	}
	if exists {
		return nil
	}
	if !cfg.AutoCreateBucket {
		return fmt.Errorf("bucket %q does not exist (auto create disabled)", c.bucket)
	}
	if err := c.internal.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return fmt.Errorf("make bucket %q: %w", c.bucket, err)
	}
	return nil
}

// Put 上传对象；size 未知时传 -1。
func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := c.internal.PutObject(ctx, c.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	return nil
}

// Presign 生成对象的限时下载链接。
func (c *Client) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := c.public.PresignedGetObject(ctx, c.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", key, err)
	}
	return u.String(), nil
}

// List 列出前缀下的对象，最多 limit 个。
func (c *Client) List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([]ObjectInfo, 0, 16)
	for obj := range c.internal.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects under %q: %w", prefix, obj.Err)
		}
		out = append(out, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// RemovePrefix 删除前缀下的全部对象，已不存在的对象视为成功。
func (c *Client) RemovePrefix(ctx context.Context, prefix string) (int, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return 0, errors.New("refusing to remove empty prefix")
	}

	objects := c.internal.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	removed := 0
	var errs []error
	for res := range c.internal.RemoveObjects(ctx, c.bucket, countingObjects(ctx, objects, &removed), minio.RemoveObjectsOptions{}) {
		if res.Err != nil && !IsNoSuchKey(res.Err) {
			errs = append(errs, fmt.Errorf("remove %q: %w", res.ObjectName, res.Err))
		}
	}
	if len(errs) > 0 {
		return removed - len(errs), errors.Join(errs...)
	}
	return removed, nil
}

func countingObjects(ctx context.Context, in <-chan minio.ObjectInfo, n *int) <-chan minio.ObjectInfo {
	out := make(chan minio.ObjectInfo)
	go func() {
		defer close(out)
		for obj := range in {
			if obj.Err != nil || strings.TrimSpace(obj.Key) == "" {
				continue
			}
			select {
			case out <- obj:
				*n++
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
