package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultMirrorLimit = 512 << 20

// ObjectWriter 是镜像产物所需的最小存储能力，*Client 实现了它。
type ObjectWriter interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// Mirror 把远端任务产物（签名 URL，会过期）复制到自有 Bucket。
type Mirror struct {
	store      ObjectWriter
	httpClient *http.Client
	maxBytes   int64
}

// NewMirror 构造产物镜像器；httpClient 为 nil 时使用 2 分钟超时的默认客户端。
func NewMirror(store ObjectWriter, httpClient *http.Client) *Mirror {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Mirror{store: store, httpClient: httpClient, maxBytes: defaultMirrorLimit}
}

// Copy downloads sourceURL and stores it under job-artifacts/<user>/<job>.<ext>, returning the key.
func (m *Mirror) Copy(ctx context.Context, sourceURL, userID, jobID string) (string, error) {
	u, err := url.Parse(sourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("invalid artifact url %q", sourceURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("build artifact request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download artifact: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > m.maxBytes {
		return "", fmt.Errorf("artifact too large: %d bytes", resp.ContentLength)
	}

	contentType := resp.Header.Get("Content-Type")
	key := ArtifactKey(userID, jobID, ExtFor(u.Path, contentType))
	size := resp.ContentLength
	if size < 0 {
		size = -1
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	body := &cappedReader{r: resp.Body, remaining: m.maxBytes}
	if err := m.store.Put(ctx, key, body, size, contentType); err != nil {
		if body.exceeded {
			return "", errArtifactTooLarge
		}
		return "", err
	}
	if body.exceeded {
		return "", errArtifactTooLarge
	}
	return key, nil
}

var errArtifactTooLarge = errors.New("artifact too large")

// cappedReader 最多放行 remaining 字节；多出一个字节即报错，避免把截断的产物当作完整文件保存。
type cappedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.exceeded {
		return 0, errArtifactTooLarge
	}
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.r.Read(p)
	if int64(n) > c.remaining {
		c.exceeded = true
		return int(c.remaining), errArtifactTooLarge
	}
	c.remaining -= int64(n)
	return n, err
}
