package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"

	"portraitStudio/internal/api/middleware"
	"portraitStudio/internal/storage"
)

// AssetStore 是素材接口依赖的对象存储能力，*storage.Client 实现了它。
type AssetStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	List(ctx context.Context, prefix string, limit int) ([]storage.ObjectInfo, error)
}

// Scanner 在上传前检查文件内容。
type Scanner interface {
	Scan(r io.Reader) error
}

var errMaliciousFile = errors.New("malicious file detected")

type clamdScanner struct {
	client *clamd.Clamd
}

// NewClamdScanner 返回基于 clamd 的扫描器；addr 为空时返回 nil，表示跳过扫描。
func NewClamdScanner(addr string) Scanner {
	if addr == "" {
		return nil
	}
	return clamdScanner{client: clamd.NewClamd(addr)}
}

func (s clamdScanner) Scan(r io.Reader) error {
	abort := make(chan bool)
	defer close(abort)

	results, err := s.client.ScanStream(r, abort)
	if err != nil {
		return fmt.Errorf("scan stream: %w", err)
	}
	var found error
	for result := range results {
		if result.Status != clamd.RES_OK && found == nil {
			found = fmt.Errorf("%w: %s", errMaliciousFile, result.Description)
		}
	}
	return found
}

// AssetHandler 负责素材上传、列表与访问链接。
type AssetHandler struct {
	store    AssetStore
	scanner  Scanner
	maxBytes int64
	logger   *slog.Logger
}

// NewAssetHandler 返回 AssetHandler 实例；scanner 可以为 nil。
func NewAssetHandler(store AssetStore, scanner Scanner, maxBytes int64, logger *slog.Logger) *AssetHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssetHandler{
		store:    store,
		scanner:  scanner,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// UploadAsset 接收一张肖像或一段音视频，扫描后写入用户目录。
func (h *AssetHandler) UploadAsset(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	log := middleware.LoggerFromContext(c)

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	if h.maxBytes > 0 && file.Size > h.maxBytes {
		Error(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	contentType := file.Header.Get("Content-Type")
	if !allowedUploadType(contentType) {
		Error(c, http.StatusUnsupportedMediaType, "unsupported content type")
		return
	}

	if h.scanner != nil {
		reader, err := file.Open()
		if err != nil {
			Internal(c, "failed to open file")
			return
		}
		err = h.scanner.Scan(reader)
		reader.Close()
		if errors.Is(err, errMaliciousFile) {
			log.Warn("rejected infected upload", slog.Any("error", err))
			BadRequest(c, errMaliciousFile.Error())
			return
		}
		if err != nil {
			log.Error("scan file failed", slog.Any("error", err))
			Internal(c, "failed to scan file")
			return
		}
	}

	reader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	defer reader.Close()

	objectKey := storage.AssetKey(userID, file.Filename)
	if err := h.store.Put(c.Request.Context(), objectKey, reader, file.Size, contentType); err != nil {
		log.Error("upload asset failed", slog.Any("error", err))
		Internal(c, "failed to upload file")
		return
	}

	url, err := h.store.Presign(c.Request.Context(), objectKey, 15*time.Minute)
	if err != nil {
		log.Warn("presign uploaded asset failed", slog.String("object_key", objectKey), slog.Any("error", err))
	}

	c.JSON(http.StatusCreated, gin.H{
		"object_key":   objectKey,
		"url":          url,
		"file_name":    file.Filename,
		"content_type": contentType,
		"size":         file.Size,
	})
}

// ListAssets 列出用户上传的素材，按修改时间倒序。
func (h *AssetHandler) ListAssets(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	log := middleware.LoggerFromContext(c)

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "60"))
	if err != nil || limit <= 0 {
		limit = 60
	}
	if limit > 200 {
		limit = 200
	}

	objects, err := h.store.List(c.Request.Context(), storage.UserPrefix(userID), limit)
	if err != nil {
		log.Error("list assets failed", slog.Any("error", err))
		Internal(c, "failed to list assets")
		return
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})

	items := make([]gin.H, 0, len(objects))
	for _, obj := range objects {
		url, err := h.store.Presign(c.Request.Context(), obj.Key, 10*time.Minute)
		if err != nil {
			log.Error("presign asset failed", slog.String("object_key", obj.Key), slog.Any("error", err))
			continue
		}
		items = append(items, gin.H{
			"object_key":    obj.Key,
			"url":           url,
			"size":          obj.Size,
			"last_modified": obj.LastModified,
		})
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GetAssetURL 返回素材或任务产物的临时预签名 URL。
func (h *AssetHandler) GetAssetURL(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	objectKey := c.Query("key")
	if objectKey == "" {
		BadRequest(c, "missing key")
		return
	}
	if !isValidUserObjectKey(userID, objectKey) {
		Forbidden(c, "access denied")
		return
	}

	signedURL, err := h.store.Presign(c.Request.Context(), objectKey, 15*time.Minute)
	if err != nil {
		middleware.LoggerFromContext(c).Error("presign asset failed", slog.Any("error", err))
		Internal(c, "failed to generate url")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}
