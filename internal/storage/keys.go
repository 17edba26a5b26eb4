package storage

import (
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
)

const (
	assetPrefix    = "uploads"
	artifactPrefix = "job-artifacts"
)

// AssetKey 为用户上传的素材生成对象键：uploads/<user>/<uuid><ext>。
func AssetKey(userID, filename string) string {
	return fmt.Sprintf("%s/%s/%s%s", assetPrefix, sanitizeSegment(userID), uuid.NewString(), normalizedExt(filename))
}

// ArtifactKey 为任务产物生成对象键：job-artifacts/<user>/<job>.<ext>。
func ArtifactKey(userID, jobID, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s/%s/%s.%s", artifactPrefix, sanitizeSegment(userID), sanitizeSegment(jobID), ext)
}

// ArtifactPrefix 匹配某个任务的全部产物（不论扩展名）。
func ArtifactPrefix(userID, jobID string) string {
	return fmt.Sprintf("%s/%s/%s.", artifactPrefix, sanitizeSegment(userID), sanitizeSegment(jobID))
}

// UserPrefix returns the asset prefix owned by a user.
func UserPrefix(userID string) string {
	return assetPrefix + "/" + sanitizeSegment(userID) + "/"
}

// OwnsKey reports whether key is an asset or artifact of userID.
func OwnsKey(userID, key string) bool {
	seg := sanitizeSegment(userID)
	if seg == "" || strings.Contains(key, "..") {
		return false
	}
	return strings.HasPrefix(key, assetPrefix+"/"+seg+"/") ||
		strings.HasPrefix(key, artifactPrefix+"/"+seg+"/")
}

// ExtFor 根据 URL 路径或 Content-Type 推断扩展名（不带点）。
func ExtFor(rawPath, contentType string) string {
	if ext := strings.TrimPrefix(path.Ext(rawPath), "."); ext != "" && len(ext) <= 5 {
		return strings.ToLower(ext)
	}
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			switch mediaType {
			case "audio/wav", "audio/x-wav", "audio/wave":
				return "wav"
			case "audio/mpeg":
				return "mp3"
			case "image/jpeg":
				return "jpg"
			case "image/png":
				return "png"
			case "image/webp":
				return "webp"
			case "video/mp4":
				return "mp4"
			}
			if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
				return strings.TrimPrefix(exts[0], ".")
			}
		}
	}
	return "bin"
}

func normalizedExt(filename string) string {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(filename)))
	if len(ext) > 6 || strings.ContainsAny(ext, "/\\ ") {
		return ""
	}
	return ext
}

func sanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	return s
}
