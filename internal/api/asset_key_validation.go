package api

import (
	"path"
	"strings"
	"unicode/utf8"

	"portraitStudio/internal/storage"
)

const maxObjectKeyLen = 200

var assetExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".webp": {},
	".wav": {}, ".mp3": {}, ".m4a": {}, ".ogg": {},
	".mp4": {}, ".webm": {}, ".mov": {},
}

// isValidUserObjectKey 校验对象键属于该用户且为受支持的媒体文件。
func isValidUserObjectKey(userID, key string) bool {
	if key == "" || len(key) > maxObjectKeyLen || !utf8.ValidString(key) {
		return false
	}
	if strings.Contains(key, "\\") || strings.Contains(key, "//") {
		return false
	}
	if !storage.OwnsKey(userID, key) {
		return false
	}
	_, ok := assetExtensions[strings.ToLower(path.Ext(key))]
	return ok
}

// allowedUploadType 只接受图片、音频、视频。
func allowedUploadType(contentType string) bool {
	major, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(contentType)), "/")
	switch major {
	case "image", "audio", "video":
		return true
	}
	return false
}
