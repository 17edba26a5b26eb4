package backend

import "strings"

// MediaType 是后端返回的媒体类型（大写）。
type MediaType string

const (
	MediaImage MediaType = "IMAGE"
	MediaAudio MediaType = "AUDIO"
	MediaVideo MediaType = "VIDEO"
)

// Field 是按字段清空项目 Bucket 时使用的小写字段名。
type Field string

const (
	FieldImage Field = "image"
	FieldAudio Field = "audio"
	FieldVideo Field = "video"
)

// ParseField accepts image, audio or video in any case.
func ParseField(s string) (Field, bool) {
	switch Field(strings.ToLower(strings.TrimSpace(s))) {
	case FieldImage:
		return FieldImage, true
	case FieldAudio:
		return FieldAudio, true
	case FieldVideo:
		return FieldVideo, true
	default:
		return "", false
	}
}

// Media 是项目下的一条媒体记录。
type Media struct {
	ID        string    `json:"id" yaml:"id"`
	FileName  string    `json:"fileName" yaml:"file_name"`
	FileType  MediaType `json:"fileType" yaml:"file_type"`
	URL       string    `json:"url" yaml:"url"`
	CreatedAt string    `json:"createdAt" yaml:"created_at"`
}

// Project 是后端的项目实体；生成完成后 Status 变为 completed 并出现在画廊中。
type Project struct {
	ID        string  `json:"id" yaml:"id"`
	Name      string  `json:"name" yaml:"name"`
	Status    string  `json:"status" yaml:"status"`
	CreatedAt string  `json:"createdAt" yaml:"created_at"`
	UpdatedAt string  `json:"updatedAt" yaml:"updated_at"`
	Media     []Media `json:"media" yaml:"media"`
}

// MediaOf returns the project's media of one type, in backend order.
func (p Project) MediaOf(t MediaType) []Media {
	var out []Media
	for _, m := range p.Media {
		if m.FileType == t {
			out = append(out, m)
		}
	}
	return out
}

// HasVideo reports whether the gallery should list the project.
func (p Project) HasVideo() bool {
	return len(p.MediaOf(MediaVideo)) > 0
}

// DisplayName falls back to a short id when the project was never named.
func (p Project) DisplayName() string {
	if strings.TrimSpace(p.Name) != "" {
		return p.Name
	}
	id := p.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Project " + id
}

// BucketObject 描述项目 Bucket 中的一个对象。
type BucketObject struct {
	Key          string `json:"key" yaml:"key"`
	URL          string `json:"url,omitempty" yaml:"url,omitempty"`
	Size         int64  `json:"size,omitempty" yaml:"size,omitempty"`
	LastModified string `json:"lastModified,omitempty" yaml:"last_modified,omitempty"`
}

// UploadedFile is one entry of an upload response.
type UploadedFile struct {
	URL      string `json:"url" yaml:"url"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
	FileName string `json:"fileName,omitempty" yaml:"file_name,omitempty"`
	FileType string `json:"fileType,omitempty" yaml:"file_type,omitempty"`
}

// UploadResult 是上传接口的返回：所属项目与文件地址。
type UploadResult struct {
	ProjectID string         `json:"projectId" yaml:"project_id"`
	Files     []UploadedFile `json:"files" yaml:"files"`
}

// FirstURL returns the URL of the first uploaded file.
func (r UploadResult) FirstURL() string {
	if len(r.Files) == 0 {
		return ""
	}
	return r.Files[0].URL
}
