package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"portraitStudio/internal/config"
)

const errorBodyLimit = 8 * 1024

// TokenSource 提供当前登录用户的 Bearer Token。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StatusError 表示后端返回了非 2xx 状态码。
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// Client 封装 REST 后端：项目 CRUD、项目 Bucket、上传与登录同步。
type Client struct {
	apiURL     string
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
}

// NewClient 构造后端客户端。tokens 为 nil 时只能调用 SyncUser。
func NewClient(cfg config.BackendConfig, tokens TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiURL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		logger:     logger,
	}
}

// ActiveProject 返回用户当前正在编辑的项目；后端可能返回对象或单元素数组，没有时返回 nil。
func (c *Client) ActiveProject(ctx context.Context) (*Project, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, "fetch active project", http.MethodGet, "/projects/active", nil, &raw); err != nil {
		return nil, err
	}
	projects, err := decodeProjects(raw)
	if err != nil {
		return nil, fmt.Errorf("decode active project: %w", err)
	}
	if len(projects) == 0 {
		return nil, nil
	}
	return &projects[0], nil
}

type createProjectRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// CreateProject 以客户端生成的 id 创建项目。
func (c *Client) CreateProject(ctx context.Context, id, name string) (*Project, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("project id is required")
	}
	var project Project
	if err := c.doJSON(ctx, "create project", http.MethodPost, "/projects", createProjectRequest{ID: id, Name: name}, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// GetProject 按 id 获取项目详情。
func (c *Client) GetProject(ctx context.Context, id string) (*Project, error) {
	var project Project
	if err := c.doJSON(ctx, "get project", http.MethodGet, "/projects/"+url.PathEscape(id), nil, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// CompletedProjects 列出已完成的项目（画廊、仪表盘使用）。
func (c *Client) CompletedProjects(ctx context.Context) ([]Project, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, "list completed projects", http.MethodGet, "/projects/completed", nil, &raw); err != nil {
		return nil, err
	}
	projects, err := decodeProjects(raw)
	if err != nil {
		return nil, fmt.Errorf("decode completed projects: %w", err)
	}
	return projects, nil
}

// UpdateProjectName 重命名项目，名称会去掉首尾空白。
func (c *Client) UpdateProjectName(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("project name is required")
	}
	body := map[string]string{"name": name}
	return c.doJSON(ctx, "update project name", http.MethodPatch, "/projects/"+url.PathEscape(id), body, nil)
}

// CompleteProject 将项目标记为已完成。
func (c *Client) CompleteProject(ctx context.Context, id string) (*Project, error) {
	var project Project
	if err := c.doJSON(ctx, "complete project", http.MethodPost, "/projects/"+url.PathEscape(id)+"/complete", nil, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// ProjectObjects 列出项目 Bucket 中的对象。
func (c *Client) ProjectObjects(ctx context.Context, projectID string) ([]BucketObject, error) {
	var objects []BucketObject
	if err := c.doJSON(ctx, "fetch objects in project", http.MethodGet, "/projects/bucket/"+url.PathEscape(projectID), nil, &objects); err != nil {
		return nil, err
	}
	return objects, nil
}

// DeleteProjectObjects 删除项目 Bucket 中某一类媒体。
func (c *Client) DeleteProjectObjects(ctx context.Context, projectID string, field Field) error {
	body := map[string]Field{"fieldname": field}
	return c.doJSON(ctx, "delete objects in project", http.MethodDelete, "/projects/bucket/"+url.PathEscape(projectID), body, nil)
}

// VideoURL 获取项目视频的签名地址。
func (c *Client) VideoURL(ctx context.Context, projectID string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, "get video url", http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/video", nil, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// FileUpload 是一个待上传文件；表单字段名取自 ContentType 的主类型（image/audio/video）。
type FileUpload struct {
	Name        string
	ContentType string
	Content     io.Reader
}

func (f FileUpload) field() string {
	major, _, _ := strings.Cut(f.ContentType, "/")
	return strings.ToLower(strings.TrimSpace(major))
}

// Upload 上传单个文件；projectID 为空时由后端新建项目。
func (c *Client) Upload(ctx context.Context, file FileUpload, projectID string) (*UploadResult, error) {
	return c.upload(ctx, "upload file", []FileUpload{file}, projectID)
}

// UploadAll 一次上传图片、音频、视频三个文件。
func (c *Client) UploadAll(ctx context.Context, files []FileUpload) (*UploadResult, error) {
	if len(files) != 3 {
		return nil, errors.New("please upload all required files")
	}
	return c.upload(ctx, "upload files", files, "")
}

func (c *Client) upload(ctx context.Context, op string, files []FileUpload, projectID string) (*UploadResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range files {
		field := f.field()
		switch field {
		case "image", "audio", "video":
		default:
			return nil, fmt.Errorf("%s: unsupported content type %q", op, f.ContentType)
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", multipart.FileContentDisposition(field, f.Name))
		header.Set("Content-Type", f.ContentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("%s: create form part: %w", op, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, fmt.Errorf("%s: copy %s: %w", op, f.Name, err)
		}
	}
	if projectID != "" {
		if err := writer.WriteField("projectId", projectID); err != nil {
			return nil, fmt.Errorf("%s: write projectId: %w", op, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%s: close form: %w", op, err)
	}

	var result UploadResult
	if err := c.do(ctx, op, http.MethodPost, c.apiURL+"/upload", body, writer.FormDataContentType(), true, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SyncUser 在登录/注册后通知后端同步用户，使用刚拿到的 ID Token。
func (c *Client) SyncUser(ctx context.Context, uid, idToken string) error {
	payload, err := json.Marshal(map[string]string{"uid": uid})
	if err != nil {
		return fmt.Errorf("encode sync payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/sync", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+idToken)
	return c.send(req, "sync with backend", nil)
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.do(ctx, op, method, c.apiURL+path, body, contentType, true, out)
}

func (c *Client) do(ctx context.Context, op, method, target string, body io.Reader, contentType string, authorize bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authorize {
		if c.tokens == nil {
			return fmt.Errorf("%s: not signed in", op)
		}
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%s: fetch bearer token: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.send(req, op, out)
}

func (c *Client) send(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("backend request failed", slog.String("op", op), slog.Any("error", err))
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		statusErr := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		c.logger.Warn("backend returned error status",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
		)
		return statusErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// decodeProjects 兼容后端时而返回对象、时而返回数组的情况。
func decodeProjects(raw json.RawMessage) ([]Project, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var projects []Project
		if err := json.Unmarshal(trimmed, &projects); err != nil {
			return nil, err
		}
		return projects, nil
	}
	var project Project
	if err := json.Unmarshal(trimmed, &project); err != nil {
		return nil, err
	}
	if project.ID == "" {
		return nil, nil
	}
	return []Project{project}, nil
}
