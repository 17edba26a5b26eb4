package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"portraitStudio/internal/backend"
	"portraitStudio/internal/jobs"
)

func (a *app) runSpeech(ctx context.Context, args []string) error {
	defaults := jobs.DefaultSpeechRequest("")

	fs := newFlagSet("tts", a.stderr)
	text := fs.String("text", "", "要合成的文本")
	speed := fs.Float64("speed", defaults.Speed, "语速")
	language := fs.String("language", defaults.Language, "语言代码")
	pitch := fs.Float64("pitch", defaults.Pitch, "音高")
	emotion := fs.String("emotion", "", "8 个逗号分隔的情绪权重：happiness,sadness,disgust,fear,surprise,anger,other,neutral")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := jobs.DefaultSpeechRequest(*text)
	req.Speed = *speed
	req.Language = *language
	req.Pitch = *pitch
	if *emotion != "" {
		e, err := parseEmotion(*emotion)
		if err != nil {
			return err
		}
		req.Emotion = e
	}
	result, err := a.runJob(ctx, req)
	if err != nil {
		return err
	}
	return a.printer.Print(result)
}

func (a *app) runAge(ctx context.Context, args []string) error {
	fs := newFlagSet("age", a.stderr)
	image := fs.String("image", "", "肖像图片 URL")
	file := fs.String("file", "", "本地肖像图片，先上传再使用其 URL")
	age := fs.Int("age", 0, "目标年龄（5-80）")
	projectID := fs.String("project", "", "把变换后的图片上传到该项目")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := jobs.AgeRequest{ImageURL: *image, TargetAge: *age}
	if *file != "" {
		if *image != "" {
			return errors.New("use either -image or -file")
		}
		// 上传前先校验其余字段。
		if err := jobs.ValidateRequest(jobs.AgeRequest{ImageURL: pendingUploadURL, TargetAge: *age}); err != nil {
			return err
		}
		url, err := a.uploadLocal(ctx, *file, *projectID)
		if err != nil {
			return err
		}
		req.ImageURL = url
	}

	result, err := a.runJob(ctx, req)
	if err != nil {
		return err
	}
	if *projectID == "" {
		return a.printer.Print(result)
	}
	name := fmt.Sprintf("transformed-age-%d-%d.jpg", *age, a.now().UnixMilli())
	return a.attachResult(ctx, result, *projectID, name, "image/jpeg")
}

func (a *app) runBackground(ctx context.Context, args []string) error {
	fs := newFlagSet("background", a.stderr)
	foreground := fs.String("foreground", "", "前景（人物）图片 URL")
	background := fs.String("background", "", "背景图片 URL")
	file := fs.String("file", "", "本地背景图片，先上传再使用其 URL")
	projectID := fs.String("project", "", "把替换后的图片上传到该项目")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := jobs.BackgroundRequest{ForegroundURL: *foreground, BackgroundURL: *background}
	if *file != "" {
		if *background != "" {
			return errors.New("use either -background or -file")
		}
		if err := jobs.ValidateRequest(jobs.BackgroundRequest{ForegroundURL: *foreground, BackgroundURL: pendingUploadURL}); err != nil {
			return err
		}
		url, err := a.uploadLocal(ctx, *file, *projectID)
		if err != nil {
			return err
		}
		req.BackgroundURL = url
	}

	result, err := a.runJob(ctx, req)
	if err != nil {
		return err
	}
	if *projectID == "" {
		return a.printer.Print(result)
	}
	name := fmt.Sprintf("background-replaced-%d.png", a.now().UnixMilli())
	return a.attachResult(ctx, result, *projectID, name, "image/png")
}

// pendingUploadURL 在本地文件上传之前代替其 URL 参与校验。
const pendingUploadURL = "https://upload.pending/file"

// runJob 校验输入后直连任务服务，进度写到 stderr。
func (a *app) runJob(ctx context.Context, req jobs.Request) (*jobs.Result, error) {
	if err := jobs.ValidateRequest(req); err != nil {
		return nil, err
	}
	return a.jobs.Run(ctx, req, func(ev jobs.Event) {
		fmt.Fprintln(a.stderr, progressLine(ev))
	})
}

// uploadLocal 把本地文件上传到后端，返回可公开访问的 URL。
func (a *app) uploadLocal(ctx context.Context, path, projectID string) (string, error) {
	f, err := openUpload(path)
	if err != nil {
		return "", err
	}
	defer f.Content.(io.Closer).Close()

	res, err := a.backend.Upload(ctx, f, projectID)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", f.Name, err)
	}
	url := res.FirstURL()
	if url == "" {
		return "", fmt.Errorf("upload %s: no file url in response", f.Name)
	}
	fmt.Fprintf(a.stderr, "uploaded %s\n", f.Name)
	return url, nil
}

// attachedResult 是结果图片上传到项目后的输出。
type attachedResult struct {
	Kind      jobs.Kind `json:"kind" yaml:"kind"`
	ProjectID string    `json:"project_id" yaml:"project_id"`
	URL       string    `json:"url" yaml:"url"`
	SourceURL string    `json:"source_url" yaml:"source_url"`
}

// attachResult 下载任务结果并作为项目文件上传，任务服务返回的签名 URL 会过期。
func (a *app) attachResult(ctx context.Context, result *jobs.Result, projectID, name, fallbackType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, result.URL, nil)
	if err != nil {
		return fmt.Errorf("build result request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("download result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download result: unexpected status %d", resp.StatusCode)
	}

	contentType := fallbackType
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && strings.HasPrefix(mediaType, "image/") {
		contentType = mediaType
	}

	up, err := a.backend.Upload(ctx, backend.FileUpload{Name: name, ContentType: contentType, Content: resp.Body}, projectID)
	if err != nil {
		return fmt.Errorf("upload result: %w", err)
	}
	return a.printer.Print(attachedResult{
		Kind:      result.Kind,
		ProjectID: projectID,
		URL:       up.FirstURL(),
		SourceURL: result.URL,
	})
}

func progressLine(ev jobs.Event) string {
	msg := ev.Message
	if msg == "" {
		msg = "..."
	}
	line := fmt.Sprintf("[%s] %s", ev.Status, msg)
	if ev.ProcessingTime != nil && ev.ProcessingTime.Total != nil {
		line += fmt.Sprintf(" (%.1fs)", *ev.ProcessingTime.Total)
	}
	return line
}

func parseEmotion(raw string) (jobs.Emotion, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 8 {
		return jobs.Emotion{}, fmt.Errorf("emotion needs 8 comma separated values, got %d", len(parts))
	}
	var v [8]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return jobs.Emotion{}, fmt.Errorf("emotion value %d: %w", i+1, err)
		}
		if f < 0 {
			return jobs.Emotion{}, fmt.Errorf("emotion value %d must not be negative", i+1)
		}
		v[i] = f
	}
	return jobs.EmotionFromVector(v), nil
}
