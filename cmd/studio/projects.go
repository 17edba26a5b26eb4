package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"portraitStudio/internal/backend"
)

func (a *app) projects(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: studio projects list|active|get|create|rename|complete")
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list", "gallery":
		items, err := a.backend.CompletedProjects(ctx)
		if err != nil {
			return err
		}
		return a.printer.Print(projectSummaries(items))
	case "active":
		p, err := a.backend.ActiveProject(ctx)
		if err != nil {
			return err
		}
		if p == nil {
			return errors.New("no active project")
		}
		return a.printer.Print(p)
	case "get":
		id, err := requireArg(rest, "project id")
		if err != nil {
			return err
		}
		p, err := a.backend.GetProject(ctx, id)
		if err != nil {
			return err
		}
		return a.printer.Print(p)
	case "create":
		fs := newFlagSet("projects create", a.stderr)
		name := fs.String("name", "", "项目名称")
		id := fs.String("id", "", "项目 id（缺省时生成）")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *id == "" {
			*id = uuid.NewString()
		}
		p, err := a.backend.CreateProject(ctx, *id, *name)
		if err != nil {
			return err
		}
		return a.printer.Print(p)
	case "rename":
		if len(rest) < 2 {
			return errors.New("usage: studio projects rename ID NAME")
		}
		if err := a.backend.UpdateProjectName(ctx, rest[0], strings.Join(rest[1:], " ")); err != nil {
			return err
		}
		fmt.Fprintln(a.stderr, "renamed")
		return nil
	case "complete":
		id, err := requireArg(rest, "project id")
		if err != nil {
			return err
		}
		p, err := a.backend.CompleteProject(ctx, id)
		if err != nil {
			return err
		}
		return a.printer.Print(p)
	default:
		return fmt.Errorf("unknown projects subcommand %q", sub)
	}
}

type projectSummary struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Status    string `json:"status" yaml:"status"`
	HasVideo  bool   `json:"has_video" yaml:"has_video"`
	UpdatedAt string `json:"updated_at" yaml:"updated_at"`
}

func projectSummaries(items []backend.Project) []projectSummary {
	out := make([]projectSummary, 0, len(items))
	for _, p := range items {
		out = append(out, projectSummary{
			ID:        p.ID,
			Name:      p.DisplayName(),
			Status:    p.Status,
			HasVideo:  p.HasVideo(),
			UpdatedAt: p.UpdatedAt,
		})
	}
	return out
}

func (a *app) video(ctx context.Context, args []string) error {
	id, err := requireArg(args, "project id")
	if err != nil {
		return err
	}
	url, err := a.backend.VideoURL(ctx, id)
	if err != nil {
		return err
	}
	return a.printer.Print(map[string]string{"project_id": id, "url": url})
}

func (a *app) upload(ctx context.Context, args []string) error {
	fs := newFlagSet("upload", a.stderr)
	projectID := fs.String("project", "", "追加到已有项目（缺省时由后端新建）")
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths := fs.Args()
	if len(paths) == 0 {
		return errors.New("usage: studio upload [-project ID] FILE...")
	}

	files := make([]backend.FileUpload, 0, len(paths))
	for _, p := range paths {
		f, err := openUpload(p)
		if err != nil {
			return err
		}
		defer f.Content.(io.Closer).Close()
		files = append(files, f)
	}

	if *projectID == "" && len(files) == 3 {
		res, err := a.backend.UploadAll(ctx, files)
		if err != nil {
			return err
		}
		return a.printer.Print(res)
	}

	results := make([]*backend.UploadResult, 0, len(files))
	target := *projectID
	for _, f := range files {
		res, err := a.backend.Upload(ctx, f, target)
		if err != nil {
			return fmt.Errorf("upload %s: %w", f.Name, err)
		}
		if target == "" {
			target = res.ProjectID
		}
		results = append(results, res)
	}
	return a.printer.Print(results)
}

// openUpload 打开本地文件并推断 Content-Type：先看扩展名，再嗅探文件头。
func openUpload(path string) (backend.FileUpload, error) {
	f, err := os.Open(path)
	if err != nil {
		return backend.FileUpload{}, fmt.Errorf("open %s: %w", path, err)
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		contentType = http.DetectContentType(head[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return backend.FileUpload{}, fmt.Errorf("rewind %s: %w", path, err)
		}
	}

	return backend.FileUpload{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Content:     f,
	}, nil
}

func (a *app) bucket(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: studio bucket list ID | clear ID -field image|audio|video")
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
		id, err := requireArg(rest, "project id")
		if err != nil {
			return err
		}
		objects, err := a.backend.ProjectObjects(ctx, id)
		if err != nil {
			return err
		}
		return a.printer.Print(objects)
	case "clear":
		id, err := requireArg(rest, "project id")
		if err != nil {
			return err
		}
		fs := newFlagSet("bucket clear", a.stderr)
		raw := fs.String("field", "", "要清空的字段：image、audio 或 video")
		if err := fs.Parse(rest[1:]); err != nil {
			return err
		}
		field, ok := backend.ParseField(*raw)
		if !ok {
			return fmt.Errorf("invalid field %q", *raw)
		}
		if err := a.backend.DeleteProjectObjects(ctx, id, field); err != nil {
			return err
		}
		fmt.Fprintf(a.stderr, "cleared %s of project %s\n", field, id)
		return nil
	default:
		return fmt.Errorf("unknown bucket subcommand %q", sub)
	}
}

func requireArg(args []string, what string) (string, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("%s is required", what)
	}
	return strings.TrimSpace(args[0]), nil
}
