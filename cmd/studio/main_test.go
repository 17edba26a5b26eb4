package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portraitStudio/internal/auth"
	"portraitStudio/internal/config"
	"portraitStudio/internal/jobs"
)

func newTestApp(t *testing.T, backendURL string, signedIn bool) (*app, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	sessionFile := filepath.Join(t.TempDir(), "session.json")
	if signedIn {
		data, err := json.Marshal(auth.SessionState{
			UserID:    "uid-1",
			Email:     "a@example.com",
			Provider:  "password",
			IDToken:   "id-token",
			ExpiresAt: time.Now().Add(time.Hour),
		})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(sessionFile, data, 0o600))
	}

	cfg := &config.Config{
		Backend: config.BackendConfig{
			APIURL:      backendURL + "/api",
			BaseURL:     backendURL,
			HTTPTimeout: 2 * time.Second,
		},
		Identity: config.IdentityConfig{SessionFile: sessionFile},
	}
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	p, err := newPrinter("json", stdout)
	require.NoError(t, err)

	a := newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), p)
	a.stderr = stderr
	a.stdin = bufio.NewReader(strings.NewReader(""))
	return a, stdout, stderr
}

func TestProjectsListPrintsSummaries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/projects/completed", r.URL.Path)
		assert.Equal(t, "Bearer id-token", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[{"id":"0123456789abcdef","status":"completed","media":[{"fileType":"VIDEO","url":"v"}]}]`)
	}))
	defer srv.Close()

	a, stdout, _ := newTestApp(t, srv.URL, true)
	require.NoError(t, a.dispatch(context.Background(), "projects", []string{"list"}))

	var got []projectSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Project 01234567", got[0].Name)
	assert.True(t, got[0].HasVideo)
}

func TestBucketClearSendsField(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/projects/bucket/p1", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a, _, stderr := newTestApp(t, srv.URL, true)
	require.NoError(t, a.dispatch(context.Background(), "bucket", []string{"clear", "p1", "-field", "Audio"}))
	assert.Equal(t, map[string]string{"fieldname": "audio"}, body)
	assert.Contains(t, stderr.String(), "cleared audio of project p1")

	err := a.dispatch(context.Background(), "bucket", []string{"clear", "p1", "-field", "pdf"})
	assert.EqualError(t, err, `invalid field "pdf"`)
}

func TestCommandsRequireSession(t *testing.T) {
	a, _, _ := newTestApp(t, "http://127.0.0.1:1", false)

	err := a.dispatch(context.Background(), "whoami", nil)
	assert.EqualError(t, err, "not signed in, run: studio login")

	err = a.dispatch(context.Background(), "video", []string{"p1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrNotSignedIn)
}

func TestWhoamiPrintsSession(t *testing.T) {
	a, stdout, _ := newTestApp(t, "http://127.0.0.1:1", true)
	require.NoError(t, a.dispatch(context.Background(), "whoami", nil))
	assert.Contains(t, stdout.String(), `"uid": "uid-1"`)
	assert.NotContains(t, stdout.String(), "id-token")
}

func TestJobCommandsValidateBeforeDialing(t *testing.T) {
	a, _, _ := newTestApp(t, "http://127.0.0.1:1", true)

	err := a.dispatch(context.Background(), "age", []string{"-image", "https://x.example/a.png", "-age", "90"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid age request")

	err = a.dispatch(context.Background(), "tts", []string{"-emotion", "1,2"})
	assert.EqualError(t, err, "emotion needs 8 comma separated values, got 2")
}

func TestUnknownCommand(t *testing.T) {
	a, _, _ := newTestApp(t, "http://127.0.0.1:1", false)
	assert.EqualError(t, a.dispatch(context.Background(), "render", nil), `unknown command "render" (see studio help)`)
}

func TestParseEmotion(t *testing.T) {
	e, err := parseEmotion("0.1, 0.2,0.3,0.4,0.5,0.6,0.7,0.8")
	require.NoError(t, err)
	assert.Equal(t, [8]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}, e.Vector())

	_, err = parseEmotion("0,0,0,0,0,0,0,x")
	assert.Error(t, err)
	_, err = parseEmotion("0,0,0,0,0,0,0,-1")
	assert.EqualError(t, err, "emotion value 8 must not be negative")
}

func TestProgressLine(t *testing.T) {
	total := 2.5
	assert.Equal(t, "[processing] Generating audio (2.5s)", progressLine(jobs.Event{
		Status:         "processing",
		Message:        "Generating audio",
		ProcessingTime: &jobs.ProcessingTime{Total: &total},
	}))
	assert.Equal(t, "[progress] ...", progressLine(jobs.Event{Status: "progress"}))
}

func TestPrinters(t *testing.T) {
	var buf bytes.Buffer
	p, err := newPrinter("yaml", &buf)
	require.NoError(t, err)
	require.NoError(t, p.Print(map[string]string{"url": "https://x.example/v.mp4"}))
	assert.Equal(t, "url: https://x.example/v.mp4\n", buf.String())

	buf.Reset()
	p, err = newPrinter("JSON", &buf)
	require.NoError(t, err)
	require.NoError(t, p.Print(map[string]string{"url": "a&b"}))
	assert.Equal(t, "{\n  \"url\": \"a&b\"\n}\n", buf.String())

	_, err = newPrinter("xml", &buf)
	assert.EqualError(t, err, `unsupported output format "xml"`)
}

func TestOpenUploadDetectsContentType(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "face.png")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n"), 0o600))
	noExt := filepath.Join(dir, "portrait")
	require.NoError(t, os.WriteFile(noExt, []byte("\x89PNG\r\n\x1a\n0000"), 0o600))

	f, err := openUpload(png)
	require.NoError(t, err)
	defer f.Content.(io.Closer).Close()
	assert.Equal(t, "image/png", f.ContentType)
	assert.Equal(t, "face.png", f.Name)

	g, err := openUpload(noExt)
	require.NoError(t, err)
	defer g.Content.(io.Closer).Close()
	assert.Equal(t, "image/png", g.ContentType)
	data, err := io.ReadAll(g.Content)
	require.NoError(t, err)
	assert.Len(t, data, 12)

	_, err = openUpload(filepath.Join(dir, "missing.wav"))
	assert.Error(t, err)
}

type uploadedPart struct {
	ProjectID   string
	FileName    string
	ContentType string
	Content     string
}

// studioServer 同时扮演 REST 后端、年龄变换服务和结果文件的存储。
type studioServer struct {
	srv      *httptest.Server
	mu       sync.Mutex
	uploads  []uploadedPart
	requests []map[string]any
}

func newStudioServer(t *testing.T) *studioServer {
	t.Helper()
	s := &studioServer{}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		data, err := io.ReadAll(file)
		require.NoError(t, err)

		s.mu.Lock()
		n := len(s.uploads)
		s.uploads = append(s.uploads, uploadedPart{
			ProjectID:   r.FormValue("projectId"),
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Content:     string(data),
		})
		s.mu.Unlock()

		url := s.srv.URL + "/cdn/" + string(rune('a'+n)) + "-" + header.Filename
		_ = json.NewEncoder(w).Encode(map[string]any{
			"projectId": "p1",
			"files":     []map[string]string{{"url": url}},
		})
	})
	mux.HandleFunc("/ws/age", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		_ = conn.WriteJSON(map[string]any{"type": "result", "data": map[string]any{"final_url": s.srv.URL + "/out/aged.png"}})
		_, _, _ = conn.ReadMessage()
	})
	mux.HandleFunc("/out/aged.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = io.WriteString(w, "aged-bytes")
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *studioServer) useJobs(a *app) {
	a.jobs = jobs.NewClient(config.JobsConfig{
		AgeURL:       "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws/age",
		ImageTimeout: 2 * time.Second,
		CloseGrace:   10 * time.Millisecond,
	}, a.session, a.logger)
}

func TestAgeUploadsLocalFileAndAttachesResult(t *testing.T) {
	s := newStudioServer(t)
	a, stdout, stderr := newTestApp(t, s.srv.URL, true)
	s.useJobs(a)
	a.now = func() time.Time { return time.UnixMilli(1700000000000) }

	portrait := filepath.Join(t.TempDir(), "me.png")
	require.NoError(t, os.WriteFile(portrait, []byte("\x89PNG\r\n\x1a\nface"), 0o600))

	require.NoError(t, a.dispatch(context.Background(), "age", []string{"-file", portrait, "-age", "70", "-project", "p1"}))

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.uploads, 2)
	assert.Equal(t, uploadedPart{ProjectID: "p1", FileName: "me.png", ContentType: "image/png", Content: "\x89PNG\r\n\x1a\nface"}, s.uploads[0])
	assert.Equal(t, uploadedPart{ProjectID: "p1", FileName: "transformed-age-70-1700000000000.jpg", ContentType: "image/png", Content: "aged-bytes"}, s.uploads[1])

	require.Len(t, s.requests, 1)
	assert.Equal(t, map[string]any{"image_url": s.srv.URL + "/cdn/a-me.png", "target_age": 70.0}, s.requests[0]["data"])

	var out attachedResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, attachedResult{
		Kind:      jobs.KindAge,
		ProjectID: "p1",
		URL:       s.srv.URL + "/cdn/b-transformed-age-70-1700000000000.jpg",
		SourceURL: s.srv.URL + "/out/aged.png",
	}, out)
	assert.Contains(t, stderr.String(), "uploaded me.png")
}

func TestAgeWithoutProjectPrintsRemoteResult(t *testing.T) {
	s := newStudioServer(t)
	a, stdout, _ := newTestApp(t, s.srv.URL, true)
	s.useJobs(a)

	require.NoError(t, a.dispatch(context.Background(), "age", []string{"-image", "https://x.example/a.png", "-age", "30"}))
	assert.Empty(t, s.uploads)

	var out jobs.Result
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, s.srv.URL+"/out/aged.png", out.URL)
}

func TestAgeFileValidatesBeforeUpload(t *testing.T) {
	s := newStudioServer(t)
	a, _, _ := newTestApp(t, s.srv.URL, true)

	portrait := filepath.Join(t.TempDir(), "me.png")
	require.NoError(t, os.WriteFile(portrait, []byte("x"), 0o600))

	err := a.dispatch(context.Background(), "age", []string{"-file", portrait, "-age", "3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid age request")

	err = a.dispatch(context.Background(), "background", []string{"-file", portrait, "-background", "https://x.example/b.png"})
	assert.EqualError(t, err, "use either -background or -file")
	assert.Empty(t, s.uploads)
}
