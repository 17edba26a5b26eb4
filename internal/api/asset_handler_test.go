package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"portraitStudio/internal/storage"
)

type fakeStorage struct {
	uploaded     map[string][]byte
	contentTypes map[string]string
	objects      []storage.ObjectInfo
	listPrefix   string
	putErr       error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		uploaded:     map[string][]byte{},
		contentTypes: map[string]string{},
	}
}

func (s *fakeStorage) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	if s.putErr != nil {
		return s.putErr
	}
	b, _ := io.ReadAll(r)
	s.uploaded[key] = b
	s.contentTypes[key] = contentType
	return nil
}

func (s *fakeStorage) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://example.invalid/" + key, nil
}

func (s *fakeStorage) List(_ context.Context, prefix string, _ int) ([]storage.ObjectInfo, error) {
	s.listPrefix = prefix
	return s.objects, nil
}

type fakeScanner struct {
	err     error
	scanned int
}

func (s *fakeScanner) Scan(r io.Reader) error {
	_, _ = io.Copy(io.Discard, r)
	s.scanned++
	return s.err
}

func newMultipartUpload(t *testing.T, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create form part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func uploadContext(t *testing.T, filename, contentType string, content []byte) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	body, formType := newMultipartUpload(t, filename, contentType, content)
	req := httptest.NewRequest(http.MethodPost, "/v1/assets/upload", body)
	req.Header.Set("Content-Type", formType)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Set("userID", "user-1")
	return c, w
}

func TestUploadAsset_StoresUnderUserPrefix(t *testing.T) {
	store := newFakeStorage()
	scanner := &fakeScanner{}
	h := NewAssetHandler(store, scanner, 1024, nil)

	c, w := uploadContext(t, "face.PNG", "image/png", []byte("\x89PNG\r\n\x1a\n"))
	h.UploadAsset(c)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		ObjectKey string `json:"object_key"`
		URL       string `json:"url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(resp.ObjectKey, "uploads/user-1/") || !strings.HasSuffix(resp.ObjectKey, ".png") {
		t.Fatalf("unexpected object key %q", resp.ObjectKey)
	}
	if resp.URL != "https://example.invalid/"+resp.ObjectKey {
		t.Fatalf("unexpected url %q", resp.URL)
	}
	if store.contentTypes[resp.ObjectKey] != "image/png" {
		t.Fatalf("content type not forwarded: %q", store.contentTypes[resp.ObjectKey])
	}
	if scanner.scanned != 1 {
		t.Fatalf("expected one scan, got %d", scanner.scanned)
	}
}

func TestUploadAsset_Rejections(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		content     []byte
		scanErr     error
		putErr      error
		wantStatus  int
	}{
		{name: "unsupported type", contentType: "application/pdf", content: []byte("%PDF"), wantStatus: http.StatusUnsupportedMediaType},
		{name: "too large", contentType: "audio/wav", content: bytes.Repeat([]byte("a"), 2048), wantStatus: http.StatusRequestEntityTooLarge},
		{name: "infected", contentType: "image/png", content: []byte("x"), scanErr: fmt.Errorf("%w: Eicar", errMaliciousFile), wantStatus: http.StatusBadRequest},
		{name: "scanner down", contentType: "image/png", content: []byte("x"), scanErr: errors.New("dial clamd"), wantStatus: http.StatusInternalServerError},
		{name: "storage error", contentType: "video/mp4", content: []byte("x"), putErr: errors.New("minio down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStorage()
			store.putErr = tc.putErr
			h := NewAssetHandler(store, &fakeScanner{err: tc.scanErr}, 1024, nil)

			c, w := uploadContext(t, "file.bin", tc.contentType, tc.content)
			h.UploadAsset(c)

			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d got %d body=%s", tc.wantStatus, w.Code, w.Body.String())
			}
			if tc.putErr == nil && len(store.uploaded) != 0 {
				t.Fatalf("rejected upload must not be stored")
			}
		})
	}
}

func TestUploadAsset_RequiresUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/assets/upload", nil)

	NewAssetHandler(newFakeStorage(), nil, 0, nil).UploadAsset(c)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", w.Code)
	}
}

func TestListAssets_NewestFirst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Now()
	store := newFakeStorage()
	store.objects = []storage.ObjectInfo{
		{Key: "uploads/user-1/old.png", LastModified: now.Add(-time.Hour)},
		{Key: "uploads/user-1/new.png", LastModified: now},
	}
	h := NewAssetHandler(store, nil, 0, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/assets?limit=500", nil)
	c.Set("userID", "user-1")

	h.ListAssets(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", w.Code)
	}
	if store.listPrefix != "uploads/user-1/" {
		t.Fatalf("unexpected prefix %q", store.listPrefix)
	}
	var resp struct {
		Items []struct {
			ObjectKey string `json:"object_key"`
		} `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 2 || resp.Items[0].ObjectKey != "uploads/user-1/new.png" {
		t.Fatalf("unexpected order: %+v", resp.Items)
	}
}

func TestGetAssetURL_Ownership(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAssetHandler(newFakeStorage(), nil, 0, nil)

	cases := map[string]int{
		"uploads/user-1/a.png":         http.StatusOK,
		"job-artifacts/user-1/job.mp4": http.StatusOK,
		"uploads/user-2/a.png":         http.StatusForbidden,
		"uploads/user-1/../x.png":      http.StatusForbidden,
		"uploads/user-1/a.exe":         http.StatusForbidden,
		"":                             http.StatusBadRequest,
	}
	for key, want := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/v1/assets/view?key="+key, nil)
		c.Set("userID", "user-1")

		h.GetAssetURL(c)

		if w.Code != want {
			t.Errorf("key %q: expected %d got %d", key, want, w.Code)
		}
	}
}

func TestAllowedUploadType(t *testing.T) {
	for ct, want := range map[string]bool{
		"image/png":                true,
		"AUDIO/wav":                true,
		"video/mp4; codecs=avc1":   true,
		"application/octet-stream": false,
		"":                         false,
	} {
		if got := allowedUploadType(ct); got != want {
			t.Errorf("allowedUploadType(%q) = %v, want %v", ct, got, want)
		}
	}
}
