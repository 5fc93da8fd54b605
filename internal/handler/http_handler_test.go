package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/sticker-chat/internal/auth"
	"github.com/weiawesome/sticker-chat/internal/domain"
	"github.com/weiawesome/sticker-chat/internal/presence"
	"github.com/weiawesome/sticker-chat/internal/repository"
	"github.com/weiawesome/sticker-chat/internal/service"
	"github.com/weiawesome/sticker-chat/internal/upload"
)

type memStorage struct {
	blobs    map[string][]byte
	writeErr error
}

func (s *memStorage) Write(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	data, _ := io.ReadAll(r)
	s.blobs[key] = data
	return nil
}

func (s *memStorage) Read(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.blobs[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStorage) Delete(_ context.Context, key string) error {
	delete(s.blobs, key)
	return nil
}

func (s *memStorage) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.blobs[key]
	return ok, nil
}

func (s *memStorage) GetURL(_ context.Context, key string) (string, error) {
	return "/media/" + key, nil
}

type memStickerRepo struct {
	stickers  map[string]*domain.Sticker
	createErr error
	nextID    int
}

func (r *memStickerRepo) Create(_ context.Context, sticker *domain.Sticker) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	sticker.ID = "s-" + strconv.Itoa(r.nextID)
	r.stickers[sticker.ID] = sticker
	return nil
}

func (r *memStickerRepo) GetByID(_ context.Context, id string) (*domain.Sticker, error) {
	s, ok := r.stickers[id]
	if !ok {
		return nil, repository.ErrStickerNotFound
	}
	return s, nil
}

func (r *memStickerRepo) List(_ context.Context) ([]*domain.Sticker, error) {
	out := make([]*domain.Sticker, 0, len(r.stickers))
	for _, s := range r.stickers {
		out = append(out, s)
	}
	return out, nil
}

func (r *memStickerRepo) Delete(_ context.Context, id string) (*domain.Sticker, error) {
	s, ok := r.stickers[id]
	if !ok {
		return nil, repository.ErrStickerNotFound
	}
	delete(r.stickers, id)
	return s, nil
}

// memUserRepo is shared between test goroutines and the websocket
// session's heartbeat runner, so access is serialized.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func (r *memUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func (r *memUserRepo) List(_ context.Context) ([]*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, nil
}

func (r *memUserRepo) UpdateLastSeen(_ context.Context, userID string, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.LastSeen = seenAt
	return nil
}

func (r *memUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *memUserRepo) get(id string) (*domain.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	return u, ok
}

func (r *memUserRepo) put(u *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

type fixture struct {
	router   *gin.Engine
	storage  *memStorage
	stickers *memStickerRepo
	users    *memUserRepo
	manager  *auth.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	storage := &memStorage{blobs: make(map[string][]byte)}
	stickers := &memStickerRepo{stickers: make(map[string]*domain.Sticker)}
	users := &memUserRepo{users: make(map[string]*domain.User)}

	manager := auth.NewManager("test-secret", "test")
	middleware := auth.NewMiddleware(manager)

	// Messages are exercised through their own tests; the wire tests
	// here focus on the upload contract and presence endpoints.
	chat := service.NewChatService(nil, stickers)
	pipeline := upload.New(storage, stickers)
	tracker := presence.NewTracker(users)

	router := gin.New()
	h := NewHandler(chat, pipeline, tracker, middleware)
	h.RegisterRoutes(router)

	return &fixture{router: router, storage: storage, stickers: stickers, users: users, manager: manager}
}

func (f *fixture) token(t *testing.T, ac auth.Context) string {
	t.Helper()
	token, err := f.manager.Sign(ac, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write(content)
	w.Close()
	return body, w.FormDataContentType()
}

// typedMultipartBody builds a part with an explicit Content-Type, the
// way browsers send pasted images that carry no file extension.
func typedMultipartBody(t *testing.T, field, filename, mimeType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	hdr.Set("Content-Type", mimeType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write(content)
	w.Close()
	return body, w.FormDataContentType()
}

func (f *fixture) uploadRequest(t *testing.T, token, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, "file", filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stickers/upload", body)
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestUploadUnauthenticated(t *testing.T) {
	f := newFixture(t)
	rec := f.uploadRequest(t, "", "a.png", []byte("x"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestUploadNoFile(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.Context{UserID: "u1", DisplayName: "U"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stickers/upload", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if got := errorBody(t, rec); got != "No file provided" {
		t.Errorf("error = %q, want %q", got, "No file provided")
	}
}

func TestUploadInvalidType(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.Context{UserID: "u1"})

	rec := f.uploadRequest(t, token, "script.svg", []byte("<svg/>"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if got := errorBody(t, rec); got != "Invalid file type" {
		t.Errorf("error = %q, want %q", got, "Invalid file type")
	}
}

func TestUploadTooLarge(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.Context{UserID: "u1"})

	rec := f.uploadRequest(t, token, "big.png", make([]byte, upload.MaxPayloadSize+1))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if got := errorBody(t, rec); got != "File too large" {
		t.Errorf("error = %q, want %q", got, "File too large")
	}
}

func TestUploadStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.storage.writeErr = errors.New("disk full")
	token := f.token(t, auth.Context{UserID: "u1"})

	rec := f.uploadRequest(t, token, "a.png", []byte("x"))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if got := errorBody(t, rec); got != "Upload failed" {
		t.Errorf("error = %q, want %q", got, "Upload failed")
	}
}

func TestUploadDatabaseFailure(t *testing.T) {
	f := newFixture(t)
	f.stickers.createErr = errors.New("insert refused")
	token := f.token(t, auth.Context{UserID: "u1"})

	rec := f.uploadRequest(t, token, "a.gif", []byte("x"))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if got := errorBody(t, rec); got != "Database error" {
		t.Errorf("error = %q, want %q", got, "Database error")
	}
	if len(f.storage.blobs) != 0 {
		t.Error("blob survived the compensating delete")
	}
}

func TestUploadSuccessShape(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.Context{UserID: "u1", DisplayName: "U"})

	rec := f.uploadRequest(t, token, "party parrot.gif", []byte("gif-bytes"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Success bool            `json:"success"`
		Sticker *domain.Sticker `json:"sticker"`
		URL     string          `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Success {
		t.Error("success = false")
	}
	if body.Sticker == nil || body.Sticker.ID == "" {
		t.Fatalf("sticker record missing: %s", rec.Body.String())
	}
	if body.URL == "" || body.URL != body.Sticker.URL {
		t.Errorf("url = %q, sticker.url = %q", body.URL, body.Sticker.URL)
	}
	if body.Sticker.Name != "party_parrot.gif" {
		t.Errorf("name = %q, want sanitized", body.Sticker.Name)
	}
}

func TestUploadExtensionlessFallsBackToDeclaredType(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.Context{UserID: "u1"})

	body, contentType := typedMultipartBody(t, "file", "pasted-image", "image/png", []byte("png-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stickers/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Sticker *domain.Sticker `json:"sticker"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Sticker == nil || resp.Sticker.FileType != "png" {
		t.Errorf("sticker = %+v, want file type png from the part header", resp.Sticker)
	}
}

func TestUploadExtensionlessUnknownTypeRejected(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.Context{UserID: "u1"})

	body, contentType := typedMultipartBody(t, "file", "blob", "application/octet-stream", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stickers/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := errorBody(t, rec); got != "Invalid file type" {
		t.Errorf("error = %q, want %q", got, "Invalid file type")
	}
}

func TestRemoveUserEndpoint(t *testing.T) {
	f := newFixture(t)
	f.users.put(&domain.User{ID: "admin", Role: domain.RoleAdmin})
	f.users.put(&domain.User{ID: "victim"})

	adminToken := f.token(t, auth.Context{UserID: "admin", Role: domain.RoleAdmin})
	userToken := f.token(t, auth.Context{UserID: "victim", Role: domain.RoleUser})

	tests := []struct {
		name   string
		token  string
		target string
		status int
	}{
		{"non-admin forbidden", userToken, "admin", http.StatusForbidden},
		{"self removal rejected", adminToken, "admin", http.StatusBadRequest},
		{"unknown user", adminToken, "ghost", http.StatusNotFound},
		{"admin removes other", adminToken, "victim", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/api/v1/presence/"+tt.target, nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d, body %s", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestHeartbeatEndpoint(t *testing.T) {
	f := newFixture(t)
	stale := time.Now().Add(-time.Hour)
	f.users.put(&domain.User{ID: "u1", LastSeen: stale})
	token := f.token(t, auth.Context{UserID: "u1"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/presence/heartbeat", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	u, ok := f.users.get("u1")
	if !ok || !u.LastSeen.After(stale) {
		t.Error("heartbeat did not move last_seen")
	}
}

func TestHealthUnauthenticated(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
