package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"minidrive/middleware"
	"minidrive/models"
	"minidrive/services"
	"minidrive/storage"
	"minidrive/store"
	"minidrive/utils"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "controller-test-secret"
	testIssuer = "minidrive"
)

// inlineExecutor runs archive jobs on the calling goroutine.
type inlineExecutor struct{}

func (inlineExecutor) Submit(task func(ctx context.Context)) error {
	task(context.Background())
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   interface{}     `json:"error"`
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	st     *store.MemoryStore
	tokens map[string]string
}

func newTestServer(t *testing.T, maxFileSize int64) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemoryStore()
	blobs := storage.NewMemoryStorage()
	perms := services.NewPermissionService(st)
	nodes := services.NewNodeService(st, blobs, perms, maxFileSize)

	files := NewFileController(nodes, maxFileSize)
	folders := NewFolderController(nodes)
	archives := NewArchiveController(services.NewArchiveService(st, blobs, perms, inlineExecutor{}, nil))
	search := NewSearchController(nodes, services.NewAnalyticsService(st))
	shares := NewShareController(services.NewShareService(st, perms, services.NewLogNotifier(), nil))
	trash := NewTrashController(services.NewTrashService(st, 30*24*time.Hour))

	r := gin.New()
	api := r.Group("/api/v1", middleware.AuthMiddleware(testSecret, testIssuer))
	api.POST("/files", files.UploadFile)
	api.GET("/files", search.Search)
	api.GET("/files/:id", files.GetNode)
	api.GET("/files/:id/content", files.DownloadFile)
	api.PATCH("/files/:id", files.UpdateNode)
	api.DELETE("/files/:id", files.DeleteNode)
	api.POST("/files/:id/share", shares.ShareNode)
	api.GET("/files/:id/permissions", shares.ListPermissions)
	api.DELETE("/files/:id/permissions/:userId", shares.RevokePermission)
	api.GET("/shared", shares.SharedWithMe)
	api.POST("/folders", folders.CreateFolder)
	api.POST("/folders/:id/archive", archives.InitiateArchive)
	api.GET("/archives/:jobId", archives.GetStatus)
	api.GET("/archives/:jobId/file", archives.DownloadArchive)
	api.GET("/trash", trash.GetTrashItems)
	api.POST("/trash/:id/restore", trash.RestoreItem)
	api.GET("/stats", search.Stats)

	return &testServer{t: t, router: r, st: st, tokens: map[string]string{}}
}

func (s *testServer) user(name string) *models.User {
	s.t.Helper()
	u := &models.User{
		ID:        strings.ToLower(name) + "-id",
		Email:     strings.ToLower(name) + "@example.com",
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(s.t, s.st.Users().Create(context.Background(), u))
	token, err := utils.GenerateToken(u.ID, u.Email, u.Name, testSecret, testIssuer, time.Hour)
	require.NoError(s.t, err)
	s.tokens[u.ID] = token
	return u
}

func (s *testServer) do(userID, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := s.tokens[userID]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) doJSON(userID, method, path string, payload interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(s.t, err)
		body = bytes.NewReader(raw)
	}
	return s.do(userID, method, path, body, "application/json")
}

func (s *testServer) upload(userID, name, parentID, content string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if parentID != "" {
		require.NoError(s.t, mw.WriteField("parent_id", parentID))
	}
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(s.t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(s.t, err)
	require.NoError(s.t, mw.Close())
	return s.do(userID, http.MethodPost, "/api/v1/files", &buf, mw.FormDataContentType())
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data), string(env.Data))
	}
	return env
}

func (s *testServer) createFolder(userID, name, parentID string) *models.Node {
	s.t.Helper()
	w := s.doJSON(userID, http.MethodPost, "/api/v1/folders", gin.H{"name": name, "parent_id": parentID})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var n models.Node
	decode(s.t, w, &n)
	return &n
}

func (s *testServer) createFile(userID, name, parentID, content string) *models.Node {
	s.t.Helper()
	w := s.upload(userID, name, parentID, content)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var n models.Node
	decode(s.t, w, &n)
	return &n
}

func TestRequiresToken(t *testing.T) {
	s := newTestServer(t, 1<<20)
	w := s.do("", http.MethodGet, "/api/v1/files", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadGetAndDownload(t *testing.T) {
	s := newTestServer(t, 1<<20)
	alice := s.user("Alice")

	docs := s.createFolder(alice.ID, "Docs", "")
	assert.Equal(t, models.KindFolder, docs.Kind)

	file := s.createFile(alice.ID, "notes.txt", docs.ID, "hello world")
	assert.Equal(t, "notes.txt", file.Name)
	assert.EqualValues(t, 11, file.SizeBytes)
	require.NotNil(t, file.ParentID)
	assert.Equal(t, docs.ID, *file.ParentID)

	w := s.do(alice.ID, http.MethodGet, "/api/v1/files/"+file.ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Node
	decode(t, w, &got)
	assert.Equal(t, file.ID, got.ID)

	w = s.do(alice.ID, http.MethodGet, "/api/v1/files/"+file.ID+"/content", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello world", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="notes.txt"`)

	w = s.do(alice.ID, http.MethodGet, "/api/v1/files/"+docs.ID+"/content", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code, "folders have no content")
}

func TestUploadTooLarge(t *testing.T) {
	s := newTestServer(t, 8)
	alice := s.user("Alice")

	w := s.upload(alice.ID, "big.bin", "", "this is more than eight bytes")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

// uploadMany sends every name/content pair under field in one request.
func (s *testServer) uploadMany(userID, field, parentID string, files map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if parentID != "" {
		require.NoError(s.t, mw.WriteField("parent_id", parentID))
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(s.t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(s.t, err)
	}
	require.NoError(s.t, mw.Close())
	return s.do(userID, http.MethodPost, "/api/v1/files", &buf, mw.FormDataContentType())
}

func TestUploadBatch(t *testing.T) {
	s := newTestServer(t, 1<<20)
	alice := s.user("Alice")
	docs := s.createFolder(alice.ID, "Docs", "")

	w := s.uploadMany(alice.ID, "files[]", docs.ID, map[string]string{
		"a.txt": "first",
		"b.txt": "second",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res BatchUploadResult
	decode(t, w, &res)
	assert.Empty(t, res.Failed)
	require.Len(t, res.Uploaded, 2)
	names := []string{res.Uploaded[0].Name, res.Uploaded[1].Name}
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, names)
	for _, n := range res.Uploaded {
		require.NotNil(t, n.ParentID)
		assert.Equal(t, docs.ID, *n.ParentID)
	}

	// a name already taken fails alone
	w = s.uploadMany(alice.ID, "file", docs.ID, map[string]string{
		"a.txt": "again",
		"c.txt": "third",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res = BatchUploadResult{}
	decode(t, w, &res)
	require.Len(t, res.Uploaded, 1)
	assert.Equal(t, "c.txt", res.Uploaded[0].Name)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "a.txt", res.Failed[0].Name)
	assert.NotEmpty(t, res.Failed[0].Error)
}

func TestUploadBatchAllFailed(t *testing.T) {
	s := newTestServer(t, 4)
	alice := s.user("Alice")

	w := s.uploadMany(alice.ID, "files[]", "", map[string]string{
		"big1.bin": "too large",
		"big2.bin": "also too large",
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t, 1<<20)
	alice := s.user("Alice")
	bob := s.user("Bob")
	doc := s.createFile(alice.ID, "doc.txt", "", "x")

	tests := []struct {
		name   string
		user   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"missing node", alice.ID, http.MethodGet, "/api/v1/files/nope", nil, http.StatusNotFound},
		{"no access", bob.ID, http.MethodGet, "/api/v1/files/" + doc.ID, nil, http.StatusForbidden},
		{"blank folder name", alice.ID, http.MethodPost, "/api/v1/folders", gin.H{"name": ""}, http.StatusBadRequest},
		{"empty update", alice.ID, http.MethodPatch, "/api/v1/files/" + doc.ID, gin.H{}, http.StatusBadRequest},
		{"bad share email", alice.ID, http.MethodPost, "/api/v1/files/" + doc.ID + "/share", gin.H{"email": "nope", "level": "VIEW"}, http.StatusBadRequest},
		{"bad limit", alice.ID, http.MethodGet, "/api/v1/files?limit=abc", nil, http.StatusBadRequest},
		{"archive a file", alice.ID, http.MethodPost, "/api/v1/folders/" + doc.ID + "/archive", nil, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.doJSON(tt.user, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			env := decode(t, w, nil)
			assert.False(t, env.Success)
		})
	}
}

func TestRenameMoveAndSearch(t *testing.T) {
	s := newTestServer(t, 1<<20)
	alice := s.user("Alice")
	a := s.createFolder(alice.ID, "A", "")
	b := s.createFolder(alice.ID, "B", "")
	f := s.createFile(alice.ID, "draft.txt", a.ID, "draft")

	w := s.doJSON(alice.ID, http.MethodPatch, "/api/v1/files/"+f.ID, gin.H{"name": "final.txt", "parent_id": b.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.Node
	decode(t, w, &updated)
	assert.Equal(t, "final.txt", updated.Name)
	require.NotNil(t, updated.ParentID)
	assert.Equal(t, b.ID, *updated.ParentID)

	w = s.do(alice.ID, http.MethodGet, "/api/v1/files?q=FINAL", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items []models.Node `json:"items"`
		Count int           `json:"count"`
	}
	decode(t, w, &page)
	require.Equal(t, 1, page.Count)
	assert.Equal(t, f.ID, page.Items[0].ID)

	w = s.do(alice.ID, http.MethodGet, "/api/v1/files?parent_id=root&type=FOLDER", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &page)
	assert.Equal(t, 2, page.Count)

	w = s.do(alice.ID, http.MethodGet, "/api/v1/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats services.UsageStats
	decode(t, w, &stats)
	assert.EqualValues(t, 1, stats.Files)
	assert.EqualValues(t, 2, stats.Folders)
	assert.EqualValues(t, 5, stats.TotalBytes)
}

func TestShareListAndRevoke(t *testing.T) {
	s := newTestServer(t, 1<<20)
	alice := s.user("Alice")
	bob := s.user("Bob")
	folder := s.createFolder(alice.ID, "Team", "")
	s.createFile(alice.ID, "plan.txt", folder.ID, "x")

	w := s.doJSON(alice.ID, http.MethodPost, "/api/v1/files/"+folder.ID+"/share", gin.H{"email": bob.Email, "level": "view"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res struct {
		NodesAffected int `json:"nodes_affected"`
	}
	decode(t, w, &res)
	assert.Equal(t, 2, res.NodesAffected)

	w = s.do(alice.ID, http.MethodGet, "/api/v1/files/"+folder.ID+"/permissions", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var grants []models.Share
	decode(t, w, &grants)
	require.Len(t, grants, 1)
	assert.Equal(t, bob.ID, grants[0].UserID)
	assert.Equal(t, models.LevelView, grants[0].Level)

	w = s.do(bob.ID, http.MethodGet, "/api/v1/shared", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var shared []models.Node
	decode(t, w, &shared)
	assert.Len(t, shared, 2)

	w = s.do(bob.ID, http.MethodDelete, "/api/v1/files/"+folder.ID, nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code, "viewers cannot delete")

	w = s.do(alice.ID, http.MethodDelete, fmt.Sprintf("/api/v1/files/%s/permissions/%s", folder.ID, bob.ID), nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(bob.ID, http.MethodGet, "/api/v1/files/"+folder.ID, nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTrashAndRestore(t *testing.T) {
	s := newTestServer(t, 1<<20)
	alice := s.user("Alice")
	folder := s.createFolder(alice.ID, "Old", "")
	file := s.createFile(alice.ID, "a.txt", folder.ID, "x")

	w := s.do(alice.ID, http.MethodDelete, "/api/v1/files/"+folder.ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var deleted struct {
		Deleted int `json:"deleted"`
	}
	decode(t, w, &deleted)
	assert.Equal(t, 2, deleted.Deleted)

	w = s.do(alice.ID, http.MethodGet, "/api/v1/files/"+file.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(alice.ID, http.MethodGet, "/api/v1/trash", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var items []models.TrashItem
	decode(t, w, &items)
	require.Len(t, items, 1)
	assert.Equal(t, folder.ID, items[0].ID)
	require.NotNil(t, items[0].DeletedAt)
	assert.True(t, items[0].DeletedAt.Add(30*24*time.Hour).Equal(items[0].PurgeAt))

	w = s.do(alice.ID, http.MethodPost, "/api/v1/trash/"+folder.ID+"/restore", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(alice.ID, http.MethodGet, "/api/v1/files/"+file.ID, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestArchiveFlow(t *testing.T) {
	s := newTestServer(t, 1<<20)
	alice := s.user("Alice")
	bob := s.user("Bob")
	folder := s.createFolder(alice.ID, "My Docs", "")
	s.createFile(alice.ID, "a.txt", folder.ID, "alpha")

	w := s.do(alice.ID, http.MethodPost, "/api/v1/folders/"+folder.ID+"/archive", nil, "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var started struct {
		JobID string `json:"job_id"`
	}
	decode(t, w, &started)
	require.NotEmpty(t, started.JobID)
	assert.Equal(t, "/api/v1/archives/"+started.JobID, w.Header().Get("Location"))

	w = s.do(alice.ID, http.MethodGet, "/api/v1/archives/"+started.JobID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Status      models.JobStatus `json:"status"`
		DownloadURL string           `json:"download_url"`
	}
	decode(t, w, &status)
	assert.Equal(t, models.JobReady, status.Status)
	assert.Equal(t, "/api/v1/archives/"+started.JobID+"/file", status.DownloadURL)

	w = s.do(bob.ID, http.MethodGet, "/api/v1/archives/"+started.JobID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(alice.ID, http.MethodGet, status.DownloadURL, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "My_Docs_"+started.JobID+".zip")

	body := w.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	var names []string
	for _, zf := range zr.File {
		names = append(names, zf.Name)
	}
	assert.ElementsMatch(t, []string{"My Docs/", "My Docs/a.txt"}, names)
}
