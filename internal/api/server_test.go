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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/learnscaffold/internal/config"
	"github.com/dharsanguruparan/learnscaffold/internal/model"
	"github.com/dharsanguruparan/learnscaffold/internal/queue"
	"github.com/dharsanguruparan/learnscaffold/internal/repository"
)

type fakeBlobs struct {
	objects map[string][]byte
	uploads int
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) UploadSource(_ context.Context, objectKey string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[objectKey] = data
	f.uploads++
	return nil
}

func (f *fakeBlobs) DownloadResult(_ context.Context, objectKey string) ([]byte, error) {
	data, ok := f.objects[objectKey]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

type stubEnqueuer struct {
	payloads []queue.GeneratePayload
	err      error
}

func (s *stubEnqueuer) EnqueueGenerate(_ context.Context, payload queue.GeneratePayload) error {
	if s.err != nil {
		return s.err
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

func newTestServer(t *testing.T) (*Server, *repository.MemoryStore, *fakeBlobs, *stubEnqueuer) {
	t.Helper()
	cfg := &config.Config{
		MaxFileSize:  1 << 20,
		SignedURLTTL: 24 * time.Hour,
	}
	store := repository.NewMemoryStore()
	blobs := newFakeBlobs()
	enq := &stubEnqueuer{}
	return New(cfg, store, blobs, enq), store, blobs, enq
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	var (
		part io.Writer
		err  error
	)
	if filename == "" {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"`)
		part, err = writer.CreatePart(header)
	} else {
		part, err = writer.CreateFormFile("file", filename)
	}
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func doInit(t *testing.T, srv *Server, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/analyze/init", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)
	return w
}

func doJSON(t *testing.T, srv *Server, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)
	return w
}

func TestInitCreatesPendingTask(t *testing.T) {
	srv, store, blobs, _ := newTestServer(t)
	w := doInit(t, srv, "notes.pdf", bytes.Repeat([]byte("x"), 100_000))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		TaskID           string              `json:"task_id"`
		FileType         string              `json:"file_type"`
		FileSizeBytes    int64               `json:"file_size_bytes"`
		Elements         int                 `json:"pages_or_elements"`
		DetectedLanguage string              `json:"detected_language"`
		SuggestedPlan    model.SuggestedPlan `json:"suggested_plan"`
		EstimatedMinutes int                 `json:"estimated_processing_time_min"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, ".pdf", resp.FileType)
	assert.Equal(t, int64(100_000), resp.FileSizeBytes)
	assert.Equal(t, 2, resp.Elements)
	assert.Equal(t, 4, resp.EstimatedMinutes)
	assert.Equal(t, 7, resp.SuggestedPlan.RecommendedDays)
	assert.Equal(t, "en", resp.DetectedLanguage)

	task, err := store.GetTask(context.Background(), resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, task.Status)
	assert.Equal(t, "Waiting to start", task.CurrentStep)
	assert.Equal(t, 1, blobs.uploads, "source file must be persisted")
}

func TestInitRejectsBadUploads(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	w := doInit(t, srv, "malware.exe", []byte("binary"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doInit(t, srv, "", []byte("data"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doInit(t, srv, "empty.txt", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func seedTask(t *testing.T, store repository.Store, id string) {
	t.Helper()
	require.NoError(t, store.CreateTask(context.Background(), &model.Task{
		TaskID:           id,
		Filename:         "notes.pdf",
		FileType:         ".pdf",
		FileSizeBytes:    100_000,
		Elements:         2,
		DetectedLanguage: model.DetectedLanguageDefault,
		EstimatedMinutes: 4,
	}))
}

func TestGenerateClaimsOnceAndEnqueues(t *testing.T) {
	srv, _, _, enq := newTestServer(t)
	seedTask(t, srv.store, "t1")

	w := doJSON(t, srv, http.MethodPost, "/api/analyze/generate", generateRequest{TaskID: "t1", Days: 10, HoursPerDay: 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, model.StatusProcessing, resp.Status)
	assert.Equal(t, "Starting...", resp.CurrentStep)
	require.Len(t, enq.payloads, 1)
	assert.Equal(t, queue.GeneratePayload{TaskID: "t1", Days: 10, HoursPerDay: 3}, enq.payloads[0])

	// Back-to-back generate: the second call conflicts and schedules nothing.
	w = doJSON(t, srv, http.MethodPost, "/api/analyze/generate", generateRequest{TaskID: "t1", Days: 5, HoursPerDay: 2})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Len(t, enq.payloads, 1)
}

func TestGenerateValidation(t *testing.T) {
	srv, _, _, enq := newTestServer(t)
	seedTask(t, srv.store, "t1")

	cases := []generateRequest{
		{TaskID: "t1", Days: 0, HoursPerDay: 2},
		{TaskID: "t1", Days: 366, HoursPerDay: 2},
		{TaskID: "t1", Days: 10, HoursPerDay: 0.4},
		{TaskID: "t1", Days: 10, HoursPerDay: 25},
		{TaskID: "", Days: 10, HoursPerDay: 2},
	}
	for _, tc := range cases {
		w := doJSON(t, srv, http.MethodPost, "/api/analyze/generate", tc)
		assert.Equalf(t, http.StatusBadRequest, w.Code, "case %+v", tc)
	}
	// Rejected requests must not mutate state or schedule work.
	task, err := srv.store.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, task.Status)
	assert.Empty(t, enq.payloads)

	w := doJSON(t, srv, http.MethodPost, "/api/analyze/generate", generateRequest{TaskID: "ghost", Days: 10, HoursPerDay: 2})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusSnapshot(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	seedTask(t, srv.store, "t1")

	req := httptest.NewRequest(http.MethodGet, "/api/analyze/status/t1", nil)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, model.StatusPending, resp.Status)
	assert.Equal(t, 0, resp.ProgressPercent)

	req = httptest.NewRequest(http.MethodGet, "/api/analyze/status/ghost", nil)
	w = httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func completeTask(t *testing.T, store repository.Store, blobs *fakeBlobs, id, token string, expires time.Time) {
	t.Helper()
	ctx := context.Background()
	seedTask(t, store, id)
	_, err := store.ClaimTask(ctx, id, 10, 3)
	require.NoError(t, err)
	key := fmt.Sprintf("results/%s/study_plan_%s.json", id, id)
	blobs.objects[key] = []byte(`{"study_plan":{}}`)
	require.NoError(t, store.MarkCompleted(ctx, id, repository.Completion{
		ResultURL:      fmt.Sprintf("/api/analyze/download/%s?token=%s", id, token),
		ResultKey:      key,
		DownloadToken:  token,
		TokenExpiresAt: expires,
	}))
}

func TestDownloadValidatesToken(t *testing.T) {
	srv, store, blobs, _ := newTestServer(t)
	completeTask(t, store, blobs, "t1", "goodtoken", time.Now().Add(time.Hour))

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		srv.Routes().ServeHTTP(w, req)
		return w
	}

	w := get("/api/analyze/download/t1?token=goodtoken")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "study_plan_t1.json")
	assert.JSONEq(t, `{"study_plan":{}}`, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get("/api/analyze/download/t1?token=forged").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/api/analyze/download/t1").Code)
	assert.Equal(t, http.StatusNotFound, get("/api/analyze/download/ghost?token=goodtoken").Code)
}

func TestDownloadExpiredToken(t *testing.T) {
	srv, store, blobs, _ := newTestServer(t)
	completeTask(t, store, blobs, "t1", "goodtoken", time.Now().Add(-time.Minute))

	req := httptest.NewRequest(http.MethodGet, "/api/analyze/download/t1?token=goodtoken", nil)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDownloadIncompleteTask(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	seedTask(t, store, "t1")

	req := httptest.NewRequest(http.MethodGet, "/api/analyze/download/t1?token=whatever", nil)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadMissingArtifactIsIntegrityFault(t *testing.T) {
	srv, store, blobs, _ := newTestServer(t)
	completeTask(t, store, blobs, "t1", "goodtoken", time.Now().Add(time.Hour))
	delete(blobs.objects, "results/t1/study_plan_t1.json")

	req := httptest.NewRequest(http.MethodGet, "/api/analyze/download/t1?token=goodtoken", nil)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestNotifyRegistration(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	seedTask(t, store, "t1")

	w := doJSON(t, srv, http.MethodPost, "/api/notify/email", notifyRequest{TaskID: "t1", Email: "a@b.com"})
	require.Equal(t, http.StatusOK, w.Code)
	reg, err := store.GetNotification(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", reg.Email)
	assert.False(t, reg.Sent)

	// Re-registration overwrites the single slot.
	w = doJSON(t, srv, http.MethodPost, "/api/notify/email", notifyRequest{TaskID: "t1", Email: "c@d.com"})
	require.Equal(t, http.StatusOK, w.Code)
	reg, err = store.GetNotification(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "c@d.com", reg.Email)

	w = doJSON(t, srv, http.MethodPost, "/api/notify/email", notifyRequest{TaskID: "ghost", Email: "a@b.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/notify/email", notifyRequest{TaskID: "t1", Email: "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
