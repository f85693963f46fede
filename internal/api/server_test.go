package api

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-scraper/internal/batch"
	"github.com/JakeFAU/company-scraper/internal/dispatcher"
	queueMemory "github.com/JakeFAU/company-scraper/internal/queue/memory"
	"github.com/JakeFAU/company-scraper/internal/scraper"
	"github.com/JakeFAU/company-scraper/internal/storage/memory"
	"github.com/JakeFAU/company-scraper/internal/worker"
)

var testNow = time.Unix(1_714_564_800, 0).UTC()

type testEnv struct {
	server    *Server
	jobs      *memory.JobStore
	artifacts *memory.BlobStore
	queue     *queueMemory.Queue
	uploadDir string
}

func newTestEnv(t *testing.T, queueDepth int, ids ...string) *testEnv {
	t.Helper()
	env := &testEnv{
		jobs:      memory.NewJobStore(),
		artifacts: memory.NewBlobStore(),
		queue:     queueMemory.NewQueue(queueDepth),
		uploadDir: t.TempDir(),
	}
	env.server = NewServer(
		env.jobs,
		env.artifacts,
		dispatcher.New(env.queue, nil),
		&fakeIDGen{ids: ids},
		&fakeClock{now: testNow},
		Options{UploadDir: env.uploadDir, EnqueueTimeout: 20 * time.Millisecond},
		zap.NewNop(),
	)
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadQueuesJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, "job-1")
	rec := env.do(uploadRequest(t, "companies.XLSX", []byte("workbook")))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"started","job_id":"job-1"}`, rec.Body.String())

	saved := filepath.Join(env.uploadDir, "job-1", "companies.XLSX")
	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	require.Equal(t, "workbook", string(data))

	job, err := env.jobs.CurrentJob(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, scraper.JobStatusQueued, job.Status)
	require.Equal(t, "companies.XLSX", job.InputName)

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, scraper.QueueItem{
		JobID:      "job-1",
		InputPath:  saved,
		OutputName: batch.OutputName(testNow),
		Submitted:  testNow.Unix(),
	}, item)
}

func TestUploadRejectsNonXLSXWithoutJobMutation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, "job-1", "job-2")
	require.Equal(t, http.StatusOK, env.do(uploadRequest(t, "first.xlsx", []byte("x"))).Code)

	rec := env.do(uploadRequest(t, "data.csv", []byte("a,b")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Only .xlsx allowed"}`, rec.Body.String())

	job, err := env.jobs.CurrentJob(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, 1, env.queue.Len())

	_, err = os.Stat(filepath.Join(env.uploadDir, "job-2"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestUploadMissingFile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1)
	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewBufferString("plain"))
	req.Header.Set("Content-Type", "text/plain")
	rec := env.do(req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Only .xlsx allowed"}`, rec.Body.String())
	_, err := env.jobs.CurrentJob(context.Background())
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestUploadWithoutFilePart(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1, "job-1")
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "value"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := env.do(req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Only .xlsx allowed"}`, rec.Body.String())
	require.Equal(t, 0, env.queue.Len())
}

func TestUploadStripsClientPath(t *testing.T) {
	t.Parallel()

	name, ok := uploadName(`C:\Users\op\Desktop\list.xlsx`)
	require.True(t, ok)
	require.Equal(t, "list.xlsx", name)

	name, ok = uploadName("../../etc/list.xlsx")
	require.True(t, ok)
	require.Equal(t, "list.xlsx", name)

	_, ok = uploadName("list.xlsx.csv")
	require.False(t, ok)
	_, ok = uploadName("")
	require.False(t, ok)
}

func TestUploadFullQueueFailsJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1, "job-1", "job-2")
	require.Equal(t, http.StatusOK, env.do(uploadRequest(t, "a.xlsx", []byte("x"))).Code)

	rec := env.do(uploadRequest(t, "b.xlsx", []byte("x")))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	job, err := env.jobs.GetJob(context.Background(), "job-2")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "queue enqueue")
}

func TestProgressBeforeAnyUpload(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/progress", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"total":0,"current":0,"current_name":"","output_file":""}`, rec.Body.String())
}

func TestProgressReportsCurrentJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1)
	ctx := context.Background()
	require.NoError(t, env.jobs.CreateJob(ctx, scraper.Job{ID: "job-1"}))
	require.NoError(t, env.jobs.StartJob(ctx, "job-1", 3))
	require.NoError(t, env.jobs.RecordRow(ctx, "job-1", "Acme", scraper.OutcomeOK))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/progress", nil))
	require.JSONEq(t, `{"total":3,"current":1,"current_name":"Acme","output_file":""}`, rec.Body.String())

	require.NoError(t, env.jobs.RecordRow(ctx, "job-1", "Beta", scraper.OutcomeOK))
	require.NoError(t, env.jobs.RecordRow(ctx, "job-1", "Gamma", scraper.OutcomeOK))
	require.NoError(t, env.jobs.CompleteJob(ctx, "job-1", scraper.Artifact{Key: "output_1.xlsx", Location: "outputs/output_1.xlsx"}))

	rec = env.do(httptest.NewRequest(http.MethodGet, "/progress", nil))
	require.JSONEq(t, `{"total":3,"current":3,"current_name":"done","output_file":"outputs/output_1.xlsx"}`, rec.Body.String())
}

func completeJob(t *testing.T, env *testEnv, jobID, key string, data []byte) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.jobs.CreateJob(ctx, scraper.Job{ID: jobID}))
	require.NoError(t, env.jobs.StartJob(ctx, jobID, 0))
	location, err := env.artifacts.PutObject(ctx, key, "", bytes.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, env.jobs.CompleteJob(ctx, jobID, scraper.Artifact{Key: key, Location: location, SHA256: "abc"}))
}

func TestDownloadCurrentArtifact(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1)
	completeJob(t, env, "job-1", "output_42.xlsx", []byte("xlsx-bytes"))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "xlsx-bytes", rec.Body.String())
	require.Equal(t, `attachment; filename="output_42.xlsx"`, rec.Header().Get("Content-Disposition"))
	require.Equal(t, "abc", rec.Header().Get("X-Content-SHA256"))
}

func TestDownloadNothingAvailable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/download", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, rec.Body.String())

	require.NoError(t, env.jobs.CreateJob(context.Background(), scraper.Job{ID: "job-1"}))
	rec = env.do(httptest.NewRequest(http.MethodGet, "/download", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, rec.Body.String())
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	notReady := NewServer(env.jobs, env.artifacts, dispatcher.New(env.queue, nil), &fakeIDGen{}, &fakeClock{},
		Options{Ready: func(context.Context) error { return errors.New("bucket unreachable") }}, nil)
	rec = httptest.NewRecorder()
	notReady.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1)
	env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-7")
	rec := env.do(req)
	require.Equal(t, "req-7", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

// --- helpers/fakes ---

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

// blockingRunner holds a job until its context is canceled.
type blockingRunner struct {
	jobs    scraper.JobStore
	started chan string
}

func (r *blockingRunner) Run(ctx context.Context, jobID, _, _ string) (batch.Result, error) {
	if err := r.jobs.StartJob(ctx, jobID, 1); err != nil {
		return batch.Result{JobID: jobID}, err
	}
	r.started <- jobID
	<-ctx.Done()
	_ = r.jobs.FailJob(context.WithoutCancel(ctx), jobID, scraper.JobStatusCanceled, ctx.Err().Error())
	return batch.Result{JobID: jobID}, ctx.Err()
}

var _ worker.Runner = (*blockingRunner)(nil)
