package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-scraper/internal/config"
	"github.com/JakeFAU/company-scraper/internal/scraper"
)

const acmeProfile = `<html><body><dl>
<dt>E-Mail</dt><dd>ops@acme.test</dd>
<dt>Business Activity</dt><dd>Manufacturing</dd>
<dt>PAN</dt><dd>ABCDE1234F</dd>
</dl><p>GSTIN 27ABCDE1234F1Z5</p></body></html>`

// newDirectory serves a profile for ACME-LTD and 404 for everything else.
func newDirectory(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/company/ACME-LTD/U123" {
			_, _ = w.Write([]byte(acmeProfile))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Server:    config.ServerConfig{Port: 0, MaxUploadMB: 1, EnqueueTimeoutMs: 500, ShutdownTimeoutSec: 5},
		Directory: config.DirectoryConfig{BaseURL: baseURL, UserAgent: "Mozilla/5.0", TimeoutSeconds: 5},
		Batch:     config.BatchConfig{Concurrency: 5, Workers: 1, QueueDepth: 4},
		Storage: config.StorageConfig{
			Backend:   config.BackendLocal,
			UploadDir: filepath.Join(t.TempDir(), "uploads"),
			OutputDir: filepath.Join(t.TempDir(), "outputs"),
		},
		Progress: config.ProgressConfig{Enabled: true, LogEnabled: true, Batch: config.ProgressBatchConfig{MaxWaitMs: 10}},
	}
}

func workbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	header := []any{"Company Name", "CIN"}
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &header))
	for i, row := range rows {
		require.NoError(t, f.SetSheetRow("Sheet1", fmt.Sprintf("A%d", i+2), &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func readRows(t *testing.T, data []byte) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	return rows
}

func TestAppUploadToDownload(t *testing.T) {
	t.Parallel()

	dir := newDirectory(t)
	cfg := testConfig(t, dir.URL)
	app, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		app.dispatch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-dispatchDone
		require.NoError(t, app.Close(context.Background()))
	})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "companies.xlsx")
	require.NoError(t, err)
	_, err = fw.Write(workbook(t, [][]any{{"Acme Ltd", "u123"}, {"Ghost Co", "X999"}}))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var progress scraper.Progress
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress", nil))
		if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &progress) != nil {
			return false
		}
		return progress.CurrentName == scraper.DoneMarker
	}, 10*time.Second, 20*time.Millisecond)
	require.Equal(t, 2, progress.Total)
	require.Equal(t, 2, progress.Current)
	require.True(t, strings.HasPrefix(progress.OutputFile, cfg.Storage.OutputDir))

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rows := readRows(t, rec.Body.Bytes())
	require.Equal(t, scraper.OutputColumns, rows[0])
	require.Equal(t, []string{
		"Acme Ltd", "u123", dir.URL + "/company/ACME-LTD/U123",
		"ops@acme.test", "Manufacturing", "ABCDE1234F", "27ABCDE1234F1Z5",
	}, rows[1])
	require.Equal(t, []string{
		"Ghost Co", "X999", dir.URL + "/company/GHOST-CO/X999",
		"Error", "Error", "Error", "Error",
	}, rows[2])
}

func TestBuildRejectsUnwritableOutputDir(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.Storage.OutputDir = filepath.Join(blocker, "outputs")

	_, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "local blob store init failed")
}

func TestBuildMemoryBackendWithoutProgress(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Storage.Backend = config.BackendMemory
	cfg.Progress.Enabled = false

	app, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	require.Nil(t, app.progressHub)
	require.NoError(t, app.ready(context.Background()))
	require.NoError(t, app.Close(context.Background()))
}

func TestEnrichWritesWorkbook(t *testing.T) {
	t.Parallel()

	dir := newDirectory(t)
	cfg := testConfig(t, dir.URL)
	input := filepath.Join(t.TempDir(), "in.xlsx")
	require.NoError(t, os.WriteFile(input, workbook(t, [][]any{{"Acme Ltd", "U123"}}), 0o600))
	output := filepath.Join(t.TempDir(), "nested", "out.xlsx")

	result, err := Enrich(context.Background(), cfg, input, output, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	require.Equal(t, output, result.Artifact.Location)
	require.Equal(t, map[scraper.Outcome]int{scraper.OutcomeOK: 1}, result.Outcomes)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	rows := readRows(t, data)
	require.Len(t, rows, 2)
	require.Equal(t, "ops@acme.test", rows[1][3])
}

func TestEnrichRequiresPaths(t *testing.T) {
	t.Parallel()

	_, err := Enrich(context.Background(), testConfig(t, ""), "", "out.xlsx", WithLogger(zap.NewNop()))
	require.Error(t, err)
}
