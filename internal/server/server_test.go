package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/scoreshelf/internal/api"
	"github.com/jackzampolin/scoreshelf/internal/config"
	"github.com/jackzampolin/scoreshelf/internal/home"
	"github.com/jackzampolin/scoreshelf/internal/pdf/pdftest"
	"github.com/jackzampolin/scoreshelf/internal/pipeline"
	"github.com/jackzampolin/scoreshelf/internal/prompts/smartupload"
	"github.com/jackzampolin/scoreshelf/internal/providers"
	"github.com/jackzampolin/scoreshelf/internal/review"
	"github.com/jackzampolin/scoreshelf/internal/server/endpoints"
	"github.com/jackzampolin/scoreshelf/internal/session"
)

const testConfig = `
auth:
  service_token: test-token
  grants:
    uploader: [upload]
    reviewer: [review]
    admin: ["*"]
database:
  driver: sqlite
storage:
  backend: local
`

type testServer struct {
	srv   *Server
	http  *httptest.Server
	first *providers.MockClient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	mgr, err := config.NewManager(cfgPath)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	h, err := home.New(filepath.Join(dir, "home"))
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}

	srv, err := New(Config{
		Home:          h,
		ConfigManager: mgr,
		Renderer:      &pdftest.Renderer{},
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.Init(t.Context()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	ts := &testServer{srv: srv, first: providers.NewMockClient()}
	ts.first.ClientName = "openrouter"
	second := providers.NewMockClient()
	second.ClientName = "anthropic"
	srv.Registry().RegisterLLM("openrouter", ts.first)
	srv.Registry().RegisterLLM("anthropic", second)

	ts.http = httptest.NewServer(srv.Handler())
	t.Cleanup(ts.http.Close)
	return ts
}

// as is the identity a request is sent with: a user id, or "token:<value>".
type as string

const (
	anonymous as = ""
	uploader  as = "uploader"
	reviewer  as = "reviewer"
	admin     as = "admin"
	service   as = "token:test-token"
)

func (ts *testServer) do(t *testing.T, who as, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, ts.http.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	switch {
	case strings.HasPrefix(string(who), "token:"):
		req.Header.Set(api.HeaderServiceToken, strings.TrimPrefix(string(who), "token:"))
	case who != anonymous:
		req.Header.Set(api.HeaderUserID, string(who))
	}
	resp, err := ts.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) json(t *testing.T, who as, method, path string, body any) *http.Response {
	t.Helper()
	if body == nil {
		return ts.do(t, who, method, path, nil, "")
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	return ts.do(t, who, method, path, bytes.NewReader(raw), "application/json")
}

func (ts *testServer) upload(t *testing.T, who as, name string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if data != nil {
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	mw.Close()
	return ts.do(t, who, http.MethodPost, "/api/smart-upload/uploads", &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s status = %d, want %d (body: %s)", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func TestPublicEndpoints(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/health", "/ready", "/status", "/swagger.json"} {
		t.Run(path, func(t *testing.T) {
			expectStatus(t, ts.do(t, anonymous, http.MethodGet, path, nil, ""), http.StatusOK)
		})
	}
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name string
		who  as
		path string
		want int
	}{
		{"no identity", anonymous, "/api/smart-upload/sessions", http.StatusUnauthorized},
		{"uploader cannot review", uploader, "/api/smart-upload/sessions", http.StatusForbidden},
		{"reviewer lists sessions", reviewer, "/api/smart-upload/sessions", http.StatusOK},
		{"service token", service, "/api/smart-upload/sessions", http.StatusOK},
		{"wrong token", "token:nope", "/api/smart-upload/sessions", http.StatusUnauthorized},
		{"reviewer cannot read queues", reviewer, "/api/smart-upload/queues", http.StatusForbidden},
		{"admin reads queues", admin, "/api/smart-upload/queues", http.StatusOK},
		{"reviewer cannot read settings", reviewer, "/api/settings", http.StatusForbidden},
		{"admin reads prompts", admin, "/api/prompts", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, ts.do(t, tt.who, http.MethodGet, tt.path, nil, ""), tt.want)
		})
	}
}

func TestUploadValidation(t *testing.T) {
	ts := newTestServer(t)

	t.Run("not a pdf", func(t *testing.T) {
		resp := ts.upload(t, uploader, "notes.pdf", []byte("hello"))
		expectStatus(t, resp, http.StatusBadRequest)
		body := decode[api.ErrorResponse](t, resp)
		if len(body.Fields) == 0 || body.Fields[0].Field != "file" {
			t.Errorf("Fields = %+v, want a file error", body.Fields)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		expectStatus(t, ts.upload(t, uploader, "", nil), http.StatusBadRequest)
	})

	t.Run("reviewer cannot upload", func(t *testing.T) {
		expectStatus(t, ts.upload(t, reviewer, "suite.pdf", pdftest.Blank(1)), http.StatusForbidden)
	})
}

func TestSmartUploadFlow(t *testing.T) {
	ts := newTestServer(t)
	ctx := t.Context()

	resp := ts.upload(t, uploader, "Holst Suite.pdf", pdftest.Blank(4))
	expectStatus(t, resp, http.StatusAccepted)
	up := decode[pipeline.UploadResult](t, resp)
	if up.SessionID == "" || up.JobID == "" || up.Status != session.ParseAwaiting {
		t.Fatalf("upload result = %+v", up)
	}
	expectStatus(t, ts.do(t, uploader, http.MethodGet, "/api/smart-upload/jobs/"+up.JobID, nil, ""), http.StatusOK)

	reply, err := json.Marshal(smartupload.Extraction{
		Title:      "First Suite in E-flat",
		Composer:   "Gustav Holst",
		Confidence: 70,
		Parts: []smartupload.Range{
			{Label: "Conductor Score", PageStart: 1, PageEnd: 1},
			{Label: "Clarinet 1", PageStart: 2, PageEnd: 2},
			{Label: "1st Trumpet", PageStart: 3, PageEnd: 3},
			{Label: "Tuba", PageStart: 4, PageEnd: 4},
		},
		Notes: []string{},
	})
	if err != nil {
		t.Fatal(err)
	}
	ts.first.Responses = []string{string(reply)}
	if err := ts.srv.Services().Pipeline.FirstPass(ctx, up.JobID, up.SessionID); err != nil {
		t.Fatalf("FirstPass() error = %v", err)
	}

	sessPath := "/api/smart-upload/sessions/" + up.SessionID
	resp = ts.do(t, reviewer, http.MethodGet, sessPath, nil, "")
	expectStatus(t, resp, http.StatusOK)
	sess := decode[session.Session](t, resp)
	if sess.ParseStatus != session.ParseParsed || sess.ReviewStatus != session.ReviewPending {
		t.Fatalf("session status = %s/%s", sess.ParseStatus, sess.ReviewStatus)
	}
	if len(sess.Parts) != 4 {
		t.Fatalf("len(Parts) = %d, want 4", len(sess.Parts))
	}

	t.Run("calls", func(t *testing.T) {
		resp := ts.do(t, reviewer, http.MethodGet, sessPath+"/calls", nil, "")
		expectStatus(t, resp, http.StatusOK)
		body := decode[endpoints.CallsResponse](t, resp)
		if len(body.Calls) != 1 || body.Calls[0].Task != config.TaskFirstPass {
			t.Errorf("calls = %+v", body.Calls)
		}
		expectStatus(t, ts.do(t, reviewer, http.MethodGet, "/api/smart-upload/sessions/missing/calls", nil, ""), http.StatusNotFound)
		expectStatus(t, ts.do(t, admin, http.MethodGet, "/api/smart-upload/calls/summary?window=24h", nil, ""), http.StatusOK)
		expectStatus(t, ts.do(t, admin, http.MethodGet, "/api/smart-upload/calls/summary?window=soon", nil, ""), http.StatusBadRequest)
	})

	t.Run("preview", func(t *testing.T) {
		resp := ts.do(t, reviewer, http.MethodGet, sessPath+"/preview?page=0&storageKey="+sess.StorageKey, nil, "")
		expectStatus(t, resp, http.StatusOK)
		p := decode[review.Preview](t, resp)
		if p.TotalPages != 4 || p.MimeType != "image/png" {
			t.Errorf("preview = %d pages %s", p.TotalPages, p.MimeType)
		}
		expectStatus(t, ts.do(t, reviewer, http.MethodGet, sessPath+"/preview?page=9&storageKey="+sess.StorageKey, nil, ""), http.StatusBadRequest)
		expectStatus(t, ts.do(t, reviewer, http.MethodGet, sessPath+"/preview?storageKey=library/other.pdf", nil, ""), http.StatusNotFound)
		expectStatus(t, ts.do(t, reviewer, http.MethodGet, sessPath+"/preview", nil, ""), http.StatusBadRequest)
	})

	t.Run("second pass", func(t *testing.T) {
		body := map[string]string{"sessionId": up.SessionID}
		expectStatus(t, ts.json(t, uploader, http.MethodPost, "/api/smart-upload/second-pass", body), http.StatusAccepted)
		expectStatus(t, ts.json(t, uploader, http.MethodPost, "/api/smart-upload/second-pass", body), http.StatusBadRequest)
		expectStatus(t, ts.json(t, uploader, http.MethodPost, "/api/smart-upload/second-pass", map[string]string{}), http.StatusBadRequest)
	})

	t.Run("approve", func(t *testing.T) {
		resp := ts.json(t, reviewer, http.MethodPost, sessPath+"/approve", review.Override{Publisher: "Boosey & Hawkes"})
		expectStatus(t, resp, http.StatusOK)
		first := decode[review.CommitResult](t, resp)
		if first.PieceID == "" || first.WasIdempotent {
			t.Fatalf("first approve = %+v", first)
		}

		resp = ts.json(t, reviewer, http.MethodPost, sessPath+"/approve", nil)
		expectStatus(t, resp, http.StatusOK)
		again := decode[review.CommitResult](t, resp)
		if again.PieceID != first.PieceID || !again.WasIdempotent {
			t.Errorf("second approve = %+v, want idempotent %s", again, first.PieceID)
		}
	})

	t.Run("bulk approve", func(t *testing.T) {
		resp := ts.json(t, reviewer, http.MethodPost, "/api/smart-upload/bulk-approve", map[string][]string{"sessionIds": {}})
		expectStatus(t, resp, http.StatusBadRequest)
		if body := decode[api.ErrorResponse](t, resp); len(body.Fields) == 0 {
			t.Error("expected field errors for empty sessionIds")
		}

		resp = ts.json(t, reviewer, http.MethodPost, "/api/smart-upload/bulk-approve", map[string][]string{"sessionIds": {up.SessionID, "missing"}})
		expectStatus(t, resp, http.StatusOK)
		res := decode[review.BulkResult](t, resp)
		if len(res.Approved) != 0 || len(res.Skipped) != 2 {
			t.Fatalf("bulk result = %+v", res)
		}
		if res.Skipped[0].Reason != review.SkipAlreadyCommitted {
			t.Errorf("Skipped[0].Reason = %q, want %q", res.Skipped[0].Reason, review.SkipAlreadyCommitted)
		}
	})

	t.Run("preview after cleanup", func(t *testing.T) {
		svc := ts.srv.Services()
		job, err := svc.JobManager.Get(ctx, "cleanup-"+up.SessionID+"-committed")
		if err != nil {
			t.Fatal(err)
		}
		var pl review.CleanupPayload
		if err := job.Decode(&pl); err != nil {
			t.Fatal(err)
		}
		if err := svc.Pipeline.Cleanup(ctx, pl); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
		for _, part := range sess.Parts {
			resp := ts.do(t, reviewer, http.MethodGet, sessPath+"/preview?page=0&storageKey="+url.QueryEscape(part.StorageKey), nil, "")
			expectStatus(t, resp, http.StatusOK)
		}
	})

	t.Run("list", func(t *testing.T) {
		resp := ts.do(t, reviewer, http.MethodGet, "/api/smart-upload/sessions?status=ALL", nil, "")
		expectStatus(t, resp, http.StatusOK)
		page := decode[review.Page](t, resp)
		if page.Total != 1 || page.Counts.Review[string(session.ReviewApproved)] != 1 {
			t.Errorf("page total = %d counts = %+v", page.Total, page.Counts.Review)
		}

		resp = ts.do(t, reviewer, http.MethodGet, "/api/smart-upload/sessions?status=BOGUS", nil, "")
		expectStatus(t, resp, http.StatusBadRequest)
		if body := decode[api.ErrorResponse](t, resp); len(body.Fields) == 0 || body.Fields[0].Field != "status" {
			t.Errorf("Fields = %+v, want status", body.Fields)
		}
	})

	t.Run("export", func(t *testing.T) {
		resp := ts.do(t, reviewer, http.MethodGet, "/api/smart-upload/export.xlsx", nil, "")
		expectStatus(t, resp, http.StatusOK)
		if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
			t.Errorf("Content-Type = %q", ct)
		}
	})
}

func TestClearQueue(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, admin, http.MethodPost, "/api/smart-upload/queues/"+config.QueueDeadLetter+"/clear", nil, "")
	expectStatus(t, resp, http.StatusForbidden)

	resp = ts.do(t, admin, http.MethodPost, "/api/smart-upload/queues/"+config.QueueFirstPass+"/clear?status=completed,failed", nil, "")
	expectStatus(t, resp, http.StatusOK)

	resp = ts.do(t, admin, http.MethodPost, "/api/smart-upload/queues/"+config.QueueFirstPass+"/clear?status=sideways", nil, "")
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestUpdateThresholdSetting(t *testing.T) {
	ts := newTestServer(t)
	path := "/api/settings/smart_upload.auto_approve_threshold"

	expectStatus(t, ts.json(t, admin, http.MethodPut, path, map[string]any{"value": 150}), http.StatusBadRequest)
	expectStatus(t, ts.json(t, admin, http.MethodPut, path, map[string]any{"value": 85}), http.StatusOK)

	settings, err := config.ResolvePipeline(t.Context(), ts.srv.Services().ConfigStore)
	if err != nil {
		t.Fatal(err)
	}
	if settings.AutoApproveThreshold != 85 {
		t.Errorf("AutoApproveThreshold = %d, want 85", settings.AutoApproveThreshold)
	}
}

func TestMalformedBody(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		who  as
		path string
	}{
		{reviewer, "/api/smart-upload/bulk-approve"},
		{uploader, "/api/smart-upload/second-pass"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := ts.do(t, tt.who, http.MethodPost, tt.path, strings.NewReader("{not json"), "application/json")
			expectStatus(t, resp, http.StatusBadRequest)
			body := decode[api.ErrorResponse](t, resp)
			if len(body.Fields) != 1 || body.Fields[0].Field != "body" {
				t.Errorf("fields = %+v, want one body error", body.Fields)
			}
		})
	}
}
