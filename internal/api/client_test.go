package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestClient_IdentityHeaders(t *testing.T) {
	var gotUser, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get(HeaderUserID)
		gotToken = r.Header.Get(HeaderServiceToken)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	SetIdentity("librarian", "")
	t.Cleanup(func() { SetIdentity("", "") })

	c := NewClient(srv.URL)
	if err := c.Get(t.Context(), "/x", nil); err != nil {
		t.Fatal(err)
	}
	if gotUser != "librarian" || gotToken != "" {
		t.Errorf("headers = %q/%q, want librarian/empty", gotUser, gotToken)
	}

	if err := c.WithIdentity("", "secret").Get(t.Context(), "/x", nil); err != nil {
		t.Fatal(err)
	}
	if gotUser != "" || gotToken != "secret" {
		t.Errorf("headers = %q/%q, want empty/secret", gotUser, gotToken)
	}
}

func TestClient_Upload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		json.NewEncoder(w).Encode(map[string]any{"name": hdr.Filename, "size": len(data)})
	}))
	defer srv.Close()

	var got struct {
		Name string `json:"name"`
		Size int    `json:"size"`
	}
	err := NewClient(srv.URL).Upload(t.Context(), "/upload", "file", "suite.pdf", []byte("%PDF-1.4"), &got)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if got.Name != "suite.pdf" || got.Size != 8 {
		t.Errorf("got %+v", got)
	}
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{
			Error:  "validation failed",
			Fields: []FieldError{{Field: "sessionIds", Message: "must not be empty"}},
		})
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Post(t.Context(), "/bulk", map[string]any{}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.Code != http.StatusBadRequest {
		t.Errorf("Code = %d", se.Code)
	}
	if !strings.Contains(se.Message, "sessionIds: must not be empty") {
		t.Errorf("Message = %q, want the field error appended", se.Message)
	}

	if _, err := NewClient(srv.URL).GetRaw(t.Context(), "/export"); !errors.As(err, &se) {
		t.Errorf("GetRaw() error = %v, want *StatusError", err)
	}
}

type rows struct{}

func (rows) TableHeader() []string { return []string{"Queue", "Waiting"} }
func (rows) TableRows() [][]any {
	return [][]any{{"smart-upload-first-pass", 3}, {"smart-upload-cleanup", 0}}
}

func TestOutputTo(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		if err := OutputTo(&buf, OutputFormatTable, rows{}); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		for _, want := range []string{"QUEUE", "smart-upload-first-pass", "3"} {
			if !strings.Contains(out, want) {
				t.Errorf("table output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("table falls back to yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := OutputTo(&buf, OutputFormatTable, map[string]int{"deleted": 2}); err != nil {
			t.Fatal(err)
		}
		if got := strings.TrimSpace(buf.String()); got != "deleted: 2" {
			t.Errorf("output = %q", got)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if err := OutputTo(io.Discard, OutputFormat("xml"), nil); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestOutputToFile(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "out.json")
	if err := OutputToFile(map[string]string{"title": "Suite"}, jsonPath); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal(raw, &got); err != nil || got["title"] != "Suite" {
		t.Errorf("json file = %s (%v)", raw, err)
	}
}

type fakeEndpoint struct {
	path    string
	init    bool
	actions []string
}

func (e fakeEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", e.path, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) }
}
func (e fakeEndpoint) RequiresInit() bool                   { return e.init }
func (e fakeEndpoint) Command(func() string) *cobra.Command { return &cobra.Command{Use: e.path} }

type protectedEndpoint struct{ fakeEndpoint }

func (e protectedEndpoint) Actions() []string { return e.actions }

func TestRegistry_RegisterRoutes(t *testing.T) {
	var order []string
	initMW := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "init")
			next(w, r)
		}
	}
	authMW := func(next http.HandlerFunc, actions ...string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "auth:"+strings.Join(actions, ","))
			next(w, r)
		}
	}

	reg := NewRegistry()
	reg.Register(
		fakeEndpoint{path: "/open"},
		protectedEndpoint{fakeEndpoint{path: "/guarded", init: true, actions: []string{"review"}}},
	)
	mux := http.NewServeMux()
	reg.RegisterRoutes(mux, initMW, authMW)

	tests := []struct {
		path string
		want []string
	}{
		{"/open", nil},
		{"/guarded", []string{"auth:review", "init"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			order = nil
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if strings.Join(order, " ") != strings.Join(tt.want, " ") {
				t.Errorf("middleware order = %v, want %v", order, tt.want)
			}
		})
	}

	if n := len(reg.BuildCommands(func() string { return "" }).Commands()); n != 2 {
		t.Errorf("BuildCommands() has %d subcommands, want 2", n)
	}
}
