package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pgshardman/shardlord/cfg"
	"github.com/pgshardman/shardlord/sched"
)

type fakeProvider struct {
	statuses []sched.Status
}

func (f *fakeProvider) Snapshot() []sched.Status { return f.statuses }

func newTestMux(provider TaskStatusProvider) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, NewHandlers(provider))
	return mux
}

func TestHandleListTasksReturnsSnapshot(t *testing.T) {
	saved := *cfg.Config
	defer func() { *cfg.Config = saved }()
	cfg.Config.Admin.Enabled = false

	provider := &fakeProvider{statuses: []sched.Status{
		{Name: "copy_p1_1_2", Kind: "copy_partition", Stage: "START_TABLESYNC"},
	}}
	mux := newTestMux(provider)

	req := httptest.NewRequest(http.MethodGet, "/admin/tasks", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Data []sched.Status `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].Name != "copy_p1_1_2" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestHandleGetTaskNotFound(t *testing.T) {
	saved := *cfg.Config
	defer func() { *cfg.Config = saved }()
	cfg.Config.Admin.Enabled = false

	mux := newTestMux(&fakeProvider{})

	req := httptest.NewRequest(http.MethodGet, "/admin/tasks/missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMissingSecret(t *testing.T) {
	saved := *cfg.Config
	defer func() { *cfg.Config = saved }()
	cfg.Config.Admin.Enabled = true
	cfg.Config.Admin.Secret = "s3cr3t"

	mux := newTestMux(&fakeProvider{})

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddlewareAcceptsMatchingHeader(t *testing.T) {
	saved := *cfg.Config
	defer func() { *cfg.Config = saved }()
	cfg.Config.Admin.Enabled = true
	cfg.Config.Admin.Secret = "s3cr3t"

	mux := newTestMux(&fakeProvider{})

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	req.Header.Set("X-Shardlord-Secret", "s3cr3t")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
