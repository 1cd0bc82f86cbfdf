package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailxai/draft-publisher/app/audit"
	"github.com/retailxai/draft-publisher/app/database"
	"github.com/retailxai/draft-publisher/app/destination"
	"github.com/retailxai/draft-publisher/app/ledger"
	"github.com/retailxai/draft-publisher/app/publish"
	"github.com/retailxai/draft-publisher/app/publisher"
)

const testAPIKey = "secret-key"

type stubAdapter struct {
	dest   string
	result publisher.Result
}

func (a *stubAdapter) Destination() string { return a.dest }

func (a *stubAdapter) Publish(ctx context.Context, content publisher.Content) (publisher.Result, error) {
	return a.result, nil
}

func (a *stubAdapter) TestConnection(ctx context.Context) bool { return a.result.Success }

type stubFactory struct {
	adapters map[string]*stubAdapter
}

func (f *stubFactory) New(cfg *destination.Config, cred *database.Credential) (publisher.Publisher, error) {
	a, ok := f.adapters[cfg.Name]
	if !ok {
		return nil, errors.New("no adapter")
	}
	return a, nil
}

type failingPinger struct{}

func (failingPinger) PingContext(ctx context.Context) error { return errors.New("database is closed") }

type testServer struct {
	engine *gin.Engine
	db     *database.DB
	creds  *database.CredentialRepo
}

func newTestServer(t *testing.T, adapters map[string]*stubAdapter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)

	creds := database.NewCredentialRepository(db)
	dests := destination.NewConfigCache("")
	coordinator := publish.NewCoordinator(publish.Deps{
		Drafts:       database.NewDraftRepository(db),
		Records:      database.NewRecordRepository(db),
		Credentials:  creds,
		Ledger:       ledger.New(database.NewJobRepository(db)),
		Trail:        audit.New(database.NewAuditRepository(db)),
		Destinations: dests,
		Factory:      &stubFactory{adapters: adapters},
	})

	handler := NewHandler(coordinator, dests, db, nil, nil)
	return &testServer{engine: NewServer(handler, testAPIKey, "test"), db: db, creds: creds}
}

func (s *testServer) do(t *testing.T, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)
	if role != "" {
		req.Header.Set("X-Actor-Id", role+"-user")
		req.Header.Set("X-Actor-Role", role)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) seedCredential(t *testing.T, dest string) {
	t.Helper()
	require.NoError(t, s.creds.SaveCredential(context.Background(), &database.Credential{
		Destination: dest,
		Tokens:      map[string]string{"bearer_token": "t"},
		Active:      true,
	}))
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func saveDraft(t *testing.T, s *testServer) {
	t.Helper()
	w := s.do(t, http.MethodPut, "/api/drafts/42", "editor", map[string]any{
		"slug":    "q3-results",
		"title":   "Q3 Results",
		"summary": "Strong growth",
		"body_md": "Revenue grew.",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"missing key", map[string]string{}, http.StatusUnauthorized},
		{"wrong key", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"bearer key", map[string]string{"Authorization": "Bearer " + testAPIKey}, http.StatusOK},
		{"header key", map[string]string{"X-API-Key": testAPIKey}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
			req.Header.Set("X-Actor-Id", "v")
			req.Header.Set("X-Actor-Role", "viewer")
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			s.engine.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestActorRequired(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/jobs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/jobs", "superuser", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPublishFlow(t *testing.T) {
	s := newTestServer(t, map[string]*stubAdapter{
		destination.Microblog: {dest: destination.Microblog, result: publisher.Result{
			Success:     true,
			ExternalURL: "https://twitter.com/user/status/1",
			PlatformID:  "1",
		}},
	})
	s.seedCredential(t, destination.Microblog)
	saveDraft(t, s)

	w := s.do(t, http.MethodPost, "/api/drafts/42/publish", "viewer", map[string]any{"destinations": []string{"microblog"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "draft:publish", decode(t, w)["required"])

	w = s.do(t, http.MethodPost, "/api/drafts/42/publish", "editor", map[string]any{"destinations": []string{"microblog"}})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		DraftID string                     `json:"draft_id"`
		Results map[string]publish.Outcome `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	outcome := resp.Results[destination.Microblog]
	assert.Equal(t, "42", resp.DraftID)
	assert.True(t, outcome.Success)
	assert.Equal(t, "https://twitter.com/user/status/1", outcome.ExternalURL)

	w = s.do(t, http.MethodGet, "/api/jobs/"+outcome.JobID, "viewer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", decode(t, w)["status"])

	w = s.do(t, http.MethodPost, "/api/jobs/"+outcome.JobID+"/retry", "editor", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/drafts/42/publications", "viewer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total"])

	w = s.do(t, http.MethodGet, "/api/audit?action=publish", "viewer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total"])
}

func TestPublishErrors(t *testing.T) {
	s := newTestServer(t, nil)
	saveDraft(t, s)

	w := s.do(t, http.MethodPost, "/api/drafts/42/publish", "editor", map[string]any{"destinations": []string{"fax"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/drafts/42/publish", "editor", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/drafts/404/publish", "editor", map[string]any{"destinations": []string{"microblog"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/jobs/missing", "viewer", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/jobs?limit=abc", "viewer", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRetryAndCancelFailedJob(t *testing.T) {
	s := newTestServer(t, map[string]*stubAdapter{
		destination.Microblog: {dest: destination.Microblog, result: publisher.Result{Error: "Twitter API error: 500 - down"}},
	})
	s.seedCredential(t, destination.Microblog)
	saveDraft(t, s)

	w := s.do(t, http.MethodPost, "/api/drafts/42/publish", "editor", map[string]any{"destinations": []string{"microblog"}})
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp struct {
		Results map[string]publish.Outcome `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	outcome := resp.Results[destination.Microblog]
	assert.Equal(t, "Twitter API error: 500 - down", outcome.Error)

	w = s.do(t, http.MethodPost, "/api/jobs/"+outcome.JobID+"/retry", "editor", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "pending", body["status"])
	assert.EqualValues(t, 2, body["attempts"])

	w = s.do(t, http.MethodPost, "/api/jobs/"+outcome.JobID+"/cancel", "editor", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decode(t, w)["status"])
}

func TestEndpoints(t *testing.T) {
	s := newTestServer(t, map[string]*stubAdapter{
		destination.Newsletter: {dest: destination.Newsletter, result: publisher.Result{Success: true}},
	})

	creds := map[string]any{"tokens": map[string]string{"api_key": "k", "publication_id": "p"}}
	w := s.do(t, http.MethodPut, "/api/endpoints/newsletter", "editor", creds)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "endpoint:manage", decode(t, w)["required"])

	w = s.do(t, http.MethodPut, "/api/endpoints/newsletter", "admin", creds)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["active"])

	w = s.do(t, http.MethodPost, "/api/endpoints/newsletter/test", "editor", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["connected"])

	w = s.do(t, http.MethodPost, "/api/endpoints/fax/test", "editor", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/endpoints", "viewer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode(t, w)["total"])
}

func TestSaveDraftSlugIsImmutable(t *testing.T) {
	s := newTestServer(t, nil)
	saveDraft(t, s)

	w := s.do(t, http.MethodPut, "/api/drafts/42", "editor", map[string]any{"slug": "renamed", "title": "Q3 Results"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/api/drafts/42", "viewer", map[string]any{"slug": "q3-results", "title": "Q3"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/api/drafts/42", "viewer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "q3-results", decode(t, w)["slug"])
}

func TestSaveDraftRejectsTakenSlug(t *testing.T) {
	s := newTestServer(t, nil)
	saveDraft(t, s)

	w := s.do(t, http.MethodPut, "/api/drafts/43", "editor", map[string]any{"slug": "q3-results", "title": "Q3 Copy"})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Contains(t, decode(t, w)["error"], "draft slug already exists")

	w = s.do(t, http.MethodGet, "/api/drafts/43", "viewer", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSaveDraftRejectsUnknownStatus(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPut, "/api/drafts/44", "editor", map[string]any{
		"slug": "q4-outlook", "title": "Q4 Outlook", "status": "bogus",
	})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Contains(t, decode(t, w)["error"], "unknown draft status")

	w = s.do(t, http.MethodGet, "/api/drafts/44", "viewer", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPut, "/api/drafts/44", "editor", map[string]any{
		"slug": "q4-outlook", "title": "Q4 Outlook", "status": "in-review",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "in-review", decode(t, w)["status"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	handler := NewHandler(nil, destination.NewConfigCache(""), failingPinger{}, nil, nil)
	engine := NewServer(handler, "", "test")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/jobs", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
