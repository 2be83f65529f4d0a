package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devdash/internal/envvar"
	"github.com/loykin/devdash/internal/metrics"
	"github.com/loykin/devdash/internal/repository"
	"github.com/loykin/devdash/internal/script"
	"github.com/loykin/devdash/internal/validation"
)

type fixture struct {
	h       http.Handler
	scripts *script.Service
	repos   *repository.Store
	env     *envvar.Store
}

func setupRouter(t *testing.T, base string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		repos: repository.NewStore(log),
		env:   envvar.NewStore(log),
	}
	f.scripts = script.NewService(script.WithLogger(log), script.WithWorkDirResolver(f.repos.WorkDir))
	t.Cleanup(f.scripts.Cleanup)
	f.h = NewRouter(Deps{
		Scripts:      f.scripts,
		Repositories: f.repos,
		Env:          f.env,
		Processes:    metrics.NewProcessMetricsCollector(metrics.ProcessMetricsConfig{}),
		Logger:       log,
	}, base).Handler()
	return f
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type apiResp struct {
	Success    bool               `json:"success"`
	Data       json.RawMessage    `json:"data"`
	Error      string             `json:"error"`
	Details    []validation.Field `json:"details"`
	Pagination *pagination        `json:"pagination"`
	Message    string             `json:"message"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) apiResp {
	t.Helper()
	var r apiResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r), rec.Body.String())
	return r
}

func decodeData[T any](t *testing.T, r apiResp) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(r.Data, &v), string(r.Data))
	return v
}

func TestHealth(t *testing.T) {
	f := setupRouter(t, "")
	rec := doReq(t, f.h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
	assert.Contains(t, body, "uptime")
}

func TestBasePath(t *testing.T) {
	f := setupRouter(t, "/dash/")
	assert.Equal(t, http.StatusOK, doReq(t, f.h, http.MethodGet, "/dash/health", nil).Code)
	assert.Equal(t, http.StatusOK, doReq(t, f.h, http.MethodGet, "/dash/api/scripts", nil).Code)
	assert.Equal(t, http.StatusNotFound, doReq(t, f.h, http.MethodGet, "/api/scripts", nil).Code)
}

func TestUnknownRoute(t *testing.T) {
	f := setupRouter(t, "")
	rec := doReq(t, f.h, http.MethodGet, "/api/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	r := decode(t, rec)
	assert.False(t, r.Success)
	assert.Equal(t, "Route not found", r.Error)
}

func TestCORSPreflight(t *testing.T) {
	f := setupRouter(t, "")
	rec := doReq(t, f.h, http.MethodOptions, "/api/scripts", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestScriptCRUD(t *testing.T) {
	f := setupRouter(t, "")

	rec := doReq(t, f.h, http.MethodPost, "/api/scripts", map[string]string{
		"name": "dev", "command": "npm run dev", "repositoryId": "1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeData[script.Record](t, decode(t, rec))
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.IsRunning)
	assert.Equal(t, script.StateIdle, created.State)

	rec = doReq(t, f.h, http.MethodGet, "/api/scripts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "npm run dev", decodeData[script.Record](t, decode(t, rec)).Command)

	rec = doReq(t, f.h, http.MethodPut, "/api/scripts/"+created.ID, map[string]string{"command": "vite"})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeData[script.Record](t, decode(t, rec))
	assert.Equal(t, "vite", updated.Command)
	assert.Equal(t, "dev", updated.Name)

	rec = doReq(t, f.h, http.MethodDelete, "/api/scripts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	r := decode(t, rec)
	assert.True(t, r.Success)
	assert.Empty(t, r.Data)

	for _, m := range []string{http.MethodGet, http.MethodDelete} {
		rec = doReq(t, f.h, m, "/api/scripts/"+created.ID, nil)
		require.Equal(t, http.StatusNotFound, rec.Code, m)
		assert.Equal(t, "Script not found", decode(t, rec).Error)
	}
	rec = doReq(t, f.h, http.MethodPut, "/api/scripts/"+created.ID, map[string]string{"name": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateScriptValidation(t *testing.T) {
	f := setupRouter(t, "")
	rec := doReq(t, f.h, http.MethodPost, "/api/scripts", map[string]string{"name": "dev"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	r := decode(t, rec)
	assert.Equal(t, "Validation failed", r.Error)
	fields := make([]string, 0, len(r.Details))
	for _, d := range r.Details {
		fields = append(fields, d.Field)
	}
	assert.ElementsMatch(t, []string{"command", "repositoryId"}, fields)

	req := httptest.NewRequest(http.MethodPost, "/api/scripts", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListScriptsPagination(t *testing.T) {
	f := setupRouter(t, "")
	f.scripts.SeedMock("1")
	f.scripts.SeedMock("2")

	rec := doReq(t, f.h, http.MethodGet, "/api/scripts?limit=3&page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	r := decode(t, rec)
	require.NotNil(t, r.Pagination)
	assert.Equal(t, pagination{Page: 2, Limit: 3, Total: 8, TotalPages: 3}, *r.Pagination)
	assert.Len(t, decodeData[[]script.Record](t, r), 3)

	rec = doReq(t, f.h, http.MethodGet, "/api/scripts?repositoryId=2", nil)
	r = decode(t, rec)
	assert.Equal(t, 4, r.Pagination.Total)
	for _, s := range decodeData[[]script.Record](t, r) {
		assert.Equal(t, "2", s.RepositoryID)
	}

	rec = doReq(t, f.h, http.MethodGet, "/api/scripts?page=9", nil)
	r = decode(t, rec)
	assert.Equal(t, "[]", string(r.Data))

	for _, q := range []string{"limit=0", "limit=101", "page=0", "page=abc"} {
		rec = doReq(t, f.h, http.MethodGet, "/api/scripts?"+q, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
		r = decode(t, rec)
		assert.Equal(t, "Validation failed", r.Error, q)
		assert.NotEmpty(t, r.Details, q)
	}
}

func TestScriptRunControlsWhenIdle(t *testing.T) {
	f := setupRouter(t, "")
	seeded := f.scripts.SeedMock("1")

	rec := doReq(t, f.h, http.MethodPost, "/api/scripts/"+seeded[0].ID+"/stop", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Script is not running or not found", decode(t, rec).Error)

	rec = doReq(t, f.h, http.MethodPost, "/api/scripts/missing/execute", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Script not found", decode(t, rec).Error)

	rec = doReq(t, f.h, http.MethodGet, "/api/scripts/missing/output", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", string(decode(t, rec).Data))

	rec = doReq(t, f.h, http.MethodGet, "/api/scripts/running", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", string(decode(t, rec).Data))

	rec = doReq(t, f.h, http.MethodGet, "/api/scripts/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRepositoryRoutes(t *testing.T) {
	f := setupRouter(t, "")
	f.repos.SeedMock()

	rec := doReq(t, f.h, http.MethodGet, "/api/repositories?type=next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	r := decode(t, rec)
	repos := decodeData[[]repository.Repository](t, r)
	require.Len(t, repos, 1)
	assert.Equal(t, "next-dashboard", repos[0].Name)
	assert.Equal(t, 1, r.Pagination.Total)

	rec = doReq(t, f.h, http.MethodGet, "/api/repositories?search=VITE", nil)
	assert.Equal(t, 1, decode(t, rec).Pagination.Total)

	rec = doReq(t, f.h, http.MethodGet, "/api/repositories?type=rails", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "type", decode(t, rec).Details[0].Field)

	rec = doReq(t, f.h, http.MethodGet, "/api/repositories/9", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Repository not found", decode(t, rec).Error)

	rec = doReq(t, f.h, http.MethodPost, "/api/repositories/1/access", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doReq(t, f.h, http.MethodPut, "/api/repositories/1", map[string]string{"name": "renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "renamed", decodeData[repository.Repository](t, decode(t, rec)).Name)

	rec = doReq(t, f.h, http.MethodDelete, "/api/repositories/2", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doReq(t, f.h, http.MethodDelete, "/api/repositories/2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRepositoryAndImportScripts(t *testing.T) {
	f := setupRouter(t, "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"),
		[]byte(`{"name":"web","scripts":{"dev":"vite","build":"vite build"}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vite.config.ts"), []byte("export default {}"), 0o644))

	rec := doReq(t, f.h, http.MethodPost, "/api/repositories", map[string]string{
		"name": "web", "path": filepath.Join(dir, "missing"), "type": "vite", "packageManager": "pnpm",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec).Error, "repository path does not exist")

	rec = doReq(t, f.h, http.MethodPost, "/api/repositories", map[string]string{"name": "web", "path": dir})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Validation failed", decode(t, rec).Error)

	rec = doReq(t, f.h, http.MethodPost, "/api/repositories", map[string]string{
		"name": "web", "path": dir, "type": "vite", "packageManager": "pnpm",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	repo := decodeData[repository.Repository](t, decode(t, rec))
	assert.Equal(t, []string{"vite.config.ts"}, repo.ConfigFiles)

	rec = doReq(t, f.h, http.MethodPost, "/api/repositories/"+repo.ID+"/scripts/import", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	r := decode(t, rec)
	assert.Equal(t, "Imported 2 scripts", r.Message)
	created := decodeData[[]script.Record](t, r)
	require.Len(t, created, 2)
	assert.Equal(t, "build", created[0].Name)
	assert.Equal(t, "pnpm run build", created[0].Command)
	assert.Equal(t, repo.ID, created[0].RepositoryID)

	rec = doReq(t, f.h, http.MethodPost, "/api/repositories/"+repo.ID+"/scripts/import", nil)
	assert.Equal(t, "Imported 0 scripts", decode(t, rec).Message)

	rec = doReq(t, f.h, http.MethodPost, "/api/repositories/nope/scripts/import", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnvRoutes(t *testing.T) {
	f := setupRouter(t, "")
	f.env.SeedMock("1")

	rec := doReq(t, f.h, http.MethodGet, "/api/env?repositoryId=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	r := decode(t, rec)
	vars := decodeData[[]envvar.Variable](t, r)
	require.Len(t, vars, 4)
	assert.Equal(t, 4, r.Pagination.Total)
	var secretID string
	for _, v := range vars {
		if v.Key == "JWT_SECRET" {
			assert.Equal(t, envvar.Masked, v.Value)
			secretID = v.ID
		}
		if v.Key == "NODE_ENV" {
			assert.Equal(t, "development", v.Value)
		}
	}
	require.NotEmpty(t, secretID)

	rec = doReq(t, f.h, http.MethodGet, "/api/env?repositoryId=1&maskSecrets=false", nil)
	for _, v := range decodeData[[]envvar.Variable](t, decode(t, rec)) {
		assert.NotEqual(t, envvar.Masked, v.Value)
	}
	rec = doReq(t, f.h, http.MethodGet, "/api/env?maskSecrets=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, f.h, http.MethodGet, "/api/env/"+secretID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, envvar.Masked, decodeData[envvar.Variable](t, decode(t, rec)).Value)
	rec = doReq(t, f.h, http.MethodGet, "/api/env/"+secretID+"?maskSecrets=false", nil)
	assert.Equal(t, "super-secret-key", decodeData[envvar.Variable](t, decode(t, rec)).Value)

	rec = doReq(t, f.h, http.MethodPost, "/api/env", map[string]any{"key": "NODE_ENV", "value": "x", "repositoryId": "1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "environment variable 'NODE_ENV' already exists for this repository", decode(t, rec).Error)

	rec = doReq(t, f.h, http.MethodPost, "/api/env", map[string]any{"key": "lower", "value": "x", "repositoryId": "1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Validation failed", decode(t, rec).Error)

	rec = doReq(t, f.h, http.MethodPost, "/api/env", map[string]any{"key": "PORT", "value": "3000", "repositoryId": "1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	port := decodeData[envvar.Variable](t, decode(t, rec))

	rec = doReq(t, f.h, http.MethodPut, "/api/env/"+port.ID, map[string]any{"value": "4000"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4000", decodeData[envvar.Variable](t, decode(t, rec)).Value)

	rec = doReq(t, f.h, http.MethodDelete, "/api/env/"+port.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	for _, m := range []string{http.MethodGet, http.MethodDelete} {
		rec = doReq(t, f.h, m, "/api/env/"+port.ID, nil)
		require.Equal(t, http.StatusNotFound, rec.Code, m)
		assert.Equal(t, "Environment variable not found", decode(t, rec).Error)
	}
}

func TestEnvFileImportAndValues(t *testing.T) {
	f := setupRouter(t, "")

	rec := doReq(t, f.h, http.MethodPost, "/api/env/repository/r1/import", map[string]any{
		"envContent": "# comment\nFOO=bar\n\nBAZ = qux\nbad-key=1\n",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	r := decode(t, rec)
	assert.Equal(t, "Imported 2 environment variables", r.Message)

	for _, body := range []any{map[string]any{}, map[string]any{"envContent": 5}} {
		rec = doReq(t, f.h, http.MethodPost, "/api/env/repository/r1/import", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "envContent is required and must be a string", decode(t, rec).Error)
	}

	rec = doReq(t, f.h, http.MethodGet, "/api/env/repository/r1/file", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename=".env"`, rec.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.Equal(t, "FOO=bar\nBAZ=qux", rec.Body.String())

	rec = doReq(t, f.h, http.MethodPost, "/api/env/repository/r1/values", map[string]any{"keys": []string{"FOO", "NOPE"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"FOO": "bar"}, decodeData[map[string]string](t, decode(t, rec)))

	rec = doReq(t, f.h, http.MethodPost, "/api/env/repository/r1/values", map[string]any{"keys": "FOO"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "keys must be an array of strings", decode(t, rec).Error)
}

func TestSystemRoutes(t *testing.T) {
	f := setupRouter(t, "")
	f.repos.SeedMock()

	rec := doReq(t, f.h, http.MethodGet, "/api/system/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeData[map[string]any](t, decode(t, rec))
	assert.Contains(t, []any{"healthy", "warning"}, st["status"])
	assert.Equal(t, float64(0), st["activeScripts"])
	assert.Equal(t, float64(2), st["totalRepositories"])
	assert.Contains(t, st, "memoryUsage")

	rec = doReq(t, f.h, http.MethodGet, "/api/system/scripts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "{}", string(decode(t, rec).Data))
}

func TestMetricsMount(t *testing.T) {
	f := setupRouter(t, "")
	assert.Equal(t, http.StatusNotFound, doReq(t, f.h, http.MethodGet, "/metrics", nil).Code)

	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	h := NewRouter(Deps{
		Scripts:      f.scripts,
		Repositories: f.repos,
		Env:          f.env,
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, "").Handler()
	metrics.IncStart("m")
	rec := doReq(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "devdash_script_starts_total")
}
