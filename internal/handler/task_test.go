package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hiroki-koketsu/go-todo-store/internal/kvstore"
	"github.com/hiroki-koketsu/go-todo-store/internal/model"
	"github.com/hiroki-koketsu/go-todo-store/internal/repository"
	"github.com/hiroki-koketsu/go-todo-store/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

// failingStore rejects every call with err.
type failingStore struct {
	kvstore.MemoryStore
	err error
}

func (s *failingStore) Get(context.Context, string) (string, bool, error) { return "", false, s.err }
func (s *failingStore) Set(context.Context, string, string) error { return s.err }
func (s *failingStore) Ping(context.Context) error { return s.err }

func newTestServer(t *testing.T, store kvstore.Store) (*httptest.Server, *repository.TaskRepository) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := repository.NewTaskRepository(store, repository.WithLogger(logger))

	metrics, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"), repo.Stats)
	require.NoError(t, err)

	h := NewTaskHandler(repo, store, logger, metrics)

	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/tasks", h.Routes())
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createTask(t *testing.T, baseURL, body string) model.Task {
	t.Helper()
	resp := doJSON(t, http.MethodPost, baseURL+"/api/v1/tasks", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[model.Task](t, resp)
}

func TestCreateAndGet(t *testing.T) {
	srv, _ := newTestServer(t, kvstore.NewMemoryStore())

	created := createTask(t, srv.URL, `{"title":"Buy milk","priority":"High"}`)
	assert.Equal(t, "Buy milk", created.Title)
	assert.Equal(t, model.PriorityHigh, created.Priority)
	assert.False(t, created.IsCompleted)
	assert.Nil(t, created.CompletedAt)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/"+created.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[model.Task](t, resp)
	assert.Equal(t, created.ID, got.ID)
}

func TestCreate_Validation(t *testing.T) {
	srv, repo := newTestServer(t, kvstore.NewMemoryStore())

	testCases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"blank title", `{"title":"   "}`, model.ErrTitleRequired.Error()},
		{"bad priority", `{"title":"x","priority":"Urgent"}`, model.ErrInvalidPriority.Error()},
		{"malformed", `{"title":`, "invalid request body"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decode[map[string]string](t, resp)
			assert.Equal(t, tc.wantErr, body["error"])
		})
	}

	assert.Zero(t, repo.Count())
}

func TestList_OrderAndFilter(t *testing.T) {
	srv, _ := newTestServer(t, kvstore.NewMemoryStore())

	first := createTask(t, srv.URL, `{"title":"first"}`)
	time.Sleep(5 * time.Millisecond)
	second := createTask(t, srv.URL, `{"title":"second"}`)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks/"+first.ID+"/toggle", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decode[[]model.Task](t, resp)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks?status=completed", "")
	completed := decode[[]model.Task](t, resp)
	require.Len(t, completed, 1)
	assert.Equal(t, first.ID, completed[0].ID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks?status=active", "")
	active := decode[[]model.Task](t, resp)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks?status=someday", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdates(t *testing.T) {
	srv, _ := newTestServer(t, kvstore.NewMemoryStore())
	task := createTask(t, srv.URL, `{"title":"Original"}`)
	base := srv.URL + "/api/v1/tasks/" + task.ID

	resp := doJSON(t, http.MethodPut, base, `{"title":"Renamed"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Renamed", decode[model.Task](t, resp).Title)

	resp = doJSON(t, http.MethodPut, base+"/priority", `{"priority":"low"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.PriorityLow, decode[model.Task](t, resp).Priority)

	resp = doJSON(t, http.MethodPut, base+"/due-date", `{"dueDate":"2030-06-01T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[model.Task](t, resp)
	require.NotNil(t, got.DueDate)
	assert.Equal(t, 2030, got.DueDate.Year())

	resp = doJSON(t, http.MethodPut, base+"/due-date", `{"dueDate":null}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, decode[model.Task](t, resp).DueDate)

	resp = doJSON(t, http.MethodPut, base, `{"title":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPut, base+"/priority", `{"priority":"none"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestToggle(t *testing.T) {
	srv, _ := newTestServer(t, kvstore.NewMemoryStore())
	task := createTask(t, srv.URL, `{"title":"Toggle me"}`)
	url := srv.URL + "/api/v1/tasks/" + task.ID + "/toggle"

	resp := doJSON(t, http.MethodPost, url, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	done := decode[model.Task](t, resp)
	assert.True(t, done.IsCompleted)
	assert.NotNil(t, done.CompletedAt)

	resp = doJSON(t, http.MethodPost, url, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	undone := decode[model.Task](t, resp)
	assert.False(t, undone.IsCompleted)
	assert.Nil(t, undone.CompletedAt)
}

func TestDelete(t *testing.T) {
	srv, repo := newTestServer(t, kvstore.NewMemoryStore())
	task := createTask(t, srv.URL, `{"title":"Delete me"}`)

	resp := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/tasks/"+task.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, repo.Count())

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/tasks/"+task.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnknownID(t *testing.T) {
	srv, _ := newTestServer(t, kvstore.NewMemoryStore())
	base := srv.URL + "/api/v1/tasks/unknown"

	testCases := []struct {
		method string
		url    string
		body   string
	}{
		{http.MethodGet, base, ""},
		{http.MethodPut, base, `{"title":"x"}`},
		{http.MethodPut, base + "/priority", `{"priority":"High"}`},
		{http.MethodPut, base + "/due-date", `{"dueDate":null}`},
		{http.MethodPost, base + "/toggle", ""},
		{http.MethodDelete, base, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.url, func(t *testing.T) {
			resp := doJSON(t, tc.method, tc.url, tc.body)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		})
	}
}

func TestFinishUpdate_TaskRemovedMeanwhile(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := kvstore.NewMemoryStore()
	repo := repository.NewTaskRepository(store, repository.WithLogger(logger))
	require.NoError(t, repo.Initialize(context.Background()))
	metrics, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"), repo.Stats)
	require.NoError(t, err)
	h := NewTaskHandler(repo, store, logger, metrics)

	task, err := repo.Create(context.Background(), "short lived", "", nil)
	require.NoError(t, err)
	ok, err := repo.ToggleComplete(context.Background(), task.ID)
	require.NoError(t, err)
	_, err = repo.Delete(context.Background(), task.ID)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.finishUpdate(context.Background(), rec, http.MethodPost, routeToggle, time.Now(), task.ID, ok, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, model.ErrTaskNotFound.Error(), body["error"])
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t, kvstore.NewMemoryStore())

	yesterday := time.Now().AddDate(0, 0, -1).Format(time.RFC3339)
	createTask(t, srv.URL, `{"title":"late","dueDate":"`+yesterday+`"}`)
	done := createTask(t, srv.URL, `{"title":"done"}`)
	createTask(t, srv.URL, `{"title":"open"}`)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks/"+done.ID+"/toggle", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[model.TaskStats](t, resp)

	assert.Equal(t, model.TaskStats{Total: 3, Completed: 1, Pending: 2, Overdue: 1}, stats)
}

func TestStoreFailures(t *testing.T) {
	store := &failingStore{err: errors.New("disk on fire")}
	srv, repo := newTestServer(t, store)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, repo.Initialized())

	resp = doJSON(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCreate_WriteFailure(t *testing.T) {
	store := &failingStore{}
	srv, repo := newTestServer(t, store)

	require.NoError(t, repo.Initialize(context.Background()))
	store.err = errors.New("quota exceeded")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", `{"title":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, kvstore.NewMemoryStore())

	resp := doJSON(t, http.MethodGet, srv.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, resp))
}
