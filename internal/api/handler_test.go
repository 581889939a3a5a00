package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	extratelimit "github.com/vnmchuo/ratelimiter"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/forecast-api/internal/forecast"
	"github.com/vnmchuo/forecast-api/internal/job"
	"github.com/vnmchuo/forecast-api/internal/predictor"
	"github.com/vnmchuo/forecast-api/pkg/ratelimit"
)

// Mock Limiter Store
type mockLimiterStore struct {
	allowed bool
	err     error
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

type testEnv struct {
	handler  *Handler
	registry *job.Registry
	queue    *job.Queue
	router   http.Handler
}

func setupTest(modelLoaded bool, limiter *ratelimit.Limiter) *testEnv {
	registry := job.NewRegistry()
	queue := job.NewQueue()
	reporter := job.NewStatusReporter(registry, modelLoaded)
	tracer := noop.NewTracerProvider().Tracer("test")

	h := NewHandler(registry, queue, reporter, limiter, nil, tracer)
	return &testEnv{
		handler:  h,
		registry: registry,
		queue:    queue,
		router:   h.Router(),
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestHandleStatus(t *testing.T) {
	env := setupTest(true, nil)
	env.registry.Create(forecast.Request{Date: "2024-03-14", Store: 1, Item: 1})

	w := env.do(t, "GET", "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	resp := decodeBody(t, w)
	if resp["status"] != "online" {
		t.Errorf("Expected status online, got %v", resp["status"])
	}
	if resp["model_loaded"] != true {
		t.Errorf("Expected model_loaded true, got %v", resp["model_loaded"])
	}
	if resp["active_jobs"] != float64(1) {
		t.Errorf("Expected 1 active job, got %v", resp["active_jobs"])
	}

	byStatus, ok := resp["jobs_by_status"].(map[string]any)
	if !ok {
		t.Fatalf("Expected jobs_by_status object, got %v", resp["jobs_by_status"])
	}
	for _, key := range []string{"pending", "processing", "completed", "failed"} {
		if _, ok := byStatus[key]; !ok {
			t.Errorf("Missing jobs_by_status key %q", key)
		}
	}
	if byStatus["pending"] != float64(1) {
		t.Errorf("Expected 1 pending job, got %v", byStatus["pending"])
	}
}

func TestHandleStatus_ModelNotLoaded(t *testing.T) {
	env := setupTest(false, nil)
	w := env.do(t, "GET", "/status", nil)
	resp := decodeBody(t, w)
	if resp["model_loaded"] != false {
		t.Errorf("Expected model_loaded false, got %v", resp["model_loaded"])
	}
}

func TestHandlePredict_Success(t *testing.T) {
	env := setupTest(true, nil)

	w := env.do(t, "POST", "/predict", map[string]any{
		"date":  "2024-03-14",
		"store": 1,
		"item":  1,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	jobID, _ := resp["job_id"].(string)
	if jobID == "" {
		t.Fatal("Expected job_id")
	}
	if resp["status"] != "pending" {
		t.Errorf("Expected pending, got %v", resp["status"])
	}
	if resp["submitted_at"] == nil {
		t.Error("Expected submitted_at")
	}

	if env.queue.Len() != 1 {
		t.Errorf("Expected job to be enqueued, queue len %d", env.queue.Len())
	}
	if _, ok := env.registry.Get(jobID); !ok {
		t.Error("Expected job in registry")
	}
}

func TestHandlePredict_CoercesNumericStrings(t *testing.T) {
	env := setupTest(true, nil)

	w := env.do(t, "POST", "/predict", map[string]any{
		"date":  "2024-03-14",
		"store": "1.9",
		"item":  "2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBody(t, w)
	j, ok := env.registry.Get(resp["job_id"].(string))
	if !ok {
		t.Fatal("Expected job in registry")
	}
	if j.Request.Store != 1 || j.Request.Item != 2 {
		t.Errorf("Expected truncated store=1 item=2, got %+v", j.Request)
	}
}

func TestHandlePredict_NoBody(t *testing.T) {
	env := setupTest(true, nil)

	req := httptest.NewRequest("POST", "/predict", strings.NewReader(""))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["error"] != "No data provided or invalid JSON" {
		t.Errorf("Unexpected error: %v", resp["error"])
	}
}

func TestHandlePredict_ValidationErrors(t *testing.T) {
	env := setupTest(true, nil)

	cases := []struct {
		name    string
		body    map[string]any
		wantErr string
	}{
		{
			name:    "missing fields",
			body:    map[string]any{"date": "2024-03-14"},
			wantErr: "Missing required fields: store, item",
		},
		{
			name:    "invalid date",
			body:    map[string]any{"date": "invalid-date", "store": 1, "item": 1},
			wantErr: "Invalid date format. Use YYYY-MM-DD",
		},
		{
			name:    "negative store",
			body:    map[string]any{"date": "2024-03-14", "store": -1, "item": 1},
			wantErr: "Store must be a positive integer",
		},
		{
			name:    "non-numeric item",
			body:    map[string]any{"date": "2024-03-14", "store": 1, "item": "invalid"},
			wantErr: "Item must be a positive integer",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, "POST", "/predict", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d: %s", w.Code, w.Body.String())
			}
			resp := decodeBody(t, w)
			if resp["error"] != tc.wantErr {
				t.Errorf("Expected %q, got %v", tc.wantErr, resp["error"])
			}
		})
	}

	// No job may exist after a rejected submission.
	if env.registry.Len() != 0 {
		t.Errorf("Expected no jobs after rejected submissions, got %d", env.registry.Len())
	}
	if env.queue.Len() != 0 {
		t.Errorf("Expected empty queue after rejected submissions, got %d", env.queue.Len())
	}
}

func TestHandlePredict_RateLimited(t *testing.T) {
	limiter := ratelimit.NewTestLimiter(&mockLimiterStore{allowed: false})
	env := setupTest(true, limiter)

	w := env.do(t, "POST", "/predict", map[string]any{
		"date":  "2024-03-14",
		"store": 1,
		"item":  1,
	})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["error"] != "rate limit exceeded" {
		t.Errorf("Unexpected error: %v", resp["error"])
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Expected Retry-After header, got %q", w.Header().Get("Retry-After"))
	}
	if env.registry.Len() != 0 {
		t.Error("Rate-limited submission must not create a job")
	}
}

func TestHandleJobStatus_NotFound(t *testing.T) {
	env := setupTest(true, nil)

	w := env.do(t, "GET", "/status/does-not-exist", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["error"] != "Job not found" {
		t.Errorf("Unexpected error: %v", resp["error"])
	}
	if resp["job_id"] != "does-not-exist" {
		t.Errorf("Expected echoed job_id, got %v", resp["job_id"])
	}
}

func TestHandleJobStatus_Pending(t *testing.T) {
	env := setupTest(true, nil)
	j := env.registry.Create(forecast.Request{Date: "2024-03-14", Store: 1, Item: 1})

	w := env.do(t, "GET", "/status/"+j.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["status"] != "pending" {
		t.Errorf("Expected pending, got %v", resp["status"])
	}
	for _, absent := range []string{"completed_at", "result", "error"} {
		if _, ok := resp[absent]; ok {
			t.Errorf("Pending job must not expose %q", absent)
		}
	}
}

func TestHandleJobStatus_Completed(t *testing.T) {
	env := setupTest(true, nil)
	j := env.registry.Create(forecast.Request{Date: "2024-03-14", Store: 1, Item: 1})
	env.registry.MarkProcessing(j.ID)
	env.registry.MarkCompleted(j.ID, forecast.Prediction{
		PredictedSales: 52.3, Date: "2024-03-14", Store: 1, Item: 1,
	})

	w := env.do(t, "GET", "/status/"+j.ID, nil)
	resp := decodeBody(t, w)
	if resp["status"] != "completed" {
		t.Fatalf("Expected completed, got %v", resp["status"])
	}
	if resp["completed_at"] == nil {
		t.Error("Expected completed_at")
	}

	result, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatalf("Expected result object, got %v", resp["result"])
	}
	if result["predicted_sales"] != 52.3 {
		t.Errorf("Expected predicted_sales 52.3, got %v", result["predicted_sales"])
	}
	if result["date"] != "2024-03-14" || result["store"] != float64(1) || result["item"] != float64(1) {
		t.Errorf("Result must echo the request, got %v", result)
	}
	if _, ok := resp["error"]; ok {
		t.Error("Completed job must not expose an error")
	}
}

func TestHandleJobStatus_Failed(t *testing.T) {
	env := setupTest(true, nil)
	j := env.registry.Create(forecast.Request{Date: "2024-03-14", Store: 1, Item: 1})
	env.registry.MarkProcessing(j.ID)
	env.registry.MarkFailed(j.ID, "model not loaded")

	w := env.do(t, "GET", "/status/"+j.ID, nil)
	resp := decodeBody(t, w)
	if resp["status"] != "failed" {
		t.Fatalf("Expected failed, got %v", resp["status"])
	}
	if resp["error"] != "model not loaded" {
		t.Errorf("Expected error message, got %v", resp["error"])
	}
	if _, ok := resp["result"]; ok {
		t.Error("Failed job must not expose a result")
	}
}

func TestHandleListJobs(t *testing.T) {
	env := setupTest(true, nil)

	var ids []string
	for i := 1; i <= 3; i++ {
		j := env.registry.Create(forecast.Request{Date: "2024-03-14", Store: i, Item: i})
		ids = append(ids, j.ID)
	}
	env.registry.MarkProcessing(ids[0])
	env.registry.MarkCompleted(ids[0], forecast.Prediction{PredictedSales: 1})

	w := env.do(t, "GET", "/jobs", nil)
	resp := decodeBody(t, w)
	if resp["total_jobs"] != float64(3) || resp["filtered_jobs"] != float64(3) {
		t.Errorf("Expected 3/3 jobs, got %v/%v", resp["total_jobs"], resp["filtered_jobs"])
	}
	jobs := resp["jobs"].([]any)
	first := jobs[0].(map[string]any)
	if first["job_id"] != ids[0] {
		t.Error("Expected submission order")
	}
	if _, ok := first["data"].(map[string]any); !ok {
		t.Error("Expected request data in job listing")
	}

	w = env.do(t, "GET", "/jobs?status=completed", nil)
	resp = decodeBody(t, w)
	if resp["filtered_jobs"] != float64(1) {
		t.Errorf("Expected 1 completed job, got %v", resp["filtered_jobs"])
	}
	if resp["total_jobs"] != float64(3) {
		t.Errorf("total_jobs must ignore the filter, got %v", resp["total_jobs"])
	}

	w = env.do(t, "GET", "/jobs?limit=1", nil)
	resp = decodeBody(t, w)
	if got := len(resp["jobs"].([]any)); got != 1 {
		t.Errorf("Expected at most 1 job with limit=1, got %d", got)
	}

	// A junk limit is ignored rather than rejected.
	w = env.do(t, "GET", "/jobs?limit=abc", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for junk limit, got %d", w.Code)
	}
}

const workflowArtifact = `{
	"version": "test",
	"bias": 20,
	"weights": {"store": 1, "item": 1, "dayofweek": 0.5}
}`

// End-to-end: submit through the API, let the real worker and model process
// the job, and poll the status endpoint until it completes.
func TestPredictWorkflow(t *testing.T) {
	env := setupTest(true, nil)

	model, err := predictor.NewModel([]byte(workflowArtifact))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	worker := job.NewWorker(env.registry, env.queue, model,
		job.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	w := env.do(t, "POST", "/predict", map[string]any{
		"date":  "2024-03-14",
		"store": 1,
		"item":  1,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	jobID := decodeBody(t, w)["job_id"].(string)

	var resp map[string]any
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w = env.do(t, "GET", "/status/"+jobID, nil)
		resp = decodeBody(t, w)
		if resp["status"] == "completed" || resp["status"] == "failed" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if resp["status"] != "completed" {
		t.Fatalf("Expected completed, got %v (%v)", resp["status"], resp["error"])
	}
	result := resp["result"].(map[string]any)
	sales, ok := result["predicted_sales"].(float64)
	if !ok || math.IsNaN(sales) || math.IsInf(sales, 0) {
		t.Fatalf("Expected finite predicted_sales, got %v", result["predicted_sales"])
	}
	if result["store"] != float64(1) || result["item"] != float64(1) || result["date"] != "2024-03-14" {
		t.Errorf("Result must echo the request, got %v", result)
	}
}

// Ids must stay unique across many submissions.
func TestPredict_UniqueJobIDs(t *testing.T) {
	env := setupTest(true, nil)

	seen := make(map[string]bool)
	for i := range 50 {
		w := env.do(t, "POST", "/predict", map[string]any{
			"date":  "2024-03-14",
			"store": 1,
			"item":  i + 1,
		})
		id := decodeBody(t, w)["job_id"].(string)
		if seen[id] {
			t.Fatalf("Duplicate job id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != 50 {
		t.Errorf("Expected 50 unique ids, got %d", len(seen))
	}
}
