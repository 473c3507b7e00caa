package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/autocut-api/internal/billing"
	"github.com/maauso/autocut-api/internal/job"
	"github.com/maauso/autocut-api/internal/job/id"
	"github.com/maauso/autocut-api/internal/ledger"
	"github.com/maauso/autocut-api/internal/metrics"
	"github.com/maauso/autocut-api/internal/storage"
	"github.com/maauso/autocut-api/internal/store"
)

// mockStorage implements storage.Storage for testing.
type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) Save(ctx context.Context, key string, data io.Reader) (string, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	args := m.Called(ctx, key, string(body))
	return args.String(0), args.Error(1)
}

func (m *mockStorage) Delete(ctx context.Context, keys []string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	svc     *billing.Service
	storage *mockStorage
	router  http.Handler
}

func newTestEnv(t *testing.T, opts ...HandlerOption) *testEnv {
	t.Helper()
	logger := testLogger()
	svc := billing.NewService(store.NewMemory(), billing.WithLogger(logger))
	st := &mockStorage{}
	opts = append([]HandlerOption{WithStorage(st)}, opts...)
	h := NewHandlers(svc, logger, opts...)
	return &testEnv{
		svc:     svc,
		storage: st,
		router:  NewRouter(h, logger, DefaultConfig()),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func (e *testEnv) fund(t *testing.T, userID string, credits int64, ref string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/users/"+userID+"/purchases", PurchaseRequest{Credits: credits, PaymentRef: ref})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (e *testEnv) createJob(t *testing.T, userID string, cost int64) JobResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/jobs", CreateJobRequest{UserID: userID, Name: "clip.mp4", CreditsCost: cost})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[JobResponse](t, rec)
}

func (e *testEnv) transition(t *testing.T, jobID string, req TransitionRequest) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/jobs/"+jobID+"/transitions", req)
}

func (e *testEnv) balance(t *testing.T, userID string) int64 {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/users/"+userID+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[BalanceResponse](t, rec).Balance
}

func TestHealth(t *testing.T) {
	h := NewHandlers(nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[HealthResponse](t, rec).Status)
}

func TestCreateJob_Success(t *testing.T) {
	env := newTestEnv(t)
	maxRetries := 1

	rec := env.do(t, http.MethodPost, "/jobs", CreateJobRequest{
		UserID:      "u1",
		Name:        "interview.mp4",
		CreditsCost: 3,
		Priority:    5,
		MaxRetries:  &maxRetries,
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeBody[JobResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "u1", resp.UserID)
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, int64(3), resp.CreditsCost)
	assert.Equal(t, 5, resp.Priority)
	assert.Equal(t, 1, resp.MaxRetries)
	assert.False(t, resp.Charged)
	assert.Nil(t, resp.CompletedAt)
}

func TestCreateJob_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/jobs", "invalid json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decodeBody[ErrorResponse](t, rec).Code)
}

func TestCreateJob_ValidationErrors(t *testing.T) {
	negative := -1
	tests := []struct {
		name string
		body CreateJobRequest
	}{
		{"missing user", CreateJobRequest{Name: "a", CreditsCost: 1}},
		{"missing name", CreateJobRequest{UserID: "u1", CreditsCost: 1}},
		{"zero cost", CreateJobRequest{UserID: "u1", Name: "a"}},
		{"negative cost", CreateJobRequest{UserID: "u1", Name: "a", CreditsCost: -5}},
		{"negative retries", CreateJobRequest{UserID: "u1", Name: "a", CreditsCost: 1, MaxRetries: &negative}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "VALIDATION_ERROR", decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t)
	created := env.createJob(t, "u1", 2)

	rec := env.do(t, http.MethodGet, "/jobs/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decodeBody[JobResponse](t, rec).ID)

	for _, path := range []string{"/jobs/job_missing", "/jobs/not-a-job-id", "/jobs/" + id.Generate()} {
		rec = env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "JOB_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code, path)
	}
}

func TestTransition_QueueChargesAndFailureRefunds(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", 10, "pi_1")
	created := env.createJob(t, "u1", 3)

	rec := env.transition(t, created.ID, TransitionRequest{Status: "QUEUED"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	queued := decodeBody[JobResponse](t, rec)
	assert.Equal(t, "QUEUED", queued.Status)
	assert.True(t, queued.Charged)
	assert.Equal(t, int64(7), env.balance(t, "u1"))

	rec = env.transition(t, created.ID, TransitionRequest{Status: "FAILED", ErrorMessage: "renderer timed out"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	failed := decodeBody[JobResponse](t, rec)
	assert.Equal(t, "FAILED", failed.Status)
	assert.Equal(t, "renderer timed out", failed.Error)
	assert.NotNil(t, failed.CompletedAt)
	assert.True(t, failed.CanRetry)
	assert.Equal(t, int64(10), env.balance(t, "u1"))

	// A second failure report is rejected and refunds nothing.
	rec = env.transition(t, created.ID, TransitionRequest{Status: "FAILED"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", decodeBody[ErrorResponse](t, rec).Code)
	assert.Equal(t, int64(10), env.balance(t, "u1"))
}

func TestTransition_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", 2, "pi_1")
	created := env.createJob(t, "u1", 3)

	rec := env.transition(t, created.ID, TransitionRequest{Status: "QUEUED"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "INSUFFICIENT_FUNDS", decodeBody[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodGet, "/jobs/"+created.ID, nil)
	assert.Equal(t, "PENDING", decodeBody[JobResponse](t, rec).Status)
	assert.Equal(t, int64(2), env.balance(t, "u1"))
}

func TestTransition_ProgressAndCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", 5, "pi_1")
	created := env.createJob(t, "u1", 5)

	for _, st := range []string{"QUEUED", "TRANSCRIBING"} {
		rec := env.transition(t, created.ID, TransitionRequest{Status: st})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	progress := 40
	rec := env.transition(t, created.ID, TransitionRequest{Status: "TRANSCRIBING", Progress: &progress, CurrentStep: "speech to text"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[JobResponse](t, rec)
	assert.Equal(t, 40, resp.Progress)
	assert.Equal(t, "speech to text", resp.CurrentStep)

	for _, st := range []string{"ANALYZING", "RENDERING"} {
		rec := env.transition(t, created.ID, TransitionRequest{Status: st})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec = env.transition(t, created.ID, TransitionRequest{Status: "COMPLETED", OutputPath: "outputs/u1/clip.mp4"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decodeBody[JobResponse](t, rec)
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Equal(t, 100, resp.Progress)
	assert.Equal(t, "outputs/u1/clip.mp4", resp.OutputPath)
	assert.False(t, resp.CanRetry)
	assert.Equal(t, int64(0), env.balance(t, "u1"))

	rec = env.transition(t, created.ID, TransitionRequest{Status: "CANCELLED"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTransition_Validation(t *testing.T) {
	env := newTestEnv(t)
	created := env.createJob(t, "u1", 1)
	tooMuch := 101

	tests := []struct {
		name string
		body TransitionRequest
	}{
		{"missing status", TransitionRequest{}},
		{"unknown status", TransitionRequest{Status: "EXPLODED"}},
		{"lowercase status", TransitionRequest{Status: "queued"}},
		{"progress out of range", TransitionRequest{Status: "UPLOADING", Progress: &tooMuch}},
		{"output path before completion", TransitionRequest{Status: "UPLOADING", OutputPath: "outputs/x.mp4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.transition(t, created.ID, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "VALIDATION_ERROR", decodeBody[ErrorResponse](t, rec).Code)
		})
	}

	rec := env.transition(t, "job_missing", TransitionRequest{Status: "QUEUED"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadVideo_Success(t *testing.T) {
	env := newTestEnv(t)
	created := env.createJob(t, "u1", 1)
	key := storage.VideoKey("u1", created.ID)

	env.storage.On("Save", mock.Anything, key, "raw video").Return("/data/"+key, nil)

	rec := env.do(t, http.MethodPut, "/jobs/"+created.ID+"/video", "raw video")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "/data/"+key, decodeBody[JobResponse](t, rec).VideoPath)
	env.storage.AssertExpectations(t)
}

func TestUploadVideo_RejectedAfterQueue(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", 1, "pi_1")
	created := env.createJob(t, "u1", 1)
	require.Equal(t, http.StatusOK, env.transition(t, created.ID, TransitionRequest{Status: "QUEUED"}).Code)

	rec := env.do(t, http.MethodPut, "/jobs/"+created.ID+"/video", "raw video")

	assert.Equal(t, http.StatusConflict, rec.Code)
	env.storage.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadVideo_StorageFailure(t *testing.T) {
	env := newTestEnv(t)
	created := env.createJob(t, "u1", 1)

	env.storage.On("Save", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("disk full"))

	rec := env.do(t, http.MethodPut, "/jobs/"+created.ID+"/video", "raw video")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "STORAGE_FAILED", decodeBody[ErrorResponse](t, rec).Code)
}

func TestUploadVideo_TooLarge(t *testing.T) {
	logger := testLogger()
	svc := billing.NewService(store.NewMemory(), billing.WithLogger(logger))
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	router := NewRouter(NewHandlers(svc, logger, WithStorage(local), WithMaxUploadBytes(4)), logger, DefaultConfig())

	j, err := svc.CreateJob(context.Background(), billing.CreateJobInput{UserID: "u1", Name: "a", CreditsCost: 1})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/jobs/"+j.ID+"/video", strings.NewReader("way more than four bytes"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	got, err := svc.GetJob(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Empty(t, got.VideoPath)
}

func TestUploadVideo_SlowBodyOutlastsWriteTimeout(t *testing.T) {
	logger := testLogger()
	svc := billing.NewService(store.NewMemory(), billing.WithLogger(logger))
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	const writeTimeout = 200 * time.Millisecond
	h := NewHandlers(svc, logger, WithStorage(local), WithResponseTimeout(writeTimeout))
	srv := httptest.NewUnstartedServer(NewRouter(h, logger, DefaultConfig()))
	srv.Config.WriteTimeout = writeTimeout
	srv.Start()
	defer srv.Close()

	j, err := svc.CreateJob(context.Background(), billing.CreateJobInput{UserID: "u1", Name: "a", CreditsCost: 1})
	require.NoError(t, err)

	// The body arrives in two halves, the second well after the server's
	// write deadline would have expired.
	pr, pw := io.Pipe()
	go func() {
		_, _ = pw.Write([]byte("first half "))
		time.Sleep(3 * writeTimeout)
		_, _ = pw.Write([]byte("second half"))
		_ = pw.Close()
	}()

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/jobs/"+j.ID+"/video", pr)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got JobResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.NotEmpty(t, got.VideoPath)

	data, err := os.ReadFile(got.VideoPath)
	require.NoError(t, err)
	assert.Equal(t, "first half second half", string(data))
}

func TestUploadVideo_NoStorage(t *testing.T) {
	logger := testLogger()
	svc := billing.NewService(store.NewMemory())
	router := NewRouter(NewHandlers(svc, logger), logger, DefaultConfig())

	req := httptest.NewRequest(http.MethodPut, "/jobs/job_1/video", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "u1", 1)
	env.createJob(t, "u1", 2)
	env.createJob(t, "u2", 3)

	rec := env.do(t, http.MethodGet, "/users/u1/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[JobListResponse](t, rec).Jobs, 2)

	rec = env.do(t, http.MethodGet, "/users/nobody/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jobs":[]}`, rec.Body.String())
}

func TestPurchase_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	body := PurchaseRequest{Credits: 10, PaymentRef: "pi_abc", Provider: "stripe", AmountCents: 999}
	first := env.do(t, http.MethodPost, "/users/u1/purchases", body)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := env.do(t, http.MethodPost, "/users/u1/purchases", body)
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())

	a := decodeBody[ledger.Entry](t, first)
	b := decodeBody[ledger.Entry](t, second)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, ledger.KindPurchase, a.Kind)
	assert.Equal(t, int64(10), env.balance(t, "u1"))

	rec := env.do(t, http.MethodPost, "/users/u1/purchases", PurchaseRequest{Credits: 0, PaymentRef: "pi_x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBonusAndAdjustment(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/users/u1/bonuses", BonusRequest{Amount: 5, Description: "welcome"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, ledger.KindBonus, decodeBody[ledger.Entry](t, rec).Kind)

	rec = env.do(t, http.MethodPost, "/users/u1/adjustments", AdjustmentRequest{Amount: -2, Description: "chargeback"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decodeBody[ledger.Entry](t, rec)
	assert.Equal(t, ledger.KindAdjustment, entry.Kind)
	assert.Equal(t, int64(3), entry.BalanceAfter)

	rec = env.do(t, http.MethodPost, "/users/u1/adjustments", AdjustmentRequest{Amount: -10, Description: "too much"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = env.do(t, http.MethodPost, "/users/u1/adjustments", AdjustmentRequest{Amount: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/users/u1/bonuses", BonusRequest{Amount: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBalanceAndLedger(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/users/u1/balance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ACCOUNT_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodGet, "/users/u1/ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[LedgerResponse](t, rec).Entries)

	env.fund(t, "u1", 10, "pi_1")
	created := env.createJob(t, "u1", 3)
	require.Equal(t, http.StatusOK, env.transition(t, created.ID, TransitionRequest{Status: "QUEUED"}).Code)

	rec = env.do(t, http.MethodGet, "/users/u1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decodeBody[BalanceResponse](t, rec)
	assert.Equal(t, int64(7), bal.Balance)
	assert.Equal(t, int64(10), bal.TotalPurchased)
	assert.Equal(t, int64(3), bal.TotalUsed)
	assert.Equal(t, int64(2), bal.LastSeq)

	rec = env.do(t, http.MethodGet, "/users/u1/ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[LedgerResponse](t, rec).Entries
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.KindPurchase, entries[0].Kind)
	assert.Equal(t, ledger.KindUsage, entries[1].Kind)
	assert.Equal(t, created.ID, entries[1].JobID)

	rec = env.do(t, http.MethodPost, "/users/u1/balance/rebuild", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), decodeBody[BalanceResponse](t, rec).Balance)

	rec = env.do(t, http.MethodPost, "/users/ghost/balance/rebuild", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_Metrics(t *testing.T) {
	metrics.Register()
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/health", nil)
	rec := env.do(t, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `autocut_http_requests_total{method="GET",route="GET /health",status="200"}`)
}

func TestCORSMiddleware(t *testing.T) {
	h := NewHandlers(nil, testLogger())

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(h, testLogger(), cfg)

	// Test with allowed origin
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// Disallowed origin gets no CORS headers
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Test OPTIONS preflight
	req = httptest.NewRequest(http.MethodOptions, "/jobs", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	// Create a handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(testLogger())(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeBody[ErrorResponse](t, rec).Code)
}

func TestWriteServiceError(t *testing.T) {
	h := NewHandlers(nil, testLogger())

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{ledger.ErrInsufficientFunds, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS"},
		{job.ErrRetryLimitReached, http.StatusConflict, "INVALID_TRANSITION"},
		{job.ErrJobNotFound, http.StatusNotFound, "JOB_NOT_FOUND"},
		{ledger.ErrDuplicateEntry, http.StatusConflict, "DUPLICATE_ENTRY"},
		{billing.ErrInvalidInput, http.StatusBadRequest, "VALIDATION_ERROR"},
		{errors.New("connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}
