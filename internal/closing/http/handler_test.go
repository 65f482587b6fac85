package closinghttp

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

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coopledger/coopledger/internal/closing"
	"github.com/coopledger/coopledger/internal/ledger"
	"github.com/coopledger/coopledger/internal/ledger/ledgertest"
	"github.com/coopledger/coopledger/internal/settings"
	"github.com/coopledger/coopledger/internal/shared"
	"github.com/coopledger/coopledger/jobs"
)

type staticResolver struct{}

func (staticResolver) Resolve(ctx context.Context) (settings.Settings, error) {
	return settings.Resolve(settings.Raw{Ratios: &settings.Ratios{Shares: decimal.NewFromInt(40), Savings: decimal.NewFromInt(60)}}, settings.StandardDefaults())
}

type stubEnqueuer struct {
	payload jobs.PeriodProcessPayload
	err     error
}

func (s *stubEnqueuer) EnqueuePeriodProcess(ctx context.Context, payload jobs.PeriodProcessPayload) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.payload = payload
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueCritical}, nil
}

type memIdempotency struct {
	keys    map[string]bool
	deleted []string
}

func (m *memIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func newRouter(t *testing.T, store *ledgertest.Store, q enqueuer, idem idempotencyStore) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := closing.NewService(store, staticResolver{}, logger)
	r := chi.NewRouter()
	NewHandler(logger, svc, q, idem).MountRoutes(r)
	return r
}

func seededStore() *ledgertest.Store {
	store := ledgertest.New()
	store.AddMember(ledger.Member{ID: 1, UserID: 100})
	store.AddPeriod(ledger.Period{ID: 1, Name: "2024-03"})
	store.SetContribution(1, 1, decimal.NewFromInt(15000))
	return store
}

func post(router http.Handler, target, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestProcessSynchronous(t *testing.T) {
	store := seededStore()
	router := newRouter(t, store, nil, nil)

	rr := post(router, "/api/periods/1/process", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var result closing.RunResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Equal(t, int64(1), result.PeriodID)
	require.Len(t, result.Results, 1)
	require.Equal(t, ledger.PeriodStatusProcessed, store.Snapshot().Periods[1].Status)
}

func TestProcessSingleMember(t *testing.T) {
	store := seededStore()
	store.AddMember(ledger.Member{ID: 2, UserID: 200})
	router := newRouter(t, store, nil, nil)

	rr := post(router, "/api/periods/1/process", `{"member_id":1}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var result closing.RunResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Len(t, result.Results, 1)
	require.Equal(t, int64(1), result.Results[0].MemberID)
}

func TestProcessErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		target string
		body   string
		status int
	}{
		{"bad period id", "/api/periods/abc/process", "", http.StatusBadRequest},
		{"zero period id", "/api/periods/0/process", "", http.StatusBadRequest},
		{"unknown field", "/api/periods/1/process", `{"foo":1}`, http.StatusBadRequest},
		{"negative member", "/api/periods/1/process", `{"member_id":-4}`, http.StatusBadRequest},
		{"missing period", "/api/periods/9/process", "", http.StatusNotFound},
		{"missing member", "/api/periods/1/process", `{"member_id":77}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newRouter(t, seededStore(), nil, nil)
			rr := post(router, tc.target, tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
		})
	}
}

func TestProcessIncompleteDataIsUnprocessable(t *testing.T) {
	store := seededStore()
	store.AddFee(ledger.FeeEntry{MemberID: 1, PeriodID: 1, Type: ledger.FeeTypeEntry, Amount: decimal.NewFromInt(1000)})
	router := newRouter(t, store, nil, nil)

	rr := post(router, "/api/periods/1/process", "")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "Incomplete Transaction Data")
}

func TestProcessAsyncEnqueues(t *testing.T) {
	q := &stubEnqueuer{}
	store := seededStore()
	router := newRouter(t, store, q, nil)

	rr := post(router, "/api/periods/1/process?async=true", `{"member_id":1}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Contains(t, rr.Body.String(), `"task_id":"task-1"`)
	require.Equal(t, int64(1), q.payload.PeriodID)
	require.NotNil(t, q.payload.MemberID)
	require.Equal(t, ledger.PeriodStatusOpen, store.Snapshot().Periods[1].Status)
}

func TestProcessAsyncDuplicateAndUnavailable(t *testing.T) {
	router := newRouter(t, seededStore(), &stubEnqueuer{err: asynq.ErrDuplicateTask}, nil)
	rr := post(router, "/api/periods/1/process?async=true", "")
	require.Equal(t, http.StatusConflict, rr.Code)

	router = newRouter(t, seededStore(), nil, nil)
	rr = post(router, "/api/periods/1/process?async=true", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestProcessIdempotencyKey(t *testing.T) {
	idem := &memIdempotency{keys: map[string]bool{}}
	router := newRouter(t, seededStore(), nil, idem)

	rr := post(router, "/api/periods/1/process", "", "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = post(router, "/api/periods/1/process", "", "Idempotency-Key", "abc")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "Duplicate Request")
}

func TestProcessFailureReleasesIdempotencyKey(t *testing.T) {
	idem := &memIdempotency{keys: map[string]bool{}}
	router := newRouter(t, seededStore(), nil, idem)

	rr := post(router, "/api/periods/9/process", "", "Idempotency-Key", "retry-me")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, []string{"retry-me"}, idem.deleted)
	require.False(t, idem.keys["retry-me"])
}

func TestErrorRulesCoverDomainErrors(t *testing.T) {
	for _, err := range []error{closing.ErrConcurrentRun, shared.ErrPeriodLocked, ledger.ErrNegativeBalance, settings.ErrInvalidRatio} {
		found := false
		for _, rule := range errorRules {
			if errors.Is(err, rule.Err) {
				found = true
			}
		}
		require.Truef(t, found, "no rule for %v", err)
	}
}
