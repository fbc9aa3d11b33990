package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/topichub/internal/errors"
)

type stubChecker struct {
	err     error
	details map[string]any
}

func (s stubChecker) CheckHealth(context.Context) error { return s.err }

func (s stubChecker) HealthDetails() map[string]any { return s.details }

type slowChecker struct{}

func (slowChecker) CheckHealth(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func withGlobalManager(t *testing.T, m *HealthManager) {
	t.Helper()
	globalMu.Lock()
	original := globalHealthManager
	globalHealthManager = m
	globalMu.Unlock()
	t.Cleanup(func() {
		globalMu.Lock()
		globalHealthManager = original
		globalMu.Unlock()
	})
}

func TestHealthHandlerHealthy(t *testing.T) {
	m := NewHealthManager("1.2.3")
	m.RegisterChecker("store", stubChecker{})
	m.RegisterChecker("jobs", stubChecker{details: map[string]any{"activeJobs": 1, "maxConcurrentJobs": 3}})

	rec := httptest.NewRecorder()
	m.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, map[string]string{"store": StatusHealthy, "jobs": StatusHealthy}, resp.Checks)
	assert.EqualValues(t, 1, resp.Details["activeJobs"])
	assert.EqualValues(t, 3, resp.Details["maxConcurrentJobs"])
}

func TestHealthHandlerUnhealthyStore(t *testing.T) {
	m := NewHealthManager("1.2.3")
	m.RegisterChecker("store", stubChecker{err: errors.New("store write: connection refused")})
	m.RegisterChecker("encoder", stubChecker{})

	rec := httptest.NewRecorder()
	m.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody[apperrors.HTTPErrorResponse](t, rec)
	assert.Equal(t, apperrors.CodeServiceUnavailable, body.Error.Code)

	checks, ok := body.Error.Details["checks"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, StatusUnhealthy, checks["store"])
	assert.Equal(t, StatusHealthy, checks["encoder"])
	assert.Equal(t, "store write: connection refused", body.Error.Details["storeError"])
}

func TestHealthStatusRollup(t *testing.T) {
	m := NewHealthManager("dev")
	m.RegisterChecker("labeler", slowChecker{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checks, _ := m.runChecks(ctx)
	assert.Equal(t, map[string]string{"labeler": StatusUnhealthy}, checks)

	assert.Equal(t, StatusDegraded, m.determineOverallStatus(map[string]string{"labeler": StatusTimeout, "store": StatusHealthy}))
	assert.Equal(t, StatusUnhealthy, m.determineOverallStatus(map[string]string{"labeler": StatusTimeout, "store": StatusUnhealthy}))
}

func TestGlobalHandlers(t *testing.T) {
	withGlobalManager(t, nil)
	InitHealthManager("test-version")
	require.NotNil(t, GetHealthManager())

	for _, h := range []http.HandlerFunc{HealthHandler, LivenessHandler, ReadinessHandler, StartupHandler} {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "test-version", decodeBody[HealthResponse](t, rec).Version)
	}
}

func TestGlobalHandlersWhenNotInitialized(t *testing.T) {
	withGlobalManager(t, nil)

	for _, h := range []http.HandlerFunc{HealthHandler, LivenessHandler, ReadinessHandler, StartupHandler} {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, apperrors.CodeServiceUnavailable, errorCode(t, rec))
	}
}
