package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mledur/billkeeper/internal/config"
	"github.com/mledur/billkeeper/internal/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig(url string) *config.Config {
	return &config.Config{
		BackendURL:     url,
		RequestTimeout: 2 * time.Second,
		RequestsPerSec: 1000,
		MaxRetries:     2,
		RetryBaseWait:  time.Millisecond,
		RetryFactor:    1.5,
		ProbeTimeout:   time.Second,
	}
}

type recordingSink struct {
	failures  atomic.Int64
	successes atomic.Int64
}

func (r *recordingSink) ReportFailure() { r.failures.Add(1) }
func (r *recordingSink) ReportSuccess() { r.successes.Add(1) }

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode([]models.Account{})
	}))
	defer srv.Close()

	sink := &recordingSink{}
	g := NewGateway(testConfig(srv.URL), testLogger())
	g.SetHealthSink(sink)

	_, err := g.ListAccounts(context.Background(), "owner-1")
	require.NoError(t, err, "two transient failures fit inside the retry budget")
	assert.EqualValues(t, 3, calls.Load())
	assert.EqualValues(t, 0, sink.failures.Load())
	assert.EqualValues(t, 1, sink.successes.Load())
}

func TestExecuteDoesNotRetryNonTransient(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewGateway(testConfig(srv.URL), testLogger())
	_, err := g.ListAccounts(context.Background(), "owner-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualValues(t, 1, calls.Load(), "non-transient failures must not be retried")
}

func TestExecuteRetriesRateLimit(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode([]models.Account{})
	}))
	defer srv.Close()

	g := NewGateway(testConfig(srv.URL), testLogger())
	_, err := g.ListAccounts(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestExecuteExhaustionSignalsMonitor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from now on

	sink := &recordingSink{}
	g := NewGateway(testConfig(srv.URL), testLogger())
	g.SetHealthSink(sink)

	_, err := g.ListAccounts(context.Background(), "owner-1")
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.EqualValues(t, 1, sink.failures.Load(), "one exhausted network-class call reports once")
}

func TestExecuteParsesValidationErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"message": "validation failed",
			"fields":  []models.FieldError{{Field: "amount", Message: "amount must be positive"}},
		})
	}))
	defer srv.Close()

	g := NewGateway(testConfig(srv.URL), testLogger())
	_, err := g.InsertAccount(context.Background(), models.Account{})
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "amount", ve.Fields[0].Field)
}

func TestAuthenticateParsesTokenClaims(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "owner-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"token": signed})
	}))
	defer srv.Close()

	g := NewGateway(testConfig(srv.URL), testLogger())
	session, err := g.Authenticate(context.Background(), "me@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "owner-42", session.OwnerID)
	assert.Equal(t, "me@example.com", session.Email)
	assert.False(t, session.Expired(time.Now()))
}

func TestRequestsCarrySessionToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(models.Account{ID: "a1"})
	}))
	defer srv.Close()

	g := NewGateway(testConfig(srv.URL), testLogger())
	g.SetSession(models.Session{Token: "tok-123"})

	_, err := g.MarkPaid(context.Background(), "a1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	g := NewGateway(testConfig(srv.URL), testLogger())
	assert.True(t, g.Probe(context.Background()))

	srv.Close()
	assert.False(t, g.Probe(context.Background()))
}

func TestIsTransientClassification(t *testing.T) {
	assert.True(t, IsTransient(ErrRateLimited))
	assert.True(t, IsTransient(ErrServer))
	assert.True(t, IsTransient(ErrUnreachable))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(&StatusError{Code: 503}))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(ErrNotFound))
	assert.False(t, IsTransient(ErrPermissionDenied))
	assert.False(t, IsTransient(&models.ValidationError{}))
	assert.False(t, IsTransient(&StatusError{Code: 409}))
}
