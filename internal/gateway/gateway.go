package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/mledur/billkeeper/internal/config"
	"github.com/mledur/billkeeper/internal/metrics"
	"github.com/mledur/billkeeper/internal/models"
)

// HealthSink receives reachability signals derived from request
// outcomes. The connectivity monitor implements it.
type HealthSink interface {
	ReportFailure()
	ReportSuccess()
}

type noopSink struct{}

func (noopSink) ReportFailure() {}
func (noopSink) ReportSuccess() {}

// Gateway issues record CRUD and auth calls against the remote backend
// with per-call timeouts and a bounded retry loop.
type Gateway struct {
	baseURL     string
	client      *http.Client
	probeClient *http.Client
	limiter     *rate.Limiter
	log         *logrus.Logger

	maxRetries int
	baseWait   time.Duration
	factor     float64

	mu    sync.RWMutex
	token string
	sink  HealthSink
}

// NewGateway initializes a gateway from configuration.
func NewGateway(cfg *config.Config, log *logrus.Logger) *Gateway {
	return &Gateway{
		baseURL: cfg.BackendURL,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		probeClient: &http.Client{
			Timeout: cfg.ProbeTimeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), int(math.Max(1, cfg.RequestsPerSec))),
		log:        log,
		maxRetries: cfg.MaxRetries,
		baseWait:   cfg.RetryBaseWait,
		factor:     cfg.RetryFactor,
		sink:       noopSink{},
	}
}

// SetHealthSink wires the connectivity monitor. Must be called before
// the gateway serves traffic.
func (g *Gateway) SetHealthSink(sink HealthSink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sink = sink
}

// SetSession installs the bearer token used on subsequent requests.
func (g *Gateway) SetSession(s models.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = s.Token
}

// ClearSession drops the bearer token on logout.
func (g *Gateway) ClearSession() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = ""
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
}

// Authenticate exchanges credentials for a backend session token. The
// token's subject and expiry are read without local verification; the
// backend remains the authority on its own tokens.
func (g *Gateway) Authenticate(ctx context.Context, email, password string) (models.Session, error) {
	var resp authResponse
	if err := g.execute(ctx, "authenticate", http.MethodPost, "/auth/login", authRequest{Email: email, Password: password}, &resp); err != nil {
		return models.Session{}, err
	}

	session := models.Session{Token: resp.Token, Email: email}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.Token, &claims); err != nil {
		return models.Session{}, fmt.Errorf("backend issued an unreadable token: %w", err)
	}
	session.OwnerID = claims.Subject
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}

	g.SetSession(session)
	g.log.Infof("Authenticated owner %s", session.OwnerID)
	return session, nil
}

// ListAccounts fetches the authoritative record set for the owner.
func (g *Gateway) ListAccounts(ctx context.Context, ownerID string) ([]models.Account, error) {
	var accounts []models.Account
	path := "/accounts?owner_id=" + url.QueryEscape(ownerID)
	if err := g.execute(ctx, "list", http.MethodGet, path, nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// InsertAccount creates a record and returns the backend's stored form.
func (g *Gateway) InsertAccount(ctx context.Context, acc models.Account) (models.Account, error) {
	var created models.Account
	if err := g.execute(ctx, "insert", http.MethodPost, "/accounts", acc, &created); err != nil {
		return models.Account{}, err
	}
	if created.ID == "" {
		// Older backend builds echo the row without an id.
		created.ID = uuid.NewString()
	}
	return created, nil
}

// UpdateAccount applies a partial update and returns the updated record.
func (g *Gateway) UpdateAccount(ctx context.Context, id string, patch models.AccountPatch) (models.Account, error) {
	var updated models.Account
	if err := g.execute(ctx, "update", http.MethodPatch, "/accounts/"+url.PathEscape(id), patch, &updated); err != nil {
		return models.Account{}, err
	}
	return updated, nil
}

// DeleteAccount removes a record.
func (g *Gateway) DeleteAccount(ctx context.Context, id string) error {
	return g.execute(ctx, "delete", http.MethodDelete, "/accounts/"+url.PathEscape(id), nil, nil)
}

type markPaidRequest struct {
	PaymentDate time.Time `json:"payment_date"`
}

// MarkPaid transitions a record to paid and returns the updated record.
func (g *Gateway) MarkPaid(ctx context.Context, id string, paidAt time.Time) (models.Account, error) {
	var updated models.Account
	path := "/accounts/" + url.PathEscape(id) + "/pay"
	if err := g.execute(ctx, "mark_paid", http.MethodPost, path, markPaidRequest{PaymentDate: paidAt}, &updated); err != nil {
		return models.Account{}, err
	}
	return updated, nil
}

// Probe performs a lightweight reachability check. It has its own short
// timeout and never retries; the reconnection scheduler decides cadence.
func (g *Gateway) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := g.probeClient.Do(req)
	if err != nil {
		g.log.Debugf("Health probe failed: %v", err)
		metrics.ProbeResults.WithLabelValues("failure").Inc()
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	ok := resp.StatusCode < 500
	if ok {
		metrics.ProbeResults.WithLabelValues("success").Inc()
	} else {
		metrics.ProbeResults.WithLabelValues("failure").Inc()
	}
	return ok
}

// execute runs one backend operation through the retry loop. Only
// transient failures are retried; the loop is explicit and bounded so
// stack depth and wait time stay predictable.
func (g *Gateway) execute(ctx context.Context, operation, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", operation, err)
		}
	}

	requestID := uuid.NewString()
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.GatewayRetries.Inc()
			wait := time.Duration(float64(g.baseWait) * math.Pow(g.factor, float64(attempt-1)))
			g.log.Warnf("Retrying %s (request %s, attempt %d/%d) after %s: %v",
				operation, requestID, attempt+1, g.maxRetries+1, wait, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		err := g.send(ctx, requestID, method, path, payload, out)
		if err == nil {
			metrics.GatewayRequests.WithLabelValues(operation, "success").Inc()
			g.healthSink().ReportSuccess()
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			metrics.GatewayRequests.WithLabelValues(operation, "failure").Inc()
			g.log.Errorf("Operation %s (request %s) failed: %v", operation, requestID, err)
			return err
		}
	}

	metrics.GatewayRequests.WithLabelValues(operation, "failure").Inc()
	g.log.Errorf("Operation %s (request %s) exhausted %d attempts: %v",
		operation, requestID, g.maxRetries+1, lastErr)
	if isNetworkClass(lastErr) {
		g.healthSink().ReportFailure()
		return fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
	}
	return lastErr
}

func (g *Gateway) send(ctx context.Context, requestID, method, path string, payload []byte, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if token := g.sessionToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return classifyResponse(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return nil
}

type backendError struct {
	Message string              `json:"message"`
	Fields  []models.FieldError `json:"fields,omitempty"`
}

func classifyResponse(resp *http.Response) error {
	var be backendError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	json.Unmarshal(raw, &be)
	if be.Message == "" {
		be.Message = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, be.Message)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrPermissionDenied, be.Message)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, be.Message)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrServer, be.Message)
	case len(be.Fields) > 0:
		return &models.ValidationError{Fields: be.Fields}
	default:
		return &StatusError{Code: resp.StatusCode, Message: be.Message}
	}
}

func (g *Gateway) sessionToken() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

func (g *Gateway) healthSink() HealthSink {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sink
}
