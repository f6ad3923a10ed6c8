package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mledur/billkeeper/internal/cache"
	"github.com/mledur/billkeeper/internal/connectivity"
	"github.com/mledur/billkeeper/internal/gateway"
	"github.com/mledur/billkeeper/internal/middleware"
	"github.com/mledur/billkeeper/internal/models"
	"github.com/mledur/billkeeper/internal/report"
	"github.com/mledur/billkeeper/internal/syncer"
)

// Handler exposes the synchronization core to the UI layer.
type Handler struct {
	svc     *syncer.Syncer
	gw      *gateway.Gateway
	monitor *connectivity.Monitor
	store   cache.Store
	log     *logrus.Logger
}

func NewHandler(svc *syncer.Syncer, gw *gateway.Gateway, monitor *connectivity.Monitor, store cache.Store, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, gw: gw, monitor: monitor, store: store, log: log}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	OwnerID  string `json:"owner_id"`
	Degraded bool   `json:"degraded"`
}

// Login authenticates against the backend and starts the sync session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session, err := h.gw.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.Start(r.Context(), session); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, loginResponse{
		Token:    session.Token,
		OwnerID:  session.OwnerID,
		Degraded: h.svc.Degraded(),
	})
}

// Logout ends the session, clears the cache and stops using the token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.gw.ClearSession()
	if err := h.svc.Logout(); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAccounts returns the record set filtered by the active filter,
// or the full set with ?all=true. Served from cache while offline.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	var accounts []models.Account
	if r.URL.Query().Get("all") == "true" {
		accounts = h.svc.Accounts()
	} else {
		accounts = h.svc.Filtered()
	}
	h.writeJSON(w, http.StatusOK, accounts)
}

// CreateAccount registers a new payable bill.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	var acc models.Account
	if err := json.NewDecoder(r.Body).Decode(&acc); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	created, err := h.svc.Add(r.Context(), acc)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// UpdateAccount applies a partial edit to one bill.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	var patch models.AccountPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	updated, err := h.svc.Update(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// DeleteAccount removes one bill.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	if err := h.svc.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkPaid settles one bill now.
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	updated, err := h.svc.MarkPaid(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// GetFilter returns the active filter.
func (h *Handler) GetFilter(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.svc.Filter())
}

// SetFilter replaces the active filter; it is persisted across sessions.
func (h *Handler) SetFilter(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	var f models.Filter
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.svc.SetFilter(f); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, f)
}

// GetReport aggregates one month, as JSON or as an XML summary export.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	q := r.URL.Query()
	month, err := strconv.Atoi(q.Get("month"))
	if err != nil || month < 1 || month > 12 {
		http.Error(w, "month must be between 1 and 12", http.StatusBadRequest)
		return
	}
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil || year < 1 {
		http.Error(w, "year is required", http.StatusBadRequest)
		return
	}

	rep := h.svc.Report(time.Month(month), year)
	if q.Get("format") == "xml" {
		out, err := report.ExportXML(rep)
		if err != nil {
			h.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.Write(out)
		return
	}
	h.writeJSON(w, http.StatusOK, rep)
}

type statusResponse struct {
	Connectivity connectivity.State `json:"connectivity"`
	Degraded     bool               `json:"degraded"`
	CacheAgeSec  *int64             `json:"cache_age_seconds,omitempty"`
}

// Status reports the connectivity flag and cache freshness for the UI.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Connectivity: h.monitor.State(),
		Degraded:     h.svc.Degraded(),
	}
	if age, ok := h.store.Age(cache.KeyAccounts); ok {
		secs := int64(age.Seconds())
		resp.CacheAgeSec = &secs
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Refresh is the window-focus / network-regained trigger.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	if err := h.svc.Refresh(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.Status(w, r)
}

// Health is the facade's own liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authorize checks that the request's token belongs to the active
// session's owner.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) bool {
	ownerID := middleware.OwnerID(r.Context())
	if !h.svc.Active() || ownerID != h.svc.Session().OwnerID {
		http.Error(w, "No active session for this owner", http.StatusForbidden)
		return false
	}
	return true
}

type errorResponse struct {
	Error  string              `json:"error"`
	Fields []models.FieldError `json:"fields,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: gateway.UserMessage(err)}
	status := http.StatusInternalServerError

	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		resp.Fields = ve.Fields
	case errors.Is(err, gateway.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, gateway.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, gateway.ErrOffline):
		status = http.StatusServiceUnavailable
	case errors.Is(err, gateway.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, gateway.ErrUnreachable), errors.Is(err, gateway.ErrServer):
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Errorf("Failed to encode response: %v", err)
	}
}
