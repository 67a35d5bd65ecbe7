package httpapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/bloomkart/backend/internal/auth"
	"github.com/bloomkart/backend/internal/metrics"
	"github.com/bloomkart/backend/internal/rate"
)

var validate = validator.New()

// AuthHandler exposes the token lifecycle over HTTP.
type AuthHandler struct {
	authority *auth.Authority
	limiter   *rate.Limiter
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
}

func NewAuthHandler(authority *auth.Authority, limiter *rate.Limiter, log logrus.FieldLogger, m *metrics.Metrics) *AuthHandler {
	return &AuthHandler{
		authority: authority,
		limiter:   limiter,
		log:       log.WithField("component", "httpapi"),
		metrics:   m,
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if !h.allow(w, r, rate.ScopeLogin) {
		return
	}

	pair, principal, err := h.authority.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeAuthError(w, err, "Invalid email or password")
		return
	}
	respondJSON(w, http.StatusOK, newAuthResponse(pair, principal))
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if !h.allow(w, r, rate.ScopeRegister) {
		return
	}

	pair, principal, err := h.authority.Register(r.Context(), auth.RegisterInput{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			respondError(w, http.StatusBadRequest, "Email is already registered")
			return
		}
		h.writeAuthError(w, err, "Registration failed")
		return
	}
	respondJSON(w, http.StatusOK, newAuthResponse(pair, principal))
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if !h.allow(w, r, rate.ScopeRefresh) {
		return
	}

	pair, principal, err := h.authority.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeAuthError(w, err, "Invalid refresh token")
		return
	}
	respondJSON(w, http.StatusOK, newAuthResponse(pair, principal))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	h.authority.Logout(r.Context(), req.RefreshToken)
	respondJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	if _, err := h.authority.LogoutAll(r.Context(), claims.UserID); err != nil {
		h.writeAuthError(w, err, "Logout failed")
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "All sessions logged out successfully"})
}

// AdminLogoutAll force-clears another user's blacklist rows. ADMIN only.
func (h *AuthHandler) AdminLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	if _, err := h.authority.LogoutAll(r.Context(), userID); err != nil {
		h.writeAuthError(w, err, "Logout failed")
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "All sessions logged out successfully"})
}

func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	principal, err := h.authority.Profile(r.Context(), claims.Subject)
	if err != nil {
		h.writeAuthError(w, err, "Profile lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, newUserResponse(principal))
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	var req profileUpdateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	principal, err := h.authority.UpdateProfile(r.Context(), claims.UserID, req.Name, req.PhoneNumber)
	if err != nil {
		h.writeAuthError(w, err, "Profile update failed")
		return
	}
	respondJSON(w, http.StatusOK, newUserResponse(principal))
}

func (h *AuthHandler) SessionCount(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	count, err := h.authority.ActiveSessionCount(r.Context(), claims.UserID)
	if err != nil {
		h.writeAuthError(w, err, "Session lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, sessionCountResponse{ActiveSessions: count})
}

func (h *AuthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeAuthError maps domain errors to HTTP. Every token/credential failure
// collapses to the same 401 body so the response carries no verdict detail.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, err error, unauthorizedMsg string) {
	switch {
	case isUnauthorized(err):
		respondError(w, http.StatusUnauthorized, unauthorizedMsg)
	case errors.Is(err, auth.ErrStoreUnavailable):
		h.log.WithError(err).Error("store unavailable")
		respondError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		h.log.WithError(err).Error("unhandled auth error")
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *AuthHandler) allow(w http.ResponseWriter, r *http.Request, scope string) bool {
	err := h.limiter.Allow(r.Context(), scope, clientIP(r))
	if err == nil {
		return true
	}
	if errors.Is(err, rate.ErrRateLimited) {
		h.metrics.Inc(metrics.LoginRateLimited)
		respondError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
		return false
	}
	// A broken limiter must not take authentication down with it.
	h.log.WithError(err).Warn("rate limiter unavailable; allowing request")
	return true
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid payload")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Validation failed")
		return false
	}
	return true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
