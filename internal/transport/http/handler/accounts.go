package handler

import (
	"net/http"

	"github.com/otp-auth-api/internal/domain"
	"github.com/otp-auth-api/internal/transport/http/middleware"
)

// AccountHandler exposes the authenticated account surface.
type AccountHandler struct {
	directory domain.AccountDirectory
}

func NewAccountHandler(directory domain.AccountDirectory) *AccountHandler {
	return &AccountHandler{directory: directory}
}

// Me returns the account behind the presented access token.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	acct, err := h.directory.GetByPhone(r.Context(), claims.Subject)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}
