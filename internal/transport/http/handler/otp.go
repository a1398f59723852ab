package handler

import (
	"encoding/json"
	"net/http"

	"github.com/otp-auth-api/internal/application/auth"
	"github.com/otp-auth-api/internal/application/otp"
)

// OTPHandler handles the passwordless code flow endpoints.
type OTPHandler struct {
	otpSvc  otp.Service
	authSvc auth.Service
}

func NewOTPHandler(otpSvc otp.Service, authSvc auth.Service) *OTPHandler {
	return &OTPHandler{otpSvc: otpSvc, authSvc: authSvc}
}

func (h *OTPHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req otp.IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pending, err := h.otpSvc.Issue(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, PendingCodeEnvelope{Pending: pending, Message: "code sent"})
}

func (h *OTPHandler) Resend(w http.ResponseWriter, r *http.Request) {
	var req otp.IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pending, err := h.otpSvc.Resend(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, PendingCodeEnvelope{Pending: pending, Message: "code resent"})
}

func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Phone string `json:"phone"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pair, err := h.authSvc.VerifyAndLogin(r.Context(), body.Code, body.Phone)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthEnvelope{Tokens: pair})
}
