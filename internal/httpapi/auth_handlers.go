package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"warden.dev/internal/audit"
	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
)

type registerRequest struct {
	FirstName string   `json:"firstName" validate:"required,max=100"`
	LastName  string   `json:"lastName" validate:"required,max=100"`
	Email     string   `json:"email" validate:"required,email,max=254"`
	Password  string   `json:"password" validate:"required,strongpassword,bcryptlen"`
	Roles     []string `json:"roles" validate:"omitempty,dive,required"`
}

func (req *registerRequest) normalize() {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = normalizeEmail(req.Email)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Emails are stored lowercase; both register and login go through here.
func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// bind decodes and validates the body, writing a 400 on failure.
func (a *API) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeError(w, http.StatusBadRequest, msgValidation, []fieldError{{Message: err.Error()}})
		return false
	}
	if n, ok := dst.(interface{ normalize() }); ok {
		n.normalize()
	}
	if errs := a.validate(dst); len(errs) > 0 {
		writeError(w, http.StatusBadRequest, msgValidation, errs)
		return false
	}
	return true
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.bind(w, r, &req) {
		return
	}
	identity, err := a.svc.Register(r.Context(), auth.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Roles:     req.Roles,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.user.registered", map[string]any{
		"user_id": identity.ID,
		"roles":   identity.RoleNames(),
	})
	writeSuccess(w, http.StatusCreated, "User created successfully", identity, nil)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	req := loginRequest{}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgValidation, []fieldError{{Message: err.Error()}})
		return
	}
	req.Email = normalizeEmail(req.Email)
	if errs := a.validate(&req); len(errs) > 0 {
		writeError(w, http.StatusBadRequest, msgValidation, errs)
		return
	}

	token, identity, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			obs.ObserveLogin("invalid_credential")
			_ = audit.LogEvent(r.Context(), "auth.login.invalid_credential", nil)
		} else {
			obs.ObserveLogin("error")
		}
		writeServiceError(w, r, err)
		return
	}
	obs.ObserveLogin("success")
	_ = audit.LogEvent(r.Context(), "auth.login.succeeded", map[string]any{
		"user_id": identity.ID,
	})
	writeSuccess(w, http.StatusOK, "Login successful", token, nil)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeServiceError(w, r, auth.ErrUnauthorized)
		return
	}
	writeSuccess(w, http.StatusOK, "Authenticated user", identity, nil)
}
