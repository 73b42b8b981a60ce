package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"warden.dev/internal/audit"
	"warden.dev/internal/ids"
)

type assignRoleRequest struct {
	UserID string `json:"userId" validate:"required"`
	RoleID string `json:"roleId" validate:"required"`
}

func (req *assignRoleRequest) normalize() {
	req.UserID = strings.TrimSpace(req.UserID)
	req.RoleID = strings.TrimSpace(req.RoleID)
}

type createRoleRequest struct {
	Name        string   `json:"name" validate:"required,max=64"`
	Permissions []string `json:"permissions" validate:"required,dive,required"`
}

func (req *createRoleRequest) normalize() {
	req.Name = strings.TrimSpace(req.Name)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.svc.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Users fetched successfully", users, listMeta{Count: len(users)})
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if !a.bind(w, r, &req) {
		return
	}
	user, err := a.svc.AssignRole(r.Context(), req.UserID, req.RoleID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.assigned", map[string]any{
		"user_id": req.UserID,
		"role_id": req.RoleID,
	})
	writeSuccess(w, http.StatusOK, "User's role updated", user, nil)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if !ids.Valid(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("user with id %s not found", id), nil)
		return
	}
	user, err := a.svc.DeleteUser(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.user.deleted", map[string]any{
		"user_id": user.ID,
	})
	writeSuccess(w, http.StatusOK, "User deleted", user, nil)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !a.bind(w, r, &req) {
		return
	}
	role, err := a.svc.CreateRole(r.Context(), req.Name, req.Permissions)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.created", map[string]any{
		"role_id": role.ID,
		"name":    role.Name,
	})
	writeSuccess(w, http.StatusCreated, "Role created successfully", role, nil)
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.svc.ListRoles(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Roles fetched successfully", roles, listMeta{Count: len(roles)})
}
