package httpapi

import (
	"context"
	"net/http"

	"backoffice.dev/internal/audit"
)

type roleRequest struct {
	Name string `json:"name"`
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.roles.ListRoles(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.roles.CreateRole(r.Context(), req.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "role.create", "role", role.ID, map[string]string{"name": role.Name})
	w.Header().Set("Location", "/api/roles/"+role.ID)
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParam(r, "id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid id")
		return
	}
	role, err := a.roles.GetRole(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleRenameRole(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParam(r, "id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid id")
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.roles.RenameRole(r.Context(), id, req.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "role.rename", "role", role.ID, map[string]string{"name": role.Name})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParam(r, "id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid id")
		return
	}
	if err := a.roles.DeleteRole(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "role.delete", "role", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) audit(ctx context.Context, event, resource, id string, extra map[string]string) {
	fields := map[string]any{
		"resource":    resource,
		"resource_id": id,
	}
	for k, v := range extra {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, event, fields)
}
