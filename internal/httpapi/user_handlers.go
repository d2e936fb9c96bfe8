package httpapi

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"backoffice.dev/internal/accounts"
	"backoffice.dev/internal/alerts"
	"backoffice.dev/internal/auth"
)

// urlParam returns the decoded chi parameter. chi routes on the raw path, so
// values may still be percent-encoded.
func urlParam(r *http.Request, name string) (string, bool) {
	v, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.accounts.ListUsers(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) handleGetByRole(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlParam(r, "id")
		if !ok {
			writeError(w, r, http.StatusBadRequest, "invalid id")
			return
		}
		user, err := a.accounts.GetUser(r.Context(), id, role)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func (a *API) handleDeleteByRole(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlParam(r, "id")
		if !ok {
			writeError(w, r, http.StatusBadRequest, "invalid id")
			return
		}
		if err := a.accounts.DeleteUser(r.Context(), id, role); err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) handleAdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParam(r, "id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid id")
		return
	}
	var req accounts.AdminUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.accounts.UpdateUser(r.Context(), id, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleCheckUsername(w http.ResponseWriter, r *http.Request) {
	username, ok := urlParam(r, "username")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid username")
		return
	}
	a.writeExists(w, r, func() (bool, error) { return a.accounts.ExistsByUsername(r.Context(), username) })
}

func (a *API) handleCheckEmail(w http.ResponseWriter, r *http.Request) {
	email, ok := urlParam(r, "email")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid email")
		return
	}
	a.writeExists(w, r, func() (bool, error) { return a.accounts.ExistsByEmail(r.Context(), email) })
}

// writeExists answers 200 true when taken and 404 false when free.
func (a *API) writeExists(w http.ResponseWriter, r *http.Request, check func() (bool, error)) {
	exists, err := check()
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !exists {
		writeJSON(w, http.StatusNotFound, false)
		return
	}
	writeJSON(w, http.StatusOK, true)
}

func (a *API) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	a.updateProfile(w, r, a.accounts.UpdateClient)
}

func (a *API) handleUpdateEmployee(w http.ResponseWriter, r *http.Request) {
	a.updateProfile(w, r, a.accounts.UpdateEmployee)
}

type profileUpdater func(ctx context.Context, actor auth.Principal, in accounts.ProfileUpdate) (alerts.Alert, error)

// updateProfile answers 200 with the alert, or 204 when nothing changed.
func (a *API) updateProfile(w http.ResponseWriter, r *http.Request, update profileUpdater) {
	actor, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req accounts.ProfileUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	alert, err := update(r.Context(), actor, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := a.accounts.ListAlerts(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilAlerts(list))
}

func (a *API) handleUserAlerts(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParam(r, "id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid id")
		return
	}
	list, err := a.accounts.UserAlerts(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilAlerts(list))
}

func (a *API) handleMarkAlertRead(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParam(r, "id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid id")
		return
	}
	alert, err := a.accounts.MarkAlertRead(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func nonNilAlerts(list []alerts.Alert) []alerts.Alert {
	if list == nil {
		return []alerts.Alert{}
	}
	return list
}
