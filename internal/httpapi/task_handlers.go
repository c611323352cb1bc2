package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"daypack.app/internal/tasks"
)

type createTaskRequest struct {
	Title string `json:"title"`
	Notes string `json:"notes"`
}

func (a *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listTasks(w, r)
	case http.MethodPost:
		a.createTask(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	user, _, err := a.requireSession(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	list, err := a.tasks.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": list})
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	user, claims, err := a.requireSession(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if !a.requireCSRF(w, r, claims.SessionID) {
		return
	}
	var req createTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	task, err := a.tasks.Create(r.Context(), user.ID, req.Title, req.Notes, r.Header.Get("Idempotency-Key"))
	if err != nil {
		handleTaskError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"task": task})
}

// handleTaskAction routes /v1/tasks/{id}/complete.
func (a *API) handleTaskAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "complete" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, claims, err := a.requireSession(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if !a.requireCSRF(w, r, claims.SessionID) {
		return
	}
	task, err := a.tasks.Complete(r.Context(), user.ID, parts[0])
	if err != nil {
		handleTaskError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func handleTaskError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tasks.ErrInvalidTitle):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, tasks.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
