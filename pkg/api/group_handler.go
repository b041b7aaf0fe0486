package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/printops/driver-config/pkg/group"
	"github.com/printops/driver-config/pkg/rules"
)

// listGroups handles GET /api/v1/groups. Returns every document in
// persisted order; the expected corpus is small enough that pagination
// is a non-concern.
func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.deps.Store.List(r.Context())
	if err != nil {
		slog.Error("listing driver groups failed", "error", err)
		writeStoreError(w, err)
		return
	}
	if groups == nil {
		groups = []*group.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

// createGroup handles POST /api/v1/groups. The store owns _id, version,
// and history; a body supplying them is rejected.
func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, kindValidation, "failed to read request body")
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		writeError(w, http.StatusBadRequest, kindValidation, "body must be a JSON object")
		return
	}
	for _, field := range []string{"_id", "version", "history", "updatedAt"} {
		if _, ok := raw[field]; ok {
			writeError(w, http.StatusBadRequest, kindValidation, field+" is store-owned and cannot be supplied")
			return
		}
	}

	var g group.Group
	if err := json.Unmarshal(body, &g); err != nil {
		writeStoreError(w, &rules.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	stored, err := h.deps.Store.Create(r.Context(), &g)
	if err != nil {
		slog.Error("creating driver group failed", "groupId", g.GroupID, "error", err)
		writeStoreError(w, err)
		return
	}

	slog.Info("driver group created", "id", stored.ID, "groupId", stored.GroupID)
	writeJSON(w, http.StatusCreated, stored)
}

// updateGroup handles PUT /api/v1/groups/{id}. The body is a partial
// document plus an optional _changeReason; store-owned fields are
// rejected, every rule in the patch is validated, and the update is
// version-guarded against concurrent writers.
func (h *Handler) updateGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, kindValidation, "failed to read request body")
		return
	}

	patch, changeReason, err := group.ParsePatch(body)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	version, err := h.deps.Store.Update(r.Context(), id, patch, changeReason)
	if err != nil {
		slog.Error("updating driver group failed", "id", id, "error", err)
		writeStoreError(w, err)
		return
	}

	slog.Info("driver group updated", "id", id, "version", version)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "version": version})
}

// deleteGroup handles DELETE /api/v1/groups/{id}. The document and its
// history are discarded irrecoverably; there is no soft delete.
func (h *Handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.deps.Store.Delete(r.Context(), id); err != nil {
		slog.Error("deleting driver group failed", "id", id, "error", err)
		writeStoreError(w, err)
		return
	}

	slog.Info("driver group deleted", "id", id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
