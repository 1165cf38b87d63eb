package main

import (
	"errors"
	"net/http"
	"strings"
)

// GET /forums — all forums with author public fields. An empty board is an
// empty list, not a 404.
func (a *api) handleListForums(w http.ResponseWriter, r *http.Request) {
	if _, err := a.currentUser(r); err != nil {
		writeError(w, 401, "unauthorized")
		return
	}
	items, err := a.store.ListForums(r.Context())
	if err != nil {
		a.log.Error("list forums", "err", err)
		writeError(w, 500, "internal error")
		return
	}
	writeJSON(w, 200, items)
}

// POST /forums {title, description, tag}
func (a *api) handleCreateForum(w http.ResponseWriter, r *http.Request) {
	u, errU := a.currentUser(r)
	if errU != nil {
		writeError(w, 401, "unauthorized")
		return
	}
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Tag         string `json:"tag"`
	}
	if err := readJSON(w, r, &req); err != nil ||
		strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Description) == "" || strings.TrimSpace(req.Tag) == "" {
		writeError(w, 400, "invalid payload")
		return
	}
	f, err := a.store.CreateForum(r.Context(), u.ID, strings.TrimSpace(req.Title),
		sanitizeDescription(req.Description), strings.TrimSpace(req.Tag))
	if err != nil {
		a.log.Error("create forum", "err", err)
		writeError(w, 500, "internal error")
		return
	}
	writeJSON(w, 201, map[string]any{"res": f})
}

// GET /forums/search?tag=
func (a *api) handleSearchForums(w http.ResponseWriter, r *http.Request) {
	if !r.URL.Query().Has("tag") {
		writeError(w, 400, "invalid query")
		return
	}
	tag := r.URL.Query().Get("tag")
	if strings.TrimSpace(tag) == "" {
		writeError(w, 400, "invalid query")
		return
	}
	items, err := a.store.SearchForumsByTag(r.Context(), tag)
	if err != nil {
		a.log.Error("search forums", "err", err)
		writeError(w, 500, "internal error")
		return
	}
	writeJSON(w, 200, items)
}

// GET /forums/details — forums authored by the session user
func (a *api) handleMyForums(w http.ResponseWriter, r *http.Request) {
	u, err := a.currentUser(r)
	if err != nil {
		writeError(w, 401, "unauthorized")
		return
	}
	items, err := a.store.ForumsByAuthor(r.Context(), u.ID)
	if err != nil {
		a.log.Error("my forums", "err", err)
		writeError(w, 500, "internal error")
		return
	}
	writeJSON(w, 200, items)
}

// GET /forums/update/{id} — public read
func (a *api) handleGetForum(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, 400, "bad id")
		return
	}
	f, err := a.store.GetForum(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, 404, "not found")
			return
		}
		a.log.Error("get forum", "err", err)
		writeError(w, 500, "internal error")
		return
	}
	writeJSON(w, 200, f)
}

// PUT /forums/update/{id} — owner-only partial update
func (a *api) handleUpdateForum(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, 400, "bad id")
		return
	}
	u, errU := a.currentUser(r)
	if errU != nil {
		writeError(w, 401, "unauthorized")
		return
	}
	f, err := a.store.GetForum(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, 404, "not found")
			return
		}
		a.log.Error("get forum", "err", err)
		writeError(w, 500, "internal error")
		return
	}
	if !canMutateForum(*u, f) {
		writeError(w, 403, "forbidden")
		return
	}
	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Tag         *string `json:"tag"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	if req.Title == nil && req.Description == nil && req.Tag == nil {
		writeError(w, 400, "no values provided for update")
		return
	}
	if req.Description != nil {
		clean := sanitizeDescription(*req.Description)
		req.Description = &clean
	}
	// predicate includes author_id: a racing ownership change matches zero rows
	updated, err := a.store.UpdateForum(r.Context(), id, u.ID, req.Title, req.Description, req.Tag)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, 404, "not found")
			return
		}
		a.log.Error("update forum", "err", err)
		writeError(w, 500, "internal error")
		return
	}
	writeJSON(w, 200, map[string]any{"updatedForum": updated})
	a.bus.Publish(Event{Type: "forum.updated", Entity: "forum", ForumID: id, Payload: updated})
}

// DELETE /forums/update/{id} — owner or admin
func (a *api) handleDeleteForum(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, 400, "bad id")
		return
	}
	u, errU := a.currentUser(r)
	if errU != nil {
		writeError(w, 401, "unauthorized")
		return
	}
	f, err := a.store.GetForum(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, 404, "not found")
			return
		}
		a.log.Error("get forum", "err", err)
		writeError(w, 500, "internal error")
		return
	}
	if !canDeleteForum(*u, f) {
		writeError(w, 403, "forbidden")
		return
	}
	deleted, err := a.store.DeleteForum(r.Context(), id, u.ID, u.IsAdmin)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, 404, "not found")
			return
		}
		a.log.Error("delete forum", "err", err)
		writeError(w, 500, "internal error")
		return
	}
	writeJSON(w, 200, map[string]any{"deletedForum": deleted})
	a.bus.Publish(Event{Type: "forum.deleted", Entity: "forum", ForumID: id, Payload: map[string]any{"id": id}})
}

// GET /forums/update/{id}/events — SSE stream of forum activity
func (a *api) handleForumEvents(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, 400, "bad id")
		return
	}
	if _, err := a.store.GetForum(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, 404, "not found")
			return
		}
		a.log.Error("get forum", "err", err)
		writeError(w, 500, "internal error")
		return
	}
	a.bus.ServeSSE(w, r, id)
}
