package main

import (
	"errors"
	"net/http"
	"strings"
)

// POST /forums/update/{id}/comments {content, author_id?, parent_id?}
// With a valid session the author is the session user and any client-supplied
// author_id is ignored; anonymous callers must name an existing author.
func (a *api) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	forumID, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, 400, "bad id")
		return
	}
	var req struct {
		Content  string `json:"content"`
		AuthorID int64  `json:"author_id"`
		ParentID *int64 `json:"parent_id"`
	}
	if err := readJSON(w, r, &req); err != nil || strings.TrimSpace(req.Content) == "" {
		writeError(w, 400, "missing fields")
		return
	}
	authorID := req.AuthorID
	if u, errU := a.currentUser(r); errU == nil {
		authorID = u.ID
	}
	if authorID == 0 {
		writeError(w, 400, "missing fields")
		return
	}
	c, err := a.store.CreateComment(r.Context(), forumID, authorID, req.Content, req.ParentID)
	if err != nil {
		switch {
		case errors.Is(err, ErrParentForum):
			writeError(w, 400, "parent comment belongs to a different forum")
		case errors.Is(err, ErrNotFound):
			writeError(w, 400, "missing fields")
		default:
			a.log.Error("create comment", "err", err)
			writeError(w, 500, "internal error")
		}
		return
	}
	writeJSON(w, 201, c)
	a.bus.Publish(Event{Type: "comment.created", Entity: "comment", ForumID: forumID, Payload: c})
}

// GET /forums/update/{id}/comments — nested reply trees, author-joined
func (a *api) handleListComments(w http.ResponseWriter, r *http.Request) {
	forumID, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, 400, "bad id")
		return
	}
	items, err := a.store.CommentsByForum(r.Context(), forumID)
	if err != nil {
		a.log.Error("comments by forum", "err", err)
		writeError(w, 500, "internal error")
		return
	}
	writeJSON(w, 200, assembleCommentTree(items))
}
