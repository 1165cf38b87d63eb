package main

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// GET /user/details — the session user's record, never including the hash
func (a *api) handleUserDetails(w http.ResponseWriter, r *http.Request) {
	u, err := a.currentUser(r)
	if err != nil {
		writeError(w, 401, "unauthorized")
		return
	}
	writeJSON(w, 200, u)
}

// PUT /user/{id} {name?, username?, email?, password?}
func (a *api) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	me, err := a.currentUser(r)
	if err != nil {
		writeError(w, 401, "unauthorized")
		return
	}
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, 400, "bad id")
		return
	}
	if id != me.ID {
		writeError(w, 403, "forbidden")
		return
	}
	var req struct {
		Name     *string `json:"name"`
		Username *string `json:"username"`
		Email    *string `json:"email"`
		Password *string `json:"password"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, 400, "invalid payload")
		return
	}
	if req.Name == nil && req.Username == nil && req.Email == nil && req.Password == nil {
		writeError(w, 400, "no valid fields to update")
		return
	}
	var hash *string
	if req.Password != nil {
		if len(*req.Password) < 6 {
			writeError(w, 400, "password too short")
			return
		}
		hashBytes, err := bcrypt.GenerateFromPassword([]byte(*req.Password), a.cfg.BcryptCost)
		if err != nil {
			a.log.Error("bcrypt", "err", err)
			writeError(w, 500, "internal error")
			return
		}
		h := string(hashBytes)
		hash = &h
	}
	if req.Username != nil && strings.TrimSpace(*req.Username) == "" {
		writeError(w, 400, "username cannot be empty")
		return
	}
	u, err := a.store.UpdateUser(r.Context(), id, req.Name, req.Username, req.Email, hash)
	if err != nil {
		switch {
		case errors.Is(err, ErrConflict):
			writeError(w, 409, "username already exists")
		case errors.Is(err, ErrNotFound):
			writeError(w, 404, "not found")
		default:
			a.log.Error("update user", "err", err)
			writeError(w, 500, "internal error")
		}
		return
	}
	writeJSON(w, 200, map[string]any{"user": u})
}

// GET /admin/users?q=&limit=
func (a *api) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := parseID(v); err == nil && n > 0 {
			limit = int(n)
		}
	}
	items, err := a.store.ListUsers(r.Context(), q, limit)
	if err != nil {
		a.log.Error("admin list users", "err", err)
		writeError(w, 500, "internal error")
		return
	}
	writeJSON(w, 200, items)
}

// PUT /user/admin/{id} — grant the admin flag. Admin-only once an admin
// exists; the first elevation is open to any session user to bootstrap.
func (a *api) handleElevateUser(w http.ResponseWriter, r *http.Request) {
	me, err := a.currentUser(r)
	if err != nil {
		writeError(w, 401, "unauthorized")
		return
	}
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, 400, "bad id")
		return
	}
	admins, err := a.store.AdminCount(r.Context())
	if err != nil {
		a.log.Error("admin count", "err", err)
		writeError(w, 500, "internal error")
		return
	}
	if !canElevate(*me, admins) {
		writeError(w, 403, "forbidden")
		return
	}
	u, err := a.store.ElevateUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, 404, "not found")
			return
		}
		a.log.Error("elevate user", "err", err)
		writeError(w, 500, "internal error")
		return
	}
	writeJSON(w, 200, map[string]any{"admin": u})
}
