package main

import (
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testCookie = "forumlite_sess"

func newTestAPI(t *testing.T) (sqlmock.Sqlmock, *http.ServeMux) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	cfg := Config{
		SessionCookie:  testCookie,
		SessionTTL:     time.Hour,
		CookieSameSite: "lax",
		BcryptCost:     bcrypt.MinCost,
	}
	a := newAPI(NewStore(db), slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	mux := http.NewServeMux()
	a.routes(mux)
	return mock, mux
}

func doRequest(mux *http.ServeMux, method, path, body string, session bool) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if session {
		req.AddCookie(&http.Cookie{Name: testCookie, Value: "tok"})
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// expectSession primes the session lookup with the given user.
func expectSession(mock sqlmock.Sqlmock, id int64, username string, admin bool) {
	mock.ExpectQuery(`from sessions s join users u on u.id=s.user_id`).
		WithArgs("tok").
		WillReturnRows(userRow(id, username, admin))
}

func TestHandlersFailClosed(t *testing.T) {
	t.Run("no cookie", func(t *testing.T) {
		_, mux := newTestAPI(t)
		for _, tc := range []struct{ method, path string }{
			{"GET", "/forums"},
			{"POST", "/forums"},
			{"GET", "/forums/details"},
			{"GET", "/user/details"},
			{"PUT", "/user/1"},
			{"PUT", "/user/admin/1"},
			{"PUT", "/forums/update/1"},
			{"DELETE", "/forums/update/1"},
		} {
			rec := doRequest(mux, tc.method, tc.path, "", false)
			assert.Equal(t, 401, rec.Code, "%s %s", tc.method, tc.path)
		}
	})

	t.Run("stale session", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		mock.ExpectQuery(`from sessions s join users u on u.id=s.user_id`).
			WithArgs("tok").
			WillReturnError(sql.ErrNoRows)
		rec := doRequest(mux, "GET", "/forums", "", true)
		assert.Equal(t, 401, rec.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBadIDs(t *testing.T) {
	_, mux := newTestAPI(t)
	rec := doRequest(mux, "GET", "/forums/update/abc", "", false)
	assert.Equal(t, 400, rec.Code)
	rec = doRequest(mux, "GET", "/forums/update/abc/comments", "", false)
	assert.Equal(t, 400, rec.Code)
}

func TestSearchForumsHandler(t *testing.T) {
	t.Run("missing tag param", func(t *testing.T) {
		_, mux := newTestAPI(t)
		rec := doRequest(mux, "GET", "/forums/search", "", false)
		assert.Equal(t, 400, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid query")
	})

	t.Run("empty tag param", func(t *testing.T) {
		_, mux := newTestAPI(t)
		rec := doRequest(mux, "GET", "/forums/search?tag=", "", false)
		assert.Equal(t, 400, rec.Code)
	})

	t.Run("matches returned without auth", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		rows := sqlmock.NewRows([]string{"id", "title", "description", "tag", "author_id", "created_at", "uid", "username", "image"}).
			AddRow(int64(1), "go talk", "", "tech", int64(10), time.Now(), int64(10), "alice", "")
		mock.ExpectQuery(`from forums f join users u on u.id=f.author_id where f.tag ilike`).
			WithArgs("tech").
			WillReturnRows(rows)
		rec := doRequest(mux, "GET", "/forums/search?tag=tech", "", false)
		assert.Equal(t, 200, rec.Code)
		var items []Forum
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
		require.Len(t, items, 1)
		assert.Equal(t, "alice", items[0].Author.Username)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDeleteForumScenario(t *testing.T) {
	// u1 owns f1; u2 may not delete it, u1 may, and afterwards it is gone
	t.Run("non-owner forbidden", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		expectSession(mock, 2, "mallory", false)
		mock.ExpectQuery(`from forums where id=`).
			WithArgs(int64(1)).
			WillReturnRows(forumRow(1, 10, "f1", "tech"))
		rec := doRequest(mux, "DELETE", "/forums/update/1", "", true)
		assert.Equal(t, 403, rec.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("owner deletes and gets snapshot", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		expectSession(mock, 10, "alice", false)
		mock.ExpectQuery(`from forums where id=`).
			WithArgs(int64(1)).
			WillReturnRows(forumRow(1, 10, "f1", "tech"))
		mock.ExpectQuery(`delete from forums where id=.* and author_id=`).
			WithArgs(int64(1), int64(10)).
			WillReturnRows(forumRow(1, 10, "f1", "tech"))
		rec := doRequest(mux, "DELETE", "/forums/update/1", "", true)
		assert.Equal(t, 200, rec.Code)
		assert.Contains(t, rec.Body.String(), "deletedForum")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("admin deletes another user's forum", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		expectSession(mock, 2, "root", true)
		mock.ExpectQuery(`from forums where id=`).
			WithArgs(int64(1)).
			WillReturnRows(forumRow(1, 10, "f1", "tech"))
		mock.ExpectQuery(`delete from forums where id=`).
			WithArgs(int64(1)).
			WillReturnRows(forumRow(1, 10, "f1", "tech"))
		rec := doRequest(mux, "DELETE", "/forums/update/1", "", true)
		assert.Equal(t, 200, rec.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deleted forum reads as not found", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		mock.ExpectQuery(`from forums where id=`).
			WithArgs(int64(1)).
			WillReturnError(sql.ErrNoRows)
		rec := doRequest(mux, "GET", "/forums/update/1", "", false)
		assert.Equal(t, 404, rec.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateForumHandler(t *testing.T) {
	t.Run("missing fields rejected", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		expectSession(mock, 10, "alice", false)
		expectSession(mock, 10, "alice", false) // requireAuth, then handler
		rec := doRequest(mux, "POST", "/forums", `{"title":"t","description":"d"}`, true)
		assert.Equal(t, 400, rec.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("description sanitized before persisting", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		raw := `<p>hello</p><script>alert(1)</script>`
		clean := sanitizeDescription(raw)
		require.NotContains(t, clean, "script")
		expectSession(mock, 10, "alice", false)
		expectSession(mock, 10, "alice", false)
		mock.ExpectQuery(`insert into forums`).
			WithArgs("t", clean, "tech", int64(10)).
			WillReturnRows(forumRow(1, 10, "t", "tech"))
		body, _ := json.Marshal(map[string]string{"title": "t", "description": raw, "tag": "tech"})
		rec := doRequest(mux, "POST", "/forums", string(body), true)
		assert.Equal(t, 201, rec.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateForumHandler(t *testing.T) {
	t.Run("no fields rejected", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		expectSession(mock, 10, "alice", false)
		mock.ExpectQuery(`from forums where id=`).
			WithArgs(int64(1)).
			WillReturnRows(forumRow(1, 10, "f1", "tech"))
		rec := doRequest(mux, "PUT", "/forums/update/1", `{}`, true)
		assert.Equal(t, 400, rec.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-owner forbidden before any write", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		expectSession(mock, 2, "mallory", false)
		mock.ExpectQuery(`from forums where id=`).
			WithArgs(int64(1)).
			WillReturnRows(forumRow(1, 10, "f1", "tech"))
		rec := doRequest(mux, "PUT", "/forums/update/1", `{"title":"hijack"}`, true)
		assert.Equal(t, 403, rec.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("owner partial update", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		expectSession(mock, 10, "alice", false)
		mock.ExpectQuery(`from forums where id=`).
			WithArgs(int64(1)).
			WillReturnRows(forumRow(1, 10, "f1", "tech"))
		mock.ExpectQuery(`update forums set tag=.* where id=.* and author_id=`).
			WithArgs("golang", int64(1), int64(10)).
			WillReturnRows(forumRow(1, 10, "f1", "golang"))
		rec := doRequest(mux, "PUT", "/forums/update/1", `{"tag":"golang"}`, true)
		assert.Equal(t, 200, rec.Code)
		assert.Contains(t, rec.Body.String(), "updatedForum")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateCommentHandler(t *testing.T) {
	t.Run("missing content rejected", func(t *testing.T) {
		_, mux := newTestAPI(t)
		rec := doRequest(mux, "POST", "/forums/update/1/comments", `{"author_id":5}`, false)
		assert.Equal(t, 400, rec.Code)
		assert.Contains(t, rec.Body.String(), "missing fields")
	})

	t.Run("anonymous without author rejected", func(t *testing.T) {
		_, mux := newTestAPI(t)
		rec := doRequest(mux, "POST", "/forums/update/1/comments", `{"content":"hi"}`, false)
		assert.Equal(t, 400, rec.Code)
	})

	t.Run("session author overrides client author_id", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		expectSession(mock, 7, "carol", false)
		mock.ExpectQuery(`insert into comments`).
			WithArgs(int64(1), int64(7), "hi", nil).
			WillReturnRows(sqlmock.NewRows([]string{"id", "content", "author_id", "forum_id", "parent_id", "created_at"}).
				AddRow(int64(1), "hi", int64(7), int64(1), nil, time.Now()))
		rec := doRequest(mux, "POST", "/forums/update/1/comments", `{"content":"hi","author_id":999}`, true)
		assert.Equal(t, 201, rec.Code)
		var c Comment
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
		assert.Equal(t, int64(7), c.AuthorID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cross-forum parent rejected", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		mock.ExpectQuery(`select forum_id from comments where id=`).
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"forum_id"}).AddRow(int64(2)))
		rec := doRequest(mux, "POST", "/forums/update/1/comments", `{"content":"hi","author_id":5,"parent_id":9}`, false)
		assert.Equal(t, 400, rec.Code)
		assert.Contains(t, rec.Body.String(), "different forum")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListCommentsHandler(t *testing.T) {
	mock, mux := newTestAPI(t)
	rows := sqlmock.NewRows([]string{"id", "content", "author_id", "forum_id", "parent_id", "created_at", "uid", "username", "image"}).
		AddRow(int64(1), "root", int64(10), int64(1), nil, time.Now(), int64(10), "alice", "").
		AddRow(int64(2), "reply", int64(11), int64(1), int64(1), time.Now(), int64(11), "bob", "")
	mock.ExpectQuery(`from comments c join users u on u.id=c.author_id`).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	rec := doRequest(mux, "GET", "/forums/update/1/comments", "", false)
	assert.Equal(t, 200, rec.Code)
	var tree []*CommentNode
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tree))
	require.Len(t, tree, 1)
	require.Len(t, tree[0].Replies, 1)
	assert.Equal(t, "bob", tree[0].Replies[0].Author.Username)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignupHandler(t *testing.T) {
	t.Run("duplicate username", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		mock.ExpectQuery(`insert into users`).
			WillReturnError(&pgconn.PgError{Code: "23505"})
		rec := doRequest(mux, "POST", "/auth", `{"name":"A","username":"alice","email":"a@x.io","password":"hunter2"}`, false)
		assert.Equal(t, 400, rec.Code)
		assert.Contains(t, rec.Body.String(), "username already exists")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("short password rejected", func(t *testing.T) {
		_, mux := newTestAPI(t)
		rec := doRequest(mux, "POST", "/auth", `{"username":"alice","password":"abc"}`, false)
		assert.Equal(t, 400, rec.Code)
	})

	t.Run("created user gets a session cookie", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		mock.ExpectQuery(`insert into users`).
			WillReturnRows(userRow(1, "alice", false))
		mock.ExpectExec(`insert into sessions`).
			WillReturnResult(sqlmock.NewResult(1, 1))
		rec := doRequest(mux, "POST", "/auth", `{"name":"A","username":"alice","email":"a@x.io","password":"hunter2"}`, false)
		assert.Equal(t, 201, rec.Code)
		cookies := rec.Result().Cookies()
		require.NotEmpty(t, cookies)
		assert.Equal(t, testCookie, cookies[0].Name)
		assert.NotEmpty(t, cookies[0].Value)
		assert.NotContains(t, rec.Body.String(), "password_hash")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestElevateUserHandler(t *testing.T) {
	t.Run("non-admin denied once admins exist", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		expectSession(mock, 2, "mallory", false)
		mock.ExpectQuery(`from users where is_admin`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
		rec := doRequest(mux, "PUT", "/user/admin/3", "", true)
		assert.Equal(t, 403, rec.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("bootstrap elevation when no admins", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		expectSession(mock, 2, "first", false)
		mock.ExpectQuery(`from users where is_admin`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
		mock.ExpectQuery(`update users set is_admin=true where id=`).
			WithArgs(int64(2)).
			WillReturnRows(userRow(2, "first", true))
		rec := doRequest(mux, "PUT", "/user/admin/2", "", true)
		assert.Equal(t, 200, rec.Code)
		assert.Contains(t, rec.Body.String(), "admin")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("admin elevates another user", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		expectSession(mock, 1, "root", true)
		mock.ExpectQuery(`from users where is_admin`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
		mock.ExpectQuery(`update users set is_admin=true where id=`).
			WithArgs(int64(3)).
			WillReturnRows(userRow(3, "carol", true))
		rec := doRequest(mux, "PUT", "/user/admin/3", "", true)
		assert.Equal(t, 200, rec.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateUserHandler(t *testing.T) {
	t.Run("no fields rejected", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		expectSession(mock, 7, "carol", false)
		rec := doRequest(mux, "PUT", "/user/7", `{}`, true)
		assert.Equal(t, 400, rec.Code)
		assert.Contains(t, rec.Body.String(), "no valid fields")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cannot update another user", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		expectSession(mock, 7, "carol", false)
		rec := doRequest(mux, "PUT", "/user/8", `{"name":"x"}`, true)
		assert.Equal(t, 403, rec.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("username conflict maps to 409", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		expectSession(mock, 7, "carol", false)
		mock.ExpectQuery(`update users set username=`).
			WithArgs("alice", int64(7)).
			WillReturnError(&pgconn.PgError{Code: "23505"})
		rec := doRequest(mux, "PUT", "/user/7", `{"username":"alice"}`, true)
		assert.Equal(t, 409, rec.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdminListUsersHandler(t *testing.T) {
	t.Run("non-admin forbidden", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		expectSession(mock, 2, "mallory", false)
		rec := doRequest(mux, "GET", "/admin/users", "", true)
		assert.Equal(t, 403, rec.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("admin lists", func(t *testing.T) {
		mock, mux := newTestAPI(t)
		expectSession(mock, 1, "root", true)
		mock.ExpectQuery(`from users`).
			WithArgs("", 50).
			WillReturnRows(userRow(1, "root", true))
		rec := doRequest(mux, "GET", "/admin/users", "", true)
		assert.Equal(t, 200, rec.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMeHandler(t *testing.T) {
	_, mux := newTestAPI(t)
	rec := doRequest(mux, "GET", "/auth/me", "", false)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user":null`)
}
