package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a uniqueness violation (duplicate username).
	ErrConflict = errors.New("conflict")
	// ErrParentForum signals a reply whose parent lives in a different forum.
	ErrParentForum = errors.New("parent comment belongs to a different forum")
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// Users

const userCols = `id, name, username, email, coalesce(image,''), is_admin, created_at`

func scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Username, &u.Email, &u.Image, &u.IsAdmin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, name, username, email, image, passwordHash string) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`insert into users(name, username, email, image, password_hash) values($1,$2,$3,nullif($4,''),$5)
		returning `+userCols, name, username, email, image, passwordHash))
	if isUniqueViolation(err) {
		return User{}, ErrConflict
	}
	return u, err
}

func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userCols+` from users where id=$1`, id))
}

// Authenticate verifies username/password and returns the user on success.
// The password hash never leaves this method.
func (s *Store) Authenticate(ctx context.Context, username, password string) (User, error) {
	var u User
	var hash string
	err := s.db.QueryRowContext(ctx,
		`select `+userCols+`, password_hash from users where lower(username)=lower($1)`, username).
		Scan(&u.ID, &u.Name, &u.Username, &u.Email, &u.Image, &u.IsAdmin, &u.CreatedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, ErrNotFound
	}
	return u, nil
}

// UpdateUser applies the non-nil fields to the user row. passwordHash, when
// set, must already be bcrypt-hashed by the caller.
func (s *Store) UpdateUser(ctx context.Context, id int64, name, username, email, passwordHash *string) (User, error) {
	sets := []string{}
	args := []any{}
	add := func(col string, v *string) {
		if v != nil {
			args = append(args, *v)
			sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
		}
	}
	add("name", name)
	add("username", username)
	add("email", email)
	add("password_hash", passwordHash)
	if len(sets) == 0 {
		return s.UserByID(ctx, id)
	}
	args = append(args, id)
	q := fmt.Sprintf(`update users set %s where id=$%d returning `+userCols, strings.Join(sets, ", "), len(args))
	u, err := scanUser(s.db.QueryRowContext(ctx, q, args...))
	if isUniqueViolation(err) {
		return User{}, ErrConflict
	}
	return u, err
}

func (s *Store) ElevateUser(ctx context.Context, id int64) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`update users set is_admin=true where id=$1 returning `+userCols, id))
}

// ListUsers returns users matching q by username or name, for moderation.
func (s *Store) ListUsers(ctx context.Context, q string, limit int) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userCols+` from users
		where ($1 = '' or username ilike '%' || $1 || '%' or name ilike '%' || $1 || '%')
		order by id limit $2`, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Username, &u.Email, &u.Image, &u.IsAdmin, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) AdminCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `select count(*) from users where is_admin`).Scan(&n)
	return n, err
}

// Sessions

func (s *Store) CreateSession(ctx context.Context, userID int64, ttl time.Duration) (string, time.Time, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, err
	}
	token := base64.RawURLEncoding.EncodeToString(b)
	expires := time.Now().Add(ttl)
	_, err := s.db.ExecContext(ctx, `insert into sessions(user_id, token, expires_at) values($1,$2,$3)`, userID, token, expires)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

func (s *Store) UserBySession(ctx context.Context, token string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `select u.id, u.name, u.username, u.email, coalesce(u.image,''), u.is_admin, u.created_at
		from sessions s join users u on u.id=s.user_id
		where s.token=$1 and s.expires_at > now()`, token).
		Scan(&u.ID, &u.Name, &u.Username, &u.Email, &u.Image, &u.IsAdmin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where token=$1`, token)
	return err
}

// Forums

const forumCols = `f.id, f.title, f.description, f.tag, f.author_id, f.created_at`

func (s *Store) CreateForum(ctx context.Context, authorID int64, title, description, tag string) (Forum, error) {
	var f Forum
	err := s.db.QueryRowContext(ctx,
		`insert into forums(title, description, tag, author_id) values($1,$2,$3,$4)
		returning id, title, description, tag, author_id, created_at`,
		title, description, tag, authorID).
		Scan(&f.ID, &f.Title, &f.Description, &f.Tag, &f.AuthorID, &f.CreatedAt)
	return f, err
}

func (s *Store) forumRows(ctx context.Context, q string, args ...any) ([]Forum, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Forum{}
	for rows.Next() {
		var f Forum
		var a UserPublic
		if err := rows.Scan(&f.ID, &f.Title, &f.Description, &f.Tag, &f.AuthorID, &f.CreatedAt, &a.ID, &a.Username, &a.Image); err != nil {
			return nil, err
		}
		f.Author = &a
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) ListForums(ctx context.Context) ([]Forum, error) {
	return s.forumRows(ctx, `select `+forumCols+`, u.id, u.username, coalesce(u.image,'')
		from forums f join users u on u.id=f.author_id order by f.id`)
}

func (s *Store) ForumsByAuthor(ctx context.Context, authorID int64) ([]Forum, error) {
	return s.forumRows(ctx, `select `+forumCols+`, u.id, u.username, coalesce(u.image,'')
		from forums f join users u on u.id=f.author_id where f.author_id=$1 order by f.id`, authorID)
}

// SearchForumsByTag matches the tag column case-insensitively as a substring.
func (s *Store) SearchForumsByTag(ctx context.Context, tag string) ([]Forum, error) {
	return s.forumRows(ctx, `select `+forumCols+`, u.id, u.username, coalesce(u.image,'')
		from forums f join users u on u.id=f.author_id where f.tag ilike '%' || $1 || '%' order by f.id`, tag)
}

func (s *Store) GetForum(ctx context.Context, id int64) (Forum, error) {
	var f Forum
	err := s.db.QueryRowContext(ctx,
		`select id, title, description, tag, author_id, created_at from forums where id=$1`, id).
		Scan(&f.ID, &f.Title, &f.Description, &f.Tag, &f.AuthorID, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Forum{}, ErrNotFound
	}
	return f, err
}

// UpdateForum applies the non-nil fields. The predicate includes author_id,
// so a non-owner's update matches zero rows and reports ErrNotFound.
func (s *Store) UpdateForum(ctx context.Context, id, authorID int64, title, description, tag *string) (Forum, error) {
	sets := []string{}
	args := []any{}
	add := func(col string, v *string) {
		if v != nil {
			args = append(args, *v)
			sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
		}
	}
	add("title", title)
	add("description", description)
	add("tag", tag)
	if len(sets) == 0 {
		return Forum{}, ErrNotFound
	}
	args = append(args, id, authorID)
	q := fmt.Sprintf(`update forums set %s where id=$%d and author_id=$%d
		returning id, title, description, tag, author_id, created_at`,
		strings.Join(sets, ", "), len(args)-1, len(args))
	var f Forum
	err := s.db.QueryRowContext(ctx, q, args...).
		Scan(&f.ID, &f.Title, &f.Description, &f.Tag, &f.AuthorID, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Forum{}, ErrNotFound
	}
	return f, err
}

// DeleteForum removes the forum and returns its last snapshot. Unless asAdmin
// is set the predicate includes author_id, same as UpdateForum.
func (s *Store) DeleteForum(ctx context.Context, id, authorID int64, asAdmin bool) (Forum, error) {
	q := `delete from forums where id=$1 and author_id=$2 returning id, title, description, tag, author_id, created_at`
	args := []any{id, authorID}
	if asAdmin {
		q = `delete from forums where id=$1 returning id, title, description, tag, author_id, created_at`
		args = []any{id}
	}
	var f Forum
	err := s.db.QueryRowContext(ctx, q, args...).
		Scan(&f.ID, &f.Title, &f.Description, &f.Tag, &f.AuthorID, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Forum{}, ErrNotFound
	}
	return f, err
}

// Comments

// CreateComment inserts a comment, rejecting replies whose parent belongs to
// another forum. A parent row must already exist, so parent chains cannot
// form cycles.
func (s *Store) CreateComment(ctx context.Context, forumID, authorID int64, content string, parentID *int64) (Comment, error) {
	if parentID != nil {
		var parentForum int64
		err := s.db.QueryRowContext(ctx, `select forum_id from comments where id=$1`, *parentID).Scan(&parentForum)
		if errors.Is(err, sql.ErrNoRows) {
			return Comment{}, ErrNotFound
		}
		if err != nil {
			return Comment{}, err
		}
		if parentForum != forumID {
			return Comment{}, ErrParentForum
		}
	}
	var c Comment
	err := s.db.QueryRowContext(ctx,
		`insert into comments(forum_id, author_id, content, parent_id) values($1,$2,$3,$4)
		returning id, content, author_id, forum_id, parent_id, created_at`,
		forumID, authorID, content, parentID).
		Scan(&c.ID, &c.Content, &c.AuthorID, &c.ForumID, &c.ParentID, &c.CreatedAt)
	if isForeignKeyViolation(err) {
		return Comment{}, ErrNotFound
	}
	return c, err
}

// CommentsByForum returns the forum's comments author-joined, in creation
// order (ids are monotonically assigned).
func (s *Store) CommentsByForum(ctx context.Context, forumID int64) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`select c.id, c.content, c.author_id, c.forum_id, c.parent_id, c.created_at, u.id, u.username, coalesce(u.image,'')
		from comments c join users u on u.id=c.author_id
		where c.forum_id=$1 order by c.id`, forumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Comment{}
	for rows.Next() {
		var c Comment
		var a UserPublic
		if err := rows.Scan(&c.ID, &c.Content, &c.AuthorID, &c.ForumID, &c.ParentID, &c.CreatedAt, &a.ID, &a.Username, &a.Image); err != nil {
			return nil, err
		}
		c.Author = &a
		out = append(out, c)
	}
	return out, rows.Err()
}

const schema = `
create table if not exists users(
    id bigserial primary key,
    name text not null default '',
    username text unique not null check (length(username) > 0),
    email text not null default '',
    image text,
    password_hash text not null default '',
    is_admin boolean not null default false,
    created_at timestamptz not null default now()
);

create table if not exists forums(
    id bigserial primary key,
    title text not null check (length(title) > 0),
    description text not null default '',
    tag text not null default '',
    author_id bigint not null references users(id),
    created_at timestamptz not null default now()
);
create index if not exists forums_author_idx on forums(author_id);
create index if not exists forums_tag_idx on forums(tag);

create table if not exists comments(
    id bigserial primary key,
    forum_id bigint not null references forums(id) on delete cascade,
    author_id bigint not null references users(id),
    content text not null check (length(content) > 0),
    parent_id bigint references comments(id) on delete cascade,
    created_at timestamptz not null default now()
);
create index if not exists comments_forum_idx on comments(forum_id);
create index if not exists comments_parent_idx on comments(parent_id);

create table if not exists sessions(
    id bigserial primary key,
    user_id bigint not null references users(id) on delete cascade,
    token text unique not null,
    created_at timestamptz not null default now(),
    expires_at timestamptz not null
);
`
