package main

import "time"

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Image     string    `json:"image,omitempty"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// UserPublic is the author shape embedded in forum and comment payloads.
type UserPublic struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Image    string `json:"image,omitempty"`
}

func (u User) Public() UserPublic {
	return UserPublic{ID: u.ID, Username: u.Username, Image: u.Image}
}

type Forum struct {
	ID          int64       `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Tag         string      `json:"tag"`
	AuthorID    int64       `json:"author_id"`
	CreatedAt   time.Time   `json:"created_at"`
	Author      *UserPublic `json:"author,omitempty"`
}

type Comment struct {
	ID        int64       `json:"id"`
	Content   string      `json:"content"`
	AuthorID  int64       `json:"author_id"`
	ForumID   int64       `json:"forum_id"`
	ParentID  *int64      `json:"parent_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Author    *UserPublic `json:"author,omitempty"`
}

// CommentNode is a comment plus its reply subtree, in display order.
type CommentNode struct {
	Comment
	Replies []*CommentNode `json:"replies"`
}
