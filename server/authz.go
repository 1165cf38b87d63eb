package main

// Authorization predicates, kept separate from HTTP plumbing so policy is
// testable on its own.

// canMutateForum: only the author may edit forum fields.
func canMutateForum(u User, f Forum) bool { return u.ID == f.AuthorID }

// canDeleteForum: the author, or an admin moderating.
func canDeleteForum(u User, f Forum) bool { return u.IsAdmin || u.ID == f.AuthorID }

// canElevate: admins grant admin. When no admin exists yet the first
// authenticated caller may elevate to bootstrap moderation.
func canElevate(caller User, adminCount int64) bool {
	return caller.IsAdmin || adminCount == 0
}
