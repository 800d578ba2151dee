// Package platform is the contract with the remote social-media platform and a
// Graph-style HTTP implementation of it.
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermission means the access token was rejected. It aborts the account's run.
	ErrPermission = errors.New("platform permission denied")
	// ErrTransient covers timeouts, rate limits and server errors.
	ErrTransient = errors.New("platform transient failure")
)

// Post is a remote post as reported by the platform.
type Post struct {
	ID           string
	Caption      string
	PostedAt     time.Time
	CommentCount int
}

// Comment is a remote comment or reply. ParentID is empty for top-level comments.
type Comment struct {
	ID            string
	PostID        string
	ParentID      string
	Text          string
	CommenterID   string
	CommenterName string
	CreatedAt     time.Time
	Hidden        bool
}

// AccountStats are the account-level counters refreshed hourly.
type AccountStats struct {
	FollowerCount int64
	MediaCount    int64
}

// Client is what the pipeline needs from the platform.
type Client interface {
	// ListRecentPosts returns up to limit posts, newest first.
	ListRecentPosts(ctx context.Context, accountID, token string, limit int) ([]Post, error)
	// ListComments returns every comment and reply under postID, replies flattened
	// after their parent with ParentID set.
	ListComments(ctx context.Context, postID, token string) ([]Comment, error)
	DeleteComment(ctx context.Context, commentID, token string) (bool, error)
	SetHidden(ctx context.Context, commentID, token string, hidden bool) (bool, error)
	GetAccountStats(ctx context.Context, accountID, token string) (AccountStats, error)
}
