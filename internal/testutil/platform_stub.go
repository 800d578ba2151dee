package testutil

import (
	"context"
	"sync"

	"commentguard/internal/platform"
)

// PlatformStub is an in-memory platform.Client. Fields ending in Fn override the
// default behavior when set.
type PlatformStub struct {
	mu       sync.Mutex
	posts    map[string][]platform.Post
	comments map[string][]platform.Comment
	stats    map[string]platform.AccountStats

	ListPostsErr    error
	ListCommentsErr map[string]error

	DeleteFn    func(commentID string) (bool, error)
	SetHiddenFn func(commentID string, hidden bool) (bool, error)

	ListCommentsCalls map[string]int
	Deleted           []string
	HiddenChanges     map[string]bool
}

// NewPlatformStub returns an empty stub.
func NewPlatformStub() *PlatformStub {
	return &PlatformStub{
		posts:             make(map[string][]platform.Post),
		comments:          make(map[string][]platform.Comment),
		stats:             make(map[string]platform.AccountStats),
		ListCommentsErr:   make(map[string]error),
		ListCommentsCalls: make(map[string]int),
		HiddenChanges:     make(map[string]bool),
	}
}

// SetPosts replaces the posts returned for accountID, newest first.
func (s *PlatformStub) SetPosts(accountID string, posts ...platform.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[accountID] = posts
}

// SetComments replaces the comments returned for postID.
func (s *PlatformStub) SetComments(postID string, comments ...platform.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[postID] = comments
}

// SetStats sets the account counters for accountID.
func (s *PlatformStub) SetStats(accountID string, stats platform.AccountStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[accountID] = stats
}

// CommentCalls returns how often ListComments ran for postID.
func (s *PlatformStub) CommentCalls(postID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ListCommentsCalls[postID]
}

// ResetCalls clears the call counters.
func (s *PlatformStub) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListCommentsCalls = make(map[string]int)
}

func (s *PlatformStub) ListRecentPosts(_ context.Context, accountID, _ string, limit int) ([]platform.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListPostsErr != nil {
		return nil, s.ListPostsErr
	}
	posts := s.posts[accountID]
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return append([]platform.Post(nil), posts...), nil
}

func (s *PlatformStub) ListComments(_ context.Context, postID, _ string) ([]platform.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListCommentsCalls[postID]++
	if err := s.ListCommentsErr[postID]; err != nil {
		return nil, err
	}
	return append([]platform.Comment(nil), s.comments[postID]...), nil
}

func (s *PlatformStub) DeleteComment(_ context.Context, commentID, _ string) (bool, error) {
	if s.DeleteFn != nil {
		return s.DeleteFn(commentID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Deleted = append(s.Deleted, commentID)
	return true, nil
}

func (s *PlatformStub) SetHidden(_ context.Context, commentID, _ string, hidden bool) (bool, error) {
	if s.SetHiddenFn != nil {
		return s.SetHiddenFn(commentID, hidden)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.HiddenChanges[commentID] = hidden
	return true, nil
}

func (s *PlatformStub) GetAccountStats(_ context.Context, accountID, _ string) (platform.AccountStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats[accountID], nil
}
