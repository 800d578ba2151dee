package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"commentguard/internal/middleware"
	"commentguard/internal/observability"
	"commentguard/internal/retry"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
)

const (
	commentFields = "id,text,timestamp,hidden,from{id,username}"
	pageSize      = 50
)

// GraphConfig configures a GraphClient.
type GraphConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries uint64
	// RetryBase is the first exponential backoff interval.
	RetryBase time.Duration
}

// GraphClient talks to a Graph-style JSON API.
type GraphClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	policy  retry.Policy
}

// NewGraphClient returns a client for cfg.BaseURL.
func NewGraphClient(cfg GraphConfig) *GraphClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "platform",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			middleware.Logger.Warn("Circuit breaker state change",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &GraphClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		policy:  retry.Exponential(cfg.RetryBase, 8*cfg.RetryBase, cfg.MaxRetries),
	}
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type paging struct {
	Cursors struct {
		After string `json:"after"`
	} `json:"cursors"`
	Next string `json:"next"`
}

type graphUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type graphComment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Hidden    bool      `json:"hidden"`
	From      graphUser `json:"from"`
	Replies   *struct {
		Data []graphComment `json:"data"`
	} `json:"replies,omitempty"`
}

type graphMedia struct {
	ID            string    `json:"id"`
	Caption       string    `json:"caption"`
	Timestamp     time.Time `json:"timestamp"`
	CommentsCount int       `json:"comments_count"`
}

// statusError maps an HTTP status to the error taxonomy.
func statusError(status int, body []byte) error {
	var ge graphError
	_ = json.Unmarshal(body, &ge)
	msg := ge.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrPermission, msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrTransient, status, msg)
	default:
		return fmt.Errorf("platform: status %d: %s", status, msg)
	}
}

// do sends one request through the breaker and the retry policy and decodes the
// JSON response into out.
func (c *GraphClient) do(ctx context.Context, op, method, path string, query url.Values, token string, out any) error {
	ctx, span := observability.StartClientSpan(ctx, "platform", op, attribute.String("http.method", method))
	start := time.Now()

	err := retry.Do(ctx, c.policy, func(attempt int) error {
		body, status, err := c.roundTrip(ctx, method, path, query, token)
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return retry.Permanent(fmt.Errorf("%w: %v", ErrTransient, err))
			}
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		if status >= 300 {
			serr := statusError(status, body)
			if errors.Is(serr, ErrTransient) {
				if attempt > 0 {
					middleware.Logger.WarnContext(ctx, "platform call retry",
						slog.String("operation", op),
						slog.Int("attempt", attempt),
						slog.Int("status", status),
					)
				}
				return serr
			}
			return retry.Permanent(serr)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return retry.Permanent(fmt.Errorf("platform: decode %s: %w", op, err))
		}
		return nil
	})

	observability.ObservePlatformCall(op, start, err)
	observability.EndSpan(span, err)
	return err
}

func (c *GraphClient) roundTrip(ctx context.Context, method, path string, query url.Values, token string) ([]byte, int, error) {
	type result struct {
		body   []byte
		status int
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, err
		}
		// Only availability problems count against the breaker.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return result{body: body, status: resp.StatusCode}, statusError(resp.StatusCode, body)
		}
		return result{body: body, status: resp.StatusCode}, nil
	})
	if r, ok := res.(result); ok {
		return r.body, r.status, nil
	}
	return nil, 0, err
}

// ListRecentPosts pages through the account's media until limit posts are collected.
func (c *GraphClient) ListRecentPosts(ctx context.Context, accountID, token string, limit int) ([]Post, error) {
	var posts []Post
	after := ""
	for len(posts) < limit {
		q := url.Values{}
		q.Set("fields", "id,caption,timestamp,comments_count")
		q.Set("limit", strconv.Itoa(min(pageSize, limit-len(posts))))
		if after != "" {
			q.Set("after", after)
		}

		var page struct {
			Data   []graphMedia `json:"data"`
			Paging paging       `json:"paging"`
		}
		if err := c.do(ctx, "list_posts", http.MethodGet, "/"+url.PathEscape(accountID)+"/media", q, token, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Data {
			posts = append(posts, Post{
				ID:           m.ID,
				Caption:      m.Caption,
				PostedAt:     m.Timestamp,
				CommentCount: m.CommentsCount,
			})
		}
		if len(page.Data) == 0 || page.Paging.Next == "" || page.Paging.Cursors.After == "" {
			break
		}
		after = page.Paging.Cursors.After
	}
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// ListComments returns all comments on postID with replies flattened after their parent.
func (c *GraphClient) ListComments(ctx context.Context, postID, token string) ([]Comment, error) {
	var comments []Comment
	after := ""
	for {
		q := url.Values{}
		q.Set("fields", commentFields+",replies{"+commentFields+"}")
		q.Set("limit", strconv.Itoa(pageSize))
		if after != "" {
			q.Set("after", after)
		}

		var page struct {
			Data   []graphComment `json:"data"`
			Paging paging         `json:"paging"`
		}
		if err := c.do(ctx, "list_comments", http.MethodGet, "/"+url.PathEscape(postID)+"/comments", q, token, &page); err != nil {
			return nil, err
		}
		for _, gc := range page.Data {
			comments = append(comments, toComment(postID, "", gc))
			if gc.Replies == nil {
				continue
			}
			for _, reply := range gc.Replies.Data {
				comments = append(comments, toComment(postID, gc.ID, reply))
			}
		}
		if len(page.Data) == 0 || page.Paging.Next == "" || page.Paging.Cursors.After == "" {
			break
		}
		after = page.Paging.Cursors.After
	}
	return comments, nil
}

func toComment(postID, parentID string, gc graphComment) Comment {
	return Comment{
		ID:            gc.ID,
		PostID:        postID,
		ParentID:      parentID,
		Text:          gc.Text,
		CommenterID:   gc.From.ID,
		CommenterName: gc.From.Username,
		CreatedAt:     gc.Timestamp,
		Hidden:        gc.Hidden,
	}
}

type successResponse struct {
	Success bool `json:"success"`
}

// DeleteComment removes a comment. The boolean is the platform's confirmation.
func (c *GraphClient) DeleteComment(ctx context.Context, commentID, token string) (bool, error) {
	var resp successResponse
	if err := c.do(ctx, "delete_comment", http.MethodDelete, "/"+url.PathEscape(commentID), nil, token, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

// SetHidden hides or unhides a comment.
func (c *GraphClient) SetHidden(ctx context.Context, commentID, token string, hidden bool) (bool, error) {
	q := url.Values{}
	q.Set("hide", strconv.FormatBool(hidden))
	var resp successResponse
	if err := c.do(ctx, "set_hidden", http.MethodPost, "/"+url.PathEscape(commentID), q, token, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

// GetAccountStats returns follower and media counts.
func (c *GraphClient) GetAccountStats(ctx context.Context, accountID, token string) (AccountStats, error) {
	q := url.Values{}
	q.Set("fields", "followers_count,media_count")
	var resp struct {
		FollowersCount int64 `json:"followers_count"`
		MediaCount     int64 `json:"media_count"`
	}
	if err := c.do(ctx, "account_stats", http.MethodGet, "/"+url.PathEscape(accountID), q, token, &resp); err != nil {
		return AccountStats{}, err
	}
	return AccountStats{FollowerCount: resp.FollowersCount, MediaCount: resp.MediaCount}, nil
}
