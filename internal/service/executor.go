package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"commentguard/internal/middleware"
	"commentguard/internal/models"
	"commentguard/internal/observability"
	"commentguard/internal/platform"
	"commentguard/internal/repository"
)

var errDeclined = errors.New("platform declined the request")

// Confirmation is what the platform reported for one enforcement call.
type Confirmation struct {
	Operation string    `json:"operation"`
	Remote    string    `json:"remote_id"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

func (c *Confirmation) String() string {
	if c == nil {
		return ""
	}
	b, _ := json.Marshal(c)
	return string(b)
}

// Payloads are the classification exchange kept as evidence.
type Payloads struct {
	Request  string
	Response string
}

// ActionExecutor applies decisions to the remote platform and records the outcome.
type ActionExecutor struct {
	comments  repository.CommentRepository
	decisions repository.DecisionRepository
	platform  platform.Client
	tokens    TokenSource
	now       func() time.Time
}

// NewActionExecutor returns a new ActionExecutor.
func NewActionExecutor(
	comments repository.CommentRepository,
	decisions repository.DecisionRepository,
	client platform.Client,
	tokens TokenSource,
) *ActionExecutor {
	return &ActionExecutor{comments: comments, decisions: decisions, platform: client, tokens: tokens, now: time.Now}
}

// Execute carries out d on comment c, which must be CLASSIFYING, and returns the
// status it ends in. A rejected platform call is recorded on the comment and routes
// it to review instead of failing. Allowing a comment an earlier run hid unhides
// it. Evidence is written for every decision.
func (e *ActionExecutor) Execute(ctx context.Context, account *models.Account, c *models.Comment, d *models.ModerationDecision, p Payloads) (models.ModerationStatus, error) {
	status := d.ActionTaken.ResultingStatus()

	action := d.ActionTaken
	if action == models.ActionAllow && c.HiddenAt == nil {
		// Only hides this pipeline made are undone; the owner's own hides stay.
		action = models.ActionNone
	}
	conf, fields, actionErr := e.enforce(ctx, account, c, action)
	if actionErr != nil {
		status = models.StatusFlaggedForReview
		observability.ActionFailures.WithLabelValues(string(d.ActionTaken)).Inc()
		middleware.Logger.WarnContext(ctx, "enforcement failed, routing to review",
			slog.Uint64("comment_id", uint64(c.ID)),
			slog.String("action", string(d.ActionTaken)),
			slog.String("error", actionErr.Error()),
		)
	}
	if err := e.comments.UpdateFields(ctx, c.ID, fields); err != nil {
		return "", fmt.Errorf("record enforcement: %w", err)
	}

	ok, err := e.comments.TransitionStatus(ctx, c.ID, status, models.StatusClassifying)
	if err != nil {
		return "", fmt.Errorf("transition to %s: %w", status, err)
	}
	if !ok {
		middleware.Logger.WarnContext(ctx, "comment left CLASSIFYING concurrently",
			slog.Uint64("comment_id", uint64(c.ID)), slog.String("wanted", string(status)))
	}
	c.Status = status

	evidence := &models.EvidenceRecord{
		DecisionID:           d.ID,
		CommentID:            c.ID,
		AccountID:            c.AccountID,
		RawText:              c.Text,
		RawCommenterID:       c.CommenterID,
		RawCommenterName:     c.CommenterName,
		RequestPayload:       p.Request,
		ResponsePayload:      p.Response,
		FormulaInputs:        d.FormulaTrace,
		PlatformConfirmation: conf.String(),
	}
	if actionErr != nil {
		evidence.ActionError = actionErr.Error()
	}
	// A resumed decision already has its evidence row.
	if err := e.decisions.CreateEvidence(ctx, evidence); err != nil && models.ErrorCode(err) != "CONFLICT" {
		return status, fmt.Errorf("write evidence: %w", err)
	}
	return status, nil
}

// Enforce applies a reviewer's verdict to c on the platform. Allowing a hidden
// comment unhides it. The comment's flags are updated either way.
func (e *ActionExecutor) Enforce(ctx context.Context, account *models.Account, c *models.Comment, action models.ActionType) (*Confirmation, error) {
	conf, fields, err := e.enforce(ctx, account, c, action)
	if action == models.ActionAllow {
		fields["is_allowed"] = err == nil
	}
	if uerr := e.comments.UpdateFields(ctx, c.ID, fields); uerr != nil {
		return conf, uerr
	}
	return conf, err
}

// enforce returns the comment fields to persist whether or not the call succeeds.
// An allow on a comment hidden by an earlier decision unhides it.
func (e *ActionExecutor) enforce(ctx context.Context, account *models.Account, c *models.Comment, action models.ActionType) (*Confirmation, map[string]interface{}, error) {
	switch action {
	case models.ActionDelete:
		if c.IsDeleted {
			return nil, map[string]interface{}{}, nil
		}
		return e.call(ctx, account, c, "delete")
	case models.ActionHide:
		if c.IsHidden {
			return nil, map[string]interface{}{}, nil
		}
		return e.call(ctx, account, c, "hide")
	case models.ActionAllow:
		if c.IsHidden && !c.IsDeleted {
			return e.call(ctx, account, c, "unhide")
		}
		return nil, map[string]interface{}{}, nil
	default:
		return nil, map[string]interface{}{}, nil
	}
}

func (e *ActionExecutor) call(ctx context.Context, account *models.Account, c *models.Comment, op string) (*Confirmation, map[string]interface{}, error) {
	now := e.now()
	conf := &Confirmation{Operation: op, Remote: c.ExternalID, At: now}
	fields := map[string]interface{}{}

	token, err := e.tokens.Token(ctx, account)
	var ok bool
	if err == nil {
		switch op {
		case "delete":
			ok, err = e.platform.DeleteComment(ctx, c.ExternalID, token)
		case "hide":
			ok, err = e.platform.SetHidden(ctx, c.ExternalID, token, true)
		case "unhide":
			ok, err = e.platform.SetHidden(ctx, c.ExternalID, token, false)
		}
		if err == nil && !ok {
			err = errDeclined
		}
	}

	conf.OK = err == nil
	switch op {
	case "delete":
		if err != nil {
			fields["delete_error"] = err.Error()
		} else {
			fields["is_deleted"] = true
			fields["platform_deleted_at"] = now
			fields["delete_error"] = ""
			c.IsDeleted = true
		}
	case "hide", "unhide":
		if err != nil {
			fields["hide_error"] = err.Error()
		} else {
			hidden := op == "hide"
			fields["is_hidden"] = hidden
			fields["hide_error"] = ""
			if hidden {
				fields["hidden_at"] = now
			} else {
				fields["hidden_at"] = nil
			}
			c.IsHidden = hidden
		}
	}
	if err != nil {
		conf.Error = err.Error()
	}
	return conf, fields, err
}
