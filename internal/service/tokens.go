// Package service contains the moderation pipeline: sync, classification,
// enforcement and the human review loop.
package service

import (
	"context"
	"fmt"

	"commentguard/internal/credentials"
	"commentguard/internal/models"
	"commentguard/internal/platform"
)

// TokenSource yields the platform access token of an account.
type TokenSource interface {
	Token(ctx context.Context, account *models.Account) (string, error)
}

type sealedTokens struct {
	sealer *credentials.Sealer
}

// NewTokenSource opens sealed tokens with sealer. A nil sealer reads the stored
// value as plaintext, which is only acceptable outside production.
func NewTokenSource(sealer *credentials.Sealer) TokenSource {
	return &sealedTokens{sealer: sealer}
}

func (t *sealedTokens) Token(_ context.Context, account *models.Account) (string, error) {
	if account.SealedToken == "" {
		return "", fmt.Errorf("account %d has no access token: %w", account.ID, platform.ErrPermission)
	}
	if t.sealer == nil {
		return account.SealedToken, nil
	}
	token, err := t.sealer.Open(account.SealedToken)
	if err != nil {
		return "", fmt.Errorf("account %d token: %w", account.ID, platform.ErrPermission)
	}
	return token, nil
}
