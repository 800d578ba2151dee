package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	PrecedentsKeyPrefix = "precedents:%d"
	ThresholdKeyPrefix  = "threshold:%d"
	FiltersKeyPrefix    = "filters:%d"
)

const (
	PrecedentsTTL = 10 * time.Minute
	ThresholdTTL  = time.Hour
	FiltersTTL    = 5 * time.Minute
)

func PrecedentsKey(accountID uint) string {
	return fmt.Sprintf(PrecedentsKeyPrefix, accountID)
}

func ThresholdKey(accountID uint) string {
	return fmt.Sprintf(ThresholdKeyPrefix, accountID)
}

func FiltersKey(accountID uint) string {
	return fmt.Sprintf(FiltersKeyPrefix, accountID)
}

func Invalidate(ctx context.Context, keys ...string) {
	if client != nil && len(keys) > 0 {
		client.Del(ctx, keys...)
	}
}

// InvalidateReviewState drops everything a review action can change for an account.
func InvalidateReviewState(ctx context.Context, accountID uint) {
	Invalidate(ctx, PrecedentsKey(accountID), FiltersKey(accountID))
}
