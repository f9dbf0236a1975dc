// Package domain defines the outcome of an entitlement check.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	ledgerdomain "github.com/smallbiznis/featuregate/internal/ledger/domain"
	providerdomain "github.com/smallbiznis/featuregate/internal/provider/domain"
	subscriptiondomain "github.com/smallbiznis/featuregate/internal/subscription/domain"
)

// Resolver decides whether a user of a tenant may invoke a feature now.
// A denial is returned as one of the Err* sentinels below.
type Resolver interface {
	Resolve(ctx context.Context, tenantID, userID snowflake.ID, featureCode string) (*Decision, error)
}

// Decision is everything an allowed invocation needs downstream.
type Decision struct {
	Feature         featuredomain.Feature
	Provider        providerdomain.Provider
	Subscription    subscriptiondomain.Subscription
	UserAccess      *subscriptiondomain.UserAccess
	Balance         ledgerdomain.CreditBalance
	CreditsRequired int64
}

var (
	ErrFeatureUnavailable   = errors.New("feature_unavailable")
	ErrSubscriptionMissing  = errors.New("subscription_missing")
	ErrSubscriptionDisabled = errors.New("subscription_disabled")
	ErrSubscriptionExpired  = errors.New("subscription_expired")
	ErrUserAccessDenied     = errors.New("user_access_denied")
	ErrQuotaExceeded        = errors.New("quota_exceeded")
	ErrInsufficientCredits  = ledgerdomain.ErrInsufficientCredits
)

var denials = []error{
	ErrFeatureUnavailable,
	ErrSubscriptionMissing,
	ErrSubscriptionDisabled,
	ErrSubscriptionExpired,
	ErrUserAccessDenied,
	ErrQuotaExceeded,
	ErrInsufficientCredits,
}

// DenialReason returns the reason code of a denial, or "" for any other error.
func DenialReason(err error) string {
	for _, denial := range denials {
		if errors.Is(err, denial) {
			return denial.Error()
		}
	}
	return ""
}

// EffectiveCredits picks the subscription override, then the feature default, then 1.
func EffectiveCredits(sub *subscriptiondomain.Subscription, feature featuredomain.Feature) int64 {
	if sub != nil && sub.CreditsPerUse != nil {
		return *sub.CreditsPerUse
	}
	if feature.CreditsPerUse != nil {
		return *feature.CreditsPerUse
	}
	return 1
}
