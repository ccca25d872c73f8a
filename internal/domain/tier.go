package domain

import "time"

// Tier represents a subscription plan. Plans are managed by billing;
// the core only reads them to derive quota ceilings.
type Tier string

const (
	TierFree     Tier = "free"
	TierPro      Tier = "pro"
	TierBusiness Tier = "business"
)

// IsValidTier checks if a tier is valid
func IsValidTier(t Tier) bool {
	return t == TierFree || t == TierPro || t == TierBusiness
}

// TierLimits holds the quota ceilings derived from a tier
type TierLimits struct {
	// MaxEndpoints is the maximum number of live endpoints per owner
	MaxEndpoints int
	// RateLimitPerHour is the ceiling for one endpoint's hourly event bucket
	RateLimitPerHour int
	// MaxConnectionsPerEndpoint caps concurrent forwarding sessions per endpoint
	MaxConnectionsPerEndpoint int
	// EventRetention is how long stored events survive before the expiry sweep
	EventRetention time.Duration
}

var tierLimits = map[Tier]TierLimits{
	TierFree: {
		MaxEndpoints:              3,
		RateLimitPerHour:          100,
		MaxConnectionsPerEndpoint: 2,
		EventRetention:            7 * 24 * time.Hour,
	},
	TierPro: {
		MaxEndpoints:              20,
		RateLimitPerHour:          5000,
		MaxConnectionsPerEndpoint: 10,
		EventRetention:            30 * 24 * time.Hour,
	},
	TierBusiness: {
		MaxEndpoints:              100,
		RateLimitPerHour:          50000,
		MaxConnectionsPerEndpoint: 50,
		EventRetention:            90 * 24 * time.Hour,
	},
}

// Limits returns the quota ceilings for the tier. Unknown tiers fall back
// to the free tier's ceilings.
func (t Tier) Limits() TierLimits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[TierFree]
}

// Subscription represents an owner's plan. Read-only to the core;
// changed by billing.
type Subscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Tier      Tier      `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HourBucket truncates t to the start of its UTC clock hour. Rate-limit
// counters are keyed on (endpoint, hour bucket).
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// BucketResetAt returns when the bucket containing t rolls over
func BucketResetAt(t time.Time) time.Time {
	return HourBucket(t).Add(time.Hour)
}
