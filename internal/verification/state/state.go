// Package state generates and validates the anti-forgery state that binds an
// initiate call to its callback. The server keeps nothing between the two calls;
// the caller holds the expected state and its creation time.
package state

import (
	"crypto/rand"
	"math"
	"strconv"
	"time"
)

// Validation failure reasons. Callers render these verbatim.
const (
	ReasonMissing        = "Missing OAuth state or expectedState"
	ReasonMismatch       = "State mismatch"
	ReasonInvalidCreated = "Invalid stateCreatedAt"
	ReasonExpired        = "State expired"
	ReasonAlreadyUsed    = "State already used"
)

// Token is a freshly generated state value and its creation time.
type Token struct {
	Value     string
	CreatedAt time.Time
}

// CreatedAtMillis is the creation time in unix milliseconds, the unit callers
// echo back as stateCreatedAt.
func (t Token) CreatedAtMillis() int64 {
	return t.CreatedAt.UnixMilli()
}

// Generate returns a state built from a base36 nanosecond timestamp followed
// by 128 random bits, so two tokens minted within one clock tick still differ.
func Generate(now time.Time) Token {
	return Token{
		Value:     strconv.FormatInt(now.UnixNano(), 36) + rand.Text(),
		CreatedAt: now,
	}
}

// Validation is the outcome of Validate. Reason is empty when OK.
type Validation struct {
	OK     bool
	Reason string
	// TTLChecked is false when no creation time was presented.
	TTLChecked bool
}

// Validate checks a presented state against the expected one. createdAt is in
// unix milliseconds; when nil the TTL check is skipped and the state has no
// bounded lifetime. An age of exactly ttl is still valid.
func Validate(presented, expected string, createdAt *float64, now time.Time, ttl time.Duration) Validation {
	if presented == "" || expected == "" {
		return Validation{Reason: ReasonMissing}
	}
	if presented != expected {
		return Validation{Reason: ReasonMismatch}
	}
	if createdAt == nil {
		return Validation{OK: true}
	}

	created := *createdAt
	if math.IsNaN(created) || math.IsInf(created, 0) {
		return Validation{Reason: ReasonInvalidCreated, TTLChecked: true}
	}
	ageMillis := float64(now.UnixMilli()) - created
	if ageMillis > float64(ttl.Milliseconds()) {
		return Validation{Reason: ReasonExpired, TTLChecked: true}
	}
	return Validation{OK: true, TTLChecked: true}
}
