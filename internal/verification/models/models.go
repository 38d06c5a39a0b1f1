package models

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Stage identifies the pipeline phase that produced a result.
type Stage string

const (
	StageToken   Stage = "token"
	StageProfile Stage = "profile"
	StageWrite   Stage = "write"
)

// SimulatedFailure forces a given stage to fail. Test harnesses only.
type SimulatedFailure string

const (
	SimulateNone    SimulatedFailure = ""
	SimulateToken   SimulatedFailure = "token"
	SimulateProfile SimulatedFailure = "profile"
	SimulateWrite   SimulatedFailure = "write"
)

// ParseSimulatedFailure accepts the selectors callers may send. Unknown values
// report ok=false.
func ParseSimulatedFailure(raw string) (SimulatedFailure, bool) {
	switch SimulatedFailure(strings.ToLower(strings.TrimSpace(raw))) {
	case SimulateNone:
		return SimulateNone, true
	case SimulateToken:
		return SimulateToken, true
	case SimulateProfile:
		return SimulateProfile, true
	case SimulateWrite:
		return SimulateWrite, true
	default:
		return SimulateNone, false
	}
}

// Phase is the pipeline state machine position.
type Phase string

const (
	PhaseInitiated     Phase = "INITIATED"
	PhaseStateCheck    Phase = "STATE_CHECK"
	PhaseTokenExchange Phase = "TOKEN_EXCHANGE"
	PhaseProfileFetch  Phase = "PROFILE_FETCH"
	PhaseWrite         Phase = "WRITE"
	PhaseDone          Phase = "DONE"
)

// Stage maps a phase onto the stage tag reported to callers.
func (p Phase) Stage() Stage {
	switch p {
	case PhaseProfileFetch:
		return StageProfile
	case PhaseWrite, PhaseDone:
		return StageWrite
	default:
		return StageToken
	}
}

// CallbackRequest is the input to the full pipeline.
type CallbackRequest struct {
	TenantID        string
	Code            string
	State           string
	ExpectedState   string
	StateCreatedAt  *float64 // unix milliseconds; nil skips the TTL check
	SimulateFailure SimulatedFailure
}

// ExchangeRequest is the input to the code-exchange-only operation.
type ExchangeRequest struct {
	Code            string
	SimulateFailure SimulatedFailure
}

// ProfileRequest is the input to the profile-only operation.
type ProfileRequest struct {
	AccessToken     string
	TenantID        string
	SimulateFailure SimulatedFailure
}

// TokenPayload is the result of a code exchange. AccessToken is a secret and
// must never reach logs, audit events or responses.
type TokenPayload struct {
	AccessToken   string
	TokenType     string
	ExpiresIn     int64
	Scope         string
	TransactionID string
}

// Metadata returns the loggable, non-secret part of the payload.
func (t TokenPayload) Metadata() TokenMetadata {
	return TokenMetadata{
		TokenType:     t.TokenType,
		ExpiresIn:     t.ExpiresIn,
		Scope:         t.Scope,
		TransactionID: t.TransactionID,
	}
}

// TokenMetadata is the token information safe to return to callers.
type TokenMetadata struct {
	TokenType     string `json:"tokenType"`
	ExpiresIn     int64  `json:"expiresIn"`
	Scope         string `json:"scope,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

// Profile is the provider-defined identity attribute bag.
type Profile map[string]any

// FieldNames returns the profile attribute names in sorted order.
func (p Profile) FieldNames() []string {
	return slices.Sorted(maps.Keys(p))
}

// MissingFields reports which of the required attributes are absent or empty.
func (p Profile) MissingFields(required []string) []string {
	var missing []string
	for _, field := range required {
		v, ok := p[field]
		if !ok || v == nil {
			missing = append(missing, field)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// InitiateResult carries a new state and the provider authorization URL.
type InitiateResult struct {
	State            string `json:"state"`
	AuthorizationURL string `json:"authorizationUrl"`
	StateCreatedAt   int64  `json:"stateCreatedAt"`
}

// VerificationOutcome is the success payload of the full pipeline.
type VerificationOutcome struct {
	TenantID string        `json:"tenantId"`
	TestMode bool          `json:"testMode"`
	Token    TokenMetadata `json:"token"`
	Profile  Profile       `json:"profile"`
}

// Record is what the result store persists for a completed verification.
type Record struct {
	ID            string
	TenantID      string
	TestMode      bool
	TokenType     string
	Scope         string
	ExpiresIn     int64
	TransactionID string
	ProfileFields []string
	Profile       Profile
	RequestID     string
	VerifiedAt    time.Time
}
