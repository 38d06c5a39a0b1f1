package service

import "kycgate/internal/verification/models"

// Failure messages raised by the orchestrator itself.
const (
	MsgMissingTenant     = "Missing tenantId"
	MsgMissingCode       = "Missing authorization code"
	MsgSimulatedWrite    = "Simulated write failure"
	MsgPersistFailed     = "Failed to persist verification result"
	MsgReplayCheckFailed = "State replay check failed"
)

// Test-flow defaults applied when the caller omits them.
const (
	TestFlowState = "test_state"
)

// ExchangeData is the success payload of the exchange-only operation.
type ExchangeData struct {
	TestMode bool                 `json:"testMode"`
	HasToken bool                 `json:"hasToken"`
	Token    models.TokenMetadata `json:"token"`
}

// ProfileData is the success payload of the profile-only operation.
type ProfileData struct {
	TenantID string         `json:"tenantId,omitempty"`
	TestMode bool           `json:"testMode"`
	Profile  models.Profile `json:"profile"`
}
