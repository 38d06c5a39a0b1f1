package handler

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"kycgate/internal/verification/models"
)

type exchangeBody struct {
	Code            string `json:"code"`
	SimulateFailure string `json:"simulateFailure"`
}

type profileBody struct {
	AccessToken     string `json:"accessToken"`
	TenantID        string `json:"tenantId"`
	SimulateFailure string `json:"simulateFailure"`
}

type callbackBody struct {
	TenantID        string    `json:"tenantId"`
	Code            string    `json:"code"`
	State           string    `json:"state"`
	ExpectedState   string    `json:"expectedState"`
	StateCreatedAt  timestamp `json:"stateCreatedAt"`
	SimulateFailure string    `json:"simulateFailure"`
}

func (b callbackBody) toRequest(simulate models.SimulatedFailure) models.CallbackRequest {
	return models.CallbackRequest{
		TenantID:        strings.TrimSpace(b.TenantID),
		Code:            strings.TrimSpace(b.Code),
		State:           b.State,
		ExpectedState:   b.ExpectedState,
		StateCreatedAt:  b.StateCreatedAt.ptr(),
		SimulateFailure: simulate,
	}
}

// timestamp accepts stateCreatedAt as a JSON number or a numeric string. Null,
// absent and "" mean omitted. Any other value is kept as NaN so state
// validation rejects it rather than the decoder.
type timestamp struct {
	set   bool
	value float64
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*t = timestamp{}
	case float64:
		*t = timestamp{set: true, value: x}
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			*t = timestamp{}
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			f = math.NaN()
		}
		*t = timestamp{set: true, value: f}
	default:
		*t = timestamp{set: true, value: math.NaN()}
	}
	return nil
}

func (t timestamp) ptr() *float64 {
	if !t.set {
		return nil
	}
	v := t.value
	return &v
}
