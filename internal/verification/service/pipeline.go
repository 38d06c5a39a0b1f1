package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kycgate/internal/verification/models"
	"kycgate/internal/verification/provider"
	"kycgate/internal/verification/state"
	audit "kycgate/pkg/platform/audit"
	"kycgate/pkg/platform/sentinel"
	"kycgate/pkg/requestcontext"
)

// Verify runs the full pipeline:
//
//	INITIATED -> STATE_CHECK -> TOKEN_EXCHANGE -> PROFILE_FETCH -> WRITE -> DONE
//
// Each phase is terminal on failure. The returned stage is the last phase
// attempted; an error without a stage tag is attributed to the phase that was
// running when it surfaced.
func (s *Service) Verify(ctx context.Context, req models.CallbackRequest) models.Result {
	start := time.Now()
	defer s.metrics.ObservePipelineDuration(start)

	ctx, span := s.startSpan(ctx, "kyc.verify",
		attribute.String(attrTenantID, req.TenantID),
		attribute.Bool(attrTestMode, s.cfg.TestMode),
		attribute.String(attrSimulate, string(req.SimulateFailure)),
	)
	defer span.End()

	if strings.TrimSpace(req.TenantID) == "" {
		return s.fail(ctx, span, opCallback, models.PhaseInitiated, "", models.BadRequest(models.StageToken, MsgMissingTenant))
	}

	s.emit(ctx, audit.EventInitiated, audit.Event{
		TenantID: req.TenantID,
		Attributes: map[string]any{
			"test_mode":        s.cfg.TestMode,
			"simulate_failure": string(req.SimulateFailure),
		},
	})

	if err := s.validateState(ctx, req); err != nil {
		return s.fail(ctx, span, opCallback, models.PhaseStateCheck, req.TenantID, err)
	}

	if strings.TrimSpace(req.Code) == "" {
		return s.fail(ctx, span, opCallback, models.PhaseStateCheck, req.TenantID, models.BadRequest(models.StageToken, MsgMissingCode))
	}
	if !s.cfg.TestMode {
		if missing := s.cfg.MissingForPipeline(); len(missing) > 0 {
			return s.fail(ctx, span, opCallback, models.PhaseStateCheck, req.TenantID, configError(models.StageToken, missing))
		}
	}

	// Rejections above leave the state unconsumed.
	if err := s.consumeState(ctx, req); err != nil {
		return s.fail(ctx, span, opCallback, models.PhaseStateCheck, req.TenantID, err)
	}

	tok, err := s.runPhase(ctx, models.PhaseTokenExchange, func(ctx context.Context, span trace.Span) (any, error) {
		tok, err := s.provider.ExchangeCode(ctx, req.Code, s.cfg, provider.ExchangeOptions{Simulate: req.SimulateFailure})
		if err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.Bool(attrHasToken, tok.AccessToken != ""))
		s.emitTokenSuccess(ctx, req.TenantID, tok)
		return tok, nil
	})
	if err != nil {
		return s.fail(ctx, span, opCallback, models.PhaseTokenExchange, req.TenantID, err)
	}
	token := tok.(models.TokenPayload)

	prof, err := s.runPhase(ctx, models.PhaseProfileFetch, func(ctx context.Context, span trace.Span) (any, error) {
		profile, err := s.fetchProfile(ctx, token.AccessToken, req.TenantID, req.SimulateFailure)
		if err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.Int(attrFields, len(profile)))
		return profile, nil
	})
	if err != nil {
		return s.fail(ctx, span, opCallback, models.PhaseProfileFetch, req.TenantID, err)
	}
	profile := prof.(models.Profile)

	outcome := models.VerificationOutcome{
		TenantID: req.TenantID,
		TestMode: s.cfg.TestMode,
		Token:    token.Metadata(),
		Profile:  profile,
	}
	if _, err := s.runPhase(ctx, models.PhaseWrite, func(ctx context.Context, _ trace.Span) (any, error) {
		return nil, s.write(ctx, req, outcome)
	}); err != nil {
		return s.fail(ctx, span, opCallback, models.PhaseWrite, req.TenantID, err)
	}

	s.emit(ctx, audit.EventVerificationCompleted, audit.Event{
		TenantID: req.TenantID,
		Stage:    string(models.StageWrite),
		Attributes: map[string]any{
			"test_mode":      s.cfg.TestMode,
			"transaction_id": token.TransactionID,
		},
	})
	s.log(ctx, slog.LevelInfo, "verification completed",
		"tenant_id", req.TenantID,
		"test_mode", s.cfg.TestMode,
		"phase", string(models.PhaseDone),
	)
	return s.succeed(span, opCallback, models.Succeeded(models.StageWrite, "Verification completed", outcome))
}

// TestFlow runs Verify with harness defaults for any omitted state or code, so
// a dry run needs only a tenant id. The default code succeeds in test mode and
// is rejected by a live provider.
func (s *Service) TestFlow(ctx context.Context, req models.CallbackRequest) models.Result {
	if req.State == "" {
		req.State = TestFlowState
	}
	if req.ExpectedState == "" {
		req.ExpectedState = TestFlowState
	}
	if req.Code == "" {
		req.Code = provider.InvalidAuthCode
		if s.cfg.TestMode {
			req.Code = provider.MockAuthCode
		}
	}
	return s.Verify(ctx, req)
}

func (s *Service) runPhase(ctx context.Context, phase models.Phase, fn func(context.Context, trace.Span) (any, error)) (any, error) {
	ctx, span := s.startSpan(ctx, "kyc.phase."+strings.ToLower(string(phase)))
	defer span.End()

	v, err := fn(ctx, span)
	if err != nil {
		recordSpanError(span, err, models.StageOf(err, phase.Stage()))
		return nil, err
	}
	return v, nil
}

// validateState checks the presented state against the expected one and its TTL.
func (s *Service) validateState(ctx context.Context, req models.CallbackRequest) error {
	v := state.Validate(req.State, req.ExpectedState, req.StateCreatedAt, requestcontext.Now(ctx), s.cfg.StateTTL())
	if !v.OK {
		s.metrics.IncStateRejected(v.Reason)
		return models.BadRequest(models.StageToken, v.Reason)
	}
	if !v.TTLChecked {
		s.log(ctx, slog.LevelWarn, "state ttl check skipped",
			"tenant_id", req.TenantID,
			"reason", "stateCreatedAt omitted",
		)
	}
	return nil
}

// consumeState marks the state as used when a replay guard is set.
func (s *Service) consumeState(ctx context.Context, req models.CallbackRequest) error {
	if s.replay == nil {
		return nil
	}
	err := s.replay.Consume(ctx, req.ExpectedState, s.cfg.StateTTL())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		s.metrics.IncStateRejected(state.ReasonAlreadyUsed)
		return models.BadRequest(models.StageToken, state.ReasonAlreadyUsed)
	default:
		return models.WrapError(err, models.StageToken, http.StatusInternalServerError, MsgReplayCheckFailed)
	}
}

// write applies the simulated write failure, then hands the outcome to the
// store when one is configured.
func (s *Service) write(ctx context.Context, req models.CallbackRequest, outcome models.VerificationOutcome) error {
	if req.SimulateFailure == models.SimulateWrite {
		return models.Internal(models.StageWrite, MsgSimulatedWrite)
	}
	if s.store == nil {
		return nil
	}
	record := models.Record{
		ID:            uuid.NewString(),
		TenantID:      outcome.TenantID,
		TestMode:      outcome.TestMode,
		TokenType:     outcome.Token.TokenType,
		Scope:         outcome.Token.Scope,
		ExpiresIn:     outcome.Token.ExpiresIn,
		TransactionID: outcome.Token.TransactionID,
		ProfileFields: outcome.Profile.FieldNames(),
		Profile:       outcome.Profile,
		RequestID:     requestcontext.RequestID(ctx),
		VerifiedAt:    requestcontext.Now(ctx),
	}
	if err := s.store.Save(ctx, record); err != nil {
		return models.WrapError(err, models.StageWrite, http.StatusInternalServerError, MsgPersistFailed)
	}
	return nil
}
