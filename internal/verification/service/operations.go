package service

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"kycgate/internal/verification/models"
	"kycgate/internal/verification/provider"
	"kycgate/internal/verification/state"
	audit "kycgate/pkg/platform/audit"
	"kycgate/pkg/requestcontext"
)

// Initiate issues a fresh state and the provider authorization URL. The caller
// keeps the state and its creation time for the callback.
func (s *Service) Initiate(ctx context.Context) models.Result {
	ctx, span := s.startSpan(ctx, "kyc.initiate")
	defer span.End()

	if missing := s.cfg.MissingForInitiate(); len(missing) > 0 {
		return s.fail(ctx, span, opInitiate, models.PhaseInitiated, "", configError(models.StageToken, missing))
	}

	token := state.Generate(requestcontext.Now(ctx))
	s.metrics.IncStatesIssued()
	s.emit(ctx, audit.EventStateIssued, audit.Event{
		Stage:      string(models.StageToken),
		Attributes: map[string]any{"test_mode": s.cfg.TestMode},
	})

	return s.succeed(span, opInitiate, models.Succeeded(models.StageToken, "Authorization URL created", models.InitiateResult{
		State:            token.Value,
		AuthorizationURL: provider.AuthorizationURL(s.cfg, token.Value),
		StateCreatedAt:   token.CreatedAtMillis(),
	}))
}

// ExchangeCode runs only the code exchange and returns token metadata. The
// access token never leaves the service.
func (s *Service) ExchangeCode(ctx context.Context, req models.ExchangeRequest) models.Result {
	ctx, span := s.startSpan(ctx, "kyc.exchange",
		attribute.Bool(attrTestMode, s.cfg.TestMode),
		attribute.String(attrSimulate, string(req.SimulateFailure)),
	)
	defer span.End()

	if strings.TrimSpace(req.Code) == "" {
		return s.fail(ctx, span, opExchange, models.PhaseTokenExchange, "", models.BadRequest(models.StageToken, MsgMissingCode))
	}
	if !s.cfg.TestMode {
		if missing := s.cfg.MissingForExchange(); len(missing) > 0 {
			return s.fail(ctx, span, opExchange, models.PhaseTokenExchange, "", configError(models.StageToken, missing))
		}
	}

	tok, err := s.provider.ExchangeCode(ctx, req.Code, s.cfg, provider.ExchangeOptions{Simulate: req.SimulateFailure})
	if err != nil {
		return s.fail(ctx, span, opExchange, models.PhaseTokenExchange, "", err)
	}
	s.emitTokenSuccess(ctx, "", tok)
	span.SetAttributes(attribute.Bool(attrHasToken, tok.AccessToken != ""))

	return s.succeed(span, opExchange, models.Succeeded(models.StageToken, "Token exchange succeeded", ExchangeData{
		TestMode: s.cfg.TestMode,
		HasToken: tok.AccessToken != "",
		Token:    tok.Metadata(),
	}))
}

// FetchProfile runs only the profile fetch.
func (s *Service) FetchProfile(ctx context.Context, req models.ProfileRequest) models.Result {
	ctx, span := s.startSpan(ctx, "kyc.profile",
		attribute.String(attrTenantID, req.TenantID),
		attribute.Bool(attrTestMode, s.cfg.TestMode),
		attribute.String(attrSimulate, string(req.SimulateFailure)),
	)
	defer span.End()

	if strings.TrimSpace(req.AccessToken) == "" {
		return s.fail(ctx, span, opProfile, models.PhaseProfileFetch, req.TenantID, models.BadRequest(models.StageProfile, provider.MsgMissingAccessToken))
	}
	if !s.cfg.TestMode {
		if missing := s.cfg.MissingForProfile(); len(missing) > 0 {
			return s.fail(ctx, span, opProfile, models.PhaseProfileFetch, req.TenantID, configError(models.StageProfile, missing))
		}
	}

	profile, err := s.fetchProfile(ctx, req.AccessToken, req.TenantID, req.SimulateFailure)
	if err != nil {
		return s.fail(ctx, span, opProfile, models.PhaseProfileFetch, req.TenantID, err)
	}

	return s.succeed(span, opProfile, models.Succeeded(models.StageProfile, "Profile fetched", ProfileData{
		TenantID: req.TenantID,
		TestMode: s.cfg.TestMode,
		Profile:  profile,
	}))
}

// fetchProfile calls the provider, enforces required fields and emits the
// success audit event.
func (s *Service) fetchProfile(ctx context.Context, accessToken, tenantID string, simulate models.SimulatedFailure) (models.Profile, error) {
	profile, err := s.provider.FetchProfile(ctx, accessToken, s.cfg, provider.ProfileOptions{
		Simulate: simulate,
		TenantID: tenantID,
	})
	if err != nil {
		return nil, err
	}
	if missing := profile.MissingFields(s.cfg.RequiredProfileFields); len(missing) > 0 {
		return nil, models.Internal(models.StageProfile, "Profile missing required fields: "+strings.Join(missing, ", "))
	}

	fields := profile.FieldNames()
	s.emit(ctx, audit.EventProfileFetchSuccess, audit.Event{
		TenantID:   tenantID,
		Stage:      string(models.StageProfile),
		Attributes: map[string]any{"fields": fields},
	})
	s.log(ctx, slog.LevelDebug, "profile fetched", "tenant_id", tenantID, "field_count", len(fields))
	return profile, nil
}

// emitTokenSuccess records a token exchange without the token value.
func (s *Service) emitTokenSuccess(ctx context.Context, tenantID string, tok models.TokenPayload) {
	s.emit(ctx, audit.EventTokenExchangeSuccess, audit.Event{
		TenantID: tenantID,
		Stage:    string(models.StageToken),
		Attributes: map[string]any{
			"has_token":  tok.AccessToken != "",
			"token_type": tok.TokenType,
			"expires_in": tok.ExpiresIn,
		},
	})
}
