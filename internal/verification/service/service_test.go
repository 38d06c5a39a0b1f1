package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"kycgate/internal/platform/config"
	"kycgate/internal/verification/metrics"
	"kycgate/internal/verification/models"
	"kycgate/internal/verification/provider"
	"kycgate/internal/verification/service/mocks"
	"kycgate/internal/verification/state"
	"kycgate/internal/verification/state/replay"
	verificationStore "kycgate/internal/verification/store"
	audit "kycgate/pkg/platform/audit"
	"kycgate/pkg/platform/audit/publisher"
	auditmemory "kycgate/pkg/platform/audit/store/memory"
	"kycgate/pkg/platform/sentinel"
	"kycgate/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Provider,Store,ReplayGuard,AuditPublisher

const tenantID = "tenant-42"

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

type ServiceSuite struct {
	suite.Suite
	ctx        context.Context
	auditStore *auditmemory.InMemoryStore
	records    *verificationStore.InMemoryStore
	metrics    *metrics.Metrics
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), fixedNow)
	s.ctx = requestcontext.WithRequestID(s.ctx, "req-1")
	s.ctx = requestcontext.WithClientMetadata(s.ctx, "203.0.113.7", "Mozilla/5.0")
	s.auditStore = auditmemory.NewInMemoryStore()
	s.records = verificationStore.NewInMemory()
	s.metrics = metrics.New(prometheus.NewRegistry())
}

func testModeConfig() config.Verification {
	return config.Verification{
		ClientID:        "client-123",
		RedirectURI:     "https://app.example/kyc/callback",
		AuthURL:         "https://idp.example/authorize",
		Scopes:          []string{"openid", "profile"},
		TimeoutMS:       2000,
		StateTTLSeconds: 600,
		TestMode:        true,
	}
}

func liveConfig() config.Verification {
	cfg := testModeConfig()
	cfg.TestMode = false
	cfg.ClientSecret = "s3cret"
	cfg.TokenURL = "https://idp.example/token"
	cfg.ProfileURL = "https://idp.example/userinfo"
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newService wires the real provider client with in-memory collaborators.
func (s *ServiceSuite) newService(cfg config.Verification, opts ...Option) *Service {
	base := []Option{
		WithLogger(discardLogger()),
		WithAuditPublisher(publisher.NewPublisher(s.auditStore)),
		WithMetrics(s.metrics),
		WithStore(s.records),
	}
	svc, err := New(cfg, provider.New(), append(base, opts...)...)
	s.Require().NoError(err)
	return svc
}

func createdAgo(d time.Duration) *float64 {
	ms := float64(fixedNow.Add(-d).UnixMilli())
	return &ms
}

func validCallback() models.CallbackRequest {
	return models.CallbackRequest{
		TenantID:       tenantID,
		Code:           "auth-code-1",
		State:          "state-abc",
		ExpectedState:  "state-abc",
		StateCreatedAt: createdAgo(30 * time.Second),
	}
}

func (s *ServiceSuite) lastAudit() audit.Event {
	events, err := s.auditStore.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Require().NotEmpty(events)
	return events[len(events)-1]
}

func (s *ServiceSuite) TestNewRequiresProvider() {
	_, err := New(testModeConfig(), nil)
	s.Require().Error(err)
}

func (s *ServiceSuite) TestVerify() {
	s.Run("valid callback in test mode completes at write", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig())

		res := svc.Verify(s.ctx, validCallback())

		s.Require().True(res.Success, res.Message)
		s.Equal(models.StageWrite, res.Stage)
		s.Equal(http.StatusOK, res.Status)
		outcome, ok := res.Data.(models.VerificationOutcome)
		s.Require().True(ok)
		s.Equal(tenantID, outcome.TenantID)
		s.True(outcome.TestMode)
		s.Equal("Bearer", outcome.Token.TokenType)
		s.Equal(int64(3600), outcome.Token.ExpiresIn)
		s.Equal(tenantID, outcome.Profile["tenantId"])

		s.Equal([]string{
			string(audit.EventInitiated),
			string(audit.EventTokenExchangeSuccess),
			string(audit.EventProfileFetchSuccess),
			string(audit.EventVerificationCompleted),
		}, s.auditStore.Actions())

		records, err := s.records.ListByTenant(s.ctx, tenantID)
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal("req-1", records[0].RequestID)
		s.Equal(fixedNow, records[0].VerifiedAt)
		s.Equal(outcome.Profile.FieldNames(), records[0].ProfileFields)
		s.Equal(float64(1), promtest.ToFloat64(s.metrics.PipelineResults.WithLabelValues(opCallback, "write", "success")))
	})

	s.Run("result payload never carries the access token", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig())

		res := svc.Verify(s.ctx, validCallback())

		raw, err := json.Marshal(res)
		s.Require().NoError(err)
		s.NotContains(string(raw), provider.MockToken.AccessToken)
		for _, e := range mustListAll(s) {
			encoded, err := json.Marshal(e)
			s.Require().NoError(err)
			s.NotContains(string(encoded), provider.MockToken.AccessToken)
		}
	})

	s.Run("mismatched state fails at token with 400", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig())
		req := validCallback()
		req.ExpectedState = "state-other"

		res := svc.Verify(s.ctx, req)

		s.False(res.Success)
		s.Equal(models.StageToken, res.Stage)
		s.Equal(state.ReasonMismatch, res.Message)
		s.Equal(http.StatusBadRequest, res.Status)

		last := s.lastAudit()
		s.Equal(string(audit.EventFailureReason), last.Action)
		s.Equal(audit.SeverityWarning, last.Severity)
		s.Equal(state.ReasonMismatch, last.Reason)
		s.Equal("203.0.113.7", last.ClientIP)
		s.Equal(float64(1), promtest.ToFloat64(s.metrics.StateRejections.WithLabelValues(state.ReasonMismatch)))
	})

	s.Run("state older than ttl is expired", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig())
		req := validCallback()
		req.StateCreatedAt = createdAgo(600*time.Second + time.Millisecond)

		res := svc.Verify(s.ctx, req)

		s.Equal(http.StatusBadRequest, res.Status)
		s.Equal(state.ReasonExpired, res.Message)
	})

	s.Run("state exactly ttl old is accepted", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig())
		req := validCallback()
		req.StateCreatedAt = createdAgo(600 * time.Second)

		res := svc.Verify(s.ctx, req)

		s.True(res.Success, res.Message)
	})

	s.Run("omitted stateCreatedAt skips the ttl check", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig())
		req := validCallback()
		req.StateCreatedAt = nil

		res := svc.Verify(s.ctx, req)

		s.True(res.Success, res.Message)
	})

	s.Run("missing tenant is a caller error", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig())
		req := validCallback()
		req.TenantID = "  "

		res := svc.Verify(s.ctx, req)

		s.Equal(models.StageToken, res.Stage)
		s.Equal(http.StatusBadRequest, res.Status)
		s.Equal(MsgMissingTenant, res.Message)
	})

	s.Run("missing code is a caller error", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig())
		req := validCallback()
		req.Code = ""

		res := svc.Verify(s.ctx, req)

		s.Equal(models.StageToken, res.Stage)
		s.Equal(http.StatusBadRequest, res.Status)
		s.Equal(MsgMissingCode, res.Message)
	})

	s.Run("invalid code in test mode fails at token", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig())
		req := validCallback()
		req.Code = "invalid_code"

		res := svc.Verify(s.ctx, req)

		s.Equal(models.StageToken, res.Stage)
		s.Equal(http.StatusInternalServerError, res.Status)
		s.Equal(provider.MsgInvalidCode, res.Message)
	})

	s.Run("incomplete live config fails at token with 500", func() {
		s.SetupTest()
		cfg := liveConfig()
		cfg.ProfileURL = ""
		svc := s.newService(cfg)

		res := svc.Verify(s.ctx, validCallback())

		s.Equal(models.StageToken, res.Stage)
		s.Equal(http.StatusInternalServerError, res.Status)
		s.Contains(res.Message, "KYC_PROFILE_URL")
		s.Equal(audit.SeverityError, s.lastAudit().Severity)
	})

	s.Run("required profile fields are enforced", func() {
		s.SetupTest()
		cfg := testModeConfig()
		cfg.RequiredProfileFields = []string{"name", "nationalId"}
		svc := s.newService(cfg)

		res := svc.Verify(s.ctx, validCallback())

		s.Equal(models.StageProfile, res.Stage)
		s.Equal(http.StatusInternalServerError, res.Status)
		s.Equal("Profile missing required fields: nationalId", res.Message)
	})
}

func mustListAll(s *ServiceSuite) []audit.Event {
	events, err := s.auditStore.ListAll(s.ctx)
	s.Require().NoError(err)
	return events
}

func (s *ServiceSuite) TestVerifySimulatedFailures() {
	cases := []struct {
		name     string
		simulate models.SimulatedFailure
		stage    models.Stage
		message  string
		live     bool
	}{
		{name: "token in test mode", simulate: models.SimulateToken, stage: models.StageToken, message: provider.MsgSimulatedToken},
		{name: "token in live mode", simulate: models.SimulateToken, stage: models.StageToken, message: provider.MsgSimulatedToken, live: true},
		{name: "profile", simulate: models.SimulateProfile, stage: models.StageProfile, message: provider.MsgSimulatedProfile},
		{name: "write", simulate: models.SimulateWrite, stage: models.StageWrite, message: MsgSimulatedWrite},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.SetupTest()
			cfg := testModeConfig()
			if tc.live {
				cfg = liveConfig()
			}
			svc := s.newService(cfg)
			req := validCallback()
			req.SimulateFailure = tc.simulate

			res := svc.Verify(s.ctx, req)

			s.False(res.Success)
			s.Equal(tc.stage, res.Stage)
			s.Equal(http.StatusInternalServerError, res.Status)
			s.Equal(tc.message, res.Message)

			records, err := s.records.ListByTenant(s.ctx, tenantID)
			s.Require().NoError(err)
			s.Empty(records)
		})
	}
}

func (s *ServiceSuite) TestTestFlow() {
	s.Run("tenant only succeeds in test mode", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig())

		res := svc.TestFlow(s.ctx, models.CallbackRequest{TenantID: tenantID})

		s.True(res.Success, res.Message)
		s.Equal(models.StageWrite, res.Stage)
	})

	s.Run("live mode sends the invalid sentinel code", func() {
		s.SetupTest()
		ctrl := gomock.NewController(s.T())
		mockProvider := mocks.NewMockProvider(ctrl)
		mockProvider.EXPECT().
			ExchangeCode(gomock.Any(), provider.InvalidAuthCode, gomock.Any(), gomock.Any()).
			Return(models.TokenPayload{}, models.Internal(models.StageToken, "Token exchange failed: status=400 body={\"error\":\"invalid_grant\"}"))

		svc, err := New(liveConfig(), mockProvider, WithLogger(discardLogger()))
		s.Require().NoError(err)

		res := svc.TestFlow(s.ctx, models.CallbackRequest{TenantID: tenantID})

		s.False(res.Success)
		s.Equal(models.StageToken, res.Stage)
		s.Contains(res.Message, "status=400")
	})
}

func (s *ServiceSuite) TestVerifyErrorAttribution() {
	s.Run("untyped profile error is attributed to profile", func() {
		s.SetupTest()
		ctrl := gomock.NewController(s.T())
		mockProvider := mocks.NewMockProvider(ctrl)
		mockProvider.EXPECT().ExchangeCode(gomock.Any(), "auth-code-1", gomock.Any(), gomock.Any()).Return(provider.MockToken, nil)
		mockProvider.EXPECT().FetchProfile(gomock.Any(), provider.MockToken.AccessToken, gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset by peer"))

		svc, err := New(liveConfig(), mockProvider, WithLogger(discardLogger()))
		s.Require().NoError(err)

		res := svc.Verify(s.ctx, validCallback())

		s.Equal(models.StageProfile, res.Stage)
		s.Equal(http.StatusInternalServerError, res.Status)
		s.Equal("connection reset by peer", res.Message)
	})

	s.Run("untyped token error mentioning profile stays at token", func() {
		s.SetupTest()
		ctrl := gomock.NewController(s.T())
		mockProvider := mocks.NewMockProvider(ctrl)
		mockProvider.EXPECT().ExchangeCode(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(models.TokenPayload{}, errors.New("profile service unreachable"))

		svc, err := New(liveConfig(), mockProvider)
		s.Require().NoError(err)

		res := svc.Verify(s.ctx, validCallback())

		s.Equal(models.StageToken, res.Stage)
	})

	s.Run("store failure is attributed to write", func() {
		s.SetupTest()
		ctrl := gomock.NewController(s.T())
		mockStore := mocks.NewMockStore(ctrl)
		mockStore.EXPECT().Save(gomock.Any(), gomock.Any()).Return(sentinel.ErrUnavailable)

		svc := s.newService(testModeConfig(), WithStore(mockStore))

		res := svc.Verify(s.ctx, validCallback())

		s.Equal(models.StageWrite, res.Stage)
		s.Equal(http.StatusInternalServerError, res.Status)
		s.Equal(MsgPersistFailed, res.Message)
	})

	s.Run("audit failures do not fail the pipeline", func() {
		s.SetupTest()
		ctrl := gomock.NewController(s.T())
		mockAudit := mocks.NewMockAuditPublisher(ctrl)
		mockAudit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("sink down")).Times(4)

		svc := s.newService(testModeConfig(), WithAuditPublisher(mockAudit))

		res := svc.Verify(s.ctx, validCallback())

		s.True(res.Success, res.Message)
	})

	s.Run("callbacks rejected before the exchange do not consume the state", func() {
		s.SetupTest()
		ctrl := gomock.NewController(s.T())
		guard := mocks.NewMockReplayGuard(ctrl)

		noCode := validCallback()
		noCode.Code = "  "
		res := s.newService(testModeConfig(), WithReplayGuard(guard)).Verify(s.ctx, noCode)
		s.Equal(http.StatusBadRequest, res.Status)
		s.Equal(MsgMissingCode, res.Message)

		cfg := liveConfig()
		cfg.ClientSecret = ""
		res = s.newService(cfg, WithReplayGuard(guard)).Verify(s.ctx, validCallback())
		s.Equal(models.StageToken, res.Stage)
		s.Equal(http.StatusInternalServerError, res.Status)
	})

	s.Run("state stays usable after a missing code and is single use after success", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig(), WithReplayGuard(replay.NewMemoryGuard()))

		noCode := validCallback()
		noCode.Code = ""
		s.Equal(http.StatusBadRequest, svc.Verify(s.ctx, noCode).Status)

		res := svc.Verify(s.ctx, validCallback())
		s.Require().True(res.Success, res.Message)

		res = svc.Verify(s.ctx, validCallback())
		s.Equal(http.StatusBadRequest, res.Status)
		s.Equal(state.ReasonAlreadyUsed, res.Message)
	})
}

func (s *ServiceSuite) TestVerifyReplayGuard() {
	s.Run("consumed state is rejected", func() {
		s.SetupTest()
		ctrl := gomock.NewController(s.T())
		guard := mocks.NewMockReplayGuard(ctrl)
		guard.EXPECT().Consume(gomock.Any(), "state-abc", 600*time.Second).Return(sentinel.ErrAlreadyUsed)
		mockProvider := mocks.NewMockProvider(ctrl)

		svc, err := New(testModeConfig(), mockProvider, WithReplayGuard(guard))
		s.Require().NoError(err)

		res := svc.Verify(s.ctx, validCallback())

		s.Equal(models.StageToken, res.Stage)
		s.Equal(http.StatusBadRequest, res.Status)
		s.Equal(state.ReasonAlreadyUsed, res.Message)
	})

	s.Run("guard outage is a server error", func() {
		s.SetupTest()
		ctrl := gomock.NewController(s.T())
		guard := mocks.NewMockReplayGuard(ctrl)
		guard.EXPECT().Consume(gomock.Any(), gomock.Any(), gomock.Any()).Return(sentinel.ErrUnavailable)

		svc := s.newService(testModeConfig(), WithReplayGuard(guard))

		res := svc.Verify(s.ctx, validCallback())

		s.Equal(models.StageToken, res.Stage)
		s.Equal(http.StatusInternalServerError, res.Status)
		s.Equal(MsgReplayCheckFailed, res.Message)
	})

	s.Run("first use passes", func() {
		s.SetupTest()
		ctrl := gomock.NewController(s.T())
		guard := mocks.NewMockReplayGuard(ctrl)
		guard.EXPECT().Consume(gomock.Any(), "state-abc", gomock.Any()).Return(nil)

		svc := s.newService(testModeConfig(), WithReplayGuard(guard))

		res := svc.Verify(s.ctx, validCallback())

		s.True(res.Success, res.Message)
	})
}

func (s *ServiceSuite) TestInitiate() {
	s.Run("issues state and authorization url", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig())

		res := svc.Initiate(s.ctx)

		s.Require().True(res.Success, res.Message)
		s.Equal(models.StageToken, res.Stage)
		data, ok := res.Data.(models.InitiateResult)
		s.Require().True(ok)
		s.NotEmpty(data.State)
		s.Equal(fixedNow.UnixMilli(), data.StateCreatedAt)
		s.Contains(data.AuthorizationURL, "state="+data.State)
		s.Contains(data.AuthorizationURL, "response_type=code")
		s.Equal([]string{string(audit.EventStateIssued)}, s.auditStore.Actions())
	})

	s.Run("missing authorization endpoint fails at token with 500", func() {
		s.SetupTest()
		cfg := testModeConfig()
		cfg.AuthURL = ""
		svc := s.newService(cfg)

		res := svc.Initiate(s.ctx)

		s.False(res.Success)
		s.Equal(models.StageToken, res.Stage)
		s.Equal(http.StatusInternalServerError, res.Status)
		s.Contains(res.Message, "KYC_AUTH_URL")
	})

	s.Run("states are unique", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig())
		first := svc.Initiate(s.ctx).Data.(models.InitiateResult)
		second := svc.Initiate(s.ctx).Data.(models.InitiateResult)
		s.NotEqual(first.State, second.State)
	})
}

func (s *ServiceSuite) TestExchangeCode() {
	s.Run("returns metadata without the token", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig())

		res := svc.ExchangeCode(s.ctx, models.ExchangeRequest{Code: provider.MockAuthCode})

		s.Require().True(res.Success, res.Message)
		data, ok := res.Data.(ExchangeData)
		s.Require().True(ok)
		s.True(data.HasToken)
		s.Equal(provider.MockToken.TransactionID, data.Token.TransactionID)
		raw, err := json.Marshal(res)
		s.Require().NoError(err)
		s.NotContains(string(raw), provider.MockToken.AccessToken)
	})

	s.Run("missing code is a caller error", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig())

		res := svc.ExchangeCode(s.ctx, models.ExchangeRequest{})

		s.Equal(http.StatusBadRequest, res.Status)
		s.Equal(models.StageToken, res.Stage)
	})

	s.Run("incomplete live config is a server error", func() {
		s.SetupTest()
		cfg := liveConfig()
		cfg.ClientSecret = ""
		svc := s.newService(cfg)

		res := svc.ExchangeCode(s.ctx, models.ExchangeRequest{Code: "abc"})

		s.Equal(http.StatusInternalServerError, res.Status)
		s.Contains(res.Message, "KYC_CLIENT_SECRET")
	})
}

func (s *ServiceSuite) TestFetchProfile() {
	s.Run("test mode returns the mock profile for the tenant", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig())

		res := svc.FetchProfile(s.ctx, models.ProfileRequest{AccessToken: "anything", TenantID: tenantID})

		s.Require().True(res.Success, res.Message)
		data := res.Data.(ProfileData)
		s.Equal(tenantID, data.Profile["tenantId"])
		s.Equal(models.StageProfile, res.Stage)
	})

	s.Run("missing access token is a caller error", func() {
		s.SetupTest()
		svc := s.newService(testModeConfig())

		res := svc.FetchProfile(s.ctx, models.ProfileRequest{TenantID: tenantID})

		s.Equal(http.StatusBadRequest, res.Status)
		s.Equal(models.StageProfile, res.Stage)
		s.Equal(provider.MsgMissingAccessToken, res.Message)
	})

	s.Run("missing live profile endpoint fails at profile", func() {
		s.SetupTest()
		cfg := liveConfig()
		cfg.ProfileURL = ""
		svc := s.newService(cfg)

		res := svc.FetchProfile(s.ctx, models.ProfileRequest{AccessToken: "tok"})

		s.Equal(http.StatusInternalServerError, res.Status)
		s.Equal(models.StageProfile, res.Stage)
	})
}

func TestPhaseFailureStages(t *testing.T) {
	svc, err := New(testModeConfig(), provider.New())
	require.NoError(t, err)

	res := svc.fail(context.Background(), nil, opCallback, models.PhaseWrite, tenantID, errors.New("disk full"))
	assert.Equal(t, models.StageWrite, res.Stage)
	assert.Equal(t, http.StatusInternalServerError, res.Status)
}
