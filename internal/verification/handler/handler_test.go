package handler

import (
	"io"
	"log/slog"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"kycgate/internal/platform/config"
	"kycgate/internal/verification/handler/mocks"
	"kycgate/internal/verification/models"
	"kycgate/internal/verification/provider"
	"kycgate/internal/verification/service"
	"kycgate/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
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

// newRouter wires the real pipeline in test mode behind the handler.
func newRouter(t *testing.T, cfg config.Verification) http.Handler {
	t.Helper()
	svc, err := service.New(cfg, provider.New(), service.WithLogger(discardLogger()))
	require.NoError(t, err)
	r := chi.NewRouter()
	New(svc, discardLogger()).Register(r)
	return r
}

func newMockRouter(t *testing.T) (http.Handler, *mocks.MockService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	r := chi.NewRouter()
	New(svc, discardLogger()).Register(r)
	return r, svc
}

func TestVerificationScenarios(t *testing.T) {
	router := newRouter(t, testModeConfig())
	createdAt := now.Add(-time.Minute).UnixMilli()

	testutil.Given(t, "test mode and a matching state within ttl", func(t *testing.T) {
		testutil.When(t, "the callback is posted", func(t *testing.T) {
			req := testutil.WithTime(testutil.NewJSONRequest(t, http.MethodPost, "/kyc/callback", map[string]any{
				"tenantId":       "tenant-1",
				"code":           "auth-code",
				"state":          "s-1",
				"expectedState":  "s-1",
				"stateCreatedAt": createdAt,
			}), now)
			rr := testutil.DoRequest(router, req)

			testutil.Then(t, "the pipeline completes at write with the profile", func(t *testing.T) {
				resp := testutil.AssertStage(t, rr, http.StatusOK, "write", true)
				assert.Equal(t, "tenant-1", resp.Data["tenantId"])
				profile, ok := resp.Data["profile"].(map[string]any)
				require.True(t, ok)
				assert.Equal(t, "tenant-1", profile["tenantId"])
				assert.NotContains(t, rr.Body.String(), provider.MockToken.AccessToken)
				assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
			})
		})
	})

	testutil.Given(t, "a mismatched state", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/kyc/callback", map[string]any{
			"tenantId":      "tenant-1",
			"code":          "auth-code",
			"state":         "s-1",
			"expectedState": "s-2",
		}))

		testutil.Then(t, "the callback fails at token with 400", func(t *testing.T) {
			resp := testutil.AssertStage(t, rr, http.StatusBadRequest, "token", false)
			assert.Equal(t, "State mismatch", resp.Message)
		})
	})

	testutil.Given(t, "a simulated profile failure", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/kyc/callback", map[string]any{
			"tenantId":        "tenant-1",
			"code":            "auth-code",
			"state":           "s-1",
			"expectedState":   "s-1",
			"simulateFailure": "profile",
		}))

		testutil.Then(t, "the callback fails at profile with 500", func(t *testing.T) {
			resp := testutil.AssertStage(t, rr, http.StatusInternalServerError, "profile", false)
			assert.Equal(t, "Simulated profile failure", resp.Message)
		})
	})

	testutil.Given(t, "no authorization endpoint configured", func(t *testing.T) {
		cfg := testModeConfig()
		cfg.AuthURL = ""
		rr := testutil.DoRequest(newRouter(t, cfg), testutil.NewRequest(t, http.MethodGet, "/kyc/initiate"))

		testutil.Then(t, "initiate fails at token with 500", func(t *testing.T) {
			testutil.AssertStage(t, rr, http.StatusInternalServerError, "token", false)
		})
	})

	testutil.Given(t, "only a tenant id", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/kyc/test-flow", map[string]any{
			"tenantId": "tenant-9",
		}))

		testutil.Then(t, "the test flow succeeds end to end", func(t *testing.T) {
			resp := testutil.AssertStage(t, rr, http.StatusOK, "write", true)
			assert.Equal(t, "tenant-9", resp.Data["tenantId"])
		})
	})
}

func TestInitiate(t *testing.T) {
	router := newRouter(t, testModeConfig())

	rr := testutil.DoRequest(router, testutil.WithTime(testutil.NewRequest(t, http.MethodGet, "/kyc/initiate"), now))

	resp := testutil.AssertStage(t, rr, http.StatusOK, "token", true)
	assert.NotEmpty(t, resp.Data["state"])
	assert.Equal(t, float64(now.UnixMilli()), resp.Data["stateCreatedAt"])
	assert.Contains(t, resp.Data["authorizationUrl"], "https://idp.example/authorize?")
}

func TestMethodNotAllowed(t *testing.T) {
	router := newRouter(t, testModeConfig())
	cases := []struct {
		method string
		path   string
		allow  string
		stage  string
	}{
		{http.MethodPost, "/kyc/initiate", http.MethodGet, "token"},
		{http.MethodGet, "/kyc/token", http.MethodPost, "token"},
		{http.MethodPut, "/kyc/profile", http.MethodPost, "profile"},
		{http.MethodGet, "/kyc/callback", http.MethodPost, "token"},
		{http.MethodDelete, "/kyc/test-flow", http.MethodPost, "token"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, tc.method, tc.path))

			resp := testutil.AssertStage(t, rr, http.StatusMethodNotAllowed, tc.stage, false)
			assert.Equal(t, msgMethodNotAllowed, resp.Message)
			assert.Equal(t, tc.allow, rr.Header().Get("Allow"))
		})
	}
}

func TestExchangeAndProfile(t *testing.T) {
	router := newRouter(t, testModeConfig())

	t.Run("exchange returns token metadata", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/kyc/token", map[string]any{
			"code": provider.MockAuthCode,
		}))

		resp := testutil.AssertStage(t, rr, http.StatusOK, "token", true)
		assert.Equal(t, true, resp.Data["hasToken"])
		assert.NotContains(t, rr.Body.String(), provider.MockToken.AccessToken)
	})

	t.Run("exchange without code is a 400", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/kyc/token", map[string]any{}))
		testutil.AssertStage(t, rr, http.StatusBadRequest, "token", false)
	})

	t.Run("exchange with invalid code in test mode fails", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/kyc/token", map[string]any{
			"code": "Invalid_Code",
		}))
		resp := testutil.AssertStage(t, rr, http.StatusInternalServerError, "token", false)
		assert.Equal(t, provider.MsgInvalidCode, resp.Message)
	})

	t.Run("profile returns the mock profile", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/kyc/profile", map[string]any{
			"accessToken": "tok",
			"tenantId":    "tenant-3",
		}))

		resp := testutil.AssertStage(t, rr, http.StatusOK, "profile", true)
		profile := resp.Data["profile"].(map[string]any)
		assert.Equal(t, "tenant-3", profile["tenantId"])
	})

	t.Run("profile without access token is a 400", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/kyc/profile", map[string]any{
			"tenantId": "tenant-3",
		}))
		testutil.AssertStage(t, rr, http.StatusBadRequest, "profile", false)
	})
}

func TestCallbackRequestDecoding(t *testing.T) {
	t.Run("numeric string stateCreatedAt is accepted", func(t *testing.T) {
		router, svc := newMockRouter(t)
		svc.EXPECT().Verify(gomock.Any(), gomock.Any()).DoAndReturn(func(_ any, req models.CallbackRequest) models.Result {
			require.NotNil(t, req.StateCreatedAt)
			assert.Equal(t, float64(1700000000000), *req.StateCreatedAt)
			assert.Equal(t, "tenant-1", req.TenantID)
			return models.Succeeded(models.StageWrite, "ok", nil)
		})

		rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/kyc/callback",
			`{"tenantId":" tenant-1 ","code":"c","state":"s","expectedState":"s","stateCreatedAt":"1700000000000"}`))
		testutil.AssertStatusOK(t, rr)
	})

	t.Run("non numeric stateCreatedAt is carried as NaN", func(t *testing.T) {
		router, svc := newMockRouter(t)
		svc.EXPECT().Verify(gomock.Any(), gomock.Any()).DoAndReturn(func(_ any, req models.CallbackRequest) models.Result {
			require.NotNil(t, req.StateCreatedAt)
			assert.True(t, math.IsNaN(*req.StateCreatedAt))
			return models.Failed(models.BadRequest(models.StageToken, "Invalid stateCreatedAt"), models.StageToken)
		})

		rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/kyc/callback",
			`{"tenantId":"t","code":"c","state":"s","expectedState":"s","stateCreatedAt":true}`))
		testutil.AssertStage(t, rr, http.StatusBadRequest, "token", false)
	})

	t.Run("null stateCreatedAt is omitted", func(t *testing.T) {
		router, svc := newMockRouter(t)
		svc.EXPECT().TestFlow(gomock.Any(), gomock.Any()).DoAndReturn(func(_ any, req models.CallbackRequest) models.Result {
			assert.Nil(t, req.StateCreatedAt)
			return models.Succeeded(models.StageWrite, "ok", nil)
		})

		rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/kyc/test-flow",
			`{"tenantId":"t","stateCreatedAt":null}`))
		testutil.AssertStatusOK(t, rr)
	})

	t.Run("malformed json never reaches the service", func(t *testing.T) {
		router, _ := newMockRouter(t)

		rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/kyc/callback", `{"tenantId":`))

		resp := testutil.AssertStage(t, rr, http.StatusBadRequest, "token", false)
		assert.Equal(t, msgInvalidBody, resp.Message)
	})

	t.Run("unknown simulateFailure is rejected", func(t *testing.T) {
		router, _ := newMockRouter(t)

		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/kyc/profile", map[string]any{
			"accessToken":     "tok",
			"simulateFailure": "network",
		}))

		resp := testutil.AssertStage(t, rr, http.StatusBadRequest, "profile", false)
		assert.Contains(t, resp.Message, "network")
	})
}
