package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"kycgate/internal/platform/config"
	"kycgate/internal/verification/metrics"
	"kycgate/internal/verification/models"
	"kycgate/internal/verification/timeout"
)

// MockProfile returns the canned test-mode profile for tenantID.
func MockProfile(tenantID string) models.Profile {
	return models.Profile{
		"tenantId":      tenantID,
		"name":          "Test User",
		"dateOfBirth":   "1990-01-01",
		"address":       "1 Test Street, Testville",
		"transactionId": MockToken.TransactionID,
		"verified":      true,
	}
}

// FetchProfile retrieves the verified identity profile with a bearer token.
// Test mode returns MockProfile regardless of the token's validity.
func (c *Client) FetchProfile(ctx context.Context, accessToken string, cfg config.Verification, opts ProfileOptions) (models.Profile, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, models.BadRequest(models.StageProfile, MsgMissingAccessToken)
	}
	if opts.Simulate == models.SimulateProfile {
		return nil, models.Internal(models.StageProfile, MsgSimulatedProfile)
	}

	if cfg.TestMode {
		c.debug(ctx, "test mode profile fetch", "tenant_id", opts.TenantID)
		return MockProfile(opts.TenantID), nil
	}

	if missing := cfg.MissingForProfile(); len(missing) > 0 {
		return nil, models.Internal(models.StageProfile,
			"Profile fetch not configured: missing "+strings.Join(missing, ", "))
	}

	start := time.Now()
	profile, err := timeout.Do(ctx, cfg.Timeout(), MsgProfileTimeout, func(ctx context.Context) (models.Profile, error) {
		return c.getProfile(ctx, accessToken, cfg)
	})
	c.metrics.ObserveCall(metrics.CallProfileFetch, start, err, timeout.IsTimeout(err))
	if err != nil {
		if timeout.IsTimeout(err) {
			return nil, models.WrapError(err, models.StageProfile, http.StatusInternalServerError, MsgProfileTimeout)
		}
		return nil, err
	}
	return profile, nil
}

func (c *Client) getProfile(ctx context.Context, accessToken string, cfg config.Verification) (models.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.ProfileURL, nil)
	if err != nil {
		return nil, models.WrapError(err, models.StageProfile, http.StatusInternalServerError, "Profile request could not be built")
	}
	req.Header.Set("Accept", "application/json")

	bearer := oauthConfig(cfg).Client(
		context.WithValue(ctx, oauth2.HTTPClient, c.httpClient),
		&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"},
	)
	resp, err := bearer.Do(req)
	if err != nil {
		return nil, models.WrapError(fmt.Errorf("profile request: %w", err), models.StageProfile, http.StatusInternalServerError, "Profile request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, err := readErrorBody(ctx, resp.Body)
		if err != nil {
			return nil, models.WrapError(err, models.StageProfile, http.StatusInternalServerError, "Profile response could not be read")
		}
		return nil, models.Internal(models.StageProfile, upstreamError("Profile fetch failed", resp.StatusCode, body))
	}

	var profile models.Profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&profile); err != nil {
		if ctx.Err() != nil {
			return nil, models.WrapError(readError(ctx, "profile response", err), models.StageProfile, http.StatusInternalServerError, "Profile response could not be read")
		}
		return nil, models.WrapError(fmt.Errorf("decode profile: %w", err), models.StageProfile, http.StatusInternalServerError, "Profile response was not valid JSON")
	}
	if profile == nil {
		return nil, models.Internal(models.StageProfile, "Profile response was empty")
	}
	return profile, nil
}
