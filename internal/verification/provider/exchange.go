package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kycgate/internal/platform/config"
	"kycgate/internal/verification/metrics"
	"kycgate/internal/verification/models"
	"kycgate/internal/verification/timeout"
)

// MockToken is the payload returned for every accepted test-mode code.
var MockToken = models.TokenPayload{
	AccessToken:   "mock_access_token",
	TokenType:     "Bearer",
	ExpiresIn:     3600,
	Scope:         "openid profile",
	TransactionID: "mock_txn_0001",
}

type tokenResponse struct {
	AccessToken   string      `json:"access_token"`
	TokenType     string      `json:"token_type"`
	ExpiresIn     json.Number `json:"expires_in"`
	Scope         string      `json:"scope"`
	TransactionID string      `json:"transaction_id"`
	Txn           string      `json:"txn"`
}

// ExchangeCode trades an authorization code for an access token. A simulated
// token failure is honoured before the test-mode and live branches.
func (c *Client) ExchangeCode(ctx context.Context, code string, cfg config.Verification, opts ExchangeOptions) (models.TokenPayload, error) {
	if strings.TrimSpace(code) == "" {
		return models.TokenPayload{}, models.BadRequest(models.StageToken, MsgInvalidCode)
	}
	if opts.Simulate == models.SimulateToken {
		return models.TokenPayload{}, models.Internal(models.StageToken, MsgSimulatedToken)
	}

	if cfg.TestMode {
		if strings.EqualFold(strings.TrimSpace(code), InvalidAuthCode) {
			return models.TokenPayload{}, models.Internal(models.StageToken, MsgInvalidCode)
		}
		c.debug(ctx, "test mode token exchange")
		return MockToken, nil
	}

	if missing := cfg.MissingForExchange(); len(missing) > 0 {
		return models.TokenPayload{}, models.Internal(models.StageToken,
			"Token exchange not configured: missing "+strings.Join(missing, ", "))
	}

	start := time.Now()
	payload, err := timeout.Do(ctx, cfg.Timeout(), MsgTokenTimeout, func(ctx context.Context) (models.TokenPayload, error) {
		return c.postTokenRequest(ctx, code, cfg)
	})
	c.metrics.ObserveCall(metrics.CallTokenExchange, start, err, timeout.IsTimeout(err))
	if err != nil {
		if timeout.IsTimeout(err) {
			return models.TokenPayload{}, models.WrapError(err, models.StageToken, http.StatusInternalServerError, MsgTokenTimeout)
		}
		return models.TokenPayload{}, err
	}
	return payload, nil
}

func (c *Client) postTokenRequest(ctx context.Context, code string, cfg config.Verification) (models.TokenPayload, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", cfg.RedirectURI)
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return models.TokenPayload{}, models.WrapError(err, models.StageToken, http.StatusInternalServerError, "Token request could not be built")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.TokenPayload{}, models.WrapError(fmt.Errorf("token request: %w", err), models.StageToken, http.StatusInternalServerError, "Token request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, err := readErrorBody(ctx, resp.Body)
		if err != nil {
			return models.TokenPayload{}, models.WrapError(err, models.StageToken, http.StatusInternalServerError, "Token response could not be read")
		}
		return models.TokenPayload{}, models.Internal(models.StageToken, upstreamError("Token exchange failed", resp.StatusCode, body))
	}

	// A 2xx alone is not proof of success; the full body must carry a token.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.TokenPayload{}, models.WrapError(readError(ctx, "token response", err), models.StageToken, http.StatusInternalServerError, "Token response could not be read")
	}
	var payload tokenResponse
	_ = json.Unmarshal(raw, &payload)
	if payload.AccessToken == "" {
		return models.TokenPayload{}, models.Internal(models.StageToken, MsgAccessTokenMissing)
	}

	expiresIn, _ := payload.ExpiresIn.Int64()
	txn := payload.TransactionID
	if txn == "" {
		txn = payload.Txn
	}
	return models.TokenPayload{
		AccessToken:   payload.AccessToken,
		TokenType:     payload.TokenType,
		ExpiresIn:     expiresIn,
		Scope:         payload.Scope,
		TransactionID: txn,
	}, nil
}
