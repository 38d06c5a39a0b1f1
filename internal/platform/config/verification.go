package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultTimeoutMS       = 12000
	DefaultStateTTLSeconds = 600
	DefaultScopes          = "openid profile"
)

// Replay guard backends for KYC_STATE_REPLAY_GUARD.
const (
	ReplayGuardOff    = "off"
	ReplayGuardMemory = "memory"
	ReplayGuardRedis  = "redis"
)

// Verification is the immutable snapshot of identity provider settings used by
// the verification pipeline. It is passed by value; nothing mutates it after
// ResolveVerification returns.
type Verification struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	ProfileURL   string
	Scopes       []string

	TimeoutMS       int
	StateTTLSeconds int
	TestMode        bool

	// RequiredProfileFields lists profile attributes that must be present for
	// a profile fetch to count as successful. Empty means presence only.
	RequiredProfileFields []string
	ReplayGuard           string
}

// verificationEnv holds the raw env values. Numbers and flags stay strings so a
// malformed value degrades to its default instead of failing resolution.
type verificationEnv struct {
	ClientID       string   `env:"KYC_CLIENT_ID"`
	ClientSecret   string   `env:"KYC_CLIENT_SECRET"`
	RedirectURI    string   `env:"KYC_REDIRECT_URI"`
	AuthURL        string   `env:"KYC_AUTH_URL"`
	TokenURL       string   `env:"KYC_TOKEN_URL"`
	ProfileURL     string   `env:"KYC_PROFILE_URL"`
	Scopes         string   `env:"KYC_SCOPES" envDefault:"openid profile"`
	TimeoutMS      string   `env:"KYC_TIMEOUT_MS"`
	StateTTL       string   `env:"KYC_STATE_TTL_SECONDS"`
	TestMode       string   `env:"KYC_TEST_MODE"`
	RequiredFields []string `env:"KYC_PROFILE_REQUIRED_FIELDS" envSeparator:","`
	ReplayGuard    string   `env:"KYC_STATE_REPLAY_GUARD" envDefault:"off"`
}

// ResolveVerification is a pure function of the environment map. Missing
// values become empty strings; it never fails. Callers decide whether the
// snapshot is usable for a given stage (see Missing* helpers).
func ResolveVerification(environ map[string]string) Verification {
	var raw verificationEnv
	if err := env.ParseWithOptions(&raw, env.Options{Environment: environ}); err != nil {
		raw = verificationEnv{Scopes: DefaultScopes, ReplayGuard: ReplayGuardOff}
	}

	return Verification{
		ClientID:              strings.TrimSpace(raw.ClientID),
		ClientSecret:          strings.TrimSpace(raw.ClientSecret),
		RedirectURI:           strings.TrimSpace(raw.RedirectURI),
		AuthURL:               strings.TrimSpace(raw.AuthURL),
		TokenURL:              strings.TrimSpace(raw.TokenURL),
		ProfileURL:            strings.TrimSpace(raw.ProfileURL),
		Scopes:                dedupeCSV(strings.Fields(raw.Scopes)),
		TimeoutMS:             positiveInt(raw.TimeoutMS, DefaultTimeoutMS),
		StateTTLSeconds:       positiveInt(raw.StateTTL, DefaultStateTTLSeconds),
		TestMode:              parseFlag(raw.TestMode),
		RequiredProfileFields: dedupeCSV(raw.RequiredFields),
		ReplayGuard:           parseReplayGuard(raw.ReplayGuard),
	}
}

// Timeout is the per-call outbound deadline.
func (v Verification) Timeout() time.Duration {
	return time.Duration(v.TimeoutMS) * time.Millisecond
}

// StateTTL is the maximum age of a state token.
func (v Verification) StateTTL() time.Duration {
	return time.Duration(v.StateTTLSeconds) * time.Second
}

// MissingForInitiate lists unset settings needed to build an authorization URL.
func (v Verification) MissingForInitiate() []string {
	return missing(
		setting{"KYC_CLIENT_ID", v.ClientID},
		setting{"KYC_REDIRECT_URI", v.RedirectURI},
		setting{"KYC_AUTH_URL", v.AuthURL},
	)
}

// MissingForExchange lists unset settings needed for a live code exchange.
func (v Verification) MissingForExchange() []string {
	return missing(
		setting{"KYC_CLIENT_ID", v.ClientID},
		setting{"KYC_CLIENT_SECRET", v.ClientSecret},
		setting{"KYC_REDIRECT_URI", v.RedirectURI},
		setting{"KYC_TOKEN_URL", v.TokenURL},
	)
}

// MissingForProfile lists unset settings needed for a live profile fetch.
func (v Verification) MissingForProfile() []string {
	return missing(setting{"KYC_PROFILE_URL", v.ProfileURL})
}

// MissingForPipeline lists unset settings needed to run the full live pipeline.
func (v Verification) MissingForPipeline() []string {
	return append(v.MissingForExchange(), v.MissingForProfile()...)
}

type setting struct {
	key   string
	value string
}

func missing(settings ...setting) []string {
	var out []string
	for _, s := range settings {
		if s.value == "" {
			out = append(out, s.key)
		}
	}
	return out
}

func positiveInt(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseReplayGuard(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ReplayGuardMemory:
		return ReplayGuardMemory
	case ReplayGuardRedis:
		return ReplayGuardRedis
	default:
		return ReplayGuardOff
	}
}

// dedupeCSV trims each entry and drops blanks and repeats. Order is kept.
func dedupeCSV(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var result []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
