package gateway

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"

	"github.com/soyeahso/loadstone/internal/config"
)

// Auth modes.
const (
	AuthToken    = "token"
	AuthPassword = "password"
	AuthNone     = "none"
)

var (
	ErrNoCredentials  = errors.New("credentials required")
	ErrBadCredentials = errors.New("credentials rejected")
	ErrNotConfigured  = errors.New("gateway secret not configured")
)

// Authenticator checks connect credentials against the gateway's secret.
type Authenticator struct {
	Mode   string
	secret string
}

// NewAuthenticator resolves the auth mode and secret from config. The token
// already includes LOADSTONE_GATEWAY_TOKEN through config loading; the
// password falls back to LOADSTONE_GATEWAY_PASSWORD. Without an explicit
// mode, a configured password selects password mode and token mode is used
// otherwise.
func NewAuthenticator(cfg config.GatewayAuth) Authenticator {
	password := cfg.Password
	if password == "" {
		password = os.Getenv("LOADSTONE_GATEWAY_PASSWORD")
	}
	mode := cfg.Mode
	if mode == "" {
		mode = AuthToken
		if password != "" {
			mode = AuthPassword
		}
	}

	a := Authenticator{Mode: mode}
	switch mode {
	case AuthToken:
		a.secret = cfg.Token
	case AuthPassword:
		a.secret = password
	}
	return a
}

// Check validates creds and returns the auth method that admitted them.
// Config validation only allows AuthNone on a loopback bind.
func (a Authenticator) Check(creds *ConnectAuth) (string, error) {
	var given string
	switch a.Mode {
	case AuthNone:
		return AuthNone, nil
	case AuthToken:
		if creds != nil {
			given = creds.Token
		}
	case AuthPassword:
		if creds != nil {
			given = creds.Password
		}
	default:
		return "", fmt.Errorf("unknown auth mode %q", a.Mode)
	}

	if a.secret == "" {
		return "", fmt.Errorf("%s: %w", a.Mode, ErrNotConfigured)
	}
	if given == "" {
		return "", fmt.Errorf("%s: %w", a.Mode, ErrNoCredentials)
	}
	if !safeEqual(given, a.secret) {
		return "", fmt.Errorf("%s: %w", a.Mode, ErrBadCredentials)
	}
	return a.Mode, nil
}

// safeEqual compares in constant time without leaking the secret's length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
