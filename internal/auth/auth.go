// Package auth resolves API tokens to team identities.
package auth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/ratelimit"
)

// ErrInvalidToken is returned when a token matches no known credential.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the resolved caller of one request.
type Identity struct {
	TeamID  string
	Plan    ratelimit.Plan
	Preview bool
}

// Credential maps one API token to a team and plan. The struct is shaped for
// direct decoding from the config file.
type Credential struct {
	Token  string `mapstructure:"token"`
	TeamID string `mapstructure:"team_id"`
	Plan   string `mapstructure:"plan"`
}

// Authorizer resolves bearer tokens against a static credential table.
// Production deployments swap in a real identity service behind the same
// method, which is why Authorize carries a context it does not use here.
type Authorizer struct {
	identities   map[string]Identity
	previewToken string
	logger       *zap.Logger
}

// New builds an Authorizer from the credential table. Credentials without a
// token or team are dropped with a warning; previewToken may be empty to
// disable preview access entirely.
func New(creds []Credential, previewToken string, logger *zap.Logger) *Authorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("auth")

	identities := make(map[string]Identity, len(creds))
	for _, cred := range creds {
		token := strings.TrimSpace(cred.Token)
		if token == "" || cred.TeamID == "" {
			logger.Warn("skipping incomplete credential", zap.String("team_id", cred.TeamID))
			continue
		}
		identities[token] = Identity{
			TeamID: cred.TeamID,
			Plan:   ratelimit.Plan(cred.Plan),
		}
	}

	return &Authorizer{
		identities:   identities,
		previewToken: strings.TrimSpace(previewToken),
		logger:       logger,
	}
}

// Authorize resolves a token to an Identity. The preview sentinel token maps
// to a per-IP identity so anonymous callers rate limit individually instead
// of sharing one bucket.
func (a *Authorizer) Authorize(_ context.Context, token, clientIP string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	if a.previewToken != "" && token == a.previewToken {
		return Identity{
			TeamID:  ratelimit.PreviewIdentity(clientIP),
			Plan:    ratelimit.PlanStarter,
			Preview: true,
		}, nil
	}

	identity, ok := a.identities[token]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return identity, nil
}
