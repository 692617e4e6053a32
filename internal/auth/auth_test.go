package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/scrapeline/scrapeline/internal/ratelimit"
)

func newTestAuthorizer() *Authorizer {
	return New([]Credential{
		{Token: "tok-alpha", TeamID: "team-alpha", Plan: "standard"},
		{Token: "tok-beta", TeamID: "team-beta", Plan: "scale"},
		{Token: "", TeamID: "team-ghost", Plan: "starter"},
		{Token: "tok-ghost", TeamID: "", Plan: "starter"},
	}, "preview-sentinel", nil)
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	a := newTestAuthorizer()

	tests := []struct {
		name    string
		token   string
		ip      string
		want    Identity
		wantErr bool
	}{
		{
			name:  "known token",
			token: "tok-alpha",
			ip:    "10.0.0.1",
			want:  Identity{TeamID: "team-alpha", Plan: ratelimit.PlanStandard},
		},
		{
			name:  "token with surrounding whitespace",
			token: "  tok-beta ",
			ip:    "10.0.0.1",
			want:  Identity{TeamID: "team-beta", Plan: ratelimit.PlanScale},
		},
		{
			name:  "preview token keys by client ip",
			token: "preview-sentinel",
			ip:    "203.0.113.9",
			want: Identity{
				TeamID:  ratelimit.PreviewIdentity("203.0.113.9"),
				Plan:    ratelimit.PlanStarter,
				Preview: true,
			},
		},
		{name: "unknown token", token: "tok-nope", ip: "10.0.0.1", wantErr: true},
		{name: "empty token", token: "", ip: "10.0.0.1", wantErr: true},
		{name: "incomplete credential was dropped", token: "tok-ghost", ip: "10.0.0.1", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := a.Authorize(context.Background(), tc.token, tc.ip)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidToken) {
					t.Fatalf("expected ErrInvalidToken, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authorize() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestAuthorizePreviewDisabled(t *testing.T) {
	t.Parallel()

	a := New([]Credential{{Token: "tok", TeamID: "team", Plan: "starter"}}, "", nil)
	if _, err := a.Authorize(context.Background(), "preview-sentinel", "10.0.0.1"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthorizePreviewIdentitiesDiffer(t *testing.T) {
	t.Parallel()

	a := newTestAuthorizer()
	first, err := a.Authorize(context.Background(), "preview-sentinel", "198.51.100.1")
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	second, err := a.Authorize(context.Background(), "preview-sentinel", "198.51.100.2")
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if first.TeamID == second.TeamID {
		t.Fatalf("expected distinct preview identities, both got %s", first.TeamID)
	}
}
